// Package handlers contains the HTTP handlers for the admin API: the manual
// publish trigger, retry sweeps, the layered notification policy, queue
// statistics and subscription writes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"adalerts/internal/core"
	notify "adalerts/internal/notifications/core"
	"adalerts/internal/types"
)

// --- Service Interfaces ---

// PublishTrigger runs the on-publish match and dispatch synchronously.
type PublishTrigger interface {
	OnPublish(ctx context.Context, adID int64) (types.PublishResult, error)
}

// SweepRunner runs one retry sweep.
type SweepRunner interface {
	RetrySweep(ctx context.Context, opts notify.SweepOptions) (types.SweepResult, error)
}

// PublishEventQueue hands a publish event to the asynchronous worker.
type PublishEventQueue interface {
	PublishAdPublished(ctx context.Context, adID int64) (string, error)
}

// PolicyStore mirrors the db.PolicyRepository methods used by the admin API.
type PolicyStore interface {
	GetGlobalSetting(ctx context.Context) (*types.GlobalSetting, error)
	SetGlobalSetting(ctx context.Context, enabled bool) (*types.GlobalSetting, error)
	UpsertOverride(ctx context.Context, o *types.Override) error
	DeleteOverride(ctx context.Context, userID int64) error
}

// QueueStatsReader reports queue item counts per status.
type QueueStatsReader interface {
	Stats(ctx context.Context) (types.QueueStats, error)
}

// --- Request/Response Models ---

// SetGlobalSettingRequest is the body for PUT /v1/admin/settings/global.
type SetGlobalSettingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// OverrideRequest is the body for PUT /v1/admin/overrides/{userID}.
type OverrideRequest struct {
	Mode      types.OverrideMode `json:"mode" validate:"required,override_mode"`
	ExpiresAt time.Time          `json:"expires_at" validate:"required"`
	Reason    string             `json:"reason" validate:"max=500"`
}

// AsyncPublishResponse is returned with 202 when the publish event was
// handed to the queue instead of processed inline.
type AsyncPublishResponse struct {
	AdID      int64  `json:"ad_id"`
	MessageID string `json:"message_id"`
}

// maxSweepLimit bounds the ?limit parameter of a manual sweep.
const maxSweepLimit = 10000

// --- Handler ---

// AdminDeps groups the collaborators of AdminHandler. Events is optional;
// without it ?async=true is rejected.
type AdminDeps struct {
	Trigger PublishTrigger
	Sweeper SweepRunner
	Events  PublishEventQueue
	Policy  PolicyStore
	Queue   QueueStatsReader
	Clock   types.Clock
}

// AdminHandler serves the operator endpoints under /v1/admin.
type AdminHandler struct {
	deps      AdminDeps
	validator *core.Validator
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(deps AdminDeps, v *core.Validator, l *slog.Logger) *AdminHandler {
	if l == nil {
		l = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	return &AdminHandler{deps: deps, validator: v, logger: l}
}

// RegisterRoutes mounts the admin routes on r.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/ads/{adID}/publish", h.Publish)
		r.Post("/sweeps", h.Sweep)
		r.Get("/settings/global", h.GetGlobalSetting)
		r.Put("/settings/global", h.SetGlobalSetting)
		r.Put("/overrides/{userID}", h.PutOverride)
		r.Delete("/overrides/{userID}", h.DeleteOverride)
		r.Get("/queue/stats", h.QueueStats)
	})
}

// Publish handles POST /v1/admin/ads/{adID}/publish.
//
// By default the publish run executes inline and the aggregate counts are
// returned. With ?async=true the event is sent to the publish queue and the
// worker runs it; the response is 202 with the queue message ID.
func (h *AdminHandler) Publish(w http.ResponseWriter, r *http.Request) {
	adID, err := pathID(r, "adID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.deps.Events == nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationFailed, "async publish is not enabled on this deployment", nil))
			return
		}
		msgID, err := h.deps.Events.PublishAdPublished(r.Context(), adID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		h.logger.Info("publish event queued", "ad_id", adID, "message_id", msgID)
		core.Respond(w, r, http.StatusAccepted, AsyncPublishResponse{AdID: adID, MessageID: msgID})
		return
	}

	result, err := h.deps.Trigger.OnPublish(r.Context(), adID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Respond(w, r, http.StatusOK, result)
}

// Sweep handles POST /v1/admin/sweeps. An optional ?limit caps the number
// of FAILED items taken in this run.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var opts notify.SweepOptions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxSweepLimit {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationFailed,
				"limit must be a number between 1 and "+strconv.Itoa(maxSweepLimit),
				nil,
			))
			return
		}
		opts.Limit = limit
	}

	result, err := h.deps.Sweeper.RetrySweep(r.Context(), opts)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Respond(w, r, http.StatusOK, result)
}

// GetGlobalSetting handles GET /v1/admin/settings/global.
func (h *AdminHandler) GetGlobalSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := h.deps.Policy.GetGlobalSetting(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Respond(w, r, http.StatusOK, setting)
}

// SetGlobalSetting handles PUT /v1/admin/settings/global. The change is
// picked up by the next match run; runs already in flight keep their
// snapshot.
func (h *AdminHandler) SetGlobalSetting(w http.ResponseWriter, r *http.Request) {
	var req SetGlobalSettingRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	setting, err := h.deps.Policy.SetGlobalSetting(r.Context(), *req.Enabled)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("global notification setting changed",
		"enabled", setting.Enabled,
		"actor", actorID(r.Context()),
	)
	core.Respond(w, r, http.StatusOK, setting)
}

// PutOverride handles PUT /v1/admin/overrides/{userID}. The expiry must lie
// in the future; an already expired override would be ignored by the
// resolver and is rejected instead of stored.
func (h *AdminHandler) PutOverride(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req OverrideRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Mode != "" && !req.Mode.Valid() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationOverrideMode, "mode must be ALLOW or BLOCK", nil))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if !req.ExpiresAt.After(h.deps.Clock.Now()) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationOverrideExpired, "expires_at must be in the future", nil))
		return
	}

	override := &types.Override{
		UserID:    userID,
		Mode:      req.Mode,
		ExpiresAt: req.ExpiresAt.UTC(),
		Reason:    req.Reason,
	}
	if err := h.deps.Policy.UpsertOverride(r.Context(), override); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("notification override saved",
		"user_id", userID,
		"mode", override.Mode,
		"expires_at", override.ExpiresAt,
		"actor", actorID(r.Context()),
	)
	core.Respond(w, r, http.StatusOK, override)
}

// DeleteOverride handles DELETE /v1/admin/overrides/{userID}.
func (h *AdminHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.deps.Policy.DeleteOverride(r.Context(), userID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("notification override removed", "user_id", userID, "actor", actorID(r.Context()))
	core.NoContent(w)
}

// QueueStats handles GET /v1/admin/queue/stats.
func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Queue.Stats(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Respond(w, r, http.StatusOK, stats)
}

// --- Helpers ---

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationFailed,
			name+" must be a positive integer",
			nil,
			map[string]any{"param": name, "value": raw},
		)
	}
	return id, nil
}

func actorID(ctx context.Context) string {
	if actor, ok := types.GetActor(ctx); ok {
		return actor.ID
	}
	return ""
}
