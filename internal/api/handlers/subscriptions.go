package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"adalerts/internal/core"
	"adalerts/internal/types"
)

// SubscriptionStore mirrors the db.SubscriptionRepository read/write methods.
type SubscriptionStore interface {
	Get(ctx context.Context, userID int64) (*types.UserSubscription, error)
	Upsert(ctx context.Context, sub *types.UserSubscription) error
}

// PutSubscriptionRequest is the body for PUT /v1/subscriptions/{userID}.
// An omitted filter is the wildcard filter.
type PutSubscriptionRequest struct {
	NotifyEnabled *bool              `json:"notify_enabled" validate:"required"`
	Filter        types.SearchFilter `json:"filter"`
}

// SubscriptionHandler serves the subscription write boundary. Filters are
// normalized and validated here so stored filters are always well formed.
type SubscriptionHandler struct {
	store     SubscriptionStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(store SubscriptionStore, v *core.Validator, l *slog.Logger) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts the subscription routes on r.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/{userID}", h.Get)
		r.Put("/{userID}", h.Put)
	})
}

// Get handles GET /v1/subscriptions/{userID}.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.store.Get(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Respond(w, r, http.StatusOK, sub)
}

// Put handles PUT /v1/subscriptions/{userID}.
//
//  1. Decode the body.
//  2. Normalize the filter (sorted, deduplicated, blanks dropped).
//  3. Run the domain checks (price range, publisher types) with their
//     specific error codes.
//  4. Check struct tags (required opt-in flag, element bounds).
//  5. Upsert.
func (h *SubscriptionHandler) Put(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req PutSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	filter := req.Filter.Normalize()
	if err := filter.Validate(); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Filter = filter
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub := &types.UserSubscription{
		UserID:        userID,
		NotifyEnabled: *req.NotifyEnabled,
		Filter:        filter,
	}
	if err := h.store.Upsert(r.Context(), sub); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("subscription saved",
		"user_id", userID,
		"notify_enabled", sub.NotifyEnabled,
		"wildcard", sub.Filter.IsWildcard(),
	)
	core.Respond(w, r, http.StatusOK, sub)
}
