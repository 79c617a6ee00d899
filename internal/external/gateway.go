package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adalerts/internal/types"
)

// GatewayConfig holds the configuration for a GatewaySender.
type GatewayConfig struct {
	URL    string
	Token  types.SecretString
	Logger *slog.Logger
}

// GatewaySender delivers a notification by POSTing {user_id, ad_id} to the
// notification gateway. The gateway owns rendering and channel selection.
type GatewaySender struct {
	base   *BaseClient
	url    string
	token  types.SecretString
	logger *slog.Logger
}

// NewGatewaySender creates a GatewaySender with its own breaker and the
// default retry policy. The per-send deadline comes from the caller's
// context; httpClient.Timeout is a backstop.
func NewGatewaySender(httpClient *http.Client, cfg GatewayConfig) *GatewaySender {
	base := NewBaseClient(httpClient, "notification-gateway", DefaultRetryPolicy(), "AdAlerts/1.0")
	return NewGatewaySenderWithBase(base, cfg)
}

// NewGatewaySenderWithBase creates a GatewaySender around a pre-configured
// BaseClient.
func NewGatewaySenderWithBase(base *BaseClient, cfg GatewayConfig) *GatewaySender {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewaySender{
		base:   base,
		url:    strings.TrimSuffix(cfg.URL, "/"),
		token:  cfg.Token,
		logger: logger,
	}
}

type gatewayRequest struct {
	UserID int64 `json:"user_id"`
	AdID   int64 `json:"ad_id"`
}

type gatewayErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts one notification to the gateway.
//
// Error mapping:
//   - 2xx -> nil
//   - 408 -> ErrCodeUpstreamTimeout (transient)
//   - 429, 5xx -> retried by BaseClient, then upstream_rate_limited / upstream_unavailable
//   - other 4xx -> ErrCodeUpstreamSendRejected (permanent)
func (g *GatewaySender) Send(ctx context.Context, userID, adID int64) error {
	body, err := json.Marshal(gatewayRequest{UserID: userID, AdID: adID})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode gateway request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(userID, adID))
	if tok := g.token.Unmask(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := g.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		g.logger.Debug("gateway accepted notification",
			"user_id", userID,
			"ad_id", adID,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	return g.mapStatus(resp)
}

func (g *GatewaySender) mapStatus(resp *http.Response) error {
	msg := readGatewayError(resp.Body)

	switch {
	case resp.StatusCode == http.StatusRequestTimeout:
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "gateway timed out: "+msg, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamSendRejected,
			fmt.Sprintf("gateway rejected notification (%d): %s", resp.StatusCode, msg),
			nil,
			map[string]any{"status": resp.StatusCode},
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamSendFailed,
			fmt.Sprintf("unexpected gateway status %d: %s", resp.StatusCode, msg),
			nil,
		)
	}
}

// readGatewayError extracts the error message from a gateway response,
// falling back to the raw body.
func readGatewayError(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable response body"
	}
	var parsed gatewayErrorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func idempotencyKey(userID, adID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(adID, 10)
}
