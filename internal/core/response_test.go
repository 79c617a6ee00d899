package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"adalerts/internal/types"
)

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]int{"PENDING": 3}})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"data":{"PENDING":3}}` {
		t.Errorf("body = %s", got)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, map[string]any{"bad": make(chan int)})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestError_StatusByCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{types.NewAppError(types.ErrCodeValidationPriceRange, "bad range", nil), http.StatusBadRequest, string(types.ErrCodeValidationPriceRange)},
		{types.NewAppError(types.ErrCodeNotFoundSubscription, "missing", nil), http.StatusNotFound, string(types.ErrCodeNotFoundSubscription)},
		{fmt.Errorf("wrapped: %w", types.NewAppError(types.ErrCodeNotFoundListing, "no ad", nil)), http.StatusNotFound, string(types.ErrCodeNotFoundListing)},
		{types.NewAppError(types.ErrCodeInternalDB, "db down", errors.New("conn refused")), http.StatusInternalServerError, string(types.ErrCodeInternalDB)},
		{errors.New("raw failure"), http.StatusInternalServerError, string(types.ErrCodeInternalUnexpected)},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

			Error(w, r, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var resp APIErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error.Code != tt.code || resp.Error.RequestID != "req-1" {
				t.Errorf("body = %+v", resp)
			}
		})
	}
}

func TestError_DoesNotLeakInternalMessage(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}

func TestError_IncludesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewAppErrorWithDetails(types.ErrCodeValidationFailed, "request validation failed", nil, map[string]any{"field": "mode"})
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil), err)

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Details["field"] != "mode" {
		t.Errorf("details = %v", resp.Error.Details)
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Enabled bool `json:"enabled"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"enabled":true}`},
		{name: "unknown field", payload: `{"enabled":true,"extra":1}`, wantErr: true},
		{name: "syntax error", payload: `{"enabled":`, wantErr: true},
		{name: "empty body", payload: ``, wantErr: true},
		{name: "type mismatch", payload: `{"enabled":"yes"}`, wantErr: true},
		{name: "two values", payload: `{"enabled":true}{"enabled":false}`, wantErr: true},
		{name: "too large", payload: `{"enabled":true,"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.payload))
			var dst body
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !dst.Enabled {
					t.Error("expected enabled=true")
				}
				return
			}
			if types.CodeOf(err) != types.ErrCodeValidationInvalidJSON {
				t.Errorf("code = %q, want %q", types.CodeOf(err), types.ErrCodeValidationInvalidJSON)
			}
		})
	}
}

func TestRespond_WrapsInDataEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusAccepted,
		map[string]string{"url": "https://market.example.com/ads?id=1&src=alert"})

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d", w.Code)
	}
	want := `{"data":{"url":"https://market.example.com/ads?id=1&src=alert"}}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NoContent(w)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestError_MasksInternalMessages(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil),
		types.NewAppError(types.ErrCodeInternalDB, "failed to claim queue item: relation notification_queue does not exist", nil))

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalDB) || resp.Error.Message != internalErrorMessage {
		t.Errorf("body = %+v", resp)
	}
}

func TestError_KeepsClientFacingMessages(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil),
		types.NewAppError(types.ErrCodeNotFoundListing, "listing 42 is not active", nil))

	var resp APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Message != "listing 42 is not active" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestDecodeJSON_ReportsOffendingField(t *testing.T) {
	type body struct {
		Mode string `json:"mode"`
	}

	r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"mode":"ALLOW","expires":"tomorrow"}`))
	err := DecodeJSON(httptest.NewRecorder(), r, &body{})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Details["field"] != "expires" {
		t.Errorf("details = %v", appErr.Details)
	}
}
