package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"adalerts/internal/types"
)

// Admin payloads are a handful of fields; anything near this size is abuse.
const maxRequestBodySize = 64 << 10

// internalErrorMessage replaces the message of internal_* errors, which can
// carry driver or infrastructure text.
const internalErrorMessage = "internal error"

// APIResponse is the success envelope: {"data": ...}.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse is the failure envelope: {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of a failure. RequestID matches the request_id
// attribute on the server's log lines for the same request.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Respond writes data inside the success envelope.
func Respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	JSON(w, r, status, APIResponse{Data: data})
}

// NoContent acknowledges a request that has no response body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// JSON writes v as the response body without an envelope. v is encoded
// before any header goes out, so an encoding failure still becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalUnexpected, "failed to encode response", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// Error renders err in the failure envelope. An AppError keeps its code,
// status and details; internal_* codes get a fixed message. Any other error
// is reported as internal_unexpected_error. Wrapped causes are never rendered.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalUnexpected,
			"an unexpected error occurred", nil)
		return
	}

	msg := appErr.Message
	if strings.HasPrefix(string(appErr.Code), "internal_") {
		msg = internalErrorMessage
	}
	writeError(w, r, appErr.HTTPStatus(), appErr.Code, msg, appErr.Details)
}

// writeError writes the failure envelope for an explicit code.
func writeError(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, details map[string]any) {
	JSON(w, r, status, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			Details:   details,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// DecodeJSON strictly decodes a single JSON object from the request body
// into dst. Unknown fields, trailing values and oversized bodies are
// rejected. Every failure is a validation_invalid_json AppError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return invalidJSON("request body must contain a single JSON object", nil, nil)
	}
	return nil
}

func invalidJSON(msg string, err error, details map[string]any) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON, msg, err, details)
}

func decodeError(err error) *types.AppError {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mismatch *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &tooLarge):
		return invalidJSON(fmt.Sprintf("request body must not exceed %d bytes", tooLarge.Limit), err, nil)
	case errors.As(err, &syntax):
		return invalidJSON("malformed JSON in request body", err, map[string]any{"offset": syntax.Offset})
	case errors.As(err, &mismatch):
		return invalidJSON("invalid value for field", err, map[string]any{
			"field":    mismatch.Field,
			"expected": mismatch.Type.String(),
		})
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty", err, nil)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return invalidJSON("request body is truncated", err, nil)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return invalidJSON("unknown field in request body", err, map[string]any{"field": field})
	default:
		return invalidJSON("invalid JSON in request body", err, nil)
	}
}
