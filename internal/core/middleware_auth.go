package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"adalerts/internal/types"
)

// authPublicPaths lists URL paths that are exempt from authentication.
var authPublicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// AuthMiddleware resolves the Bearer token to an Actor and injects it into
// the request context. Missing credentials yield auth_token_missing, rejected
// ones auth_token_invalid, both as 401.
//
// If the Authenticator field on Server is nil (e.g., during tests that don't
// inject one), the middleware passes through without authentication.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken parses the Authorization header value and returns
// the token string. It expects the format "Bearer <token>" (case-insensitive
// scheme per RFC 7235). Returns empty string if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// handleAuthError writes the 401 for a failed token resolution.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if types.CodeOf(err) == types.ErrCodeAuthTokenInvalid {
		s.Logger.Warn("authentication failed: token invalid",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("client_ip", extractClientIP(r)),
		)
		s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
		return
	}

	// Generic error: log it but don't leak internal details.
	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

// writeAuthError writes a 401 Unauthorized JSON response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	writeError(w, r, http.StatusUnauthorized, code, message, nil)
}

// RequireActorType returns middleware that rejects requests whose Actor is
// missing or of a different type. System actors always pass.
func (s *Server) RequireActorType(want types.ActorType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
				return
			}
			if actor.Type != want && actor.Type != types.ActorTypeSystem {
				s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Credential is not allowed for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminActorID identifies requests authenticated with the shared admin key.
const adminActorID = "admin-key"

// AdminKeyAuthenticator accepts the single operator key whose bcrypt hash is
// configured in ADMIN_API_KEY_HASH. Keys that passed the bcrypt comparison
// are remembered by SHA-256 digest so repeat requests skip the hash.
type AdminKeyAuthenticator struct {
	hash     []byte
	verified sync.Map
}

var _ Authenticator = (*AdminKeyAuthenticator)(nil)

// NewAdminKeyAuthenticator validates that hash is a bcrypt hash.
func NewAdminKeyAuthenticator(hash types.SecretString) (*AdminKeyAuthenticator, error) {
	raw := []byte(hash.Unmask())
	if _, err := bcrypt.Cost(raw); err != nil {
		return nil, fmt.Errorf("admin key hash is not a bcrypt hash: %w", err)
	}
	return &AdminKeyAuthenticator{hash: raw}, nil
}

// ResolveToken compares token against the configured hash.
func (a *AdminKeyAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	sum := sha256.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])

	if _, ok := a.verified.Load(digest); !ok {
		err := bcrypt.CompareHashAndPassword(a.hash, []byte(token))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", nil)
		}
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", err)
		}
		a.verified.Store(digest, struct{}{})
	}

	return &types.Actor{ID: adminActorID, Type: types.ActorTypeAdmin}, nil
}
