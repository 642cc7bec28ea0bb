package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"campusrelay/internal/auth"
	"campusrelay/internal/persistence"
	"campusrelay/internal/websocket"
	"campusrelay/pkg/interfaces"
	"campusrelay/pkg/types"
)

type contextKey struct{}

var identityKey = contextKey{}

// IdentityFrom returns the caller identity set by requireAuth.
func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(types.Identity)
	return id, ok
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(websocket.BearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		identity, _ := IdentityFrom(r.Context())
		if !s.deps.Limiter.Allow(identity.UserID) {
			if s.deps.Metrics != nil {
				s.deps.Metrics.IncrementRateLimited("api")
			}
			w.Header().Set("Retry-After", "10")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requirePaid(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFrom(r.Context())
		if !identity.Paid {
			writeError(w, interfaces.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errInvalidRequest = errors.New("invalid request")

// writeError maps a domain error to a status code and a client-safe message.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid authentication token or token has expired"})
	case errors.Is(err, interfaces.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "This feature requires a paid subscription."})
	case errors.Is(err, errInvalidRequest), errors.Is(err, types.ErrInvalidUserID), errors.Is(err, types.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, persistence.ErrPersistence):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to store message"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes and validates a request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	if err := types.Validator().Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return nil
}
