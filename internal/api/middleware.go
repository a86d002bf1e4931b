package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// MaxBodySize caps request bodies at 1 MB. Payloads are operational
// parameters, not bulk data; anything larger is a client bug.
const MaxBodySize = 1 << 20

const (
	headerRequestID = "X-Request-Id"
	headerActor     = "X-Actor"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ActorFromContext returns the operator identity attached by AdminAuth.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey).(string)
	return actor
}

// RequestID attaches a request ID to every response, echoing the client's
// if it sent one and generating one otherwise.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = "req_" + uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs each request with method, path, status and duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", w.Header().Get(headerRequestID),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// LimitBody restricts request body size.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateContentType rejects mutating requests whose Content-Type is
// neither JSON nor absent.
func ValidateContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, contentTypeJSON) {
				WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(
					"Content-Type must be application/json",
					map[string]any{"content_type": ct}))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// AdminAuth guards the admin surface. Requests must carry the configured
// API key as a bearer token and name their operator in X-Actor so every
// privileged operation can be audited. An empty key disables the token
// check; main refuses that configuration unless insecure mode is explicit.
func AdminAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				token := bearerToken(r)
				if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
					WriteError(w, http.StatusUnauthorized, core.NewUnauthorizedError(
						"missing or invalid API key"))
					return
				}
			}
			actor := strings.TrimSpace(r.Header.Get(headerActor))
			if actor == "" {
				WriteError(w, http.StatusBadRequest, core.NewValidationError(
					"X-Actor header is required for admin operations", nil))
				return
			}
			ctx := context.WithValue(r.Context(), actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
