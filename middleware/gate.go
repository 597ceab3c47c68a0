package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/session"
)

// Gate authenticates every request before it reaches next. The session
// credential is read from the configured cookie, falling back to a Bearer
// Authorization header. Requests without a valid session credential get a
// 401 with a fixed body; the reason is logged, never returned.
//
// On success the immutable identity is attached to the request context and
// can be read with [marketauth.AuthFromContext].
func Gate(engine *marketauth.Engine, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				Unauthorized(w)
				return
			}

			credential := session.FromRequest(r, engine.CookieConfig())
			if credential == "" {
				logger.DebugContext(r.Context(), "marketauth: request without session credential",
					"path", r.URL.Path,
				)
				Unauthorized(w)
				return
			}

			auth, err := engine.Authenticate(r.Context(), credential)
			if err != nil {
				logger.InfoContext(r.Context(), "marketauth: session rejected",
					"path", r.URL.Path,
					"reason", rejectReason(err),
				)
				Unauthorized(w)
				return
			}

			ctx := marketauth.ContextWithAuth(r.Context(), auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require lets the request through only if the identity attached by Gate
// holds perm. It must be mounted behind Gate; without an identity it
// answers 401. When the role bindings cannot be loaded the request is
// refused with a retryable 503 instead of 403.
func Require(engine *marketauth.Engine, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := marketauth.AuthFromContext(r.Context())
			if !ok {
				Unauthorized(w)
				return
			}
			if engine == nil {
				Forbidden(w)
				return
			}
			if err := engine.Authorize(r.Context(), auth, perm); err != nil {
				if errors.Is(err, marketauth.ErrStoreUnavailable) {
					Unavailable(w)
					return
				}
				Forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// Unauthorized writes the fixed 401 response.
func Unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

// Forbidden writes the fixed 403 response.
func Forbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "forbidden")
}

// Unavailable writes the fixed 503 response.
func Unavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusServiceUnavailable, "unavailable")
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, marketauth.ErrSessionExpired):
		return "expired"
	case errors.Is(err, marketauth.ErrWrongTokenKind):
		return "wrong_kind"
	case errors.Is(err, marketauth.ErrSessionMissing):
		return "missing"
	case errors.Is(err, marketauth.ErrSessionMalformed):
		return "malformed"
	default:
		return "error"
	}
}
