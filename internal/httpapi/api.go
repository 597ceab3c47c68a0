// Package httpapi exposes the marketauth engine over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/middleware"
	"github.com/MrEthical07/marketauth/permission"
)

// Options tunes the HTTP surface. Zero values select the defaults.
type Options struct {
	Logger *slog.Logger
	// TrustForwarded makes the first X-Forwarded-For hop the client address.
	// Enable only behind a proxy that overwrites the header.
	TrustForwarded bool
	RatePerSecond  float64
	RateBurst      int
	// Ready is consulted by /readyz. Nil means always ready.
	Ready func(context.Context) error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// API routes requests to the engine.
type API struct {
	engine  *marketauth.Engine
	logger  *slog.Logger
	limiter *middleware.RateLimiter
	opts    Options
	mux     *http.ServeMux
}

// New wires every route. engine must be built.
func New(engine *marketauth.Engine, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}

	a := &API{
		engine:  engine,
		logger:  opts.Logger,
		limiter: middleware.NewRateLimiter(opts.RatePerSecond, opts.RateBurst),
		opts:    opts,
		mux:     http.NewServeMux(),
	}

	gate := middleware.Gate(engine, a.logger)
	guarded := func(perm string, h http.HandlerFunc) http.Handler {
		return gate(middleware.Require(engine, perm)(h))
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	if opts.Metrics != nil {
		a.mux.Handle("GET /metrics", opts.Metrics)
	}

	// Unauthenticated entry points share the per-IP budget.
	a.mux.Handle("POST /auth/login", a.limiter.Middleware(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("POST /auth/otp/start", a.limiter.Middleware(http.HandlerFunc(a.handleOTPStart)))
	a.mux.Handle("POST /auth/otp/complete", a.limiter.Middleware(http.HandlerFunc(a.handleOTPComplete)))
	a.mux.Handle("POST /auth/refresh", a.limiter.Middleware(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("POST /invite/accept", a.limiter.Middleware(http.HandlerFunc(a.handleAcceptInvite)))

	a.mux.Handle("POST /auth/logout", gate(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("GET /me", gate(http.HandlerFunc(a.handleMe)))

	a.mux.Handle("POST /invites", guarded(permission.UsersInvite, a.handleInvite))
	a.mux.Handle("POST /users/{id}/suspend", guarded(permission.UsersSuspend, a.handleSuspend))
	a.mux.Handle("POST /users/{id}/reactivate", guarded(permission.UsersSuspend, a.handleReactivate))

	return a
}

// Handler returns the root handler with client address extraction applied.
func (a *API) Handler() http.Handler {
	return middleware.ClientIP(a.opts.TrustForwarded)(a.mux)
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			a.logger.WarnContext(r.Context(), "marketauth: readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
