package marketauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/marketauth/internal/audit"
	"github.com/MrEthical07/marketauth/internal/rate"
	"github.com/MrEthical07/marketauth/jwt"
	"github.com/MrEthical07/marketauth/password"
	"github.com/MrEthical07/marketauth/session"
	"github.com/MrEthical07/marketauth/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrEthical07/marketauth"

// limiter is satisfied by the Redis backed rate.Limiter and the in-process
// rate.Local.
type limiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	IncrementLogin(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier, ip string) error
	AllowOTPRequest(ctx context.Context, email, ip string) error
}

// Engine is the authentication and authorization core. Build one with
// [New] and [Builder.Build].
type Engine struct {
	config       Config
	users        store.Users
	otps         store.OTPRecords
	bindings     store.RoleBindings
	sweeper      store.OTPSweeper
	limiter      limiter
	passwordHash *password.Argon2
	dummyHash    string
	jwtManager   *jwt.Manager
	mailer       Mailer
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Close stops the audit dispatcher after draining buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Shutdown is Close bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.audit.Shutdown(ctx)
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// CookieConfig returns the cookie settings HTTP adapters should use.
func (e *Engine) CookieConfig() session.CookieConfig {
	return e.config.Cookie
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeCtx bounds one store call by the configured timeout.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Store.Timeout)
}

// storeErr passes the store contract sentinels through and wraps anything
// else, deadlines included, in ErrStoreUnavailable.
func (e *Engine) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConditionFailed):
		return err
	}
	e.metricInc(MetricStoreUnavailable)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) limitErr(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrRateLimited
	}
	e.metricInc(MetricStoreUnavailable)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "marketauth."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span. Expected outcomes such as a wrong code are
// recorded as events, not as span errors.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("marketauth.outcome", string(auditErrorCode(err))))
		if errors.Is(err, ErrStoreUnavailable) || auditErrorCode(err) == auditErrInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
