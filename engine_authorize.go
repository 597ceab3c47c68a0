package marketauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/marketauth/permission"
	"go.opentelemetry.io/otel/attribute"
)

// CheckPermission reports whether auth may perform perm. The super_admin
// role grants everything. Otherwise the roles on the session are resolved
// against the bindings of the session's business and of the global scope.
// It denies on unknown roles, empty identities and any store failure.
func (e *Engine) CheckPermission(ctx context.Context, auth AuthenticatedContext, perm string) bool {
	return e.Authorize(ctx, auth, perm) == nil
}

// Authorize is CheckPermission with the reason for a denial. It returns
// ErrForbidden when the roles do not grant perm and an ErrStoreUnavailable
// error when the bindings could not be loaded, so callers can tell a
// retryable outage from a refusal. Both deny.
func (e *Engine) Authorize(ctx context.Context, auth AuthenticatedContext, perm string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if auth.IsZero() {
		return ErrUnauthenticated
	}
	if perm == "" {
		return ErrForbidden
	}
	if auth.HasRole(permission.SuperAdminRole) {
		e.metricInc(MetricPermissionGranted)
		return nil
	}

	ctx, span := e.startSpan(ctx, "Authorize", attribute.String("permission", perm))
	defer span.End()

	bindings, err := e.loadBindings(ctx, auth.BusinessID())
	if err != nil {
		e.metricInc(MetricAuthorizationStoreFailure)
		e.metricInc(MetricPermissionDenied)
		span.RecordError(err)
		e.logger.WarnContext(ctx, "marketauth: denying permission, bindings unavailable",
			"permission", perm,
			"business_id", auth.BusinessID(),
			"error", err,
		)
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return ErrForbidden
	}

	if bindings.Grants(permission.NewSet(auth.roles...), perm) {
		e.metricInc(MetricPermissionGranted)
		return nil
	}

	e.metricInc(MetricPermissionDenied)
	e.emitAudit(ctx, auditEventPermissionDenied, false, auth.UserID(), auth.BusinessID(), auth.CredentialID(), ErrForbidden, func() map[string]string {
		return map[string]string{
			"permission": perm,
		}
	})
	return ErrForbidden
}

// loadBindings returns the union of the business and global bindings.
func (e *Engine) loadBindings(ctx context.Context, businessID string) (permission.Bindings, error) {
	global, err := e.fetchBindings(ctx, permission.GlobalScope)
	if err != nil {
		return nil, err
	}
	if businessID == permission.GlobalScope {
		return global, nil
	}
	scoped, err := e.fetchBindings(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return scoped.Merge(global), nil
}

func (e *Engine) fetchBindings(ctx context.Context, businessID string) (permission.Bindings, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	b, err := e.bindings.GetRolePermissionBindings(sctx, businessID)
	if err != nil {
		return nil, e.storeErr(err)
	}
	return b, nil
}
