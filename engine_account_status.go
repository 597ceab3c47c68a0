package marketauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
	"go.opentelemetry.io/otel/attribute"
)

// SuspendUser moves userID to suspended. Sessions already issued stay
// valid until they expire; refresh is refused from now on. The actor needs
// users:suspend and, unless a super admin, must share the target's
// business. Super admins can only be suspended by super admins.
func (e *Engine) SuspendUser(ctx context.Context, actor AuthenticatedContext, userID string) error {
	return e.changeStatus(ctx, actor, userID, store.StatusSuspended)
}

// ReactivateUser returns a suspended account to active, or to pending if it
// was never activated.
func (e *Engine) ReactivateUser(ctx context.Context, actor AuthenticatedContext, userID string) error {
	return e.changeStatus(ctx, actor, userID, store.StatusActive)
}

func (e *Engine) changeStatus(ctx context.Context, actor AuthenticatedContext, userID string, target store.AccountStatus) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ChangeAccountStatus",
		attribute.String("user.id", userID),
		attribute.String("account.status", string(target)),
	)
	user, next, err := e.applyStatus(ctx, actor, userID, target)
	endSpan(span, err)

	if err != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID, actor.BusinessID(), actor.CredentialID(), err, func() map[string]string {
			return map[string]string{
				"actor":  actor.UserID(),
				"target": string(target),
			}
		})
		return err
	}

	if next == store.StatusSuspended {
		e.metricInc(MetricAccountSuspended)
	} else {
		e.metricInc(MetricAccountReactivated)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, true, user.ID, user.BusinessID, actor.CredentialID(), nil, func() map[string]string {
		return map[string]string{
			"actor":  actor.UserID(),
			"from":   string(user.Status),
			"status": string(next),
		}
	})
	return nil
}

func (e *Engine) applyStatus(ctx context.Context, actor AuthenticatedContext, userID string, target store.AccountStatus) (store.User, store.AccountStatus, error) {
	if actor.IsZero() {
		return store.User{}, "", ErrUnauthenticated
	}
	if userID == "" || userID == actor.UserID() {
		return store.User{}, "", ErrInvalidRequest
	}
	if err := e.Authorize(ctx, actor, permission.UsersSuspend); err != nil {
		return store.User{}, "", err
	}

	user, err := e.getUser(ctx, userID)
	if err != nil {
		return store.User{}, "", err
	}
	if !actor.HasRole(permission.SuperAdminRole) {
		if user.BusinessID != actor.BusinessID() || user.Roles.Has(permission.SuperAdminRole) {
			return user, "", ErrForbidden
		}
	}

	next := target
	switch target {
	case store.StatusSuspended:
		if user.Status == store.StatusSuspended {
			return user, next, nil
		}
	case store.StatusActive:
		if user.Status != store.StatusSuspended {
			return user, user.Status, nil
		}
		if user.HashedPassword == "" {
			next = store.StatusPending
		}
	}

	current := user.Status
	sctx, cancel := e.storeCtx(ctx)
	_, err = e.users.UpdateUser(sctx, user.ID, store.UserUpdate{
		Status:       &next,
		ExpectStatus: &current,
	})
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return user, "", ErrConflict
		}
		return user, "", e.storeErr(err)
	}
	return user, next, nil
}
