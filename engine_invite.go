package marketauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/MrEthical07/marketauth/internal"
	"github.com/MrEthical07/marketauth/internal/ids"
	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
	"go.opentelemetry.io/otel/attribute"
)

// IssueInvite generates a magic link for the pending account userID. The
// token replaces any earlier invite of that account. email must match the
// account's email.
func (e *Engine) IssueInvite(ctx context.Context, userID, email string) (InviteLink, error) {
	if e == nil || e.users == nil {
		return InviteLink{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "IssueInvite", attribute.String("user.id", userID))
	link, user, err := e.issueInvite(ctx, userID, email)
	endSpan(span, err)
	if err != nil {
		return InviteLink{}, err
	}

	e.metricInc(MetricInviteIssued)
	e.emitAudit(ctx, auditEventInviteIssued, true, user.ID, user.BusinessID, "", nil, nil)
	return link, nil
}

func (e *Engine) issueInvite(ctx context.Context, userID, email string) (InviteLink, store.User, error) {
	if userID == "" {
		return InviteLink{}, store.User{}, ErrInvalidRequest
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return InviteLink{}, store.User{}, err
	}
	if normalizeEmail(email) != user.Email {
		return InviteLink{}, user, ErrInvalidRequest
	}
	if user.Status != store.StatusPending {
		return InviteLink{}, user, ErrAccountExists
	}

	token, invite, err := e.newInvite()
	if err != nil {
		return InviteLink{}, user, err
	}

	pending := store.StatusPending
	sctx, cancel := e.storeCtx(ctx)
	_, err = e.users.UpdateUser(sctx, user.ID, store.UserUpdate{
		SetInvite:    &invite,
		ExpectStatus: &pending,
	})
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return InviteLink{}, user, ErrAccountExists
		}
		return InviteLink{}, user, e.storeErr(err)
	}

	link, err := e.inviteLink(token, invite)
	return link, user, err
}

func (e *Engine) newInvite() (string, store.Invite, error) {
	token, err := internal.NewInviteToken()
	if err != nil {
		return "", store.Invite{}, err
	}
	return token, store.Invite{
		TokenHash: internal.HashToken(token),
		ExpiresAt: e.now().Add(e.config.Invite.TTL),
	}, nil
}

func (e *Engine) inviteLink(token string, invite store.Invite) (InviteLink, error) {
	u, err := url.Parse(e.config.Invite.BaseURL)
	if err != nil {
		return InviteLink{}, fmt.Errorf("invite base url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return InviteLink{
		URL:       u.String(),
		Token:     token,
		ExpiresAt: invite.ExpiresAt,
	}, nil
}

// VerifyInvite resolves token to the pending account holding it without
// consuming it.
func (e *Engine) VerifyInvite(ctx context.Context, token string) (InviteSubject, error) {
	if e == nil || e.users == nil {
		return InviteSubject{}, ErrEngineNotReady
	}
	user, err := e.verifyInvite(ctx, token)
	if err != nil {
		return InviteSubject{}, err
	}
	return InviteSubject{UserID: user.ID, Email: user.Email}, nil
}

func (e *Engine) verifyInvite(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrInviteInvalid
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByInviteToken(sctx, internal.HashToken(token))
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInviteInvalid
		}
		return store.User{}, e.storeErr(err)
	}
	if user.Status != store.StatusPending {
		return store.User{}, ErrInviteInvalid
	}
	if user.InviteExpiry == nil || !e.now().Before(*user.InviteExpiry) {
		return user, ErrInviteExpired
	}
	return user, nil
}

// ConsumeInvite clears the outstanding invite of userID and activates the
// account. Only one caller can consume an invite; every other call fails
// with ErrInviteAlreadyConsumed.
func (e *Engine) ConsumeInvite(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.InviteToken == nil {
		return ErrInviteAlreadyConsumed
	}

	active := store.StatusActive
	sctx, cancel := e.storeCtx(ctx)
	_, err = e.users.UpdateUser(sctx, user.ID, store.UserUpdate{
		Status:            &active,
		ClearInvite:       true,
		ExpectInviteToken: user.InviteToken,
	})
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return ErrInviteAlreadyConsumed
		}
		return e.storeErr(err)
	}

	e.metricInc(MetricInviteAccepted)
	e.emitAudit(ctx, auditEventInviteAccepted, true, user.ID, user.BusinessID, "", nil, nil)
	return nil
}

// InviteUser onboards a new account on behalf of inviter and mails the
// magic link. Inviting the email of a still-pending account re-invites it
// with the requested name and roles.
//
// The inviter needs users:invite. Only super admins may grant super_admin
// or invite into another business; granting business_owner additionally
// needs users:role:update.
func (e *Engine) InviteUser(ctx context.Context, inviter AuthenticatedContext, req InviteRequest) (InviteLink, error) {
	if e == nil || e.users == nil {
		return InviteLink{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "InviteUser")
	link, user, err := e.inviteUser(ctx, inviter, req)
	endSpan(span, err)

	if err != nil {
		e.metricInc(MetricInviteRejected)
		e.emitAudit(ctx, auditEventInviteRejected, false, inviter.UserID(), inviter.BusinessID(), inviter.CredentialID(), err, nil)
		return InviteLink{}, err
	}

	e.metricInc(MetricInviteIssued)
	e.emitAudit(ctx, auditEventInviteIssued, true, user.ID, user.BusinessID, inviter.CredentialID(), nil, func() map[string]string {
		return map[string]string{
			"invited_by": inviter.UserID(),
		}
	})
	return link, nil
}

func (e *Engine) inviteUser(ctx context.Context, inviter AuthenticatedContext, req InviteRequest) (InviteLink, store.User, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return InviteLink{}, store.User{}, ErrInvalidRequest
	}
	if e.mailer == nil {
		return InviteLink{}, store.User{}, fmt.Errorf("%w: no mailer configured", ErrDeliveryUnavailable)
	}

	roles := permission.NewSet(req.Roles...)
	businessID := req.BusinessID
	if businessID == "" {
		businessID = inviter.BusinessID()
	}
	if err := e.checkInviteGrant(ctx, inviter, roles, businessID); err != nil {
		return InviteLink{}, store.User{}, err
	}

	token, invite, err := e.newInvite()
	if err != nil {
		return InviteLink{}, store.User{}, err
	}

	sctx, cancel := e.storeCtx(ctx)
	existing, err := e.users.GetUserByEmail(sctx, email)
	cancel()

	var user store.User
	switch {
	case err == nil:
		if existing.Status != store.StatusPending {
			return InviteLink{}, store.User{}, ErrAccountExists
		}
		pending := store.StatusPending
		name := req.Name
		sctx, cancel := e.storeCtx(ctx)
		user, err = e.users.UpdateUser(sctx, existing.ID, store.UserUpdate{
			Name:         &name,
			Roles:        roles,
			SetInvite:    &invite,
			ExpectStatus: &pending,
		})
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrConditionFailed) {
				return InviteLink{}, store.User{}, ErrAccountExists
			}
			return InviteLink{}, store.User{}, e.storeErr(err)
		}
	case errors.Is(err, store.ErrNotFound):
		hash, exp := invite.TokenHash, invite.ExpiresAt
		sctx, cancel := e.storeCtx(ctx)
		user, err = e.users.CreateUser(sctx, store.User{
			ID:           ids.NewAt(e.now()),
			Email:        email,
			Name:         req.Name,
			Roles:        roles,
			Status:       store.StatusPending,
			BusinessID:   businessID,
			InviteToken:  &hash,
			InviteExpiry: &exp,
		})
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return InviteLink{}, store.User{}, ErrAccountExists
			}
			return InviteLink{}, store.User{}, e.storeErr(err)
		}
	default:
		return InviteLink{}, store.User{}, e.storeErr(err)
	}

	link, err := e.inviteLink(token, invite)
	if err != nil {
		return InviteLink{}, user, err
	}
	if err := e.mailer.SendInvite(ctx, user.Email, link.URL, link.ExpiresAt); err != nil {
		return InviteLink{}, user, fmt.Errorf("%w: %v", ErrDeliveryUnavailable, err)
	}
	return link, user, nil
}

func (e *Engine) checkInviteGrant(ctx context.Context, inviter AuthenticatedContext, roles permission.Set, businessID string) error {
	if inviter.IsZero() {
		return ErrUnauthenticated
	}
	if err := e.Authorize(ctx, inviter, permission.UsersInvite); err != nil {
		return err
	}
	if inviter.HasRole(permission.SuperAdminRole) {
		return nil
	}
	if roles.Has(permission.SuperAdminRole) || businessID != inviter.BusinessID() {
		return ErrRoleEscalation
	}
	if roles.Has(permission.RoleBusinessOwner) {
		if err := e.Authorize(ctx, inviter, permission.UsersRoleUpdate); err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				return err
			}
			return ErrRoleEscalation
		}
	}
	return nil
}

// AcceptInvite activates the account holding token with the chosen
// password and signs it in. Validation, the password write, activation
// and invite removal happen in a single conditional update, so of two
// concurrent acceptances exactly one succeeds and the other fails with
// ErrInviteAlreadyConsumed.
func (e *Engine) AcceptInvite(ctx context.Context, token, password string) (TokenPair, error) {
	if e == nil || e.users == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "AcceptInvite")
	pair, user, err := e.acceptInvite(ctx, token, password)
	endSpan(span, err)

	if err != nil {
		e.metricInc(MetricInviteRejected)
		e.emitAudit(ctx, auditEventInviteRejected, false, user.ID, user.BusinessID, "", err, nil)
		return TokenPair{}, err
	}

	e.metricInc(MetricInviteAccepted)
	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventInviteAccepted, true, user.ID, user.BusinessID, "", nil, nil)
	return pair, nil
}

func (e *Engine) acceptInvite(ctx context.Context, token, password string) (TokenPair, store.User, error) {
	if strength := e.config.Password.Policy.Validate(password); !strength.Valid {
		return TokenPair{}, store.User{}, &PolicyError{Violations: strength.Errors}
	}

	user, err := e.verifyInvite(ctx, token)
	if err != nil {
		return TokenPair{}, user, err
	}

	hashed, err := e.passwordHash.Hash(password)
	if err != nil {
		return TokenPair{}, user, err
	}

	active := store.StatusActive
	now := e.now().UTC()
	expect := internal.HashToken(token)
	sctx, cancel := e.storeCtx(ctx)
	activated, err := e.users.UpdateUser(sctx, user.ID, store.UserUpdate{
		HashedPassword:    &hashed,
		Status:            &active,
		LastLoginAt:       &now,
		ClearInvite:       true,
		ExpectInviteToken: &expect,
	})
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) || errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, user, ErrInviteAlreadyConsumed
		}
		return TokenPair{}, user, e.storeErr(err)
	}

	pair, err := e.issuePair(subjectFor(activated))
	if err != nil {
		return TokenPair{}, activated, err
	}
	return pair, activated, nil
}

func (e *Engine) getUser(ctx context.Context, userID string) (store.User, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	user, err := e.users.GetUserByID(sctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrUserNotFound
		}
		return store.User{}, e.storeErr(err)
	}
	return user, nil
}
