package marketauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/marketauth/jwt"
	"github.com/MrEthical07/marketauth/session"
	"github.com/MrEthical07/marketauth/store"
	"go.opentelemetry.io/otel/attribute"
)

// IssueSession signs a session credential and a refresh credential for
// sub. Roles are snapshotted into the session credential only.
func (e *Engine) IssueSession(ctx context.Context, sub Subject) (TokenPair, error) {
	if e == nil || e.jwtManager == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	_, span := e.startSpan(ctx, "IssueSession", attribute.String("user.id", sub.UserID))
	pair, err := e.issuePair(sub)
	endSpan(span, err)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, sub.UserID, sub.BusinessID, "", nil, nil)
	return pair, nil
}

func (e *Engine) issuePair(sub Subject) (TokenPair, error) {
	if sub.UserID == "" {
		return TokenPair{}, ErrInvalidRequest
	}
	js := jwt.Subject{
		UserID:     sub.UserID,
		Email:      sub.Email,
		Roles:      append([]string(nil), sub.Roles...),
		BusinessID: sub.BusinessID,
	}

	sessionToken, sessionExp, err := e.jwtManager.Issue(jwt.KindSession, js)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshExp, err := e.jwtManager.Issue(jwt.KindRefresh, js)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		SessionToken:     sessionToken,
		SessionExpiresAt: sessionExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func subjectFor(u store.User) Subject {
	return Subject{
		UserID:     u.ID,
		Email:      u.Email,
		Roles:      u.Roles.Slice(),
		BusinessID: u.BusinessID,
	}
}

// VerifySession checks a session credential's signature, expiry and kind.
// It makes no store round-trip, so a suspension only takes effect at the
// next refresh. Every error wraps ErrUnauthenticated.
func (e *Engine) VerifySession(ctx context.Context, credential string) (session.Session, error) {
	if e == nil || e.jwtManager == nil {
		return session.Session{}, ErrEngineNotReady
	}
	if credential == "" {
		e.metricInc(MetricSessionRejected)
		return session.Session{}, ErrSessionMissing
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	claims, err := e.jwtManager.Parse(credential, jwt.KindSession)

	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricSessionRejected)
		return session.Session{}, credentialErr(err)
	}

	return session.FromClaims(claims), nil
}

// Authenticate verifies credential and returns the immutable identity the
// request gate attaches to the request context.
func (e *Engine) Authenticate(ctx context.Context, credential string) (AuthenticatedContext, error) {
	s, err := e.VerifySession(ctx, credential)
	if err != nil {
		return AuthenticatedContext{}, err
	}
	auth := NewAuthenticatedContext(s.UserID, s.Email, s.Roles, s.BusinessID)
	auth.credentialID = s.ID
	return auth, nil
}

// RefreshSession exchanges a refresh credential for a new pair. The user is
// re-read so the new session carries current roles and business; accounts
// that are not active are refused with ErrAccountSuspended.
func (e *Engine) RefreshSession(ctx context.Context, refreshCredential string) (TokenPair, error) {
	if e == nil || e.jwtManager == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "RefreshSession")
	pair, userID, err := e.refresh(ctx, refreshCredential)
	endSpan(span, err)

	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, "", "", err, nil)
		return TokenPair{}, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, "", "", nil, nil)
	return pair, nil
}

func (e *Engine) refresh(ctx context.Context, refreshCredential string) (TokenPair, string, error) {
	if refreshCredential == "" {
		return TokenPair{}, "", ErrSessionMissing
	}
	claims, err := e.jwtManager.Parse(refreshCredential, jwt.KindRefresh)
	if err != nil {
		return TokenPair{}, "", credentialErr(err)
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByID(sctx, claims.Subject)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, claims.Subject, ErrUnauthenticated
		}
		return TokenPair{}, claims.Subject, e.storeErr(err)
	}
	if user.Status != store.StatusActive {
		return TokenPair{}, user.ID, ErrAccountSuspended
	}

	pair, err := e.issuePair(subjectFor(user))
	if err != nil {
		return TokenPair{}, user.ID, err
	}
	return pair, user.ID, nil
}

// Logout records the end of a session. Credentials are stateless, so the
// caller must also clear the client's cookies with session.ClearCookies;
// an already copied credential remains valid until it expires.
func (e *Engine) Logout(ctx context.Context, auth AuthenticatedContext) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if auth.IsZero() {
		return ErrSessionMissing
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, auth.UserID(), auth.BusinessID(), auth.CredentialID(), nil, nil)
	return nil
}

func credentialErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrSessionExpired
	case errors.Is(err, jwt.ErrWrongKind):
		return ErrWrongTokenKind
	default:
		return ErrSessionMalformed
	}
}
