package marketauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
)

func TestIssueAndVerifySession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.engine.IssueSession(ctx, Subject{
		UserID:     "u-1",
		Email:      "a@x.com",
		Roles:      []string{"staff"},
		BusinessID: "biz-1",
	})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	if !pair.SessionExpiresAt.Equal(testEpoch.Add(15 * time.Minute)) {
		t.Fatalf("unexpected session expiry %v", pair.SessionExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(testEpoch.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry %v", pair.RefreshExpiresAt)
	}

	s, err := env.engine.VerifySession(ctx, pair.SessionToken)
	if err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}
	if s.UserID != "u-1" || s.Email != "a@x.com" || s.BusinessID != "biz-1" {
		t.Fatalf("unexpected session %+v", s)
	}
	if len(s.Roles) != 1 || s.Roles[0] != "staff" {
		t.Fatalf("unexpected roles %v", s.Roles)
	}
	if s.ID == "" {
		t.Fatal("expected a credential id")
	}

	if _, err := env.engine.IssueSession(ctx, Subject{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty subject, got %v", err)
	}
}

func TestDefaultLeewayDoesNotExtendSession(t *testing.T) {
	env := newTestEnv(t)
	if env.engine.config.Session.Leeway != DefaultConfig().Session.Leeway {
		t.Fatalf("test env should run the default leeway, got %v", env.engine.config.Session.Leeway)
	}
	ctx := context.Background()

	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	env.clock.Advance(pair.SessionExpiresAt.Sub(env.clock.Now()) - time.Second)
	if _, err := env.engine.VerifySession(ctx, pair.SessionToken); err != nil {
		t.Fatalf("expected session valid before expiry, got %v", err)
	}

	env.clock.Advance(time.Second)
	if _, err := env.engine.VerifySession(ctx, pair.SessionToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired at expiry instant, got %v", err)
	}

	env.clock.Advance(time.Second)
	if _, err := env.engine.VerifySession(ctx, pair.SessionToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after expiry, got %v", err)
	}
}

func TestVerifySessionExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	env.clock.Advance(14 * time.Minute)
	if _, err := env.engine.VerifySession(ctx, pair.SessionToken); err != nil {
		t.Fatalf("expected session valid after 14m, got %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	_, err = env.engine.VerifySession(ctx, pair.SessionToken)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expiry to be unauthenticated, got %v", err)
	}
}

func TestVerifySessionRejectsWrongKind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser(t, "u-1", "a@x.com", store.StatusActive)
	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	if _, err := env.engine.VerifySession(ctx, pair.RefreshToken); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("expected refresh credential to be refused as session, got %v", err)
	}
	if _, err := env.engine.RefreshSession(ctx, pair.SessionToken); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("expected session credential to be refused for refresh, got %v", err)
	}
}

func TestVerifySessionMalformedAndMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.VerifySession(ctx, ""); !errors.Is(err, ErrSessionMissing) {
		t.Fatalf("expected ErrSessionMissing, got %v", err)
	}
	if _, err := env.engine.VerifySession(ctx, "not.a.jwt"); !errors.Is(err, ErrSessionMalformed) {
		t.Fatalf("expected ErrSessionMalformed, got %v", err)
	}

	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	tampered := pair.SessionToken[:len(pair.SessionToken)-2] + "xx"
	if _, err := env.engine.VerifySession(ctx, tampered); !errors.Is(err, ErrSessionMalformed) {
		t.Fatalf("expected tampered credential to be malformed, got %v", err)
	}
}

func TestAuthenticateCarriesCredentialID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Roles: []string{"staff"}, BusinessID: "biz-1"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	auth, err := env.engine.Authenticate(ctx, pair.SessionToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if auth.CredentialID() == "" || auth.BusinessID() != "biz-1" {
		t.Fatalf("unexpected auth context %+v", auth)
	}

	roles := auth.Roles()
	roles[0] = permission.SuperAdminRole
	if auth.HasRole(permission.SuperAdminRole) {
		t.Fatal("expected Roles to return a copy")
	}
}

func TestRefreshSessionPicksUpCurrentRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser(t, "u-1", "a@x.com", store.StatusActive, "staff")
	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Email: "a@x.com", Roles: []string{"staff"}, BusinessID: "biz-1"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	if _, err := env.store.UpdateUser(ctx, "u-1", store.UserUpdate{Roles: permission.NewSet("business_owner")}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	env.clock.Advance(20 * time.Minute)
	next, err := env.engine.RefreshSession(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession failed: %v", err)
	}

	s, err := env.engine.VerifySession(ctx, next.SessionToken)
	if err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}
	if len(s.Roles) != 1 || s.Roles[0] != "business_owner" {
		t.Fatalf("expected refreshed roles, got %v", s.Roles)
	}
	if s.BusinessID != "biz-1" {
		t.Fatalf("expected business to carry over, got %q", s.BusinessID)
	}
}

func TestRefreshSessionTakesBusinessFromAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser(t, "u-1", "a@x.com", store.StatusActive, "staff")
	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Email: "a@x.com", Roles: []string{"staff"}, BusinessID: "biz-old"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	next, err := env.engine.RefreshSession(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession failed: %v", err)
	}
	s, err := env.engine.VerifySession(ctx, next.SessionToken)
	if err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}
	if s.BusinessID != "biz-1" {
		t.Fatalf("expected business from the account record, got %q", s.BusinessID)
	}
}

func TestRefreshSessionRefusesSuspendedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addUser(t, "u-1", "a@x.com", store.StatusActive)
	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	suspended := store.StatusSuspended
	if _, err := env.store.UpdateUser(ctx, "u-1", store.UserUpdate{Status: &suspended}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	// The outstanding session keeps working until it expires.
	if _, err := env.engine.VerifySession(ctx, pair.SessionToken); err != nil {
		t.Fatalf("expected session to stay valid, got %v", err)
	}
	if _, err := env.engine.RefreshSession(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshFailure]; got != 1 {
		t.Fatalf("expected one refresh failure, got %d", got)
	}
}

func TestRefreshSessionUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "ghost"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	if _, err := env.engine.RefreshSession(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLogoutEmitsAuditEvent(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, withAuditSink(sink))
	ctx := context.Background()

	if err := env.engine.Logout(ctx, AuthenticatedContext{}); !errors.Is(err, ErrSessionMissing) {
		t.Fatalf("expected ErrSessionMissing for empty identity, got %v", err)
	}

	auth := NewAuthenticatedContext("u-1", "a@x.com", nil, "biz-1")
	if err := env.engine.Logout(ctx, auth); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != "logout" || ev.UserID != "u-1" || !ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected logout audit event")
	}
}

func TestSessionLatencyHistogram(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) { cfg.Metrics.EnableLatencyHistograms = true }))
	ctx := context.Background()

	pair, err := env.engine.IssueSession(ctx, Subject{UserID: "u-1"})
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	if _, err := env.engine.VerifySession(ctx, pair.SessionToken); err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}

	var total uint64
	for _, n := range env.engine.MetricsSnapshot().Histograms[MetricVerifyLatency] {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
}
