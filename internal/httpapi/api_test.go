package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store/memory"
)

const testPassword = "Correct-Horse-9!"

type inbox struct {
	mu      sync.Mutex
	codes   map[string]string
	invites map[string]string
}

func (m *inbox) SendLoginCode(_ context.Context, email, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *inbox) SendInvite(_ context.Context, email, link string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[email] = link
	return nil
}

func (m *inbox) inviteToken(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	link, ok := m.invites[email]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no invite mailed to %s", email)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse invite link: %v", err)
	}
	return u.Query().Get("token")
}

func (m *inbox) code(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[email]
	if !ok {
		t.Fatalf("no code mailed to %s", email)
	}
	return code
}

type testAPI struct {
	t      *testing.T
	api    *API
	engine *marketauth.Engine
	mail   *inbox
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()

	st := memory.New()
	if err := st.PutRolePermissionBindings(context.Background(), "biz-1", permission.DefaultBindings()); err != nil {
		t.Fatalf("seed bindings: %v", err)
	}

	cfg := marketauth.DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false

	mail := &inbox{codes: map[string]string{}, invites: map[string]string{}}
	engine, err := marketauth.New().WithConfig(cfg).WithStore(st).WithMailer(mail).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &testAPI{t: t, api: New(engine, opts), engine: engine, mail: mail}
}

func (ta *testAPI) do(method, path string, body any, cookies []*http.Cookie, bearer string) *httptest.ResponseRecorder {
	ta.t.Helper()

	var payload io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			ta.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) ownerToken() string {
	ta.t.Helper()
	pair, err := ta.engine.IssueSession(context.Background(), marketauth.Subject{
		UserID:     "owner-1",
		Email:      "owner@x.com",
		Roles:      []string{permission.RoleBusinessOwner},
		BusinessID: "biz-1",
	})
	if err != nil {
		ta.t.Fatalf("IssueSession failed: %v", err)
	}
	return pair.SessionToken
}

// onboard invites email as staff and accepts the invite, returning the
// cookies set by the acceptance.
func (ta *testAPI) onboard(email string) []*http.Cookie {
	ta.t.Helper()

	rec := ta.do(http.MethodPost, "/invites", inviteRequest{
		Email: email,
		Name:  "Staff",
		Roles: []string{permission.RoleStaff},
	}, nil, ta.ownerToken())
	if rec.Code != http.StatusCreated {
		ta.t.Fatalf("invite: expected 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = ta.do(http.MethodPost, "/invite/accept", acceptInviteRequest{
		Token:    ta.mail.inviteToken(ta.t, email),
		Password: testPassword,
	}, nil, "")
	if rec.Code != http.StatusOK {
		ta.t.Fatalf("accept: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	return rec.Result().Cookies()
}

func cookieNamed(t *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	t.Helper()
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body)
	}
	return body.Error
}

func TestHealthAndReadiness(t *testing.T) {
	ready := errors.New("db down")
	ta := newTestAPI(t, Options{Ready: func(context.Context) error { return ready }})

	if rec := ta.do(http.MethodGet, "/healthz", nil, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := ta.do(http.MethodGet, "/readyz", nil, nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", rec.Code)
	}

	ready = nil
	if rec := ta.do(http.MethodGet, "/readyz", nil, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rec.Code)
	}
}

func TestInviteAcceptThenSessionLifecycle(t *testing.T) {
	ta := newTestAPI(t, Options{})
	cfg := ta.engine.CookieConfig()

	cookies := ta.onboard("staff@x.com")
	sessionCookie := cookieNamed(t, cookies, cfg.SessionName)
	refreshCookie := cookieNamed(t, cookies, cfg.RefreshName)
	if !sessionCookie.HttpOnly || !refreshCookie.HttpOnly {
		t.Fatal("expected HttpOnly credential cookies")
	}

	rec := ta.do(http.MethodGet, "/me", nil, []*http.Cookie{sessionCookie}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	var me meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "staff@x.com" || me.BusinessID != "biz-1" || len(me.Roles) != 1 || me.Roles[0] != permission.RoleStaff {
		t.Fatalf("unexpected identity: %+v", me)
	}

	// The refresh credential is not a session credential.
	if rec := ta.do(http.MethodGet, "/me", nil, nil, refreshCookie.Value); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh as session: expected 401, got %d", rec.Code)
	}

	rec = ta.do(http.MethodPost, "/auth/refresh", nil, []*http.Cookie{refreshCookie}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var fresh sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fresh); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if fresh.SessionToken == "" || !fresh.RefreshExpiresAt.After(fresh.SessionExpiresAt) {
		t.Fatalf("unexpected refresh response: %+v", fresh)
	}

	rec = ta.do(http.MethodPost, "/auth/logout", nil, nil, fresh.SessionToken)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("expected cleared cookie, got %+v", c)
		}
	}
}

func TestPasswordLogin(t *testing.T) {
	ta := newTestAPI(t, Options{})
	ta.onboard("staff@x.com")

	rec := ta.do(http.MethodPost, "/auth/login", loginRequest{Email: "staff@x.com", Password: testPassword}, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	cookieNamed(t, rec.Result().Cookies(), ta.engine.CookieConfig().SessionName)

	rec = ta.do(http.MethodPost, "/auth/login", loginRequest{Email: "staff@x.com", Password: "wrong-password-1!"}, nil, "")
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credential" {
		t.Fatalf("bad password: expected 401 invalid_credential, got %d %s", rec.Code, rec.Body)
	}

	rec = ta.do(http.MethodPost, "/auth/login", loginRequest{Email: "nobody@x.com", Password: testPassword}, nil, "")
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credential" {
		t.Fatalf("unknown email: expected 401 invalid_credential, got %d %s", rec.Code, rec.Body)
	}
}

func TestOTPLogin(t *testing.T) {
	ta := newTestAPI(t, Options{})
	ta.onboard("staff@x.com")

	rec := ta.do(http.MethodPost, "/auth/otp/start", otpStartRequest{Email: "staff@x.com"}, nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("otp start: expected 202, got %d", rec.Code)
	}
	var started otpStartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode otp start: %v", err)
	}

	rec = ta.do(http.MethodPost, "/auth/otp/complete", otpCompleteRequest{OTPID: started.OTPID, Code: "000000x"}, nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code: expected 401, got %d", rec.Code)
	}

	rec = ta.do(http.MethodPost, "/auth/otp/complete", otpCompleteRequest{
		OTPID: started.OTPID,
		Code:  ta.mail.code(t, "staff@x.com"),
	}, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("otp complete: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	// Unknown accounts get an indistinguishable answer.
	rec = ta.do(http.MethodPost, "/auth/otp/start", otpStartRequest{Email: "nobody@x.com"}, nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("otp start unknown: expected 202, got %d", rec.Code)
	}
}

func TestInviteRequiresPermission(t *testing.T) {
	ta := newTestAPI(t, Options{})
	cookies := ta.onboard("staff@x.com")
	staff := cookieNamed(t, cookies, ta.engine.CookieConfig().SessionName)

	rec := ta.do(http.MethodPost, "/invites", inviteRequest{Email: "x@x.com", Roles: []string{permission.RoleCustomer}}, []*http.Cookie{staff}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff invite: expected 403, got %d", rec.Code)
	}

	rec = ta.do(http.MethodPost, "/invites", inviteRequest{Email: "x@x.com", Roles: []string{permission.RoleCustomer}}, nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous invite: expected 401, got %d", rec.Code)
	}

	rec = ta.do(http.MethodPost, "/invites", inviteRequest{Email: "x@x.com", Roles: []string{permission.SuperAdminRole}}, nil, ta.ownerToken())
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "role_escalation" {
		t.Fatalf("escalation: expected 403 role_escalation, got %d %s", rec.Code, rec.Body)
	}
}

func TestAcceptInviteErrors(t *testing.T) {
	ta := newTestAPI(t, Options{})

	rec := ta.do(http.MethodPost, "/invites", inviteRequest{Email: "new@x.com", Roles: []string{permission.RoleStaff}}, nil, ta.ownerToken())
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: expected 201, got %d", rec.Code)
	}
	token := ta.mail.inviteToken(t, "new@x.com")

	rec = ta.do(http.MethodPost, "/invite/accept", acceptInviteRequest{Token: token, Password: "short"}, nil, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("weak password: expected 422, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Violations) == 0 {
		t.Fatalf("expected policy violations, got %s", rec.Body)
	}

	rec = ta.do(http.MethodPost, "/invite/accept", acceptInviteRequest{Token: "nope", Password: testPassword}, nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token: expected 401, got %d", rec.Code)
	}

	rec = ta.do(http.MethodPost, "/invite/accept", acceptInviteRequest{Token: token, Password: testPassword}, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept after weak password: expected 200, got %d", rec.Code)
	}
}

func TestSuspendBlocksRefresh(t *testing.T) {
	ta := newTestAPI(t, Options{})
	cfg := ta.engine.CookieConfig()
	cookies := ta.onboard("staff@x.com")

	rec := ta.do(http.MethodGet, "/me", nil, []*http.Cookie{cookieNamed(t, cookies, cfg.SessionName)}, "")
	var me meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}

	rec = ta.do(http.MethodPost, "/users/"+me.UserID+"/suspend", nil, nil, ta.ownerToken())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("suspend: expected 204, got %d: %s", rec.Code, rec.Body)
	}

	rec = ta.do(http.MethodPost, "/auth/refresh", nil, []*http.Cookie{cookieNamed(t, cookies, cfg.RefreshName)}, "")
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "account_suspended" {
		t.Fatalf("refresh suspended: expected 403 account_suspended, got %d %s", rec.Code, rec.Body)
	}

	rec = ta.do(http.MethodPost, "/users/"+me.UserID+"/reactivate", nil, nil, ta.ownerToken())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reactivate: expected 204, got %d", rec.Code)
	}

	rec = ta.do(http.MethodPost, "/users/missing/suspend", nil, nil, ta.ownerToken())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", rec.Code)
	}
}

func TestMalformedBodies(t *testing.T) {
	ta := newTestAPI(t, Options{})

	for _, path := range []string{"/auth/login", "/auth/otp/start", "/auth/otp/complete", "/invite/accept"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"unknown":1}`))
		rec := httptest.NewRecorder()
		ta.api.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}

	if rec := ta.do(http.MethodPost, "/auth/refresh", nil, nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh without cookie: expected 401, got %d", rec.Code)
	}
}

func TestPerIPRateLimit(t *testing.T) {
	ta := newTestAPI(t, Options{RatePerSecond: 0.001, RateBurst: 1})

	login := loginRequest{Email: "nobody@x.com", Password: testPassword}
	if rec := ta.do(http.MethodPost, "/auth/login", login, nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("first login: expected 401, got %d", rec.Code)
	}
	if rec := ta.do(http.MethodPost, "/auth/login", login, nil, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second login: expected 429, got %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{marketauth.ErrSessionExpired, http.StatusUnauthorized, "unauthorized"},
		{marketauth.ErrRoleEscalation, http.StatusForbidden, "role_escalation"},
		{marketauth.ErrInviteAlreadyConsumed, http.StatusConflict, "conflict"},
		{marketauth.ErrInviteExpired, http.StatusGone, "invite_expired"},
		{marketauth.ErrOTPExpired, http.StatusUnauthorized, "invalid_credential"},
		{marketauth.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{&marketauth.PolicyError{Violations: []string{"too short"}}, http.StatusUnprocessableEntity, "password_policy"},
		{marketauth.ErrStoreUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
