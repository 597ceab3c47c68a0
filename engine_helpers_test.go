package marketauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
	"github.com/MrEthical07/marketauth/store/memory"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Correct-Horse-9!"

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	email string
	body  string
}

type captureMailer struct {
	mu      sync.Mutex
	codes   []sentMail
	invites []sentMail
	fail    error
}

func (m *captureMailer) SendLoginCode(_ context.Context, email, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.codes = append(m.codes, sentMail{email: email, body: code})
	return nil
}

func (m *captureMailer) SendInvite(_ context.Context, email, link string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.invites = append(m.invites, sentMail{email: email, body: link})
	return nil
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("no login code was mailed")
	}
	return m.codes[len(m.codes)-1].body
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *fakeClock
	mailer *captureMailer
}

type envOption func(*Config, *Builder)

func withRedis(client *redis.Client) envOption {
	return func(_ *Config, b *Builder) { b.WithRedis(client) }
}

func withAuditSink(sink AuditSink) envOption {
	return func(cfg *Config, b *Builder) {
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	}
}

func withConfig(mut func(*Config)) envOption {
	return func(cfg *Config, _ *Builder) { mut(cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clock := newFakeClock()
	st := memory.New().WithClock(clock.Now)
	mailer := &captureMailer{}

	cfg := testConfig()
	b := New().WithStore(st).WithMailer(mailer).WithClock(clock.Now)
	for _, opt := range opts {
		opt(&cfg, b)
	}

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	bindings := permission.DefaultBindings()
	if err := st.PutRolePermissionBindings(context.Background(), "biz-1", bindings); err != nil {
		t.Fatalf("seed bindings: %v", err)
	}

	return &testEnv{engine: engine, store: st, clock: clock, mailer: mailer}
}

// addUser stores an account with testPassword as its password.
func (env *testEnv) addUser(t *testing.T, id, email string, status store.AccountStatus, roles ...string) store.User {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	u, err := env.store.CreateUser(context.Background(), store.User{
		ID:             id,
		Email:          email,
		Name:           id,
		HashedPassword: hash,
		Roles:          permission.NewSet(roles...),
		Status:         status,
		BusinessID:     "biz-1",
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

// failingBindings fails every binding lookup.
type failingBindings struct {
	*memory.Store
}

func (failingBindings) GetRolePermissionBindings(context.Context, string) (permission.Bindings, error) {
	return nil, errors.New("connection refused")
}
