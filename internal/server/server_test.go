package server

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func engineConfig() marketauth.Config {
	cfg := marketauth.DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	return cfg
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(flag.NewFlagSet("marketauthd", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.SweepInterval != 10*time.Minute || cfg.RateBurst != 20 || !cfg.Migrate {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "marketauthd" {
		t.Fatalf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("MARKETAUTH_HTTP_ADDR", "env:1")
	t.Setenv("MARKETAUTH_SEED_BUSINESSES", "biz-1, biz-2")
	t.Setenv("MARKETAUTH_OTEL_ENDPOINT", "http://collector:4318")

	cfg, err := ParseConfig(flag.NewFlagSet("marketauthd", flag.ContinueOnError), []string{"-http-addr", "flag:2"})
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.HTTPAddr != "flag:2" {
		t.Fatalf("expected flag to win, got %q", cfg.HTTPAddr)
	}
	if len(cfg.SeedBusinesses) != 2 || cfg.SeedBusinesses[1] != "biz-2" {
		t.Fatalf("unexpected seed businesses: %q", cfg.SeedBusinesses)
	}
	if cfg.Telemetry.Endpoint != "http://collector:4318" {
		t.Fatalf("unexpected telemetry endpoint: %q", cfg.Telemetry.Endpoint)
	}
}

func TestParseConfigRejects(t *testing.T) {
	for name, env := range map[string][2]string{
		"log level": {"MARKETAUTH_LOG_LEVEL", "loud"},
		"sweep":     {"MARKETAUTH_OTP_SWEEP_INTERVAL", "0s"},
		"duration":  {"MARKETAUTH_SHUTDOWN_TIMEOUT", "soon"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			if _, err := ParseConfig(flag.NewFlagSet("marketauthd", flag.ContinueOnError), nil); err == nil {
				t.Fatalf("expected %s=%s to be rejected", env[0], env[1])
			}
		})
	}
}

func TestAssembleWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	deps, err := Assemble(context.Background(), Config{
		RedisURL:       "redis://" + mr.Addr(),
		RatePerSecond:  10,
		RateBurst:      10,
		SeedBusinesses: []string{"biz-1"},
	}, engineConfig(), quietLogger())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	bindings, err := deps.Store.GetRolePermissionBindings(context.Background(), "biz-1")
	if err != nil || len(bindings) == 0 {
		t.Fatalf("expected seeded bindings, got %v (%v)", bindings, err)
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		deps.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	mr.Close()
	rec := httptest.NewRecorder()
	deps.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once redis is gone, got %d", rec.Code)
	}
}

func TestAssembleProductionGuards(t *testing.T) {
	cfg := engineConfig()
	cfg.Production = true

	_, err := Assemble(context.Background(), Config{}, cfg, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected database requirement, got %v", err)
	}
}

func TestSeedBindingsKeepsExisting(t *testing.T) {
	st := memory.New()
	custom := permission.Bindings{}
	custom.Grant(permission.RoleStaff, permission.OrderRead)
	if err := st.PutRolePermissionBindings(context.Background(), "biz-1", custom); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := seedBindings(context.Background(), st, []string{"biz-1", "", "biz-2"}, quietLogger()); err != nil {
		t.Fatalf("seedBindings failed: %v", err)
	}

	got, _ := st.GetRolePermissionBindings(context.Background(), "biz-1")
	if len(got) != 1 || got.Grants(permission.NewSet(permission.RoleStaff), permission.ProductManage) {
		t.Fatalf("existing bindings were overwritten: %v", got)
	}
	fresh, _ := st.GetRolePermissionBindings(context.Background(), "biz-2")
	if !fresh.Grants(permission.NewSet(permission.RoleBusinessOwner), permission.UsersInvite) {
		t.Fatalf("expected defaults for biz-2, got %v", fresh)
	}
}

func TestSweepOTPsStopsOnCancel(t *testing.T) {
	engine, err := marketauth.New().WithConfig(engineConfig()).WithStore(memory.New()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SweepOTPs(ctx, engine, time.Millisecond, quietLogger())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
