package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/internal/httpapi"
	"github.com/MrEthical07/marketauth/internal/mailer"
	"github.com/MrEthical07/marketauth/internal/telemetry"
	promexport "github.com/MrEthical07/marketauth/metrics/export/prometheus"
	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
	"github.com/MrEthical07/marketauth/store/memory"
	"github.com/MrEthical07/marketauth/store/postgres"
)

// Deps are the assembled components of a running daemon.
type Deps struct {
	Engine  *marketauth.Engine
	Store   store.CredentialStore
	Redis   *redis.Client
	Handler http.Handler

	closers []func() error
}

// Close releases stores and clients in reverse order of creation.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Assemble builds the engine and the HTTP handler from cfg and engineCfg.
// On error every component created so far is closed.
func Assemble(ctx context.Context, cfg Config, engineCfg marketauth.Config, logger *slog.Logger) (_ *Deps, err error) {
	d := &Deps{}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	var ready []func(context.Context) error

	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if cfg.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		d.Store = pg
		ready = append(ready, pg.Ping)
	} else {
		if engineCfg.Production {
			return nil, errors.New("production requires MARKETAUTH_DATABASE_URL")
		}
		logger.WarnContext(ctx, "marketauthd: using in-memory store; accounts are lost on restart")
		d.Store = memory.New()
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		d.Redis = redis.NewClient(opts)
		d.closers = append(d.closers, d.Redis.Close)
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		ready = append(ready, func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() })
	}

	var mail marketauth.Mailer = mailer.Log{Logger: logger}
	if cfg.SMTPHost != "" {
		smtp, err := mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, err
		}
		mail = smtp
	} else if engineCfg.Production {
		return nil, errors.New("production requires MARKETAUTH_SMTP_HOST")
	}

	if err := seedBindings(ctx, d.Store, cfg.SeedBusinesses, logger); err != nil {
		return nil, err
	}

	b := marketauth.New().
		WithConfig(engineCfg).
		WithStore(d.Store).
		WithMailer(mail).
		WithLogger(logger).
		WithTracerProvider(otel.GetTracerProvider())
	if d.Redis != nil {
		b = b.WithRedis(d.Redis)
	}
	d.Engine, err = b.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	d.closers = append(d.closers, func() error {
		d.Engine.Close()
		return nil
	})

	api := httpapi.New(d.Engine, httpapi.Options{
		Logger:         logger,
		TrustForwarded: cfg.TrustForwarded,
		RatePerSecond:  cfg.RatePerSecond,
		RateBurst:      cfg.RateBurst,
		Metrics:        promexport.NewCollector(d.Engine).Handler(),
		Ready: func(ctx context.Context) error {
			for _, check := range ready {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})
	d.Handler = api.Handler()
	return d, nil
}

// seedBindings installs the default role bindings for businesses that have
// none yet. Existing bindings are never overwritten.
func seedBindings(ctx context.Context, st store.CredentialStore, businesses []string, logger *slog.Logger) error {
	if len(businesses) == 0 {
		return nil
	}
	writer, ok := st.(store.BindingWriter)
	if !ok {
		return errors.New("store cannot write role bindings")
	}
	for _, business := range businesses {
		if business == "" {
			continue
		}
		existing, err := st.GetRolePermissionBindings(ctx, business)
		if err != nil {
			return fmt.Errorf("read bindings for %s: %w", business, err)
		}
		if len(existing) > 0 {
			continue
		}
		if err := writer.PutRolePermissionBindings(ctx, business, permission.DefaultBindings()); err != nil {
			return fmt.Errorf("seed bindings for %s: %w", business, err)
		}
		logger.InfoContext(ctx, "marketauthd: seeded default role bindings", "business_id", business)
	}
	return nil
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// background jobs within cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	engineCfg, err := marketauth.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("marketauthd: tracer shutdown failed", "error", err)
		}
	}()

	deps, err := Assemble(ctx, cfg, engineCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("marketauthd: close failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           deps.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		SweepOTPs(ctx, deps.Engine, cfg.SweepInterval, logger)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("marketauthd: listening", "addr", cfg.HTTPAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("marketauthd: shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("marketauthd: http shutdown incomplete", "error", err)
	}
	<-sweepDone
	return deps.Engine.Shutdown(sctx)
}

// SweepOTPs deletes expired OTP records every interval until ctx ends.
func SweepOTPs(ctx context.Context, engine *marketauth.Engine, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.SweepExpiredOTPs(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.WarnContext(ctx, "marketauthd: otp sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.DebugContext(ctx, "marketauthd: otp sweep", "deleted", n)
			}
		}
	}
}
