// Package server assembles the marketauthd daemon: stores, engine, HTTP
// surface and background jobs.
package server

import (
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/marketauth/internal/telemetry"
)

// Config holds daemon settings. Engine settings are read separately by
// marketauth.LoadConfigFromEnv.
type Config struct {
	HTTPAddr        string        `env:"MARKETAUTH_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"MARKETAUTH_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"MARKETAUTH_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"MARKETAUTH_LOG_FORMAT" envDefault:"json"`

	DatabaseURL string `env:"MARKETAUTH_DATABASE_URL"`
	Migrate     bool   `env:"MARKETAUTH_MIGRATE" envDefault:"true"`
	RedisURL    string `env:"MARKETAUTH_REDIS_URL"`

	TrustForwarded bool    `env:"MARKETAUTH_TRUST_FORWARDED"`
	RatePerSecond  float64 `env:"MARKETAUTH_HTTP_RATE" envDefault:"5"`
	RateBurst      int     `env:"MARKETAUTH_HTTP_BURST" envDefault:"20"`

	SweepInterval  time.Duration `env:"MARKETAUTH_OTP_SWEEP_INTERVAL" envDefault:"10m"`
	SeedBusinesses []string      `env:"MARKETAUTH_SEED_BUSINESSES" envSeparator:","`

	SMTPHost     string `env:"MARKETAUTH_SMTP_HOST"`
	SMTPPort     int    `env:"MARKETAUTH_SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"MARKETAUTH_SMTP_USERNAME"`
	SMTPPassword string `env:"MARKETAUTH_SMTP_PASSWORD"`
	SMTPFrom     string `env:"MARKETAUTH_SMTP_FROM"`

	Telemetry telemetry.Config
}

// ParseConfig reads the environment, then lets flags override the most
// commonly changed settings.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL DSN; empty uses the in-memory store")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for OTP records and rate limits")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("MARKETAUTH_OTP_SWEEP_INTERVAL must be > 0")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	for i, b := range cfg.SeedBusinesses {
		cfg.SeedBusinesses[i] = strings.TrimSpace(b)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
