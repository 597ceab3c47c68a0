package marketauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/marketauth/internal/audit"
	"github.com/MrEthical07/marketauth/internal/ids"
	"github.com/MrEthical07/marketauth/internal/rate"
	"github.com/MrEthical07/marketauth/internal/stores"
	"github.com/MrEthical07/marketauth/jwt"
	"github.com/MrEthical07/marketauth/password"
	"github.com/MrEthical07/marketauth/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	store  store.CredentialStore
	redis  redis.UniversalClient

	mailer         Mailer
	auditSink      AuditSink
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(s store.CredentialStore) *Builder {
	b.store = s
	return b
}

// WithRedis moves OTP challenges and rate-limit counters to Redis so they
// are shared by every node. Without it the credential store holds OTP
// records and limits are kept per process.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the delivery collaborator used by the login and invite
// flows. IssueOTP and IssueInvite work without one.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for operational warnings. Defaults to
// slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock overrides the time source for expiry decisions and credential
// timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	cfg := cloneConfig(b.config)
	if cfg.Production {
		cfg.Cookie.Secure = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	engine := &Engine{
		config:   cfg,
		users:    b.store,
		otps:     b.store,
		bindings: b.store,
		mailer:   b.mailer,
		logger:   logger,
		tracer:   tp.Tracer(tracerName),
		now:      now,
	}
	if sw, ok := b.store.(store.OTPSweeper); ok {
		engine.sweeper = sw
	}

	rateCfg := rate.Config{
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
		LoginCooldown:    cfg.RateLimit.LoginCooldown,
		MaxOTPRequests:   cfg.RateLimit.MaxOTPRequests,
		OTPRequestWindow: cfg.RateLimit.OTPRequestWindow,
	}
	if b.redis != nil {
		engine.otps = stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix)
		// Redis expires the records itself.
		engine.sweeper = nil
		if cfg.RateLimit.Enabled {
			engine.limiter = rate.New(b.redis, rateCfg)
		}
	} else if cfg.RateLimit.Enabled {
		engine.limiter = rate.NewLocal(rateCfg).WithClock(now)
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	if engine.dummyHash, err = ph.Hash(ids.New()); err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.Session.TTL,
		RefreshTTL:    cfg.Session.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cfg.Session.PrivateKey,
		PublicKey:     cfg.Session.PublicKey,
		VerifyKeys:    cfg.Session.VerifyKeys,
		KeyID:         cfg.Session.KeyID,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
