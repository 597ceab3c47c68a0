package marketauth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/password"
	"github.com/MrEthical07/marketauth/session"
)

// Config is the complete Engine configuration. Start from [DefaultConfig]
// and override what differs.
type Config struct {
	Session   SessionConfig
	Cookie    session.CookieConfig
	Password  PasswordConfig
	OTP       OTPConfig
	Invite    InviteConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// Production enables the hardening checks in Validate.
	Production bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures credential signing.
type SessionConfig struct {
	TTL           time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	// VerifyKeys holds additional verification keys by kid during rotation.
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
	// Leeway tolerates issued-at skew between nodes. Credentials are
	// rejected from their expiry instant regardless.
	Leeway time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and the strength policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
	Policy         password.Policy
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures one-time passcodes.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	// RedisPrefix namespaces challenge keys when Redis carries OTP records.
	RedisPrefix string
}

/*
====================================
INVITE CONFIG
====================================
*/

// InviteConfig configures magic-link invitations.
type InviteConfig struct {
	TTL time.Duration
	// BaseURL is the accept page; the token is appended as ?token=.
	BaseURL string
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds credential store calls.
type StoreConfig struct {
	Timeout time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds login failure and OTP issuance budgets.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	MaxOTPRequests   int
	OTPRequestWindow time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the recommended configuration. Signing keys are
// left empty and must be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Session: SessionConfig{
			TTL:           15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "marketauth",
			Leeway:        30 * time.Second,
		},
		Cookie: session.DefaultCookieConfig(),
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			UpgradeOnLogin: true,
			Policy:         password.DefaultPolicy(),
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			RedisPrefix: "mo",
		},
		Invite: InviteConfig{
			TTL:     72 * time.Hour,
			BaseURL: "http://localhost:8080/invite/accept",
		},
		Store: StoreConfig{
			Timeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: true,
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
			MaxOTPRequests:   5,
			OTPRequestWindow: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RefreshTTL < c.Session.TTL {
		return errors.New("Session RefreshTTL must be >= TTL")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Session.PublicKey) == 0 && len(c.Session.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported session signing method")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}

	// Cookie
	if c.Cookie.SessionName == "" || c.Cookie.RefreshName == "" {
		return errors.New("Cookie names must be set")
	}
	if c.Cookie.SessionName == c.Cookie.RefreshName {
		return errors.New("Cookie SessionName and RefreshName must differ")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.Policy.MinLength < 8 {
		return errors.New("Password Policy MinLength must be >= 8")
	}
	if c.Password.Policy.MaxLength < c.Password.Policy.MinLength {
		return errors.New("Password Policy MaxLength must be >= MinLength")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("OTP MaxAttempts must be >= 1")
	}

	// Invite
	if c.Invite.TTL <= 0 {
		return errors.New("Invite TTL must be > 0")
	}
	u, err := url.Parse(c.Invite.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Invite BaseURL must be an absolute URL")
	}

	// Store
	if c.Store.Timeout <= 0 {
		return errors.New("Store Timeout must be > 0")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts < 0 || c.RateLimit.MaxOTPRequests < 0 {
			return errors.New("RateLimit budgets must be >= 0")
		}
		if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0")
		}
		if c.RateLimit.MaxOTPRequests > 0 && c.RateLimit.OTPRequestWindow <= 0 {
			return errors.New("RateLimit OTPRequestWindow must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.Production {
		return c.validateProduction(u)
	}
	return nil
}

func (c *Config) validateProduction(inviteURL *url.URL) error {
	if !c.Cookie.Secure {
		return errors.New("production requires secure cookies")
	}
	if inviteURL.Scheme != "https" {
		return errors.New("production requires an https Invite BaseURL")
	}
	if strings.EqualFold(inviteURL.Hostname(), "localhost") {
		return errors.New("production Invite BaseURL must not point at localhost")
	}
	if !c.RateLimit.Enabled || c.RateLimit.MaxLoginAttempts == 0 || c.RateLimit.MaxOTPRequests == 0 {
		return errors.New("production requires login and OTP rate limits")
	}
	if c.Session.TTL > time.Hour {
		return errors.New("production Session TTL must be <= 1h")
	}
	if c.Session.Issuer == "" {
		return errors.New("production requires a Session Issuer")
	}
	return nil
}

func cloneConfig(in Config) Config {
	out := in
	out.Session.PrivateKey = append([]byte(nil), in.Session.PrivateKey...)
	out.Session.PublicKey = append([]byte(nil), in.Session.PublicKey...)
	if in.Session.VerifyKeys != nil {
		out.Session.VerifyKeys = make(map[string][]byte, len(in.Session.VerifyKeys))
		for kid, key := range in.Session.VerifyKeys {
			out.Session.VerifyKeys[kid] = append([]byte(nil), key...)
		}
	}
	return out
}
