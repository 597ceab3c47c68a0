package marketauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// configEnv holds raw environment values. Unset variables keep the value
// DefaultConfig chose.
type configEnv struct {
	Production bool `env:"MARKETAUTH_PRODUCTION"`

	SessionTTL        time.Duration `env:"MARKETAUTH_SESSION_TTL"`
	RefreshTTL        time.Duration `env:"MARKETAUTH_REFRESH_TTL"`
	SigningMethod     string        `env:"MARKETAUTH_SIGNING_METHOD"`
	SigningKey        string        `env:"MARKETAUTH_SIGNING_KEY"`
	VerifyKey         string        `env:"MARKETAUTH_VERIFY_KEY"`
	KeyID             string        `env:"MARKETAUTH_KEY_ID"`
	Issuer            string        `env:"MARKETAUTH_ISSUER"`
	Audience          string        `env:"MARKETAUTH_AUDIENCE"`
	CookieDomain      string        `env:"MARKETAUTH_COOKIE_DOMAIN"`
	CookieInsecure    bool          `env:"MARKETAUTH_COOKIE_INSECURE"`
	OTPDigits         int           `env:"MARKETAUTH_OTP_DIGITS"`
	OTPTTL            time.Duration `env:"MARKETAUTH_OTP_TTL"`
	OTPMaxAttempts    int           `env:"MARKETAUTH_OTP_MAX_ATTEMPTS"`
	InviteTTL         time.Duration `env:"MARKETAUTH_INVITE_TTL"`
	InviteBaseURL     string        `env:"MARKETAUTH_INVITE_BASE_URL"`
	StoreTimeout      time.Duration `env:"MARKETAUTH_STORE_TIMEOUT"`
	MaxLoginAttempts  *int          `env:"MARKETAUTH_MAX_LOGIN_ATTEMPTS"`
	LoginCooldown     time.Duration `env:"MARKETAUTH_LOGIN_COOLDOWN"`
	MaxOTPRequests    *int          `env:"MARKETAUTH_MAX_OTP_REQUESTS"`
	OTPRequestWindow  time.Duration `env:"MARKETAUTH_OTP_REQUEST_WINDOW"`
	AuditBufferSize   int           `env:"MARKETAUTH_AUDIT_BUFFER_SIZE"`
	PasswordMemoryKB  uint32        `env:"MARKETAUTH_PASSWORD_MEMORY_KB"`
	PasswordTimeCost  uint32        `env:"MARKETAUTH_PASSWORD_TIME"`
	PasswordThreads   uint8         `env:"MARKETAUTH_PASSWORD_PARALLELISM"`
	DisableRateLimits bool          `env:"MARKETAUTH_DISABLE_RATE_LIMITS"`
}

// LoadConfigFromEnv starts from DefaultConfig and applies MARKETAUTH_*
// environment variables. Keys are base64 (standard alphabet, padding
// optional). The result is validated.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse marketauth env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Production = raw.Production

	if raw.SessionTTL > 0 {
		cfg.Session.TTL = raw.SessionTTL
	}
	if raw.RefreshTTL > 0 {
		cfg.Session.RefreshTTL = raw.RefreshTTL
	}
	if m := strings.ToLower(strings.TrimSpace(raw.SigningMethod)); m != "" {
		cfg.Session.SigningMethod = m
	}
	if raw.SigningKey == "" {
		return Config{}, errors.New("MARKETAUTH_SIGNING_KEY is required")
	}
	key, err := decodeBase64(raw.SigningKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode signing key: %w", err)
	}
	cfg.Session.PrivateKey = key
	if raw.VerifyKey != "" {
		pub, err := decodeBase64(raw.VerifyKey)
		if err != nil {
			return Config{}, fmt.Errorf("decode verify key: %w", err)
		}
		cfg.Session.PublicKey = pub
	}
	cfg.Session.KeyID = strings.TrimSpace(raw.KeyID)
	if raw.Issuer != "" {
		cfg.Session.Issuer = raw.Issuer
	}
	cfg.Session.Audience = raw.Audience

	cfg.Cookie.Domain = raw.CookieDomain
	cfg.Cookie.Secure = !raw.CookieInsecure

	if raw.OTPDigits > 0 {
		cfg.OTP.Digits = raw.OTPDigits
	}
	if raw.OTPTTL > 0 {
		cfg.OTP.TTL = raw.OTPTTL
	}
	if raw.OTPMaxAttempts > 0 {
		cfg.OTP.MaxAttempts = raw.OTPMaxAttempts
	}
	if raw.InviteTTL > 0 {
		cfg.Invite.TTL = raw.InviteTTL
	}
	if raw.InviteBaseURL != "" {
		cfg.Invite.BaseURL = raw.InviteBaseURL
	}
	if raw.StoreTimeout > 0 {
		cfg.Store.Timeout = raw.StoreTimeout
	}

	cfg.RateLimit.Enabled = !raw.DisableRateLimits
	if raw.MaxLoginAttempts != nil {
		cfg.RateLimit.MaxLoginAttempts = *raw.MaxLoginAttempts
	}
	if raw.LoginCooldown > 0 {
		cfg.RateLimit.LoginCooldown = raw.LoginCooldown
	}
	if raw.MaxOTPRequests != nil {
		cfg.RateLimit.MaxOTPRequests = *raw.MaxOTPRequests
	}
	if raw.OTPRequestWindow > 0 {
		cfg.RateLimit.OTPRequestWindow = raw.OTPRequestWindow
	}
	if raw.AuditBufferSize > 0 {
		cfg.Audit.BufferSize = raw.AuditBufferSize
	}
	if raw.PasswordMemoryKB > 0 {
		cfg.Password.Memory = raw.PasswordMemoryKB
	}
	if raw.PasswordTimeCost > 0 {
		cfg.Password.Time = raw.PasswordTimeCost
	}
	if raw.PasswordThreads > 0 {
		cfg.Password.Parallelism = raw.PasswordThreads
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
