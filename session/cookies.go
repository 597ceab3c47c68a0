package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieConfig names and scopes the credential cookies.
type CookieConfig struct {
	SessionName string
	RefreshName string
	Domain      string
	Path        string
	// RefreshPath limits where the browser sends the refresh cookie.
	RefreshPath string
	// Secure must be true outside local development.
	Secure bool
}

// DefaultCookieConfig returns secure cookie settings.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		SessionName: "ma_session",
		RefreshName: "ma_refresh",
		Path:        "/",
		RefreshPath: "/auth/refresh",
		Secure:      true,
	}
}

// SetCookies writes the session and refresh credentials as cookies that
// expire together with the credentials they carry.
func SetCookies(w http.ResponseWriter, cfg CookieConfig, sessionToken string, sessionExpiry time.Time, refreshToken string, refreshExpiry time.Time) {
	http.SetCookie(w, cfg.cookie(cfg.SessionName, cfg.Path, sessionToken, sessionExpiry))
	http.SetCookie(w, cfg.cookie(cfg.RefreshName, cfg.refreshPath(), refreshToken, refreshExpiry))
}

// ClearCookies overwrites both credential cookies with expired blanks.
func ClearCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, c := range []*http.Cookie{
		cfg.cookie(cfg.SessionName, cfg.Path, "", time.Unix(0, 0)),
		cfg.cookie(cfg.RefreshName, cfg.refreshPath(), "", time.Unix(0, 0)),
	} {
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// FromRequest returns the session credential from the session cookie or,
// failing that, from an Authorization: Bearer header. It returns "" when
// neither is present.
func FromRequest(r *http.Request, cfg CookieConfig) string {
	if c, err := r.Cookie(cfg.SessionName); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := BearerToken(r.Header.Get("Authorization"))
	return token
}

// RefreshFromRequest returns the refresh credential from its cookie, or ""
// when absent.
func RefreshFromRequest(r *http.Request, cfg CookieConfig) string {
	if c, err := r.Cookie(cfg.RefreshName); err == nil {
		return c.Value
	}
	return ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func (cfg CookieConfig) cookie(name, path, value string, expires time.Time) *http.Cookie {
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cfg.Domain,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (cfg CookieConfig) refreshPath() string {
	if cfg.RefreshPath != "" {
		return cfg.RefreshPath
	}
	return cfg.Path
}
