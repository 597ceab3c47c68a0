package session

import (
	"time"

	"github.com/MrEthical07/marketauth/jwt"
)

// Session is the identity bound into a verified session credential.
type Session struct {
	// ID is the credential's JWT ID, used to correlate audit events.
	ID         string
	UserID     string
	Email      string
	Roles      []string
	BusinessID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// FromClaims builds a Session from parsed credential claims. Roles are
// copied so the Session does not alias the claims.
func FromClaims(c *jwt.Claims) Session {
	s := Session{
		ID:         c.ID,
		UserID:     c.Subject,
		Email:      c.Email,
		BusinessID: c.BusinessID,
	}
	if len(c.Roles) > 0 {
		s.Roles = append([]string(nil), c.Roles...)
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
