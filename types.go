package marketauth

import (
	"context"
	"time"

	"github.com/MrEthical07/marketauth/store"
)

// User is the persisted account, re-exported from the store contract.
type User = store.User

// AccountStatus is the lifecycle state of a User.
type AccountStatus = store.AccountStatus

const (
	StatusPending   = store.StatusPending
	StatusActive    = store.StatusActive
	StatusSuspended = store.StatusSuspended
)

// Subject is the identity a credential pair is issued for.
type Subject struct {
	UserID     string
	Email      string
	Roles      []string
	BusinessID string
}

// TokenPair is an issued session credential and its refresh credential.
type TokenPair struct {
	SessionToken     string
	SessionExpiresAt time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// OTPChallenge is returned by [Engine.IssueOTP]. Code is the plaintext that
// must be delivered out of band; it is never persisted.
type OTPChallenge struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// OTPVerification is the outcome of a verification attempt that reached
// the code comparison. Attempts counts this attempt.
type OTPVerification struct {
	Valid    bool
	Attempts int
}

// InviteLink is an issued magic link. Token is the plaintext; only its hash
// is stored.
type InviteLink struct {
	URL       string
	Token     string
	ExpiresAt time.Time
}

// InviteSubject identifies the pending account an invite token belongs to.
type InviteSubject struct {
	UserID string
	Email  string
}

// InviteRequest describes an account to onboard.
type InviteRequest struct {
	Email string
	Name  string
	Roles []string
	// BusinessID defaults to the inviter's business.
	BusinessID string
}

// LoginResult is returned by password login. When MFARequired is set no
// tokens were issued and an OTP was mailed; complete the login with
// [Engine.CompleteOTPLogin] using OTPID.
type LoginResult struct {
	Tokens      TokenPair
	MFARequired bool
	OTPID       string
}

// Mailer delivers codes and links. Implementations must not log the code
// or the link.
type Mailer interface {
	SendLoginCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendInvite(ctx context.Context, email, link string, expiresAt time.Time) error
}

// AuthenticatedContext is the verified identity of a request. It is
// immutable: fields are unexported and Roles returns a copy.
type AuthenticatedContext struct {
	userID       string
	email        string
	roles        []string
	businessID   string
	credentialID string
}

// NewAuthenticatedContext builds an AuthenticatedContext. roles is copied.
func NewAuthenticatedContext(userID, email string, roles []string, businessID string) AuthenticatedContext {
	return AuthenticatedContext{
		userID:     userID,
		email:      email,
		roles:      append([]string(nil), roles...),
		businessID: businessID,
	}
}

func (a AuthenticatedContext) UserID() string     { return a.userID }
func (a AuthenticatedContext) Email() string      { return a.email }
func (a AuthenticatedContext) BusinessID() string { return a.businessID }

// CredentialID is the JWT ID of the session credential the context was
// built from. It is empty for contexts built by hand.
func (a AuthenticatedContext) CredentialID() string { return a.credentialID }

// Roles returns a copy of the role snapshot taken when the session was
// issued.
func (a AuthenticatedContext) Roles() []string {
	return append([]string(nil), a.roles...)
}

// HasRole reports whether role is in the snapshot.
func (a AuthenticatedContext) HasRole(role string) bool {
	for _, r := range a.roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsZero reports whether a carries no identity.
func (a AuthenticatedContext) IsZero() bool { return a.userID == "" }
