package marketauth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthenticated is the category of every credential failure. The
	// request gate answers it with 401.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionMissing is returned when no credential was presented.
	ErrSessionMissing = fmt.Errorf("%w: credential missing", ErrUnauthenticated)
	// ErrSessionMalformed covers undecodable credentials and bad signatures.
	ErrSessionMalformed = fmt.Errorf("%w: credential malformed", ErrUnauthenticated)
	// ErrSessionExpired is returned once the credential's expiry has passed.
	ErrSessionExpired = fmt.Errorf("%w: credential expired", ErrUnauthenticated)
	// ErrWrongTokenKind is returned when a refresh credential is presented
	// as a session credential or the other way round.
	ErrWrongTokenKind = fmt.Errorf("%w: wrong credential kind", ErrUnauthenticated)

	// ErrForbidden is returned when an authenticated caller lacks a
	// permission.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredential is the category of rejected secrets: wrong
	// passwords, unknown or expired codes and invite tokens.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrOTPNotFound is returned for unknown or already consumed challenges.
	ErrOTPNotFound = fmt.Errorf("%w: otp not found", ErrInvalidCredential)
	// ErrOTPExpired is returned when a challenge is verified after expiry.
	ErrOTPExpired = fmt.Errorf("%w: otp expired", ErrInvalidCredential)
	// ErrOTPMismatch is returned by CompleteOTPLogin for a wrong code while
	// attempts remain.
	ErrOTPMismatch = fmt.Errorf("%w: otp mismatch", ErrInvalidCredential)
	// ErrOTPAttemptsExceeded is returned once a challenge has used its
	// attempt budget. The challenge is terminal afterwards.
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrInviteInvalid is returned when no account holds the invite token.
	ErrInviteInvalid = fmt.Errorf("%w: invite invalid", ErrInvalidCredential)
	// ErrInviteExpired is returned when the invite token is past its expiry.
	ErrInviteExpired = fmt.Errorf("%w: invite expired", ErrInvalidCredential)

	// ErrConflict is the category of lost races on conditional writes.
	ErrConflict = errors.New("conflict")
	// ErrInviteAlreadyConsumed is returned to the loser of an invite
	// acceptance race and on repeated consumption.
	ErrInviteAlreadyConsumed = fmt.Errorf("%w: invite already consumed", ErrConflict)

	// ErrRateLimited is returned when a login or issuance budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountSuspended is returned for suspended accounts at login and
	// refresh.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountPending is returned at login for accounts that never
	// accepted their invite.
	ErrAccountPending = errors.New("account pending activation")
	// ErrAccountExists is returned when inviting an email that belongs to an
	// activated account.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by administrative operations addressing an
	// unknown account.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoleEscalation is returned when an inviter tries to grant a role
	// they may not grant.
	ErrRoleEscalation = fmt.Errorf("%w: role escalation", ErrForbidden)
	// ErrStoreUnavailable wraps every credential store failure, including
	// deadline expiry.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrDeliveryUnavailable is returned when the mailer fails.
	ErrDeliveryUnavailable = errors.New("delivery unavailable")
	// ErrPasswordPolicy is returned, wrapped in a *PolicyError, for
	// passwords the strength policy rejects.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidRequest is returned for malformed arguments.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// PolicyError lists every password rule the candidate violated.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return ErrPasswordPolicy.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *PolicyError) Unwrap() error { return ErrPasswordPolicy }
