package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/marketauth/permission"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConditionFailed is returned when a conditional write found the row
	// in a different state than expected.
	ErrConditionFailed = errors.New("store: condition failed")
)

// AccountStatus is the lifecycle state of a User.
type AccountStatus string

const (
	StatusPending   AccountStatus = "pending"
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// User is a marketplace account. Roles are decoded into a typed set by the
// adapter; callers never see the stored representation.
type User struct {
	ID             string
	Email          string
	Name           string
	HashedPassword string
	Roles          permission.Set
	Status         AccountStatus
	MFAEnabled     bool
	BusinessID     string
	LastLoginAt    *time.Time
	// InviteToken holds the hex SHA-256 of the outstanding invite token.
	InviteToken  *string
	InviteExpiry *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserUpdate is a partial update. Nil fields are left untouched.
type UserUpdate struct {
	Name           *string
	HashedPassword *string
	Roles          permission.Set
	Status         *AccountStatus
	MFAEnabled     *bool
	LastLoginAt    *time.Time

	// SetInvite replaces the invite token and expiry; ClearInvite removes
	// them. Setting both is invalid.
	SetInvite   *Invite
	ClearInvite bool

	// ExpectInviteToken makes the update conditional: it applies only if the
	// row still holds exactly this token hash. On mismatch the update
	// returns ErrConditionFailed.
	ExpectInviteToken *string
	// ExpectStatus makes the update conditional on the current status.
	ExpectStatus *AccountStatus
}

// Invite is the token hash and expiry embedded in a pending User.
type Invite struct {
	TokenHash string
	ExpiresAt time.Time
}

// OTPRecord is one issued one-time passcode challenge.
type OTPRecord struct {
	ID          string
	Email       string
	CodeHash    []byte
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

// Consumed reports whether the record reached a terminal state.
func (r OTPRecord) Consumed() bool { return r.ConsumedAt != nil }

// Users is the account half of the credential store.
type Users interface {
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByInviteToken(ctx context.Context, tokenHash string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
}

// OTPRecords persists OTP challenges. Implementations must keep at most one
// unconsumed record per email: CreateOTPRecord consumes any earlier live
// record for the same email.
type OTPRecords interface {
	CreateOTPRecord(ctx context.Context, rec OTPRecord) error
	GetOTPRecord(ctx context.Context, id string) (OTPRecord, error)
	// IncrementOTPAttempts atomically adds one attempt and returns the
	// updated record. It refuses with ErrConditionFailed once the record is
	// consumed or attempts has reached MaxAttempts.
	IncrementOTPAttempts(ctx context.Context, id string) (OTPRecord, error)
	// MarkOTPConsumed moves the record to its terminal state. It returns
	// ErrConditionFailed if the record was already consumed.
	MarkOTPConsumed(ctx context.Context, id string, at time.Time) error
}

// RoleBindings resolves role to permission bindings for a business scope.
// permission.GlobalScope addresses platform-level bindings.
type RoleBindings interface {
	GetRolePermissionBindings(ctx context.Context, businessID string) (permission.Bindings, error)
}

// CredentialStore is everything marketauth needs from persistence.
type CredentialStore interface {
	Users
	OTPRecords
	RoleBindings
}

// OTPSweeper is implemented by stores that can purge expired challenges.
type OTPSweeper interface {
	DeleteExpiredOTPRecords(ctx context.Context, before time.Time) (int64, error)
}

// BindingWriter is implemented by stores that accept binding updates.
type BindingWriter interface {
	PutRolePermissionBindings(ctx context.Context, businessID string, b permission.Bindings) error
}
