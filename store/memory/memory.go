// Package memory is an in-process implementation of store.CredentialStore.
// It serves tests and single-node development setups.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
)

// Store keeps every record in maps guarded by one mutex, which serializes
// the conditional updates the contract requires.
type Store struct {
	mu sync.Mutex

	users    map[string]store.User
	byEmail  map[string]string
	byInvite map[string]string

	otps    map[string]store.OTPRecord
	liveOTP map[string]string

	bindings map[string]permission.Bindings

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]store.User),
		byEmail:  make(map[string]string),
		byInvite: make(map[string]string),
		otps:     make(map[string]store.OTPRecord),
		liveOTP:  make(map[string]string),
		bindings: make(map[string]permission.Bindings),
		now:      time.Now,
	}
}

// WithClock overrides the timestamp source used for CreatedAt/UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) GetUserByID(_ context.Context, id string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUserByInviteToken(_ context.Context, tokenHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byInvite[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = normalizeEmail(u.Email)
	if _, exists := s.users[u.ID]; exists {
		return store.User{}, store.ErrDuplicate
	}
	if _, exists := s.byEmail[u.Email]; exists {
		return store.User{}, store.ErrDuplicate
	}
	if u.InviteToken != nil {
		if _, exists := s.byInvite[*u.InviteToken]; exists {
			return store.User{}, store.ErrDuplicate
		}
	}

	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	u = cloneUser(u)
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	if u.InviteToken != nil {
		s.byInvite[*u.InviteToken] = u.ID
	}
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd store.UserUpdate) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	if upd.ExpectInviteToken != nil && (u.InviteToken == nil || *u.InviteToken != *upd.ExpectInviteToken) {
		return store.User{}, store.ErrConditionFailed
	}
	if upd.ExpectStatus != nil && u.Status != *upd.ExpectStatus {
		return store.User{}, store.ErrConditionFailed
	}
	if upd.SetInvite != nil {
		if owner, taken := s.byInvite[upd.SetInvite.TokenHash]; taken && owner != id {
			return store.User{}, store.ErrDuplicate
		}
	}

	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.HashedPassword != nil {
		u.HashedPassword = *upd.HashedPassword
	}
	if upd.Roles != nil {
		u.Roles = upd.Roles.Clone()
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.MFAEnabled != nil {
		u.MFAEnabled = *upd.MFAEnabled
	}
	if upd.LastLoginAt != nil {
		at := *upd.LastLoginAt
		u.LastLoginAt = &at
	}
	if upd.ClearInvite || upd.SetInvite != nil {
		if u.InviteToken != nil {
			delete(s.byInvite, *u.InviteToken)
		}
		u.InviteToken, u.InviteExpiry = nil, nil
	}
	if upd.SetInvite != nil {
		hash, exp := upd.SetInvite.TokenHash, upd.SetInvite.ExpiresAt
		u.InviteToken, u.InviteExpiry = &hash, &exp
		s.byInvite[hash] = id
	}
	u.UpdatedAt = s.now()

	s.users[id] = u
	return cloneUser(u), nil
}

func (s *Store) CreateOTPRecord(_ context.Context, rec store.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.otps[rec.ID]; exists {
		return store.ErrDuplicate
	}

	email := normalizeEmail(rec.Email)
	if prev, ok := s.liveOTP[email]; ok {
		old := s.otps[prev]
		if old.ConsumedAt == nil {
			at := rec.CreatedAt
			old.ConsumedAt = &at
			s.otps[prev] = old
		}
	}

	rec.Email = email
	rec.CodeHash = append([]byte(nil), rec.CodeHash...)
	s.otps[rec.ID] = rec
	s.liveOTP[email] = rec.ID
	return nil
}

func (s *Store) GetOTPRecord(_ context.Context, id string) (store.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.otps[id]
	if !ok {
		return store.OTPRecord{}, store.ErrNotFound
	}
	return cloneOTP(rec), nil
}

func (s *Store) IncrementOTPAttempts(_ context.Context, id string) (store.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.otps[id]
	if !ok {
		return store.OTPRecord{}, store.ErrNotFound
	}
	if rec.ConsumedAt != nil || rec.Attempts >= rec.MaxAttempts {
		return store.OTPRecord{}, store.ErrConditionFailed
	}
	rec.Attempts++
	s.otps[id] = rec
	return cloneOTP(rec), nil
}

func (s *Store) MarkOTPConsumed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.otps[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.ConsumedAt != nil {
		return store.ErrConditionFailed
	}
	rec.ConsumedAt = &at
	s.otps[id] = rec
	if s.liveOTP[rec.Email] == id {
		delete(s.liveOTP, rec.Email)
	}
	return nil
}

// DeleteExpiredOTPRecords removes records that expired before the cutoff.
func (s *Store) DeleteExpiredOTPRecords(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.otps {
		if rec.ExpiresAt.Before(before) {
			delete(s.otps, id)
			if s.liveOTP[rec.Email] == id {
				delete(s.liveOTP, rec.Email)
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) GetRolePermissionBindings(_ context.Context, businessID string) (permission.Bindings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return permission.Bindings{}.Merge(s.bindings[businessID]), nil
}

// PutRolePermissionBindings replaces every binding of the business scope.
func (s *Store) PutRolePermissionBindings(_ context.Context, businessID string, b permission.Bindings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bindings[businessID] = permission.Bindings{}.Merge(b)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u store.User) store.User {
	u.Roles = u.Roles.Clone()
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		u.LastLoginAt = &at
	}
	if u.InviteToken != nil {
		tok := *u.InviteToken
		u.InviteToken = &tok
	}
	if u.InviteExpiry != nil {
		exp := *u.InviteExpiry
		u.InviteExpiry = &exp
	}
	return u
}

func cloneOTP(r store.OTPRecord) store.OTPRecord {
	r.CodeHash = append([]byte(nil), r.CodeHash...)
	if r.ConsumedAt != nil {
		at := *r.ConsumedAt
		r.ConsumedAt = &at
	}
	return r
}

var (
	_ store.CredentialStore = (*Store)(nil)
	_ store.OTPSweeper      = (*Store)(nil)
	_ store.BindingWriter   = (*Store)(nil)
)
