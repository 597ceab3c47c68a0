package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/marketauth/permission"
	"github.com/MrEthical07/marketauth/store"
)

const userColumns = `id, email, name, hashed_password, roles, status, mfa_enabled, business_id,
		last_login_at, invite_token, invite_expiry, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (store.User, error) {
	var (
		u                        store.User
		hashed, business, invite sql.NullString
		lastLogin, inviteExpiry  sql.NullTime
		rawRoles                 []byte
		status                   string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &hashed, &rawRoles, &status, &u.MFAEnabled, &business,
		&lastLogin, &invite, &inviteExpiry, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return store.User{}, err
	}

	u.Roles = permission.Set{}
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &u.Roles); err != nil {
			return store.User{}, fmt.Errorf("decode roles for user %s: %w", u.ID, err)
		}
	}
	u.Status = store.AccountStatus(status)
	if !u.Status.Valid() {
		return store.User{}, fmt.Errorf("user %s has unknown status %q", u.ID, status)
	}
	u.HashedPassword = hashed.String
	u.BusinessID = business.String
	if lastLogin.Valid {
		at := lastLogin.Time
		u.LastLoginAt = &at
	}
	if invite.Valid {
		tok := invite.String
		u.InviteToken = &tok
	}
	if inviteExpiry.Valid {
		exp := inviteExpiry.Time
		u.InviteExpiry = &exp
	}
	return u, nil
}

func encodeRoles(roles permission.Set) (string, error) {
	if roles == nil {
		roles = permission.Set{}
	}
	raw, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("encode roles: %w", err)
	}
	return string(raw), nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (store.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where `+where+` = $1
	`, arg)
	u, err := scanUser(row)
	if err != nil {
		return store.User{}, translate(err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (store.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByInviteToken(ctx context.Context, tokenHash string) (store.User, error) {
	return s.getUser(ctx, "invite_token", tokenHash)
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	roles, err := encodeRoles(u.Roles)
	if err != nil {
		return store.User{}, err
	}

	var invite sql.NullString
	if u.InviteToken != nil {
		invite = sql.NullString{String: *u.InviteToken, Valid: true}
	}
	var inviteExpiry sql.NullTime
	if u.InviteExpiry != nil {
		inviteExpiry = sql.NullTime{Time: *u.InviteExpiry, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, hashed_password, roles, status, mfa_enabled, business_id, invite_token, invite_expiry)
		values ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10)
		returning `+userColumns,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.Name, nullIfEmpty(u.HashedPassword), roles,
		string(u.Status), u.MFAEnabled, nullIfEmpty(u.BusinessID), invite, inviteExpiry)
	created, err := scanUser(row)
	if err != nil {
		return store.User{}, translate(err)
	}
	return created, nil
}

// UpdateUser applies upd in a single statement. Conditions in upd become
// part of the where clause, so a concurrent writer either sees the old row
// or the new one.
func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (store.User, error) {
	if upd.SetInvite != nil && upd.ClearInvite {
		return store.User{}, errors.New("postgres: SetInvite and ClearInvite are exclusive")
	}

	var (
		sets []string
		args = []any{id}
	)
	add := func(column string, value any, cast string) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d%s", column, len(args), cast))
	}

	if upd.Name != nil {
		add("name", *upd.Name, "")
	}
	if upd.HashedPassword != nil {
		add("hashed_password", nullIfEmpty(*upd.HashedPassword), "")
	}
	if upd.Roles != nil {
		roles, err := encodeRoles(upd.Roles)
		if err != nil {
			return store.User{}, err
		}
		add("roles", roles, "::jsonb")
	}
	if upd.Status != nil {
		add("status", string(*upd.Status), "")
	}
	if upd.MFAEnabled != nil {
		add("mfa_enabled", *upd.MFAEnabled, "")
	}
	if upd.LastLoginAt != nil {
		add("last_login_at", *upd.LastLoginAt, "")
	}
	if upd.SetInvite != nil {
		add("invite_token", upd.SetInvite.TokenHash, "")
		add("invite_expiry", upd.SetInvite.ExpiresAt, "")
	}
	if upd.ClearInvite {
		sets = append(sets, "invite_token = null", "invite_expiry = null")
	}
	sets = append(sets, "updated_at = now()")

	where := "id = $1"
	if upd.ExpectInviteToken != nil {
		args = append(args, *upd.ExpectInviteToken)
		where += fmt.Sprintf(" and invite_token = $%d", len(args))
	}
	if upd.ExpectStatus != nil {
		args = append(args, string(*upd.ExpectStatus))
		where += fmt.Sprintf(" and status = $%d", len(args))
	}

	row := s.db.QueryRowContext(ctx, `
		update users set `+strings.Join(sets, ", ")+`
		where `+where+`
		returning `+userColumns, args...)
	updated, err := scanUser(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, translate(err)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `select 1 from users where id = $1`, id).Scan(&exists); err != nil {
		return store.User{}, translate(err)
	}
	return store.User{}, store.ErrConditionFailed
}
