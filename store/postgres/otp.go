package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/store"
)

const otpColumns = `id, email, code_hash, expires_at, attempts, max_attempts, consumed_at, created_at`

func scanOTP(row rowScanner) (store.OTPRecord, error) {
	var (
		rec      store.OTPRecord
		consumed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Email, &rec.CodeHash, &rec.ExpiresAt, &rec.Attempts, &rec.MaxAttempts, &consumed, &rec.CreatedAt); err != nil {
		return store.OTPRecord{}, err
	}
	if consumed.Valid {
		at := consumed.Time
		rec.ConsumedAt = &at
	}
	return rec, nil
}

// CreateOTPRecord consumes any live record for the email and inserts rec in
// one transaction. Issuers for the same email serialize on a transaction
// advisory lock, so the update always sees the previous live record.
func (s *Store) CreateOTPRecord(ctx context.Context, rec store.OTPRecord) error {
	email := strings.ToLower(strings.TrimSpace(rec.Email))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, "otp:"+email); err != nil {
		return translate(err)
	}
	if _, err := tx.ExecContext(ctx, `
		update otp_records set consumed_at = $2
		where email = $1 and consumed_at is null
	`, email, rec.CreatedAt); err != nil {
		return translate(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into otp_records (id, email, code_hash, expires_at, attempts, max_attempts, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, email, rec.CodeHash, rec.ExpiresAt, rec.Attempts, rec.MaxAttempts, rec.CreatedAt); err != nil {
		return translate(err)
	}
	return tx.Commit()
}

func (s *Store) GetOTPRecord(ctx context.Context, id string) (store.OTPRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+otpColumns+` from otp_records where id = $1`, id)
	rec, err := scanOTP(row)
	if err != nil {
		return store.OTPRecord{}, translate(err)
	}
	return rec, nil
}

func (s *Store) IncrementOTPAttempts(ctx context.Context, id string) (store.OTPRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		update otp_records set attempts = attempts + 1
		where id = $1 and consumed_at is null and attempts < max_attempts
		returning `+otpColumns, id)
	rec, err := scanOTP(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.OTPRecord{}, translate(err)
	}
	return store.OTPRecord{}, s.otpMissOrConflict(ctx, id)
}

func (s *Store) MarkOTPConsumed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update otp_records set consumed_at = $2
		where id = $1 and consumed_at is null
	`, id, at)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	return s.otpMissOrConflict(ctx, id)
}

func (s *Store) DeleteExpiredOTPRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from otp_records where expires_at < $1`, before)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}

func (s *Store) otpMissOrConflict(ctx context.Context, id string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `select 1 from otp_records where id = $1`, id).Scan(&exists); err != nil {
		return translate(err)
	}
	return store.ErrConditionFailed
}
