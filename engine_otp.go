package marketauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth/internal"
	"github.com/MrEthical07/marketauth/internal/ids"
	"github.com/MrEthical07/marketauth/store"
	"go.opentelemetry.io/otel/attribute"
)

// IssueOTP creates a challenge for email and returns the plaintext code.
// Any earlier live challenge for the same email stops being verifiable.
// Delivery is the caller's concern; see StartOTPLogin for the mailed flow.
func (e *Engine) IssueOTP(ctx context.Context, email string) (OTPChallenge, error) {
	if e == nil || e.otps == nil {
		return OTPChallenge{}, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return OTPChallenge{}, ErrInvalidRequest
	}

	ctx, span := e.startSpan(ctx, "IssueOTP")
	challenge, err := e.issueOTP(ctx, email)
	endSpan(span, err)
	if err != nil {
		return OTPChallenge{}, err
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"otp_id": challenge.ID,
		}
	})
	return challenge, nil
}

func (e *Engine) issueOTP(ctx context.Context, email string) (OTPChallenge, error) {
	challenge, err := e.createOTP(ctx, email)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent issue for the same email got in first; the new
		// record retires it.
		challenge, err = e.createOTP(ctx, email)
	}
	if errors.Is(err, store.ErrDuplicate) {
		return OTPChallenge{}, fmt.Errorf("%w: concurrent challenge issue", ErrConflict)
	}
	return challenge, err
}

func (e *Engine) createOTP(ctx context.Context, email string) (OTPChallenge, error) {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return OTPChallenge{}, err
	}

	now := e.now()
	id := ids.NewAt(now)
	rec := store.OTPRecord{
		ID:          id,
		Email:       email,
		CodeHash:    internal.HashOTP(id, code),
		ExpiresAt:   now.Add(e.config.OTP.TTL),
		MaxAttempts: e.config.OTP.MaxAttempts,
		CreatedAt:   now,
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.otps.CreateOTPRecord(sctx, rec); err != nil {
		return OTPChallenge{}, e.storeErr(err)
	}

	return OTPChallenge{ID: id, Code: code, ExpiresAt: rec.ExpiresAt}, nil
}

// VerifyOTP checks code against the challenge otpID.
//
// Unknown and consumed challenges fail with ErrOTPNotFound. A challenge
// past its expiry or out of attempts is consumed and fails with
// ErrOTPExpired or ErrOTPAttemptsExceeded. Otherwise the attempt is
// counted before the code is compared, and a match consumes the challenge.
// Concurrent verifications of one challenge succeed at most once.
func (e *Engine) VerifyOTP(ctx context.Context, otpID, code string) (OTPVerification, error) {
	if e == nil || e.otps == nil {
		return OTPVerification{}, ErrEngineNotReady
	}

	ctx, span := e.startSpan(ctx, "VerifyOTP", attribute.String("otp.id", otpID))
	res, _, err := e.verifyOTP(ctx, otpID, code)
	endSpan(span, err)

	e.recordOTPOutcome(ctx, otpID, res, err)
	return res, err
}

func (e *Engine) verifyOTP(ctx context.Context, otpID, code string) (OTPVerification, store.OTPRecord, error) {
	if otpID == "" {
		return OTPVerification{}, store.OTPRecord{}, ErrOTPNotFound
	}

	rec, err := e.getOTP(ctx, otpID)
	if err != nil {
		return OTPVerification{}, store.OTPRecord{}, err
	}
	if rec.Consumed() {
		return OTPVerification{}, rec, ErrOTPNotFound
	}

	now := e.now()
	if !now.Before(rec.ExpiresAt) {
		e.consumeOTP(ctx, rec.ID, now)
		return OTPVerification{Attempts: rec.Attempts}, rec, ErrOTPExpired
	}
	if rec.Attempts >= rec.MaxAttempts {
		e.consumeOTP(ctx, rec.ID, now)
		return OTPVerification{Attempts: rec.Attempts}, rec, ErrOTPAttemptsExceeded
	}

	sctx, cancel := e.storeCtx(ctx)
	updated, err := e.otps.IncrementOTPAttempts(sctx, rec.ID)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return OTPVerification{}, rec, ErrOTPNotFound
	case errors.Is(err, store.ErrConditionFailed):
		// Another attempt took the last slot or consumed the challenge.
		latest, gerr := e.getOTP(ctx, rec.ID)
		if gerr != nil || latest.Consumed() {
			return OTPVerification{}, rec, ErrOTPNotFound
		}
		e.consumeOTP(ctx, rec.ID, now)
		return OTPVerification{Attempts: latest.Attempts}, latest, ErrOTPAttemptsExceeded
	default:
		return OTPVerification{}, rec, e.storeErr(err)
	}

	expected := internal.HashOTP(rec.ID, code)
	if subtle.ConstantTimeCompare(expected, updated.CodeHash) != 1 {
		return OTPVerification{Valid: false, Attempts: updated.Attempts}, updated, nil
	}

	sctx, cancel = e.storeCtx(ctx)
	err = e.otps.MarkOTPConsumed(sctx, rec.ID, now)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrNotFound):
		// A concurrent verification won the race.
		return OTPVerification{}, updated, ErrOTPNotFound
	default:
		return OTPVerification{}, updated, e.storeErr(err)
	}

	return OTPVerification{Valid: true, Attempts: updated.Attempts}, updated, nil
}

func (e *Engine) getOTP(ctx context.Context, id string) (store.OTPRecord, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	rec, err := e.otps.GetOTPRecord(sctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.OTPRecord{}, ErrOTPNotFound
		}
		return store.OTPRecord{}, e.storeErr(err)
	}
	return rec, nil
}

// consumeOTP moves a challenge to its terminal state. Losing the race to
// another consumer is fine; other failures are logged and the challenge is
// left to expire.
func (e *Engine) consumeOTP(ctx context.Context, id string, at time.Time) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	err := e.otps.MarkOTPConsumed(sctx, id, at)
	if err == nil || errors.Is(err, store.ErrConditionFailed) || errors.Is(err, store.ErrNotFound) {
		return
	}
	e.logger.WarnContext(ctx, "marketauth: otp consume failed", "otp_id", id, "error", err)
}

func (e *Engine) recordOTPOutcome(ctx context.Context, otpID string, res OTPVerification, err error) {
	switch {
	case err == nil && res.Valid:
		e.metricInc(MetricOTPVerifySuccess)
		e.emitAudit(ctx, auditEventOTPVerified, true, "", "", "", nil, func() map[string]string {
			return map[string]string{"otp_id": otpID}
		})
		return
	case errors.Is(err, ErrOTPExpired):
		e.metricInc(MetricOTPExpired)
	case errors.Is(err, ErrOTPAttemptsExceeded):
		e.metricInc(MetricOTPAttemptsExceeded)
	default:
		e.metricInc(MetricOTPVerifyFailure)
	}

	failure := err
	if failure == nil {
		failure = ErrOTPMismatch
	}
	e.emitAudit(ctx, auditEventOTPFailure, false, "", "", "", failure, func() map[string]string {
		return map[string]string{
			"otp_id":   otpID,
			"attempts": strconv.Itoa(res.Attempts),
		}
	})
}

// StartOTPLogin mails a login code to email and returns the challenge ID
// the client must present with the code. Issuance is throttled per email
// and per client IP. Unknown, pending and suspended accounts receive an
// unverifiable decoy ID and no mail, so the response does not reveal
// whether the account exists.
func (e *Engine) StartOTPLogin(ctx context.Context, email string) (string, error) {
	if e == nil || e.otps == nil {
		return "", ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrInvalidRequest
	}

	ctx, span := e.startSpan(ctx, "StartOTPLogin")
	id, err := e.startOTPLogin(ctx, email)
	endSpan(span, err)
	return id, err
}

func (e *Engine) startOTPLogin(ctx context.Context, email string) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.AllowOTPRequest(ctx, email, ClientIPFromContext(ctx)); err != nil {
			err = e.limitErr(err)
			if errors.Is(err, ErrRateLimited) {
				e.metricInc(MetricOTPRateLimited)
				e.emitRateLimit(ctx, "otp_request", nil)
			}
			return "", err
		}
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByEmail(sctx, email)
	cancel()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", e.storeErr(err)
	}
	if err != nil || user.Status != store.StatusActive {
		return ids.NewAt(e.now()), nil
	}

	return e.mailLoginCode(ctx, user)
}

// mailLoginCode issues a challenge for user and delivers it. A challenge
// that could not be delivered is consumed.
func (e *Engine) mailLoginCode(ctx context.Context, user store.User) (string, error) {
	if e.mailer == nil {
		return "", fmt.Errorf("%w: no mailer configured", ErrDeliveryUnavailable)
	}

	challenge, err := e.issueOTP(ctx, user.Email)
	if err != nil {
		return "", err
	}
	if err := e.mailer.SendLoginCode(ctx, user.Email, challenge.Code, challenge.ExpiresAt); err != nil {
		e.consumeOTP(ctx, challenge.ID, e.now())
		return "", fmt.Errorf("%w: %v", ErrDeliveryUnavailable, err)
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, user.ID, user.BusinessID, "", nil, func() map[string]string {
		return map[string]string{
			"otp_id": challenge.ID,
		}
	})
	return challenge.ID, nil
}

// CompleteOTPLogin verifies the code of a login challenge and issues a
// session pair for the challenged account. A wrong code fails with
// ErrOTPMismatch while attempts remain.
func (e *Engine) CompleteOTPLogin(ctx context.Context, otpID, code string) (TokenPair, error) {
	if e == nil || e.otps == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	ctx, span := e.startSpan(ctx, "CompleteOTPLogin", attribute.String("otp.id", otpID))
	pair, user, err := e.completeOTPLogin(ctx, otpID, code)
	endSpan(span, err)

	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.BusinessID, "", err, func() map[string]string {
			return map[string]string{
				"method": "otp",
				"otp_id": otpID,
			}
		})
		return TokenPair{}, err
	}

	e.metricInc(MetricSessionIssued)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, user.BusinessID, "", nil, func() map[string]string {
		return map[string]string{
			"method": "otp",
		}
	})
	return pair, nil
}

func (e *Engine) completeOTPLogin(ctx context.Context, otpID, code string) (TokenPair, store.User, error) {
	res, rec, err := e.verifyOTP(ctx, otpID, code)
	e.recordOTPOutcome(ctx, otpID, res, err)
	if err != nil {
		return TokenPair{}, store.User{}, err
	}
	if !res.Valid {
		return TokenPair{}, store.User{}, ErrOTPMismatch
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByEmail(sctx, rec.Email)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, store.User{}, ErrOTPNotFound
		}
		return TokenPair{}, store.User{}, e.storeErr(err)
	}
	if err := statusErr(user.Status); err != nil {
		return TokenPair{}, user, err
	}

	e.touchLastLogin(ctx, user.ID)

	pair, err := e.issuePair(subjectFor(user))
	if err != nil {
		return TokenPair{}, user, err
	}
	return pair, user, nil
}

// SweepExpiredOTPs deletes challenges that expired before now. It is a
// no-op for stores that expire records themselves.
func (e *Engine) SweepExpiredOTPs(ctx context.Context) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.sweeper == nil {
		return 0, nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.sweeper.DeleteExpiredOTPRecords(sctx, e.now())
	if err != nil {
		return 0, e.storeErr(err)
	}
	if n > 0 {
		e.emitAudit(ctx, auditEventOTPSweep, true, "", "", "", nil, func() map[string]string {
			return map[string]string{"deleted": strconv.FormatInt(n, 10)}
		})
	}
	return n, nil
}

// touchLastLogin records a successful login. Failure does not fail the
// login.
func (e *Engine) touchLastLogin(ctx context.Context, userID string) {
	now := e.now().UTC()
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if _, err := e.users.UpdateUser(sctx, userID, store.UserUpdate{LastLoginAt: &now}); err != nil {
		e.logger.WarnContext(ctx, "marketauth: last login update failed", "user_id", userID, "error", err)
	}
}

func statusErr(status store.AccountStatus) error {
	switch status {
	case store.StatusActive:
		return nil
	case store.StatusPending:
		return ErrAccountPending
	default:
		return ErrAccountSuspended
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
