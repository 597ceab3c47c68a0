package marketauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/marketauth/store"
)

// LoginWithPassword authenticates email and password. Failures are counted
// per email and client IP; once the budget is spent further attempts fail
// with ErrRateLimited until the cooldown passes. Unknown accounts and wrong
// passwords both fail with ErrInvalidCredential.
//
// Accounts with MFA enabled receive a mailed OTP instead of tokens:
// LoginResult.MFARequired is set and the login is finished with
// CompleteOTPLogin.
func (e *Engine) LoginWithPassword(ctx context.Context, email, password string) (LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	email = normalizeEmail(email)

	ctx, span := e.startSpan(ctx, "LoginWithPassword")
	res, err := e.loginWithPassword(ctx, email, password)
	endSpan(span, err)
	return res, err
}

func (e *Engine) loginWithPassword(ctx context.Context, email, password string) (LoginResult, error) {
	ip := ClientIPFromContext(ctx)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
			return LoginResult{}, e.loginLimited(ctx, email, err)
		}
	}

	if email == "" || password == "" {
		return LoginResult{}, e.loginFailed(ctx, email, store.User{}, "empty_credentials")
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.users.GetUserByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			err = e.storeErr(err)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", "", err, nil)
			return LoginResult{}, err
		}
		// Keep unknown accounts as slow as wrong passwords.
		_ = e.passwordHash.Verify(password, e.dummyHash)
		return LoginResult{}, e.loginFailed(ctx, email, store.User{}, "user_not_found")
	}

	if user.HashedPassword == "" || !e.passwordHash.Verify(password, user.HashedPassword) {
		return LoginResult{}, e.loginFailed(ctx, email, user, "password_mismatch")
	}

	if err := statusErr(user.Status); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.BusinessID, "", err, func() map[string]string {
			return map[string]string{
				"method": "password",
				"reason": "account_status",
			}
		})
		return LoginResult{}, err
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, password)
	}
	password = ""

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, email, ip); err != nil {
			e.logger.WarnContext(ctx, "marketauth: login limiter reset failed", "error", err)
		}
	}

	if user.MFAEnabled {
		otpID, err := e.mailLoginCode(ctx, user)
		if err != nil {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.BusinessID, "", err, func() map[string]string {
				return map[string]string{
					"method": "password",
					"reason": "mfa_delivery",
				}
			})
			return LoginResult{}, err
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, user.ID, user.BusinessID, "", nil, nil)
		return LoginResult{MFARequired: true, OTPID: otpID}, nil
	}

	e.touchLastLogin(ctx, user.ID)

	pair, err := e.issuePair(subjectFor(user))
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.BusinessID, "", err, func() map[string]string {
			return map[string]string{
				"method": "password",
				"reason": "issue_failed",
			}
		})
		return LoginResult{}, err
	}

	e.metricInc(MetricSessionIssued)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, user.BusinessID, "", nil, func() map[string]string {
		return map[string]string{
			"method": "password",
		}
	})
	return LoginResult{Tokens: pair}, nil
}

// loginFailed counts a failure against the budget and returns the error
// the caller sees.
func (e *Engine) loginFailed(ctx context.Context, email string, user store.User, reason string) error {
	if e.limiter != nil {
		if err := e.limiter.IncrementLogin(ctx, email, ClientIPFromContext(ctx)); err != nil {
			return e.loginLimited(ctx, email, err)
		}
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.BusinessID, "", ErrInvalidCredential, func() map[string]string {
		return map[string]string{
			"method": "password",
			"reason": reason,
		}
	})
	return ErrInvalidCredential
}

func (e *Engine) loginLimited(ctx context.Context, email string, err error) error {
	err = e.limitErr(err)
	if !errors.Is(err, ErrRateLimited) {
		e.metricInc(MetricLoginFailure)
		return err
	}

	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", "", err, nil)
	e.emitRateLimit(ctx, "login", func() map[string]string {
		return map[string]string{
			"method": "password",
		}
	})
	return err
}

// upgradePasswordHash rewrites hashes made with older Argon2 parameters.
// It never fails the login.
func (e *Engine) upgradePasswordHash(ctx context.Context, user store.User, password string) {
	needsUpgrade, err := e.passwordHash.NeedsUpgrade(user.HashedPassword)
	if err != nil || !needsUpgrade {
		return
	}
	upgraded, err := e.passwordHash.Hash(password)
	if err != nil {
		e.logger.WarnContext(ctx, "marketauth: password hash upgrade generation failed", "user_id", user.ID)
		return
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if _, err := e.users.UpdateUser(sctx, user.ID, store.UserUpdate{HashedPassword: &upgraded}); err != nil {
		e.logger.WarnContext(ctx, "marketauth: password hash upgrade update failed", "user_id", user.ID, "error", err)
		return
	}
	e.metricInc(MetricPasswordRehashed)
}
