package internaldefs

import (
	"github.com/MrEthical07/marketauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   marketauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   marketauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: marketauth.MetricLoginSuccess, Name: "marketauth_login_success_total", Help: "Successful logins."},
	{ID: marketauth.MetricLoginFailure, Name: "marketauth_login_failure_total", Help: "Failed logins."},
	{ID: marketauth.MetricLoginRateLimited, Name: "marketauth_login_rate_limited_total", Help: "Logins refused by the attempt budget."},
	{ID: marketauth.MetricMFARequired, Name: "marketauth_mfa_required_total", Help: "Password logins that required a mailed code."},
	{ID: marketauth.MetricOTPIssued, Name: "marketauth_otp_issued_total", Help: "Issued OTP challenges."},
	{ID: marketauth.MetricOTPRateLimited, Name: "marketauth_otp_rate_limited_total", Help: "OTP requests refused by the issuance budget."},
	{ID: marketauth.MetricOTPVerifySuccess, Name: "marketauth_otp_verify_success_total", Help: "Successful OTP verifications."},
	{ID: marketauth.MetricOTPVerifyFailure, Name: "marketauth_otp_verify_failure_total", Help: "Failed OTP verifications."},
	{ID: marketauth.MetricOTPExpired, Name: "marketauth_otp_expired_total", Help: "OTP verifications against expired challenges."},
	{ID: marketauth.MetricOTPAttemptsExceeded, Name: "marketauth_otp_attempts_exceeded_total", Help: "OTP challenges retired at the attempt ceiling."},
	{ID: marketauth.MetricInviteIssued, Name: "marketauth_invite_issued_total", Help: "Issued invites."},
	{ID: marketauth.MetricInviteAccepted, Name: "marketauth_invite_accepted_total", Help: "Accepted invites."},
	{ID: marketauth.MetricInviteRejected, Name: "marketauth_invite_rejected_total", Help: "Refused invite operations."},
	{ID: marketauth.MetricSessionIssued, Name: "marketauth_session_issued_total", Help: "Issued session credential pairs."},
	{ID: marketauth.MetricSessionRejected, Name: "marketauth_session_rejected_total", Help: "Rejected session credentials."},
	{ID: marketauth.MetricRefreshSuccess, Name: "marketauth_refresh_success_total", Help: "Successful refreshes."},
	{ID: marketauth.MetricRefreshFailure, Name: "marketauth_refresh_failure_total", Help: "Failed refreshes."},
	{ID: marketauth.MetricLogout, Name: "marketauth_logout_total", Help: "Logouts."},
	{ID: marketauth.MetricPermissionGranted, Name: "marketauth_permission_granted_total", Help: "Granted permission checks."},
	{ID: marketauth.MetricPermissionDenied, Name: "marketauth_permission_denied_total", Help: "Denied permission checks."},
	{ID: marketauth.MetricAuthorizationStoreFailure, Name: "marketauth_authorization_store_failure_total", Help: "Permission checks denied because bindings were unavailable."},
	{ID: marketauth.MetricAccountSuspended, Name: "marketauth_account_suspended_total", Help: "Account suspensions."},
	{ID: marketauth.MetricAccountReactivated, Name: "marketauth_account_reactivated_total", Help: "Account reactivations."},
	{ID: marketauth.MetricPasswordRehashed, Name: "marketauth_password_rehashed_total", Help: "Password hashes upgraded on login."},
	{ID: marketauth.MetricRateLimitHit, Name: "marketauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: marketauth.MetricStoreUnavailable, Name: "marketauth_store_unavailable_total", Help: "Credential store or limiter failures."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: marketauth.MetricVerifyLatency, Name: "marketauth_verify_latency_seconds", Help: "Session verification latency."},
}

// HistogramBounds are the upper bounds in seconds of the engine's latency
// buckets, excluding the final +Inf bucket.
var HistogramBounds = []float64{
	0.00005,
	0.0001,
	0.00025,
	0.0005,
	0.001,
	0.005,
	0.025,
}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// that publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_00005",
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_005",
	"0_025",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
