package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for export.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricLoginSuccess, Name: "goguard_login_success_total", Help: "Successful sign-ins."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Sign-ins rejected for bad credentials."},
	{ID: goGuard.MetricLoginLocked, Name: "goguard_login_locked_total", Help: "Sign-ins rejected because the account is locked."},
	{ID: goGuard.MetricLoginRateLimited, Name: "goguard_login_rate_limited_total", Help: "Sign-ins rejected by the login rate limit."},
	{ID: goGuard.MetricLoginTwoFactorRequired, Name: "goguard_login_two_factor_required_total", Help: "Sign-ins paused for a second factor."},
	{ID: goGuard.MetricTwoFactorSuccess, Name: "goguard_two_factor_success_total", Help: "Accepted TOTP or backup codes."},
	{ID: goGuard.MetricTwoFactorFailure, Name: "goguard_two_factor_failure_total", Help: "Rejected TOTP or backup codes."},
	{ID: goGuard.MetricBackupCodeUsed, Name: "goguard_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goGuard.MetricBackupCodesRegenerated, Name: "goguard_backup_codes_regenerated_total", Help: "Backup code sets regenerated."},
	{ID: goGuard.MetricTwoFactorEnabled, Name: "goguard_two_factor_enabled_total", Help: "Accounts that turned on two-factor."},
	{ID: goGuard.MetricTwoFactorDisabled, Name: "goguard_two_factor_disabled_total", Help: "Accounts that turned off two-factor."},
	{ID: goGuard.MetricAccountLocked, Name: "goguard_account_locked_total", Help: "Account locks, automatic and manual."},
	{ID: goGuard.MetricAccountUnlocked, Name: "goguard_account_unlocked_total", Help: "Account unlocks, automatic and manual."},
	{ID: goGuard.MetricAccountCreated, Name: "goguard_account_created_total", Help: "Accounts created."},
	{ID: goGuard.MetricAccountDuplicate, Name: "goguard_account_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: goGuard.MetricFederatedSignIn, Name: "goguard_federated_sign_in_total", Help: "Federated sign-ins."},
	{ID: goGuard.MetricPasswordChange, Name: "goguard_password_change_total", Help: "Password changes by the account holder."},
	{ID: goGuard.MetricPasswordResetRequest, Name: "goguard_password_reset_request_total", Help: "Password reset requests."},
	{ID: goGuard.MetricPasswordResetRateLimited, Name: "goguard_password_reset_rate_limited_total", Help: "Password reset requests over the limit."},
	{ID: goGuard.MetricPasswordResetSuccess, Name: "goguard_password_reset_success_total", Help: "Completed password resets."},
	{ID: goGuard.MetricPasswordResetFailure, Name: "goguard_password_reset_failure_total", Help: "Rejected password reset tokens."},
	{ID: goGuard.MetricEmailVerificationRequest, Name: "goguard_email_verification_request_total", Help: "Email verification requests."},
	{ID: goGuard.MetricEmailVerificationRateLimited, Name: "goguard_email_verification_rate_limited_total", Help: "Email verification requests over the limit."},
	{ID: goGuard.MetricEmailVerificationSuccess, Name: "goguard_email_verification_success_total", Help: "Verified email addresses."},
	{ID: goGuard.MetricEmailVerificationFailure, Name: "goguard_email_verification_failure_total", Help: "Rejected email verification tokens."},
	{ID: goGuard.MetricMagicLinkRequest, Name: "goguard_magic_link_request_total", Help: "Magic link requests."},
	{ID: goGuard.MetricMagicLinkRateLimited, Name: "goguard_magic_link_rate_limited_total", Help: "Magic link requests over the limit."},
	{ID: goGuard.MetricMagicLinkSuccess, Name: "goguard_magic_link_success_total", Help: "Sign-ins through a magic link."},
	{ID: goGuard.MetricMagicLinkFailure, Name: "goguard_magic_link_failure_total", Help: "Rejected magic link tokens."},
	{ID: goGuard.MetricMailFailure, Name: "goguard_mail_failure_total", Help: "Outbound mails that could not be delivered."},
	{ID: goGuard.MetricSessionIssued, Name: "goguard_session_issued_total", Help: "Session tokens issued."},
	{ID: goGuard.MetricSessionRevalidated, Name: "goguard_session_revalidated_total", Help: "Sessions re-checked against the store."},
	{ID: goGuard.MetricSessionInvalidated, Name: "goguard_session_invalidated_total", Help: "Sessions rejected on revalidation."},
	{ID: goGuard.MetricLogout, Name: "goguard_logout_total", Help: "Logouts."},
	{ID: goGuard.MetricStoreUnavailable, Name: "goguard_store_unavailable_total", Help: "Operations failed closed on a backend outage."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricLoginLatency, Name: "goguard_login_latency_seconds", Help: "Login latency."},
	{ID: goGuard.MetricSessionValidateLatency, Name: "goguard_session_validate_latency_seconds", Help: "Session validation latency."},
}

// AuditDroppedName is the counter for audit events lost to a full async
// buffer.
const (
	AuditDroppedName = "goguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the async buffer was full."
)

// BucketCount is the number of histogram buckets, the last one unbounded.
const BucketCount = 8

// UpperBounds are the finite bucket bounds in seconds.
var UpperBounds = [BucketCount - 1]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BoundLabels renders every bucket bound, "+Inf" last.
var BoundLabels = [BucketCount]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Cumulative pads raw to BucketCount and turns per-bucket counts into
// running totals.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
