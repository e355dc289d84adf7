package store

import "time"

// EventKind enumerates audit event types.
type EventKind string

const (
	EventLoginSuccess             EventKind = "LOGIN_SUCCESS"
	EventLoginFailed              EventKind = "LOGIN_FAILED"
	EventLogout                   EventKind = "LOGOUT"
	EventPasswordChange           EventKind = "PASSWORD_CHANGE"
	EventPasswordResetRequest     EventKind = "PASSWORD_RESET_REQUEST"
	EventEmailVerificationRequest EventKind = "EMAIL_VERIFICATION_REQUEST"
	EventEmailVerification        EventKind = "EMAIL_VERIFICATION"
	EventMagicLinkRequest         EventKind = "MAGIC_LINK_REQUEST"
	EventTwoFactorEnabled         EventKind = "TWO_FA_ENABLED"
	EventTwoFactorDisabled        EventKind = "TWO_FA_DISABLED"
	EventTwoFactorSuccess         EventKind = "TWO_FA_SUCCESS"
	EventTwoFactorFailed          EventKind = "TWO_FA_FAILED"
	EventBackupCodesRegenerated   EventKind = "BACKUP_CODES_REGENERATED"
	EventAccountLocked            EventKind = "ACCOUNT_LOCKED"
	EventAccountUnlocked          EventKind = "ACCOUNT_UNLOCKED"
	EventAccountCreated           EventKind = "ACCOUNT_CREATED"
	EventSessionInvalidated       EventKind = "SESSION_INVALIDATED"
)

// Detail keys. Each event kind documents which keys it carries:
//
//	LOGIN_SUCCESS            method
//	LOGIN_FAILED             failed_attempts, locked, scope (rate limited only)
//	PASSWORD_CHANGE          method
//	*_REQUEST                scope, action (rate limited only)
//	TWO_FA_SUCCESS/FAILED    method
//	ACCOUNT_LOCKED           failed_attempts, until
//	ACCOUNT_UNLOCKED         method
//	ACCOUNT_CREATED          method, provider
const (
	DetailMethod         = "method"
	DetailFailedAttempts = "failed_attempts"
	DetailLocked         = "locked"
	DetailScope          = "scope"
	DetailAction         = "action"
	DetailProvider       = "provider"
	DetailUntil          = "until"
)

// Reasons recorded on failed events. Callers only ever see generic errors;
// the reason is for the audit trail.
const (
	ReasonRateLimited        = "rate_limited"
	ReasonUnknownAccount     = "unknown_account"
	ReasonNoPassword         = "no_password"
	ReasonInvalidPassword    = "invalid_password"
	ReasonLocked             = "locked"
	ReasonInvalidCode        = "invalid_code"
	ReasonMissingCode        = "missing_code"
	ReasonAccountNotFound    = "account_not_found"
	ReasonTokenInvalid       = "token_invalid"
	ReasonAlreadyVerified    = "already_verified"
	ReasonPasswordPolicy     = "password_policy"
	ReasonCurrentPasswordBad = "current_password_invalid"
	ReasonUnverifiedEmail    = "unverified_email"
)

// AuditEvent is an immutable security record.
//
// Email is the identity key the event is about and is filled even when no
// account exists, so per-email counting works for guesses against unknown
// addresses.
type AuditEvent struct {
	ID        string
	AccountID string
	Email     string
	Kind      EventKind
	Success   bool
	Reason    string
	IP        string
	UserAgent string
	Details   map[string]string
	CreatedAt time.Time
}

// EventFilter narrows event queries. Zero values mean "no constraint".
// Since and Until are both inclusive.
type EventFilter struct {
	AccountID     string
	Email         string
	IP            string
	Kinds         []EventKind
	Success       *bool
	Since         time.Time
	Until         time.Time
	ExcludeReason string
}

// Match reports whether ev satisfies f. Backends without a query language
// use it directly; SQL backends mirror it.
func (f EventFilter) Match(ev *AuditEvent) bool {
	if f.AccountID != "" && ev.AccountID != f.AccountID {
		return false
	}
	if f.Email != "" && ev.Email != f.Email {
		return false
	}
	if f.IP != "" && ev.IP != f.IP {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Success != nil && ev.Success != *f.Success {
		return false
	}
	if !f.Since.IsZero() && ev.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.CreatedAt.After(f.Until) {
		return false
	}
	if f.ExcludeReason != "" && ev.Reason == f.ExcludeReason {
		return false
	}
	return true
}

// Page selects a slice of a result set. Results are newest first unless
// OldestFirst is set.
type Page struct {
	Limit       int
	Offset      int
	OldestFirst bool
}

// UnknownIP is the IP recorded when the caller's address was not supplied.
// IP aggregations skip it along with the empty string.
const UnknownIP = "unknown"

// CountableIP reports whether ip names a real origin for IP aggregations.
func CountableIP(ip string) bool {
	return ip != "" && ip != UnknownIP
}

// IPActivity aggregates events per origin IP.
type IPActivity struct {
	IP       string
	Attempts int
	Failures int
}

// AccountIPSpread counts the distinct IPs seen for one account.
type AccountIPSpread struct {
	AccountID   string
	DistinctIPs int
}
