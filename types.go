package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/store"
)

// Account is the persisted identity record.
type Account = store.Account

// PlanTier is the subscription tier of an account.
type PlanTier = store.PlanTier

const (
	PlanFree    = store.PlanFree
	PlanPremium = store.PlanPremium
)

// AuditEvent is one immutable security record.
type AuditEvent = store.AuditEvent

// EventKind enumerates audit event types.
type EventKind = store.EventKind

// EventFilter narrows audit searches. Since and Until are inclusive.
type EventFilter = store.EventFilter

// Page selects a slice of search results.
type Page = store.Page

// Analytics result types.
type (
	AuditSearchResult = audit.SearchResult
	AuditStats        = audit.Stats
	DailyCount        = audit.DailyCount
	SuspiciousIP      = audit.SuspiciousIP
	SecurityAlert     = audit.Alert
	AlertSeverity     = audit.Severity
)

// ErrorReporter receives errors the Engine swallows, such as failed audit
// writes and undeliverable mail. observability.SentryReporter implements it.
type ErrorReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

// LoginRequest is the input to Engine.Login. SecondFactor holds a TOTP code
// or a backup code and is only consulted for accounts with two-factor
// authentication enabled.
type LoginRequest struct {
	Email        string
	Password     string
	SecondFactor string
}

// LoginStatus is the outcome of a sign-in attempt.
type LoginStatus uint8

const (
	LoginSucceeded LoginStatus = iota
	LoginInvalidCredentials
	LoginLocked
	LoginRateLimited
	LoginTwoFactorRequired
	LoginTwoFactorInvalid
)

func (s LoginStatus) String() string {
	switch s {
	case LoginSucceeded:
		return "succeeded"
	case LoginInvalidCredentials:
		return "invalid_credentials"
	case LoginLocked:
		return "locked"
	case LoginRateLimited:
		return "rate_limited"
	case LoginTwoFactorRequired:
		return "two_factor_required"
	case LoginTwoFactorInvalid:
		return "two_factor_invalid"
	}
	return "unknown"
}

// Message is the user-facing text for s. None of the messages reveal
// whether the email belongs to an account.
func (s LoginStatus) Message() string {
	switch s {
	case LoginSucceeded:
		return "Signed in."
	case LoginLocked:
		return "Too many failed attempts. Try again later or reset your password."
	case LoginRateLimited:
		return "Too many attempts. Please wait before trying again."
	case LoginTwoFactorRequired:
		return "Enter the code from your authenticator app."
	case LoginTwoFactorInvalid:
		return "Invalid verification code."
	}
	return "Invalid email or password."
}

// LoginResult is returned by Engine.Login for every decided attempt.
type LoginResult struct {
	Status LoginStatus
	// Account and SessionToken are set only for LoginSucceeded.
	Account      *Account
	SessionToken string
	// RetryAt is set for LoginRateLimited.
	RetryAt time.Time
}

// Err maps the status onto the package sentinels. It is nil on success.
func (r *LoginResult) Err() error {
	if r == nil {
		return ErrEngineNotReady
	}
	switch r.Status {
	case LoginSucceeded:
		return nil
	case LoginLocked:
		return ErrAccountLocked
	case LoginRateLimited:
		return ErrRateLimited
	case LoginTwoFactorRequired:
		return ErrTwoFactorRequired
	case LoginTwoFactorInvalid:
		return ErrTwoFactorInvalid
	}
	return ErrInvalidCredentials
}

// IssueStatus is the outcome of a token request.
type IssueStatus uint8

const (
	// IssueAccepted is also returned for unknown emails.
	IssueAccepted IssueStatus = iota
	IssueRateLimited
)

// IssueResult is returned by the Request* token operations.
type IssueResult struct {
	Status  IssueStatus
	RetryAt time.Time
}

// Err returns ErrRateLimited for rate-limited requests.
func (r IssueResult) Err() error {
	if r.Status == IssueRateLimited {
		return ErrRateLimited
	}
	return nil
}

// TwoFactorSetup is what a user needs to enroll an authenticator app.
type TwoFactorSetup struct {
	Secret string
	URI    string
	QRPNG  []byte
}

// FederatedIdentity is a verified assertion from an external identity
// provider. The Engine trusts it as given, but links it to an existing
// account only when the provider vouches for the email.
type FederatedIdentity struct {
	Provider      string
	Email         string
	Name          string
	Image         string
	EmailVerified bool
	// SecondFactor is a TOTP or backup code, needed when the account has
	// two-factor enabled.
	SecondFactor string
}

// SessionInfo is the result of validating a session token.
type SessionInfo struct {
	AccountID string
	Email     string
	// Token is the token to hand back to the client. It differs from the
	// presented one when the session was revalidated.
	Token     string
	Refreshed bool
	ExpiresAt time.Time
}
