package store

import (
	"strings"
	"time"
)

// PlanTier is the subscription tier of an account. It carries no security
// meaning inside goGuard.
type PlanTier string

const (
	PlanFree    PlanTier = "FREE"
	PlanPremium PlanTier = "PREMIUM"
)

// Valid reports whether p is a known tier.
func (p PlanTier) Valid() bool {
	return p == PlanFree || p == PlanPremium
}

// TokenKind selects one of the three independent single-use token pairs
// stored on an Account.
type TokenKind string

const (
	TokenPasswordReset     TokenKind = "password_reset"
	TokenEmailVerification TokenKind = "email_verification"
	TokenMagicLink         TokenKind = "magic_link"
)

// Valid reports whether k names a token pair.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenPasswordReset, TokenEmailVerification, TokenMagicLink:
		return true
	}
	return false
}

// Account is the persisted identity record.
//
// Token fields hold SHA-256 hex digests, never the plaintext that was mailed
// out. A non-empty digest always has a non-nil expiry.
type Account struct {
	ID              string
	Email           string
	Name            string
	Image           string
	PasswordHash    string
	Plan            PlanTier
	EmailVerifiedAt *time.Time

	FailedAttempts int
	IsLocked       bool
	LockoutUntil   *time.Time
	// LockManual is set while an administrative lock holds.
	LockManual     bool
	LastLoginAt    *time.Time
	LastLoginIP    string

	TwoFactorEnabled bool
	TwoFactorSecret  string
	BackupCodes      []string

	PasswordResetToken      string
	PasswordResetExpiry     *time.Time
	EmailVerificationToken  string
	EmailVerificationExpiry *time.Time
	MagicLinkToken          string
	MagicLinkExpiry         *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail trims and lowercases an email address. Every lookup and
// every stored Email goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPassword reports whether the account can sign in with a password.
// Federated-only accounts have no hash.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != ""
}

// Token returns the digest and expiry of the given token pair.
func (a *Account) Token(kind TokenKind) (string, *time.Time) {
	switch kind {
	case TokenPasswordReset:
		return a.PasswordResetToken, a.PasswordResetExpiry
	case TokenEmailVerification:
		return a.EmailVerificationToken, a.EmailVerificationExpiry
	case TokenMagicLink:
		return a.MagicLinkToken, a.MagicLinkExpiry
	}
	return "", nil
}

// SetToken stores a digest and expiry on the given token pair.
func (a *Account) SetToken(kind TokenKind, digest string, expiry time.Time) {
	exp := expiry
	switch kind {
	case TokenPasswordReset:
		a.PasswordResetToken, a.PasswordResetExpiry = digest, &exp
	case TokenEmailVerification:
		a.EmailVerificationToken, a.EmailVerificationExpiry = digest, &exp
	case TokenMagicLink:
		a.MagicLinkToken, a.MagicLinkExpiry = digest, &exp
	}
}

// ClearToken empties the given token pair.
func (a *Account) ClearToken(kind TokenKind) {
	switch kind {
	case TokenPasswordReset:
		a.PasswordResetToken, a.PasswordResetExpiry = "", nil
	case TokenEmailVerification:
		a.EmailVerificationToken, a.EmailVerificationExpiry = "", nil
	case TokenMagicLink:
		a.MagicLinkToken, a.MagicLinkExpiry = "", nil
	}
}

// TokenMatches reports whether digest names a live token of the given kind.
func (a *Account) TokenMatches(kind TokenKind, digest string, now time.Time) bool {
	stored, expiry := a.Token(kind)
	if stored == "" || digest == "" || expiry == nil {
		return false
	}
	return stored == digest && expiry.After(now)
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.EmailVerifiedAt = cloneTime(a.EmailVerifiedAt)
	c.LockoutUntil = cloneTime(a.LockoutUntil)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	c.PasswordResetExpiry = cloneTime(a.PasswordResetExpiry)
	c.EmailVerificationExpiry = cloneTime(a.EmailVerificationExpiry)
	c.MagicLinkExpiry = cloneTime(a.MagicLinkExpiry)
	if a.BackupCodes != nil {
		c.BackupCodes = append([]string(nil), a.BackupCodes...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
