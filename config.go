package goGuard

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/session"
)

// Config holds every tunable of an Engine. Start from DefaultConfig and
// override what you need; Builder.Build validates the result.
type Config struct {
	Password  PasswordConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	Tokens    TokenConfig
	TwoFactor TwoFactorConfig
	Session   SessionConfig
	Audit     AuditConfig
	Retry     RetryConfig
	Metrics   MetricsConfig
	Mail      MailConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes bcrypt or weaker Argon2id hashes after a
	// successful password sign-in.
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig sets when an account locks after failed passwords.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is one sliding window.
type RateLimitRule struct {
	Window time.Duration
	Max    int
}

// RateLimitConfig holds the windows of every rate-limited action. Login
// is checked per email and per client IP.
type RateLimitConfig struct {
	Login             RateLimitRule
	LoginIP           RateLimitRule
	PasswordReset     RateLimitRule
	EmailVerification RateLimitRule
	MagicLink         RateLimitRule
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds single-use token lifetimes.
type TokenConfig struct {
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	MagicLinkTTL         time.Duration
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP enrollment and validation.
type TwoFactorConfig struct {
	Issuer string
	Period uint
	Skew   uint
	Digits int
	QRSize int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls signed session tokens.
type SessionConfig struct {
	TTL time.Duration
	// RevalidateAfter is how old a session's last validation may be before
	// the account is re-read from the store.
	RevalidateAfter time.Duration
	SigningMethod   string // "hs256" (default) or "ed25519"
	PrivateKey      []byte
	PublicKey       []byte
	Issuer          string
	Audience        string
	Leeway          time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls how audit events are written.
type AuditConfig struct {
	// Async writes through a buffered dispatcher. The audit-count rate
	// limiter then sees events slightly late.
	Async        bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
	Retention    time.Duration
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig bounds retries of account store calls. Waits grow linearly:
// Initial, 2*Initial, ...
type RetryConfig struct {
	Attempts int
	Initial  time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig enables in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
MAIL CONFIG
====================================
*/

// MailConfig describes outgoing links. Each token is appended to its path
// as the "token" query parameter.
type MailConfig struct {
	AppName           string
	BaseURL           string
	PasswordResetPath string
	VerifyEmailPath   string
	MagicLinkPath     string
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the standard settings. Session keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Login:             RateLimitRule{Window: 15 * time.Minute, Max: 5},
			LoginIP:           RateLimitRule{Window: 60 * time.Minute, Max: 100},
			PasswordReset:     RateLimitRule{Window: 60 * time.Minute, Max: 3},
			EmailVerification: RateLimitRule{Window: 60 * time.Minute, Max: 5},
			MagicLink:         RateLimitRule{Window: 60 * time.Minute, Max: 3},
		},
		Tokens: TokenConfig{
			PasswordResetTTL:     time.Hour,
			EmailVerificationTTL: 24 * time.Hour,
			MagicLinkTTL:         15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "goGuard",
			Period: 30,
			Skew:   1,
			Digits: 6,
			QRSize: 256,
		},
		Session: SessionConfig{
			TTL:             30 * 24 * time.Hour,
			RevalidateAfter: 5 * time.Minute,
			SigningMethod:   "hs256",
			Issuer:          "goGuard",
		},
		Audit: AuditConfig{
			Async:        false,
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 2 * time.Second,
			Retention:    90 * 24 * time.Hour,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Initial:  time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Mail: MailConfig{
			AppName:           "goGuard",
			BaseURL:           "http://localhost:8080",
			PasswordResetPath: "/reset-password",
			VerifyEmailPath:   "/verify-email",
			MagicLinkPath:     "/magic-link",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.passwordConfig().Validate(); err != nil {
		return err
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Rate limits
	rules := map[string]RateLimitRule{
		"Login":             c.RateLimit.Login,
		"LoginIP":           c.RateLimit.LoginIP,
		"PasswordReset":     c.RateLimit.PasswordReset,
		"EmailVerification": c.RateLimit.EmailVerification,
		"MagicLink":         c.RateLimit.MagicLink,
	}
	for name, r := range rules {
		if r.Window <= 0 {
			return errors.New("RateLimit " + name + " Window must be > 0")
		}
		if r.Max <= 0 {
			return errors.New("RateLimit " + name + " Max must be > 0")
		}
	}

	// Tokens
	if c.Tokens.PasswordResetTTL <= 0 || c.Tokens.EmailVerificationTTL <= 0 || c.Tokens.MagicLinkTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}

	// Two-factor
	if c.TwoFactor.Issuer == "" || strings.Contains(c.TwoFactor.Issuer, ":") {
		return errors.New("TwoFactor Issuer must be non-empty and must not contain ':'")
	}
	if c.TwoFactor.Period == 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be <= 2")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RevalidateAfter <= 0 || c.Session.RevalidateAfter > c.Session.TTL {
		return errors.New("Session RevalidateAfter must be within (0, TTL]")
	}
	switch c.Session.SigningMethod {
	case string(session.MethodHS256), string(session.MethodEd25519):
	default:
		return errors.New("unsupported Session SigningMethod")
	}
	if len(c.Session.PrivateKey) == 0 {
		return errors.New(c.Session.SigningMethod + " requires PrivateKey")
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is enabled")
	}
	if c.Audit.WriteTimeout < 0 {
		return errors.New("Audit WriteTimeout must be >= 0")
	}
	if c.Audit.Retention < 24*time.Hour {
		return errors.New("Audit Retention must be >= 24h")
	}

	// Retry
	if c.Retry.Attempts <= 0 || c.Retry.Attempts > 10 {
		return errors.New("Retry Attempts must be within [1, 10]")
	}
	if c.Retry.Initial < 0 {
		return errors.New("Retry Initial must be >= 0")
	}

	// Mail
	u, err := url.Parse(c.Mail.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Mail BaseURL must be an absolute URL")
	}

	return nil
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		TTL:           c.Session.TTL,
		SigningMethod: session.SigningMethod(c.Session.SigningMethod),
		PrivateKey:    cloneBytes(c.Session.PrivateKey),
		PublicKey:     cloneBytes(c.Session.PublicKey),
		Issuer:        c.Session.Issuer,
		Audience:      c.Session.Audience,
		Leeway:        c.Session.Leeway,
	}
}

// ratePolicies overlays the configured windows on the default table, which
// fixes the counted event kinds and scopes.
func (c *Config) ratePolicies() rate.Policies {
	p := rate.DefaultPolicies()
	set := func(a rate.Action, r RateLimitRule) {
		pol := p[a]
		pol.Window, pol.Max = r.Window, r.Max
		p[a] = pol
	}
	set(rate.ActionLogin, c.RateLimit.Login)
	set(rate.ActionLoginIP, c.RateLimit.LoginIP)
	set(rate.ActionPasswordReset, c.RateLimit.PasswordReset)
	set(rate.ActionEmailVerification, c.RateLimit.EmailVerification)
	set(rate.ActionMagicLink, c.RateLimit.MagicLink)
	return p
}
