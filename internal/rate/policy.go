package rate

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

// Action names a rate-limited operation.
type Action string

const (
	ActionLogin             Action = "login"
	ActionLoginIP           Action = "login_ip"
	ActionPasswordReset     Action = "password_reset"
	ActionEmailVerification Action = "email_verification"
	ActionMagicLink         Action = "magic_link"
)

// Scope is the identity key a policy counts by.
type Scope string

const (
	ScopeEmail Scope = "email"
	ScopeIP    Scope = "ip"
)

// Policy is one row of the limit table.
type Policy struct {
	Window time.Duration
	Max    int
	Scope  Scope
	// Kinds are the audit event kinds that count toward the window.
	Kinds []store.EventKind
}

// Policies maps each action to its policy.
type Policies map[Action]Policy

// DefaultPolicies returns the standard limit table.
func DefaultPolicies() Policies {
	return Policies{
		ActionLogin: {
			Window: 15 * time.Minute, Max: 5, Scope: ScopeEmail,
			Kinds: []store.EventKind{store.EventLoginFailed, store.EventTwoFactorFailed},
		},
		ActionLoginIP: {
			Window: 60 * time.Minute, Max: 100, Scope: ScopeIP,
			Kinds: []store.EventKind{store.EventLoginSuccess, store.EventLoginFailed, store.EventTwoFactorFailed},
		},
		ActionPasswordReset: {
			Window: 60 * time.Minute, Max: 3, Scope: ScopeEmail,
			Kinds: []store.EventKind{store.EventPasswordResetRequest},
		},
		ActionEmailVerification: {
			Window: 60 * time.Minute, Max: 5, Scope: ScopeEmail,
			Kinds: []store.EventKind{store.EventEmailVerificationRequest},
		},
		ActionMagicLink: {
			Window: 60 * time.Minute, Max: 3, Scope: ScopeEmail,
			Kinds: []store.EventKind{store.EventMagicLinkRequest},
		},
	}
}

// Clone returns a deep copy.
func (p Policies) Clone() Policies {
	out := make(Policies, len(p))
	for a, pol := range p {
		pol.Kinds = append([]store.EventKind(nil), pol.Kinds...)
		out[a] = pol
	}
	return out
}

// counts reports whether ev counts toward pol, and under which key.
func (pol Policy) counts(ev *store.AuditEvent) (string, bool) {
	if ev.Reason == store.ReasonRateLimited {
		return "", false
	}
	match := false
	for _, k := range pol.Kinds {
		if k == ev.Kind {
			match = true
			break
		}
	}
	if !match {
		return "", false
	}
	key := ev.Email
	if pol.Scope == ScopeIP {
		key = ev.IP
	}
	return key, key != ""
}

func normalizeKey(scope Scope, key string) string {
	if scope == ScopeEmail {
		return store.NormalizeEmail(key)
	}
	return key
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// Remaining is how many counted attempts are left in the window,
	// including the one being checked.
	Remaining int
	// ResetAt is when the window frees a slot.
	ResetAt time.Time
}

// Err returns ErrRateLimited for denied decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// Limiter is implemented by AuditLimiter and RedisLimiter.
type Limiter interface {
	Check(ctx context.Context, action Action, key string) (Decision, error)
	// Record is told about every audit event written, so counter-based
	// limiters can track the kinds they count.
	Record(ctx context.Context, event *store.AuditEvent) error
	// Reset forgets counted attempts for key where the backend allows it.
	Reset(ctx context.Context, action Action, key string) error
}
