package rate

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

// AuditLimiter derives limits from the audit log.
type AuditLimiter struct {
	events   store.AuditStore
	policies Policies
	now      func() time.Time
}

// NewAuditLimiter returns a limiter over events. A nil policies uses
// DefaultPolicies and a nil now uses time.Now. now must be the clock that
// stamps the audit events.
func NewAuditLimiter(events store.AuditStore, policies Policies, now func() time.Time) *AuditLimiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if now == nil {
		now = time.Now
	}
	return &AuditLimiter{events: events, policies: policies.Clone(), now: now}
}

func (l *AuditLimiter) Check(ctx context.Context, action Action, key string) (Decision, error) {
	pol, ok := l.policies[action]
	if !ok {
		return Decision{}, ErrUnknownAction
	}
	now := l.now().UTC()
	filter := store.EventFilter{
		Kinds:         pol.Kinds,
		Since:         now.Add(-pol.Window),
		Until:         now,
		ExcludeReason: store.ReasonRateLimited,
	}
	key = normalizeKey(pol.Scope, key)
	if key == "" {
		// Nothing to count by; an empty filter would match every event.
		return Decision{Allowed: true, Remaining: pol.Max, ResetAt: now.Add(pol.Window)}, nil
	}
	if pol.Scope == ScopeIP {
		filter.IP = key
	} else {
		filter.Email = key
	}

	count, err := l.events.CountEvents(ctx, filter)
	if err != nil {
		return Decision{}, err
	}
	if count < pol.Max {
		return Decision{Allowed: true, Remaining: pol.Max - count, ResetAt: now.Add(pol.Window)}, nil
	}

	resetAt := now.Add(pol.Window)
	oldest, err := l.events.FindEvents(ctx, filter, store.Page{Limit: 1, OldestFirst: true})
	if err == nil && len(oldest) == 1 {
		resetAt = oldest[0].CreatedAt.Add(pol.Window)
	}
	return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
}

// Record is a no-op; the audit log already holds the event.
func (l *AuditLimiter) Record(context.Context, *store.AuditEvent) error { return nil }

// Reset is a no-op. Audit history is append-only, so the window drains on
// its own.
func (l *AuditLimiter) Reset(context.Context, Action, string) error { return nil }

var _ Limiter = (*AuditLimiter)(nil)
