package goGuard

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/store"
)

// emit appends ev to the audit log and tells the limiter about it. Client
// metadata is filled from ctx. Failures are logged, never returned.
func (e *Engine) emit(ctx context.Context, ev store.AuditEvent) {
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	if ev.UserAgent == "" {
		ev.UserAgent = userAgentFromContext(ctx)
	}
	ev.Email = store.NormalizeEmail(ev.Email)

	stamped := e.recorder.Log(ctx, ev)
	if err := e.limiter.Record(ctx, &stamped); err != nil {
		e.log.WithError(err).WithField("event_kind", string(ev.Kind)).Warn("rate limiter record failed")
	}
}

func accountEvent(acct *store.Account, kind store.EventKind, success bool) store.AuditEvent {
	return store.AuditEvent{
		AccountID: acct.ID,
		Email:     acct.Email,
		Kind:      kind,
		Success:   success,
	}
}

func details(kv ...string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func itoa(n int) string { return strconv.Itoa(n) }

// SearchAuditEvents pages through the audit log, newest first. A zero
// limit returns 100 events; limits above 1000 are clamped.
func (e *Engine) SearchAuditEvents(ctx context.Context, filter EventFilter, page Page) (*AuditSearchResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.analytics.Search(ctx, filter, page)
	if err != nil {
		return nil, e.unavailable(ctx, "audit_search", err)
	}
	return res, nil
}

// AuditStats summarises login and security activity for one account, or
// for everyone when accountID is empty, over the last windowDays days
// (30 when zero). The daily series always covers the last 7 days.
func (e *Engine) AuditStats(ctx context.Context, accountID string, windowDays int) (*AuditStats, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.analytics.Stats(ctx, accountID, windowDays)
	if err != nil {
		return nil, e.unavailable(ctx, "audit_stats", err)
	}
	return res, nil
}

// SuspiciousActivity lists IPs with more than 10 failed logins and a
// failure ratio above one half over the last windowDays days (7 when zero).
func (e *Engine) SuspiciousActivity(ctx context.Context, windowDays int) ([]SuspiciousIP, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.analytics.SuspiciousActivity(ctx, windowDays)
	if err != nil {
		return nil, e.unavailable(ctx, "audit_suspicious", err)
	}
	return res, nil
}

// SecurityAlerts evaluates the real-time heuristics over the last hour.
func (e *Engine) SecurityAlerts(ctx context.Context, accountID string) ([]SecurityAlert, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.analytics.SecurityAlerts(ctx, accountID)
	if err != nil {
		return nil, e.unavailable(ctx, "audit_alerts", err)
	}
	return res, nil
}

// CleanupAuditEvents deletes events older than olderThan, or older than the
// configured retention when olderThan is zero.
func (e *Engine) CleanupAuditEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if olderThan <= 0 {
		olderThan = e.config.Audit.Retention
	}
	if olderThan <= 0 {
		olderThan = audit.DefaultRetention
	}
	n, err := e.analytics.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, e.unavailable(ctx, "audit_cleanup", err)
	}
	e.log.WithField("deleted", n).Info("audit retention cleanup finished")
	return n, nil
}
