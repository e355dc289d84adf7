package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

const (
	DefaultPageSize  = 100
	MaxPageSize      = 1000
	DefaultRetention = 90 * 24 * time.Hour

	statsSeriesDays      = 7
	suspiciousMinFails   = 10
	suspiciousMinRatio   = 0.5
	suspiciousMaxResults = 20
	alertWindow          = 60 * time.Minute
	alertMediumFailures  = 10
	alertHighFailures    = 20
	alertMaxDistinctIPs  = 3
)

// SearchResult is one page of events, newest first.
type SearchResult struct {
	Events []store.AuditEvent
	Total  int
	Limit  int
	Offset int
}

// DailyCount is one day of the stats series. Date is midnight UTC.
type DailyCount struct {
	Date      time.Time
	Successes int
	Failures  int
}

// Stats summarises activity over a trailing window.
type Stats struct {
	AccountID       string
	WindowDays      int
	Since           time.Time
	LoginSuccesses  int
	LoginFailures   int
	TwoFactorEvents int
	PasswordResets  int
	Lockouts        int
	DistinctIPs     int
	Daily           []DailyCount
}

// SuspiciousIP is an address with a high volume and share of failed logins.
type SuspiciousIP struct {
	IP           string
	Attempts     int
	Failures     int
	FailureRatio float64
}

// Severity ranks alerts.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertKind identifies the heuristic that fired.
type AlertKind string

const (
	AlertFailedLogins AlertKind = "failed_logins"
	AlertIPSpread     AlertKind = "multiple_ips"
)

// Alert is one real-time security alert.
type Alert struct {
	Kind      AlertKind
	Severity  Severity
	AccountID string
	Count     int
	Message   string
}

// Analytics answers read-side questions over the audit log.
type Analytics struct {
	events store.AuditStore
	now    func() time.Time
}

// NewAnalytics reads from events. A nil now uses time.Now.
func NewAnalytics(events store.AuditStore, now func() time.Time) *Analytics {
	if now == nil {
		now = time.Now
	}
	return &Analytics{events: events, now: now}
}

// Search returns events matching filter. A zero limit means
// DefaultPageSize; limits above MaxPageSize are clamped.
func (a *Analytics) Search(ctx context.Context, filter store.EventFilter, page store.Page) (*SearchResult, error) {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	page.OldestFirst = false

	total, err := a.events.CountEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	events, err := a.events.FindEvents(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return &SearchResult{Events: events, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Stats aggregates the trailing windowDays (default 30) and builds a
// daily login series for the last 7 days, one query pair per day.
func (a *Analytics) Stats(ctx context.Context, accountID string, windowDays int) (*Stats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	now := a.now().UTC()
	since := now.AddDate(0, 0, -windowDays)
	base := store.EventFilter{AccountID: accountID, Since: since, Until: now}

	count := func(f store.EventFilter, kinds ...store.EventKind) (int, error) {
		f.Kinds = kinds
		return a.events.CountEvents(ctx, f)
	}

	st := &Stats{AccountID: accountID, WindowDays: windowDays, Since: since}
	var err error
	if st.LoginSuccesses, err = count(base, store.EventLoginSuccess); err != nil {
		return nil, err
	}
	if st.LoginFailures, err = count(base, store.EventLoginFailed); err != nil {
		return nil, err
	}
	if st.TwoFactorEvents, err = count(base,
		store.EventTwoFactorEnabled, store.EventTwoFactorDisabled,
		store.EventTwoFactorSuccess, store.EventTwoFactorFailed); err != nil {
		return nil, err
	}
	if st.PasswordResets, err = count(base, store.EventPasswordResetRequest); err != nil {
		return nil, err
	}
	if st.Lockouts, err = count(base, store.EventAccountLocked); err != nil {
		return nil, err
	}
	if st.DistinctIPs, err = a.events.CountDistinctIPs(ctx, base); err != nil {
		return nil, err
	}

	today := now.Truncate(24 * time.Hour)
	st.Daily = make([]DailyCount, 0, statsSeriesDays)
	for i := statsSeriesDays - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		f := store.EventFilter{AccountID: accountID, Since: day, Until: day.Add(24*time.Hour - time.Nanosecond)}
		dc := DailyCount{Date: day}
		if dc.Successes, err = count(f, store.EventLoginSuccess); err != nil {
			return nil, err
		}
		if dc.Failures, err = count(f, store.EventLoginFailed); err != nil {
			return nil, err
		}
		st.Daily = append(st.Daily, dc)
	}
	return st, nil
}

// SuspiciousActivity lists IPs with more than 10 failed logins and a
// failure ratio above 50% over the trailing windowDays (default 7),
// ranked by ratio then volume, at most 20.
func (a *Analytics) SuspiciousActivity(ctx context.Context, windowDays int) ([]SuspiciousIP, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	now := a.now().UTC()
	activity, err := a.events.ActivityByIP(ctx, store.EventFilter{
		Kinds: []store.EventKind{store.EventLoginSuccess, store.EventLoginFailed},
		Since: now.AddDate(0, 0, -windowDays),
		Until: now,
	})
	if err != nil {
		return nil, fmt.Errorf("activity by ip: %w", err)
	}

	out := make([]SuspiciousIP, 0)
	for _, act := range activity {
		if !store.CountableIP(act.IP) || act.Attempts == 0 || act.Failures <= suspiciousMinFails {
			continue
		}
		ratio := float64(act.Failures) / float64(act.Attempts)
		if ratio <= suspiciousMinRatio {
			continue
		}
		out = append(out, SuspiciousIP{
			IP:           act.IP,
			Attempts:     act.Attempts,
			Failures:     act.Failures,
			FailureRatio: ratio,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureRatio != out[j].FailureRatio {
			return out[i].FailureRatio > out[j].FailureRatio
		}
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts > out[j].Attempts
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > suspiciousMaxResults {
		out = out[:suspiciousMaxResults]
	}
	return out, nil
}

// SecurityAlerts evaluates the last 60 minutes. Failed-login volume is
// checked globally or for accountID; the distinct-IP heuristic only
// applies when accountID is set.
func (a *Analytics) SecurityAlerts(ctx context.Context, accountID string) ([]Alert, error) {
	now := a.now().UTC()
	since := now.Add(-alertWindow)

	failed, err := a.events.CountEvents(ctx, store.EventFilter{
		AccountID: accountID,
		Kinds:     []store.EventKind{store.EventLoginFailed},
		Since:     since,
		Until:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("count failed logins: %w", err)
	}

	alerts := make([]Alert, 0, 2)
	if failed > alertMediumFailures {
		sev := SeverityMedium
		if failed > alertHighFailures {
			sev = SeverityHigh
		}
		alerts = append(alerts, Alert{
			Kind:      AlertFailedLogins,
			Severity:  sev,
			AccountID: accountID,
			Count:     failed,
			Message:   fmt.Sprintf("%d failed logins in the last hour", failed),
		})
	}

	if accountID == "" {
		return alerts, nil
	}
	success := true
	spread, err := a.events.IPSpreadByAccount(ctx, store.EventFilter{
		AccountID: accountID,
		Kinds:     []store.EventKind{store.EventLoginSuccess},
		Success:   &success,
		Since:     since,
		Until:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("ip spread: %w", err)
	}
	for _, sp := range spread {
		if sp.AccountID == accountID && sp.DistinctIPs > alertMaxDistinctIPs {
			alerts = append(alerts, Alert{
				Kind:      AlertIPSpread,
				Severity:  SeverityMedium,
				AccountID: accountID,
				Count:     sp.DistinctIPs,
				Message:   fmt.Sprintf("successful logins from %d IPs in the last hour", sp.DistinctIPs),
			})
		}
	}
	return alerts, nil
}

// Cleanup deletes events older than olderThan (default 90 days).
func (a *Analytics) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	n, err := a.events.DeleteEventsBefore(ctx, a.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return n, nil
}
