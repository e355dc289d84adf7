package rate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/MrEthical07/goGuard/store/memstore"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAuditLimiter(t *testing.T) (*AuditLimiter, *memstore.Store) {
	t.Helper()
	ms := memstore.New()
	l := NewAuditLimiter(ms, nil, nil)
	l.now = func() time.Time { return now }
	return l, ms
}

func addEvent(t *testing.T, ms *memstore.Store, ev store.AuditEvent) {
	t.Helper()
	if err := ms.InsertEvent(context.Background(), &ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
}

func loginFailure(email, ip string, at time.Time) store.AuditEvent {
	return store.AuditEvent{Kind: store.EventLoginFailed, Email: email, IP: ip, CreatedAt: at}
}

func TestAuditLimiterLoginWindow(t *testing.T) {
	l, ms := newTestAuditLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		addEvent(t, ms, loginFailure("user@example.com", "10.0.0.1", now.Add(-time.Duration(10-i)*time.Minute)))
	}
	d, err := l.Check(ctx, ActionLogin, "USER@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after 4 failures: %+v", d)
	}

	addEvent(t, ms, loginFailure("user@example.com", "10.0.0.1", now.Add(-time.Minute)))
	d, err = l.Check(ctx, ActionLogin, "user@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("5 failures in 15 minutes must deny")
	}
	if !errors.Is(d.Err(), ErrRateLimited) {
		t.Fatalf("Err() = %v", d.Err())
	}
	wantReset := now.Add(-10 * time.Minute).Add(15 * time.Minute)
	if !d.ResetAt.Equal(wantReset) {
		t.Fatalf("ResetAt = %v, want %v", d.ResetAt, wantReset)
	}

	other, _ := l.Check(ctx, ActionLogin, "other@example.com")
	if !other.Allowed {
		t.Fatal("limits are per email")
	}
}

func TestAuditLimiterIgnoresOldAndRateLimitedEvents(t *testing.T) {
	l, ms := newTestAuditLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		addEvent(t, ms, loginFailure("user@example.com", "", now.Add(-16*time.Minute)))
	}
	for i := 0; i < 10; i++ {
		ev := loginFailure("user@example.com", "", now.Add(-time.Minute))
		ev.Reason = store.ReasonRateLimited
		addEvent(t, ms, ev)
	}
	addEvent(t, ms, store.AuditEvent{Kind: store.EventLoginSuccess, Success: true, Email: "user@example.com", CreatedAt: now})

	d, err := l.Check(ctx, ActionLogin, "user@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || d.Remaining != 5 {
		t.Fatalf("expected full budget, got %+v", d)
	}
}

func TestAuditLimiterTwoFactorFailuresCount(t *testing.T) {
	l, ms := newTestAuditLimiter(t)
	for i := 0; i < 5; i++ {
		addEvent(t, ms, store.AuditEvent{Kind: store.EventTwoFactorFailed, Email: "mfa@example.com", CreatedAt: now.Add(-time.Minute)})
	}
	d, _ := l.Check(context.Background(), ActionLogin, "mfa@example.com")
	if d.Allowed {
		t.Fatal("second-factor failures must count toward the login window")
	}
}

func TestAuditLimiterIPThreshold(t *testing.T) {
	l, ms := newTestAuditLimiter(t)
	ctx := context.Background()

	for i := 0; i < 99; i++ {
		ev := loginFailure(fmt.Sprintf("u%d@example.com", i), "203.0.113.9", now.Add(-30*time.Minute))
		if i%2 == 0 {
			ev.Kind = store.EventLoginSuccess
			ev.Success = true
		}
		addEvent(t, ms, ev)
	}
	d, _ := l.Check(ctx, ActionLoginIP, "203.0.113.9")
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after 99 attempts: %+v", d)
	}

	addEvent(t, ms, loginFailure("last@example.com", "203.0.113.9", now.Add(-time.Minute)))
	d, _ = l.Check(ctx, ActionLoginIP, "203.0.113.9")
	if d.Allowed {
		t.Fatal("101st attempt from one IP within the hour must be denied")
	}

	d, _ = l.Check(ctx, ActionLoginIP, "203.0.113.10")
	if !d.Allowed {
		t.Fatal("other IPs are unaffected")
	}
}

func TestAuditLimiterIssuanceWindows(t *testing.T) {
	cases := []struct {
		action Action
		kind   store.EventKind
		max    int
	}{
		{ActionPasswordReset, store.EventPasswordResetRequest, 3},
		{ActionEmailVerification, store.EventEmailVerificationRequest, 5},
		{ActionMagicLink, store.EventMagicLinkRequest, 3},
	}
	for _, tc := range cases {
		l, ms := newTestAuditLimiter(t)
		for i := 0; i < tc.max; i++ {
			d, err := l.Check(context.Background(), tc.action, "req@example.com")
			if err != nil || !d.Allowed {
				t.Fatalf("%s: request %d denied (%v)", tc.action, i+1, err)
			}
			addEvent(t, ms, store.AuditEvent{Kind: tc.kind, Email: "req@example.com", CreatedAt: now.Add(-59 * time.Minute)})
		}
		d, _ := l.Check(context.Background(), tc.action, "req@example.com")
		if d.Allowed {
			t.Fatalf("%s: request %d should be denied", tc.action, tc.max+1)
		}
	}
}

func TestAuditLimiterUnknownAction(t *testing.T) {
	l, _ := newTestAuditLimiter(t)
	if _, err := l.Check(context.Background(), Action("bogus"), "x"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}
