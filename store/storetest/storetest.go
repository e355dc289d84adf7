// Package storetest holds the behavioural suite every store.Store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newStore(t)) })
	t.Run("RoundTripFields", func(t *testing.T) { testRoundTripFields(t, newStore(t)) })
	t.Run("ConsumeTokenOnce", func(t *testing.T) { testConsumeTokenOnce(t, newStore(t)) })
	t.Run("ConsumeTokenExpired", func(t *testing.T) { testConsumeTokenExpired(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("EventQueries", func(t *testing.T) { testEventQueries(t, newStore(t)) })
	t.Run("EventAggregates", func(t *testing.T) { testEventAggregates(t, newStore(t)) })
	t.Run("DeleteEventsBefore", func(t *testing.T) { testDeleteEventsBefore(t, newStore(t)) })
}

// NewAccount returns a minimal valid account for email.
func NewAccount(email string) *store.Account {
	return &store.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		Plan:         store.PlanFree,
	}
}

func testCreateAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := NewAccount("  Alice@Example.COM ")
	require.NoError(t, s.CreateAccount(ctx, acct))
	assert.Equal(t, "alice@example.com", acct.Email)
	assert.EqualValues(t, 1, acct.Version)

	byEmail, err := s.FindAccountByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, byEmail.ID)

	byID, err := s.FindAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	_, err = s.FindAccountByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateEmail(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, NewAccount("dup@example.com")))
	err := s.CreateAccount(ctx, NewAccount("DUP@example.com"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testConditionalUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := NewAccount("cas@example.com")
	require.NoError(t, s.CreateAccount(ctx, acct))

	first, err := s.FindAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	second, err := s.FindAccountByID(ctx, acct.ID)
	require.NoError(t, err)

	first.FailedAttempts = 1
	require.NoError(t, s.UpdateAccount(ctx, first))
	assert.EqualValues(t, 2, first.Version)

	second.FailedAttempts = 7
	assert.ErrorIs(t, s.UpdateAccount(ctx, second), store.ErrConflict)

	stored, err := s.FindAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)

	missing := NewAccount("ghost@example.com")
	missing.Version = 1
	assert.ErrorIs(t, s.UpdateAccount(ctx, missing), store.ErrNotFound)
}

func testRoundTripFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	acct := NewAccount("fields@example.com")
	require.NoError(t, s.CreateAccount(ctx, acct))

	until := now.Add(30 * time.Minute)
	acct.Name = "Field Test"
	acct.Plan = store.PlanPremium
	acct.EmailVerifiedAt = &now
	acct.FailedAttempts = 5
	acct.IsLocked = true
	acct.LockoutUntil = &until
	acct.LockManual = true
	acct.LastLoginAt = &now
	acct.LastLoginIP = "192.0.2.10"
	acct.TwoFactorEnabled = true
	acct.TwoFactorSecret = "JBSWY3DPEHPK3PXP"
	acct.BackupCodes = []string{"c1", "c2", "c3"}
	acct.SetToken(store.TokenEmailVerification, "verify-digest", now.Add(24*time.Hour))
	require.NoError(t, s.UpdateAccount(ctx, acct))

	got, err := s.FindAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "Field Test", got.Name)
	assert.Equal(t, store.PlanPremium, got.Plan)
	require.NotNil(t, got.EmailVerifiedAt)
	assert.True(t, now.Equal(*got.EmailVerifiedAt))
	assert.Equal(t, 5, got.FailedAttempts)
	assert.True(t, got.IsLocked)
	require.NotNil(t, got.LockoutUntil)
	assert.True(t, until.Equal(*got.LockoutUntil))
	assert.True(t, got.LockManual)
	assert.Equal(t, "192.0.2.10", got.LastLoginIP)
	assert.True(t, got.TwoFactorEnabled)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", got.TwoFactorSecret)
	assert.Equal(t, []string{"c1", "c2", "c3"}, got.BackupCodes)
	digest, expiry := got.Token(store.TokenEmailVerification)
	assert.Equal(t, "verify-digest", digest)
	require.NotNil(t, expiry)
	assert.True(t, now.Add(24*time.Hour).Equal(*expiry))
	assert.Equal(t, acct.Version, got.Version)
}

func testConsumeTokenOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	acct := NewAccount("consume@example.com")
	acct.SetToken(store.TokenMagicLink, "ml-digest", now.Add(15*time.Minute))
	acct.SetToken(store.TokenPasswordReset, "pr-digest", now.Add(time.Hour))
	require.NoError(t, s.CreateAccount(ctx, acct))

	found, err := s.FindAccountByToken(ctx, store.TokenMagicLink, "ml-digest", now)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, found.ID)

	consumed, err := s.ConsumeToken(ctx, store.TokenMagicLink, "ml-digest", now, func(a *store.Account) {
		a.FailedAttempts = 0
		a.LastLoginIP = "198.51.100.7"
	})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, consumed.ID)
	digest, expiry := consumed.Token(store.TokenMagicLink)
	assert.Empty(t, digest)
	assert.Nil(t, expiry)

	_, err = s.ConsumeToken(ctx, store.TokenMagicLink, "ml-digest", now, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	stored, err := s.FindAccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", stored.LastLoginIP)
	prDigest, _ := stored.Token(store.TokenPasswordReset)
	assert.Equal(t, "pr-digest", prDigest, "other token pairs must survive")
	assert.Greater(t, stored.Version, acct.Version)
}

func testConsumeTokenExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	acct := NewAccount("expired@example.com")
	acct.SetToken(store.TokenPasswordReset, "old-digest", now.Add(-time.Second))
	require.NoError(t, s.CreateAccount(ctx, acct))

	_, err := s.FindAccountByToken(ctx, store.TokenPasswordReset, "old-digest", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.ConsumeToken(ctx, store.TokenPasswordReset, "old-digest", now, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentConsume(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	acct := NewAccount("race@example.com")
	acct.SetToken(store.TokenMagicLink, "race-digest", now.Add(15*time.Minute))
	require.NoError(t, s.CreateAccount(ctx, acct))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeToken(ctx, store.TokenMagicLink, "race-digest", now, nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func insertEvent(t *testing.T, s store.Store, ev store.AuditEvent) {
	t.Helper()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	require.NoError(t, s.InsertEvent(context.Background(), &ev))
}

func testEventQueries(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	for i := 0; i < 5; i++ {
		insertEvent(t, s, store.AuditEvent{
			AccountID: "acct-1",
			Email:     "a@example.com",
			Kind:      store.EventLoginFailed,
			IP:        "10.0.0.1",
			Reason:    store.ReasonInvalidPassword,
			Details:   map[string]string{store.DetailFailedAttempts: fmt.Sprint(i + 1)},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	insertEvent(t, s, store.AuditEvent{
		Email:     "a@example.com",
		Kind:      store.EventLoginFailed,
		IP:        "10.0.0.1",
		Reason:    store.ReasonRateLimited,
		CreatedAt: base.Add(10 * time.Minute),
	})
	insertEvent(t, s, store.AuditEvent{
		AccountID: "acct-1",
		Email:     "a@example.com",
		Kind:      store.EventLoginSuccess,
		Success:   true,
		IP:        "10.0.0.2",
		CreatedAt: base.Add(20 * time.Minute),
	})

	n, err := s.CountEvents(ctx, store.EventFilter{
		Email:         "a@example.com",
		Kinds:         []store.EventKind{store.EventLoginFailed},
		ExcludeReason: store.ReasonRateLimited,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	success := true
	n, err = s.CountEvents(ctx, store.EventFilter{Success: &success})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := s.FindEvents(ctx, store.EventFilter{
		Since: base.Add(1 * time.Minute),
		Until: base.Add(3 * time.Minute),
	}, store.Page{Limit: 100})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].CreatedAt.Equal(base.Add(3*time.Minute)), "newest first")
	assert.True(t, events[2].CreatedAt.Equal(base.Add(1*time.Minute)))
	assert.Equal(t, "4", events[0].Details[store.DetailFailedAttempts])

	oldest, err := s.FindEvents(ctx, store.EventFilter{Email: "a@example.com"}, store.Page{Limit: 1, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.True(t, oldest[0].CreatedAt.Equal(base))

	paged, err := s.FindEvents(ctx, store.EventFilter{}, store.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.True(t, paged[0].CreatedAt.Equal(base.Add(10*time.Minute)))
}

func testEventAggregates(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-30 * time.Minute)

	for i := 0; i < 3; i++ {
		insertEvent(t, s, store.AuditEvent{Kind: store.EventLoginFailed, IP: "203.0.113.1", CreatedAt: base})
	}
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLoginSuccess, Success: true, IP: "203.0.113.1", AccountID: "acct-1", CreatedAt: base})
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLoginSuccess, Success: true, IP: "203.0.113.2", AccountID: "acct-1", CreatedAt: base})
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLoginSuccess, Success: true, IP: "203.0.113.2", AccountID: "acct-2", CreatedAt: base})
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLogout, Success: true, CreatedAt: base})
	for i := 0; i < 2; i++ {
		insertEvent(t, s, store.AuditEvent{Kind: store.EventLoginFailed, IP: store.UnknownIP, CreatedAt: base})
	}
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLoginSuccess, Success: true, IP: store.UnknownIP, AccountID: "acct-2", CreatedAt: base})

	ips, err := s.CountDistinctIPs(ctx, store.EventFilter{Since: base})
	require.NoError(t, err)
	assert.Equal(t, 2, ips)

	activity, err := s.ActivityByIP(ctx, store.EventFilter{
		Kinds: []store.EventKind{store.EventLoginSuccess, store.EventLoginFailed},
	})
	require.NoError(t, err)
	require.Len(t, activity, 2)
	byIP := map[string]store.IPActivity{}
	for _, a := range activity {
		byIP[a.IP] = a
	}
	assert.Equal(t, store.IPActivity{IP: "203.0.113.1", Attempts: 4, Failures: 3}, byIP["203.0.113.1"])
	assert.Equal(t, store.IPActivity{IP: "203.0.113.2", Attempts: 2, Failures: 0}, byIP["203.0.113.2"])

	success := true
	spread, err := s.IPSpreadByAccount(ctx, store.EventFilter{
		Kinds:   []store.EventKind{store.EventLoginSuccess},
		Success: &success,
	})
	require.NoError(t, err)
	bySpread := map[string]int{}
	for _, sp := range spread {
		bySpread[sp.AccountID] = sp.DistinctIPs
	}
	assert.Equal(t, map[string]int{"acct-1": 2, "acct-2": 1}, bySpread)
}

func testDeleteEventsBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLogout, CreatedAt: now.Add(-100 * 24 * time.Hour)})
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLogout, CreatedAt: now.Add(-91 * 24 * time.Hour)})
	insertEvent(t, s, store.AuditEvent{Kind: store.EventLogout, CreatedAt: now.Add(-time.Hour)})

	deleted, err := s.DeleteEventsBefore(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	left, err := s.CountEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}
