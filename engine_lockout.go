package goGuard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/internal/identity"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/store"
)

func lockoutState(a *store.Account) lockout.State {
	return lockout.State{
		FailedAttempts: a.FailedAttempts,
		Locked:         a.IsLocked,
		Until:          a.LockoutUntil,
		Manual:         a.LockManual,
	}
}

func applyLockout(a *store.Account, s lockout.State) {
	a.FailedAttempts = s.FailedAttempts
	a.IsLocked = s.Locked
	a.LockoutUntil = s.Until
	a.LockManual = s.Manual
}

func formatUntil(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// recordPasswordFailure counts a failed password against the account and
// logs the attempt. The returned result is LoginLocked when this failure
// locked the account.
func (e *Engine) recordPasswordFailure(ctx context.Context, acct *store.Account) (*LoginResult, error) {
	now := e.clock()
	var tr lockout.Transition
	updated, err := e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		tr = e.lockout.RecordFailure(lockoutState(a), now)
		applyLockout(a, tr.State)
		return nil
	})
	if err != nil {
		return nil, e.unavailable(ctx, "record_failure", err)
	}

	ev := accountEvent(updated, store.EventLoginFailed, false)
	ev.Reason = store.ReasonInvalidPassword
	ev.Details = details(
		store.DetailFailedAttempts, itoa(updated.FailedAttempts),
		store.DetailLocked, boolString(tr.Locked),
	)
	e.emit(ctx, ev)
	e.metricInc(MetricLoginFailure)

	if !tr.Locked {
		return &LoginResult{Status: LoginInvalidCredentials}, nil
	}

	locked := accountEvent(updated, store.EventAccountLocked, true)
	locked.Details = details(
		store.DetailMethod, "auto",
		store.DetailFailedAttempts, itoa(updated.FailedAttempts),
		store.DetailUntil, formatUntil(updated.LockoutUntil),
	)
	e.emit(ctx, locked)
	e.metricInc(MetricAccountLocked)
	e.log.WithField("account_id", updated.ID).Warn("account locked after repeated failed sign-ins")
	return &LoginResult{Status: LoginLocked}, nil
}

// expireLock clears a lock whose period has passed and logs the automatic
// unlock. The current record is returned either way.
func (e *Engine) expireLock(ctx context.Context, acct *store.Account) (*store.Account, error) {
	now := e.clock()
	expired := false
	updated, err := e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		next, ok := e.lockout.Expire(lockoutState(a), now)
		expired = ok
		if !ok {
			return identity.ErrNoChange
		}
		applyLockout(a, next)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		ev := accountEvent(updated, store.EventAccountUnlocked, true)
		ev.Details = details(store.DetailMethod, "auto")
		e.emit(ctx, ev)
		e.metricInc(MetricAccountUnlocked)
	}
	return updated, nil
}

// resetLockout clears failure counters and failure-driven locks without
// logging. An administrative lock in force survives.
func (e *Engine) resetLockout(a *store.Account, now time.Time) {
	applyLockout(a, e.lockout.RecordSuccess(lockoutState(a), now))
}

// refuseLocked logs a sign-in refused by an administrative lock.
func (e *Engine) refuseLocked(ctx context.Context, acct *store.Account, method string) *LoginResult {
	ev := accountEvent(acct, store.EventLoginFailed, false)
	ev.Reason = store.ReasonLocked
	ev.Details = details(store.DetailMethod, method)
	e.emit(ctx, ev)
	e.metricInc(MetricLoginFailure)
	e.metricInc(MetricLoginLocked)
	return &LoginResult{Status: LoginLocked}
}

// LockAccount locks an account administratively. A zero d locks until
// UnlockAccount is called.
func (e *Engine) LockAccount(ctx context.Context, accountID string, d time.Duration) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	now := e.clock()
	updated, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		applyLockout(a, e.lockout.Lock(lockoutState(a), now, d))
		return nil
	})
	if err != nil {
		return e.accountError(ctx, "lock_account", err)
	}

	ev := accountEvent(updated, store.EventAccountLocked, true)
	ev.Details = details(
		store.DetailMethod, "manual",
		store.DetailUntil, formatUntil(updated.LockoutUntil),
	)
	e.emit(ctx, ev)
	e.metricInc(MetricAccountLocked)
	return nil
}

// UnlockAccount releases a lock and clears the failure counter. With the
// Redis limiter the per-email login window is reopened too.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	updated, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		applyLockout(a, e.lockout.Unlock(lockoutState(a)))
		return nil
	})
	if err != nil {
		return e.accountError(ctx, "unlock_account", err)
	}

	ev := accountEvent(updated, store.EventAccountUnlocked, true)
	ev.Details = details(store.DetailMethod, "manual")
	e.emit(ctx, ev)
	e.metricInc(MetricAccountUnlocked)

	if err := e.limiter.Reset(ctx, rate.ActionLogin, updated.Email); err != nil {
		e.log.WithError(err).WithField("account_id", updated.ID).Warn("login window reset failed")
	}
	return nil
}

// accountError maps store errors of account-id based operations.
func (e *Engine) accountError(ctx context.Context, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	return e.unavailable(ctx, op, err)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
