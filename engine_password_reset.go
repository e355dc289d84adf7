package goGuard

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/store"
)

// RequestPasswordReset mails a one-hour reset link to email. The result is
// IssueAccepted whether or not an account exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (IssueResult, error) {
	return e.requestToken(ctx, e.passwordResetFlow(), email, nil)
}

// VerifyPasswordResetToken consumes a reset token and returns the id of the
// account it was issued to. The token cannot be presented again; follow up
// with ResetPassword.
func (e *Engine) VerifyPasswordResetToken(ctx context.Context, token string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	acct, err := e.consumeToken(ctx, store.TokenPasswordReset, token, nil)
	if err != nil {
		e.resetFailed(ctx, err)
		return "", err
	}
	return acct.ID, nil
}

// ResetPassword sets a new password after a verified reset. It also clears
// any reset token still pending and the failure counter. An administrative
// lock is left in place.
func (e *Engine) ResetPassword(ctx context.Context, accountID, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	hash, err := e.hashNewPassword(newPassword)
	if err != nil {
		return err
	}
	now := e.clock()
	updated, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		a.PasswordHash = hash
		a.ClearToken(store.TokenPasswordReset)
		e.resetLockout(a, now)
		return nil
	})
	if err != nil {
		return e.accountError(ctx, "reset_password", err)
	}
	e.passwordChanged(ctx, updated, "reset")
	e.metricInc(MetricPasswordResetSuccess)
	return nil
}

// CompletePasswordReset consumes the token and stores the new password in
// one atomic write. The password is checked first, so a policy violation
// leaves the token usable.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	hash, err := e.hashNewPassword(newPassword)
	if err != nil {
		return err
	}
	now := e.clock()
	updated, err := e.consumeToken(ctx, store.TokenPasswordReset, token, func(a *store.Account) {
		a.PasswordHash = hash
		e.resetLockout(a, now)
	})
	if err != nil {
		e.resetFailed(ctx, err)
		return err
	}
	e.passwordChanged(ctx, updated, "reset")
	e.metricInc(MetricPasswordResetSuccess)
	return nil
}

func (e *Engine) hashNewPassword(plain string) (string, error) {
	if err := password.CheckPolicy(plain); err != nil {
		return "", ErrPasswordPolicy
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (e *Engine) resetFailed(ctx context.Context, err error) {
	if !errors.Is(err, ErrTokenInvalid) {
		return
	}
	e.metricInc(MetricPasswordResetFailure)
	e.emit(ctx, store.AuditEvent{
		Kind:    store.EventPasswordChange,
		Reason:  store.ReasonTokenInvalid,
		Details: details(store.DetailMethod, "reset"),
	})
}

func (e *Engine) passwordChanged(ctx context.Context, acct *store.Account, method string) {
	ev := accountEvent(acct, store.EventPasswordChange, true)
	ev.Details = details(store.DetailMethod, method)
	e.emit(ctx, ev)
	e.metricInc(MetricPasswordChange)
}
