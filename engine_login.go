package goGuard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/twofactor"
	"github.com/MrEthical07/goGuard/store"
)

// Login verifies an email and password, and the second factor when the
// account has two-factor authentication enabled.
//
// Steps run in order: rate limits (per email, then per IP), account lookup,
// lockout, password, second factor, success bookkeeping. Each decided
// attempt writes exactly one LOGIN_* or TWO_FA_FAILED event. Only
// infrastructure failures return an error.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricLoginLatency, start)

	email := store.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		return &LoginResult{Status: LoginInvalidCredentials}, nil
	}

	// 1. rate limits
	if res, err := e.checkLoginRate(ctx, email); res != nil || err != nil {
		return res, err
	}

	// 2. account
	acct, err := e.accounts.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		e.burnVerify(req.Password)
		e.failLogin(ctx, store.AuditEvent{Email: email}, store.ReasonUnknownAccount)
		return &LoginResult{Status: LoginInvalidCredentials}, nil
	}
	if err != nil {
		return nil, e.unavailable(ctx, "login_lookup", err)
	}
	if !acct.HasPassword() {
		// Federated-only account.
		e.burnVerify(req.Password)
		e.failLogin(ctx, accountEvent(acct, "", false), store.ReasonNoPassword)
		return &LoginResult{Status: LoginInvalidCredentials}, nil
	}

	// 3. lockout
	state := lockoutState(acct)
	if state.IsLocked(e.clock()) {
		e.failLogin(ctx, accountEvent(acct, "", false), store.ReasonLocked)
		e.metricInc(MetricLoginLocked)
		return &LoginResult{Status: LoginLocked}, nil
	}
	if state.Expired(e.clock()) {
		if acct, err = e.expireLock(ctx, acct); err != nil {
			return nil, e.unavailable(ctx, "login_expire_lock", err)
		}
	}

	// 4. password
	ok, _ := e.hasher.Verify(req.Password, acct.PasswordHash)
	if !ok {
		return e.recordPasswordFailure(ctx, acct)
	}

	// 5. second factor
	if acct.TwoFactorEnabled {
		code := strings.TrimSpace(req.SecondFactor)
		if code == "" {
			e.metricInc(MetricLoginTwoFactorRequired)
			return &LoginResult{Status: LoginTwoFactorRequired}, nil
		}
		method, err := e.verifySecondFactor(ctx, acct, code)
		if err != nil {
			return nil, err
		}
		if method == "" {
			return &LoginResult{Status: LoginTwoFactorInvalid}, nil
		}
	}

	// 6. success
	return e.completeLogin(ctx, acct, "password", e.rehashIfNeeded(req.Password, acct.PasswordHash))
}

// checkLoginRate runs the per-email window and then, when the caller IP is
// known, the per-IP window. A denial is logged as a failed attempt with
// reason rate_limited, which no window counts.
func (e *Engine) checkLoginRate(ctx context.Context, email string) (*LoginResult, error) {
	scope := rate.ScopeEmail
	d, err := e.limiter.Check(ctx, rate.ActionLogin, email)
	if err != nil {
		return nil, e.unavailable(ctx, "login_rate_limit", err)
	}
	if ip := knownClientIP(ctx); d.Allowed && ip != "" {
		scope = rate.ScopeIP
		d, err = e.limiter.Check(ctx, rate.ActionLoginIP, ip)
		if err != nil {
			return nil, e.unavailable(ctx, "login_rate_limit", err)
		}
	}
	if d.Allowed {
		return nil, nil
	}

	e.emit(ctx, store.AuditEvent{
		Email:   email,
		Kind:    store.EventLoginFailed,
		Reason:  store.ReasonRateLimited,
		Details: details(store.DetailScope, string(scope)),
	})
	e.metricInc(MetricLoginRateLimited)
	return &LoginResult{Status: LoginRateLimited, RetryAt: d.ResetAt}, nil
}

// dummyPassword is hashed once at Build for burnVerify.
const dummyPassword = "goguard-no-account-placeholder"

// burnVerify runs a full password verification against a throwaway hash.
func (e *Engine) burnVerify(plain string) {
	_, _ = e.hasher.Verify(plain, e.dummyHash)
}

func (e *Engine) failLogin(ctx context.Context, ev store.AuditEvent, reason string) {
	ev.Kind = store.EventLoginFailed
	ev.Success = false
	ev.Reason = reason
	e.emit(ctx, ev)
	e.metricInc(MetricLoginFailure)
}

// verifySecondFactor checks code as a backup code when it has that shape,
// otherwise as a TOTP code. It returns the method that succeeded, or "" on
// failure after logging TWO_FA_FAILED.
func (e *Engine) verifySecondFactor(ctx context.Context, acct *store.Account, code string) (string, error) {
	method := "totp"
	var ok bool
	if twofactor.LooksLikeBackupCode(code) {
		method = "backup_code"
		used, err := e.consumeBackupCode(ctx, acct.ID, code)
		if err != nil {
			return "", e.unavailable(ctx, "consume_backup_code", err)
		}
		ok = used
	} else {
		valid, err := e.totp.Validate(acct.TwoFactorSecret, code, e.clock())
		ok = err == nil && valid
	}

	if !ok {
		ev := accountEvent(acct, store.EventTwoFactorFailed, false)
		ev.Reason = store.ReasonInvalidCode
		ev.Details = details(store.DetailMethod, method)
		e.emit(ctx, ev)
		e.metricInc(MetricTwoFactorFailure)
		return "", nil
	}

	ev := accountEvent(acct, store.EventTwoFactorSuccess, true)
	ev.Details = details(store.DetailMethod, method)
	e.emit(ctx, ev)
	e.metricInc(MetricTwoFactorSuccess)
	if method == "backup_code" {
		e.metricInc(MetricBackupCodeUsed)
	}
	return method, nil
}

var (
	errBackupCodeUnknown = errors.New("backup code not found")
	errManuallyLocked    = errors.New("account locked by an administrator")
)

// consumeBackupCode removes exactly the matching digest with a conditional
// write. A code used concurrently is found by at most one caller.
func (e *Engine) consumeBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	_, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		remaining, ok := twofactor.RemoveBackupCode(a.ID, code, a.BackupCodes)
		if !ok {
			return errBackupCodeUnknown
		}
		a.BackupCodes = remaining
		return nil
	})
	if errors.Is(err, errBackupCodeUnknown) {
		return false, nil
	}
	return err == nil, err
}

// rehashIfNeeded returns a fresh hash when the stored one is bcrypt or uses
// weaker parameters than configured.
func (e *Engine) rehashIfNeeded(plain, encoded string) string {
	if !e.config.Password.UpgradeOnLogin {
		return ""
	}
	stale, err := e.hasher.NeedsRehash(encoded)
	if err != nil || !stale {
		return ""
	}
	fresh, err := e.hasher.Hash(plain)
	if err != nil {
		e.log.WithError(err).Warn("password rehash failed")
		return ""
	}
	return fresh
}

// completeLogin resets lockout counters, stamps the last login, logs
// LOGIN_SUCCESS and issues a session. newHash, when set, replaces the
// password hash it was derived from.
func (e *Engine) completeLogin(ctx context.Context, acct *store.Account, method, newHash string) (*LoginResult, error) {
	now := e.clock()
	ip := knownClientIP(ctx)
	oldHash := acct.PasswordHash
	updated, err := e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		if lockoutState(a).ManuallyLocked(now) {
			return errManuallyLocked
		}
		e.resetLockout(a, now)
		a.LastLoginAt = &now
		a.LastLoginIP = ip
		if newHash != "" && a.PasswordHash == oldHash {
			a.PasswordHash = newHash
		}
		return nil
	})
	if errors.Is(err, errManuallyLocked) {
		// Locked by an administrator after the earlier checks.
		return e.refuseLocked(ctx, acct, method), nil
	}
	if err != nil {
		return nil, e.unavailable(ctx, "login_complete", err)
	}

	ev := accountEvent(updated, store.EventLoginSuccess, true)
	ev.Details = details(store.DetailMethod, method)
	e.emit(ctx, ev)
	e.metricInc(MetricLoginSuccess)

	token, err := e.issueSession(updated)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Status: LoginSucceeded, Account: updated, SessionToken: token}, nil
}
