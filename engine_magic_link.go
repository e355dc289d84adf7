package goGuard

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/store"
)

// RequestMagicLink mails a 15-minute sign-in link.
func (e *Engine) RequestMagicLink(ctx context.Context, email string) (IssueResult, error) {
	return e.requestToken(ctx, e.magicLinkFlow(), email, nil)
}

// SignInWithMagicLink consumes a magic-link token and signs the account in.
// Following the link proves control of the mailbox, so the same write also
// verifies the email and clears failure-driven lockout state.
//
// An account with two-factor enabled also needs secondFactor. Without one
// the result is LoginTwoFactorRequired and the token stays valid, so the
// caller can present it again together with a code. An administrative lock
// gives LoginLocked.
func (e *Engine) SignInWithMagicLink(ctx context.Context, token, secondFactor string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	now := e.clock()

	digest, err := internal.ParseOpaqueToken(strings.TrimSpace(token))
	if err != nil {
		return nil, e.magicLinkInvalid(ctx)
	}
	acct, err := e.accounts.FindByToken(ctx, store.TokenMagicLink, digest, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.magicLinkInvalid(ctx)
	}
	if err != nil {
		return nil, e.unavailable(ctx, "magic_link_lookup", err)
	}
	if lockoutState(acct).ManuallyLocked(now) {
		return e.refuseLocked(ctx, acct, "magic_link"), nil
	}
	if acct.TwoFactorEnabled {
		code := strings.TrimSpace(secondFactor)
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

	ip := knownClientIP(ctx)
	consumed, err := e.consumeToken(ctx, store.TokenMagicLink, token, func(a *store.Account) {
		if a.EmailVerifiedAt == nil {
			a.EmailVerifiedAt = &now
		}
		if lockoutState(a).ManuallyLocked(now) {
			return
		}
		e.resetLockout(a, now)
		a.LastLoginAt = &now
		a.LastLoginIP = ip
	})
	if errors.Is(err, ErrTokenInvalid) || (err == nil && consumed.ID != acct.ID) {
		// Used or reissued between the lookup and the consume.
		return nil, e.magicLinkInvalid(ctx)
	}
	if err != nil {
		return nil, err
	}
	if lockoutState(consumed).ManuallyLocked(now) {
		return e.refuseLocked(ctx, consumed, "magic_link"), nil
	}

	ev := accountEvent(consumed, store.EventLoginSuccess, true)
	ev.Details = details(store.DetailMethod, "magic_link")
	e.emit(ctx, ev)
	e.metricInc(MetricMagicLinkSuccess)
	e.metricInc(MetricLoginSuccess)

	sessionToken, err := e.issueSession(consumed)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Status: LoginSucceeded, Account: consumed, SessionToken: sessionToken}, nil
}

func (e *Engine) magicLinkInvalid(ctx context.Context) error {
	e.metricInc(MetricMagicLinkFailure)
	e.emit(ctx, store.AuditEvent{
		Kind:    store.EventLoginFailed,
		Reason:  store.ReasonTokenInvalid,
		Details: details(store.DetailMethod, "magic_link"),
	})
	return ErrTokenInvalid
}
