package goGuard

import (
	"context"

	"github.com/MrEthical07/goGuard/store"
)

// RequestEmailVerification mails a 24-hour verification link. Accounts that
// are already verified get no token but the same result.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (IssueResult, error) {
	return e.requestToken(ctx, e.emailVerificationFlow(), email, func(a *store.Account) string {
		if a.EmailVerifiedAt != nil {
			return store.ReasonAlreadyVerified
		}
		return ""
	})
}

// VerifyEmail consumes a verification token and marks the address verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	now := e.clock()
	acct, err := e.consumeToken(ctx, store.TokenEmailVerification, token, func(a *store.Account) {
		if a.EmailVerifiedAt == nil {
			a.EmailVerifiedAt = &now
		}
	})
	if err == ErrTokenInvalid {
		e.metricInc(MetricEmailVerificationFailure)
		e.emit(ctx, store.AuditEvent{Kind: store.EventEmailVerification, Reason: store.ReasonTokenInvalid})
	}
	if err != nil {
		return nil, err
	}

	e.emit(ctx, accountEvent(acct, store.EventEmailVerification, true))
	e.metricInc(MetricEmailVerificationSuccess)
	return acct, nil
}
