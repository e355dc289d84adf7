package goGuard

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/mail"
	"github.com/MrEthical07/goGuard/store"
	"github.com/sirupsen/logrus"
)

// tokenFlow describes one single-use token family.
type tokenFlow struct {
	kind     store.TokenKind
	action   rate.Action
	event    store.EventKind
	ttl      time.Duration
	mailKind mail.Kind
	path     string

	metricRequest     MetricID
	metricRateLimited MetricID
}

func (e *Engine) passwordResetFlow() tokenFlow {
	return tokenFlow{
		kind:              store.TokenPasswordReset,
		action:            rate.ActionPasswordReset,
		event:             store.EventPasswordResetRequest,
		ttl:               e.config.Tokens.PasswordResetTTL,
		mailKind:          mail.KindPasswordReset,
		path:              e.config.Mail.PasswordResetPath,
		metricRequest:     MetricPasswordResetRequest,
		metricRateLimited: MetricPasswordResetRateLimited,
	}
}

func (e *Engine) emailVerificationFlow() tokenFlow {
	return tokenFlow{
		kind:              store.TokenEmailVerification,
		action:            rate.ActionEmailVerification,
		event:             store.EventEmailVerificationRequest,
		ttl:               e.config.Tokens.EmailVerificationTTL,
		mailKind:          mail.KindEmailVerification,
		path:              e.config.Mail.VerifyEmailPath,
		metricRequest:     MetricEmailVerificationRequest,
		metricRateLimited: MetricEmailVerificationRateLimited,
	}
}

func (e *Engine) magicLinkFlow() tokenFlow {
	return tokenFlow{
		kind:              store.TokenMagicLink,
		action:            rate.ActionMagicLink,
		event:             store.EventMagicLinkRequest,
		ttl:               e.config.Tokens.MagicLinkTTL,
		mailKind:          mail.KindMagicLink,
		path:              e.config.Mail.MagicLinkPath,
		metricRequest:     MetricMagicLinkRequest,
		metricRateLimited: MetricMagicLinkRateLimited,
	}
}

// requestToken is the shared issuance path: rate limit, lookup, store the
// digest, log, mail. Unknown emails and ineligible accounts get the same
// IssueAccepted result as real issuance. ineligible may be nil; it returns
// the audit reason for accounts that must not receive a token.
func (e *Engine) requestToken(ctx context.Context, f tokenFlow, email string, ineligible func(*store.Account) string) (IssueResult, error) {
	if !e.ready() {
		return IssueResult{}, ErrEngineNotReady
	}
	email = store.NormalizeEmail(email)
	if email == "" {
		return IssueResult{Status: IssueAccepted}, nil
	}

	d, err := e.limiter.Check(ctx, f.action, email)
	if err != nil {
		return IssueResult{}, e.unavailable(ctx, string(f.action)+"_rate_limit", err)
	}
	if !d.Allowed {
		e.emit(ctx, store.AuditEvent{
			Email:  email,
			Kind:   f.event,
			Reason: store.ReasonRateLimited,
			Details: details(
				store.DetailScope, string(rate.ScopeEmail),
				store.DetailAction, string(f.action),
			),
		})
		e.metricInc(f.metricRateLimited)
		return IssueResult{Status: IssueRateLimited, RetryAt: d.ResetAt}, nil
	}
	e.metricInc(f.metricRequest)

	acct, err := e.accounts.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		e.emit(ctx, store.AuditEvent{Email: email, Kind: f.event, Reason: store.ReasonUnknownAccount})
		return IssueResult{Status: IssueAccepted}, nil
	}
	if err != nil {
		return IssueResult{}, e.unavailable(ctx, string(f.action)+"_lookup", err)
	}
	if ineligible != nil {
		if reason := ineligible(acct); reason != "" {
			ev := accountEvent(acct, f.event, false)
			ev.Reason = reason
			e.emit(ctx, ev)
			return IssueResult{Status: IssueAccepted}, nil
		}
	}

	tok, err := internal.NewOpaqueToken()
	if err != nil {
		return IssueResult{}, err
	}
	expiry := e.clock().Add(f.ttl)
	updated, err := e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		a.SetToken(f.kind, tok.Digest, expiry)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// Deleted between lookup and write.
		return IssueResult{Status: IssueAccepted}, nil
	}
	if err != nil {
		return IssueResult{}, e.unavailable(ctx, string(f.action)+"_issue", err)
	}

	e.emit(ctx, accountEvent(updated, f.event, true))
	e.sendTokenMail(ctx, f, updated, tok.Plain)
	return IssueResult{Status: IssueAccepted}, nil
}

// sendTokenMail renders and sends the link. Failures are logged and
// reported; the token stays valid.
func (e *Engine) sendTokenMail(ctx context.Context, f tokenFlow, acct *store.Account, plain string) {
	msg, err := e.templates.Render(f.mailKind, acct.Email, mail.Data{
		AppName:   e.config.Mail.AppName,
		Name:      acct.Name,
		Link:      e.tokenLink(f.path, plain),
		ExpiresIn: f.ttl,
	})
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.log.WithError(err).WithFields(logrus.Fields{
			"account_id": acct.ID,
			"mail_kind":  string(f.mailKind),
		}).Error("token mail delivery failed")
		e.report(ctx, err, map[string]string{"component": "mail", "mail_kind": string(f.mailKind)})
	}
}

func (e *Engine) tokenLink(path, plain string) string {
	base := strings.TrimRight(e.config.Mail.BaseURL, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path + "?" + url.Values{"token": {plain}}.Encode()
}

// consumeToken atomically clears a live token of kind and applies apply in
// the same write. Malformed, unknown, expired and used tokens all give
// ErrTokenInvalid.
func (e *Engine) consumeToken(ctx context.Context, kind store.TokenKind, plain string, apply func(*store.Account)) (*store.Account, error) {
	digest, err := internal.ParseOpaqueToken(strings.TrimSpace(plain))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	acct, err := e.accounts.ConsumeToken(ctx, kind, digest, e.clock(), apply)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, e.unavailable(ctx, "consume_"+string(kind), err)
	}
	return acct, nil
}
