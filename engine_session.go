package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/session"
	"github.com/MrEthical07/goGuard/store"
)

func (e *Engine) issueSession(acct *store.Account) (string, error) {
	id, err := internal.NewSessionID()
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	token, err := e.codec.Issue(session.Session{
		ID:            id,
		AccountID:     acct.ID,
		Email:         acct.Email,
		LastValidated: e.clock(),
	})
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	e.metricInc(MetricSessionIssued)
	return token, nil
}

// ValidateSession verifies a session token.
//
// Sessions validated within Session.RevalidateAfter are accepted as they
// are. Older ones are checked against the store: if the account is gone
// the session is marked invalid, logged as SESSION_INVALIDATED, and the
// re-signed invalid token is returned along with ErrSessionInvalid; if it
// still exists a refreshed token carrying the current email is returned. A
// store outage returns ErrUnavailable and leaves the session untouched.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricSessionValidateLatency, start)

	s, err := e.codec.Parse(token)
	if err != nil || s.Invalid {
		return nil, ErrSessionInvalid
	}

	now := e.clock()
	if now.Sub(s.LastValidated) <= e.config.Session.RevalidateAfter {
		return sessionInfo(s, token, false), nil
	}

	acct, err := e.accounts.FindByID(ctx, s.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		s.Invalid = true
		invalid, signErr := e.codec.Issue(*s)
		if signErr != nil {
			e.log.WithError(signErr).Warn("re-sign invalid session failed")
		}
		e.emit(ctx, store.AuditEvent{
			AccountID: s.AccountID,
			Email:     s.Email,
			Kind:      store.EventSessionInvalidated,
			Reason:    store.ReasonAccountNotFound,
		})
		e.metricInc(MetricSessionInvalidated)
		return sessionInfo(s, invalid, true), ErrSessionInvalid
	}
	if err != nil {
		return nil, e.unavailable(ctx, "session_revalidate", err)
	}

	s.Email = acct.Email
	s.LastValidated = now
	refreshed, err := e.codec.Issue(*s)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	e.metricInc(MetricSessionRevalidated)
	return sessionInfo(s, refreshed, true), nil
}

func sessionInfo(s *session.Session, token string, refreshed bool) *SessionInfo {
	return &SessionInfo{
		AccountID: s.AccountID,
		Email:     s.Email,
		Token:     token,
		Refreshed: refreshed,
		ExpiresAt: s.ExpiresAt,
	}
}

// Logout records the end of a session. Session tokens are stateless, so the
// client must discard the token.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	s, err := e.codec.Parse(token)
	if err != nil {
		return ErrSessionInvalid
	}
	e.emit(ctx, store.AuditEvent{
		AccountID: s.AccountID,
		Email:     s.Email,
		Kind:      store.EventLogout,
		Success:   true,
	})
	e.metricInc(MetricLogout)
	return nil
}
