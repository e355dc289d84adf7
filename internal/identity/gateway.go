// Package identity is the retrying gateway between the engine and the
// account store.
//
// Every store call runs under a bounded retry with linear backoff. Lookups
// that legitimately find nothing, unique-key violations, lost conditional
// updates and cancelled contexts are returned immediately.
package identity

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

const maxConflictRetries = 5

// ErrNoChange may be returned by a Mutate callback to skip the write.
var ErrNoChange = errors.New("identity: no change")

// RetryPolicy bounds how store calls are retried.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

// DefaultRetryPolicy is 3 attempts waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Second}
}

// linearBackOff waits initial, 2*initial, 3*initial...
type linearBackOff struct {
	initial time.Duration
	n       int64
}

func (b *linearBackOff) Reset() { b.n = 0 }

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.initial
}

// Gateway wraps a store.AccountStore with email normalization and retry.
type Gateway struct {
	accounts store.AccountStore
	policy   RetryPolicy
	log      logrus.FieldLogger
}

// New returns a Gateway. A nil logger discards retry notices.
func New(accounts store.AccountStore, policy RetryPolicy, log logrus.FieldLogger) *Gateway {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Gateway{accounts: accounts, policy: policy, log: log}
}

func isPermanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func retry[T any](ctx context.Context, g *Gateway, op string, fn func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(&linearBackOff{initial: g.policy.Initial}),
		backoff.WithMaxTries(uint(g.policy.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.log.WithError(err).WithFields(logrus.Fields{
				"op":       op,
				"retry_in": next.String(),
			}).Warn("identity store call failed, retrying")
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return res, err
}

func (g *Gateway) FindByID(ctx context.Context, id string) (*store.Account, error) {
	return retry(ctx, g, "find_by_id", func() (*store.Account, error) {
		return g.accounts.FindAccountByID(ctx, id)
	})
}

func (g *Gateway) FindByEmail(ctx context.Context, email string) (*store.Account, error) {
	email = store.NormalizeEmail(email)
	return retry(ctx, g, "find_by_email", func() (*store.Account, error) {
		return g.accounts.FindAccountByEmail(ctx, email)
	})
}

func (g *Gateway) FindByToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time) (*store.Account, error) {
	return retry(ctx, g, "find_by_token", func() (*store.Account, error) {
		return g.accounts.FindAccountByToken(ctx, kind, digest, now)
	})
}

func (g *Gateway) Create(ctx context.Context, account *store.Account) error {
	account.Email = store.NormalizeEmail(account.Email)
	_, err := retry(ctx, g, "create", func() (struct{}, error) {
		return struct{}{}, g.accounts.CreateAccount(ctx, account)
	})
	return err
}

// Update is a single conditional write. Callers that want conflict retry
// use Mutate.
func (g *Gateway) Update(ctx context.Context, account *store.Account) error {
	_, err := retry(ctx, g, "update", func() (struct{}, error) {
		// Work on a copy so a failed attempt cannot leave a half-advanced
		// version on the caller's struct.
		cp := account.Clone()
		if err := g.accounts.UpdateAccount(ctx, cp); err != nil {
			return struct{}{}, err
		}
		*account = *cp
		return struct{}{}, nil
	})
	return err
}

// ConsumeToken atomically clears a live token and applies apply in the
// same write.
func (g *Gateway) ConsumeToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time, apply func(*store.Account)) (*store.Account, error) {
	return retry(ctx, g, "consume_token", func() (*store.Account, error) {
		return g.accounts.ConsumeToken(ctx, kind, digest, now, apply)
	})
}

// Mutate loads the account, applies fn and writes it back conditionally,
// starting over when another writer got there first. fn may run more than
// once and must not have side effects beyond the account.
func (g *Gateway) Mutate(ctx context.Context, id string, fn func(*store.Account) error) (*store.Account, error) {
	var lastErr error
	for i := 0; i < maxConflictRetries; i++ {
		acct, err := g.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(acct); err != nil {
			if errors.Is(err, ErrNoChange) {
				return acct, nil
			}
			return nil, err
		}
		err = g.Update(ctx, acct)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
