package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique key (email) already exists.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when a conditional update lost a race.
	ErrConflict = errors.New("store: version conflict")
)

// AccountStore persists Account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	FindAccountByID(ctx context.Context, id string) (*Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	// FindAccountByToken returns the account holding a live token of kind
	// with the given digest.
	FindAccountByToken(ctx context.Context, kind TokenKind, digest string, now time.Time) (*Account, error)
	// UpdateAccount writes account if the stored version equals
	// account.Version, then advances account.Version and UpdatedAt.
	UpdateAccount(ctx context.Context, account *Account) error
	// ConsumeToken atomically clears a live token of kind and applies apply
	// to the same record in one write. A second consumer gets ErrNotFound.
	ConsumeToken(ctx context.Context, kind TokenKind, digest string, now time.Time, apply func(*Account)) (*Account, error)
}

// AuditStore persists AuditEvent records and answers the counting queries
// used by rate limiting and analytics.
type AuditStore interface {
	InsertEvent(ctx context.Context, event *AuditEvent) error
	CountEvents(ctx context.Context, filter EventFilter) (int, error)
	FindEvents(ctx context.Context, filter EventFilter, page Page) ([]AuditEvent, error)
	CountDistinctIPs(ctx context.Context, filter EventFilter) (int, error)
	ActivityByIP(ctx context.Context, filter EventFilter) ([]IPActivity, error)
	IPSpreadByAccount(ctx context.Context, filter EventFilter) ([]AccountIPSpread, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full persistence surface. Every backend in this module
// implements it.
type Store interface {
	AccountStore
	AuditStore
	Close() error
}
