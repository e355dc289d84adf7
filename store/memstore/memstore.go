// Package memstore is an in-memory implementation of store.Store.
//
// All state lives behind one RWMutex, which makes ConsumeToken and the
// conditional UpdateAccount trivially atomic. It is meant for tests, local
// development and single-process tools; data does not survive a restart.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

var errMissingID = errors.New("memstore: account id required")

// Store keeps accounts and events in process memory.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*store.Account
	byEmail  map[string]string
	events   []store.AuditEvent

	// failNext makes the next N calls fail, to exercise retry paths.
	failNext int
	failErr  error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*store.Account),
		byEmail:  make(map[string]string),
	}
}

// FailNext makes the next n store calls return err. Used to simulate
// transient outages.
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

func (s *Store) injected() error {
	if s.failNext > 0 {
		s.failNext--
		return s.failErr
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateAccount(ctx context.Context, account *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}
	if account.ID == "" {
		return errMissingID
	}
	email := store.NormalizeEmail(account.Email)
	if _, ok := s.byEmail[email]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.accounts[account.ID]; ok {
		return store.ErrDuplicate
	}

	now := time.Now().UTC()
	account.Email = email
	account.Version = 1
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	s.accounts[account.ID] = account.Clone()
	s.byEmail[email] = account.ID
	return nil
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	acct, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return acct.Clone(), nil
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	id, ok := s.byEmail[store.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *Store) FindAccountByToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	if acct := s.findByTokenLocked(kind, digest, now); acct != nil {
		return acct.Clone(), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateAccount(ctx context.Context, account *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}
	current, ok := s.accounts[account.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != account.Version {
		return store.ErrConflict
	}
	email := store.NormalizeEmail(account.Email)
	if email != current.Email {
		if _, taken := s.byEmail[email]; taken {
			return store.ErrDuplicate
		}
		delete(s.byEmail, current.Email)
		s.byEmail[email] = account.ID
	}

	account.Email = email
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *Store) ConsumeToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time, apply func(*store.Account)) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	current := s.findByTokenLocked(kind, digest, now)
	if current == nil {
		return nil, store.ErrNotFound
	}

	next := current.Clone()
	next.ClearToken(kind)
	if apply != nil {
		apply(next)
	}
	next.Email = current.Email
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.accounts[next.ID] = next.Clone()
	return next, nil
}

func (s *Store) findByTokenLocked(kind store.TokenKind, digest string, now time.Time) *store.Account {
	if digest == "" {
		return nil
	}
	for _, acct := range s.accounts {
		if acct.TokenMatches(kind, digest, now) {
			return acct
		}
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, event *store.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}
	ev := *event
	if event.Details != nil {
		ev.Details = make(map[string]string, len(event.Details))
		for k, v := range event.Details {
			ev.Details[k] = v
		}
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) CountEvents(ctx context.Context, filter store.EventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.events {
		if filter.Match(&s.events[i]) {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindEvents(ctx context.Context, filter store.EventFilter, page store.Page) ([]store.AuditEvent, error) {
	s.mu.RLock()
	matched := make([]store.AuditEvent, 0)
	for i := range s.events {
		if filter.Match(&s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}
	s.mu.RUnlock()

	// Insertion order breaks timestamp ties.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if !page.OldestFirst {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return []store.AuditEvent{}, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

func (s *Store) CountDistinctIPs(ctx context.Context, filter store.EventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for i := range s.events {
		ev := &s.events[i]
		if !store.CountableIP(ev.IP) || !filter.Match(ev) {
			continue
		}
		seen[ev.IP] = struct{}{}
	}
	return len(seen), nil
}

func (s *Store) ActivityByIP(ctx context.Context, filter store.EventFilter) ([]store.IPActivity, error) {
	s.mu.RLock()
	byIP := make(map[string]*store.IPActivity)
	for i := range s.events {
		ev := &s.events[i]
		if !store.CountableIP(ev.IP) || !filter.Match(ev) {
			continue
		}
		a, ok := byIP[ev.IP]
		if !ok {
			a = &store.IPActivity{IP: ev.IP}
			byIP[ev.IP] = a
		}
		a.Attempts++
		if !ev.Success {
			a.Failures++
		}
	}
	s.mu.RUnlock()

	out := make([]store.IPActivity, 0, len(byIP))
	for _, a := range byIP {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func (s *Store) IPSpreadByAccount(ctx context.Context, filter store.EventFilter) ([]store.AccountIPSpread, error) {
	s.mu.RLock()
	byAccount := make(map[string]map[string]struct{})
	for i := range s.events {
		ev := &s.events[i]
		if ev.AccountID == "" || !store.CountableIP(ev.IP) || !filter.Match(ev) {
			continue
		}
		ips, ok := byAccount[ev.AccountID]
		if !ok {
			ips = make(map[string]struct{})
			byAccount[ev.AccountID] = ips
		}
		ips[ev.IP] = struct{}{}
	}
	s.mu.RUnlock()

	out := make([]store.AccountIPSpread, 0, len(byAccount))
	for id, ips := range byAccount {
		out = append(out, store.AccountIPSpread{AccountID: id, DistinctIPs: len(ips)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

var _ store.Store = (*Store)(nil)
