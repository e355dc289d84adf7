// Package gormstore implements store.Store for PostgreSQL on GORM.
//
// Tables are created with AutoMigrate. Token consumption locks the account
// row with SELECT ... FOR UPDATE inside a transaction, so concurrent
// consumers of the same token serialize on the row and only the first one
// sees it.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config describes a PostgreSQL connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Debug logs every statement through GORM's logger.
	Debug bool
}

// Store is a store.Store backed by GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gormstore: ping: %w", err)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and migrates the schema. The handle should
// be opened with TranslateError so duplicate keys map to store.ErrDuplicate.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&accountRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the GORM handle.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	}
	return err
}

var errMissingID = errors.New("gormstore: account id required")

func (s *Store) CreateAccount(ctx context.Context, account *store.Account) error {
	if account.ID == "" {
		return errMissingID
	}
	now := time.Now().UTC()
	account.Email = store.NormalizeEmail(account.Email)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	account.Version = 1

	if err := s.db.WithContext(ctx).Create(toAccountRow(account)).Error; err != nil {
		account.Version = 0
		return translate(err)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, query any, args ...any) (*store.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.toAccount(), nil
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (*store.Account, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	return s.findOne(ctx, "email = ?", store.NormalizeEmail(email))
}

func tokenQuery(kind store.TokenKind) (string, error) {
	switch kind {
	case store.TokenPasswordReset:
		return "password_reset_token = ? AND password_reset_expiry > ?", nil
	case store.TokenEmailVerification:
		return "email_verification_token = ? AND email_verification_expiry > ?", nil
	case store.TokenMagicLink:
		return "magic_link_token = ? AND magic_link_expiry > ?", nil
	}
	return "", fmt.Errorf("gormstore: unknown token kind %q", kind)
}

func (s *Store) FindAccountByToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time) (*store.Account, error) {
	if digest == "" {
		return nil, store.ErrNotFound
	}
	q, err := tokenQuery(kind)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, q, digest, now)
}

// save writes row when the stored version still equals expect.
func save(tx *gorm.DB, row *accountRow, expect int64) (bool, error) {
	row.Version = expect + 1
	res := tx.Model(row).Select("*").Omit("created_at").Where("version = ?", expect).Updates(row)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *store.Account) error {
	account.Email = store.NormalizeEmail(account.Email)
	row := toAccountRow(account)
	row.UpdatedAt = time.Now().UTC()

	ok, err := save(s.db.WithContext(ctx), row, account.Version)
	if err != nil {
		return err
	}
	if !ok {
		var n int64
		if err := s.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", account.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	account.Version = row.Version
	account.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *Store) ConsumeToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time, apply func(*store.Account)) (*store.Account, error) {
	if digest == "" {
		return nil, store.ErrNotFound
	}
	q, err := tokenQuery(kind)
	if err != nil {
		return nil, err
	}

	var out *store.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row accountRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(q, digest, now).First(&row).Error; err != nil {
			return translate(err)
		}

		current := row.toAccount()
		next := current.Clone()
		next.ClearToken(kind)
		if apply != nil {
			apply(next)
		}
		next.Email = current.Email

		nextRow := toAccountRow(next)
		nextRow.UpdatedAt = time.Now().UTC()
		ok, err := save(tx, nextRow, current.Version)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrConflict
		}
		next.Version = nextRow.Version
		next.UpdatedAt = nextRow.UpdatedAt
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func filtered(db *gorm.DB, f store.EventFilter) *gorm.DB {
	q := db.Model(&eventRow{})
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Email != "" {
		q = q.Where("email = ?", f.Email)
	}
	if f.IP != "" {
		q = q.Where("ip = ?", f.IP)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind IN ?", kinds)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at <= ?", f.Until)
	}
	if f.ExcludeReason != "" {
		q = q.Where("reason <> ?", f.ExcludeReason)
	}
	return q
}

func (s *Store) InsertEvent(ctx context.Context, event *store.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return translate(s.db.WithContext(ctx).Create(toEventRow(event)).Error)
}

func (s *Store) CountEvents(ctx context.Context, filter store.EventFilter) (int, error) {
	var n int64
	if err := filtered(s.db.WithContext(ctx), filter).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) FindEvents(ctx context.Context, filter store.EventFilter, page store.Page) ([]store.AuditEvent, error) {
	q := filtered(s.db.WithContext(ctx), filter)
	if page.OldestFirst {
		q = q.Order("created_at ASC").Order("seq ASC")
	} else {
		q = q.Order("created_at DESC").Order("seq DESC")
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}

	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.AuditEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEvent())
	}
	return out, nil
}

func (s *Store) CountDistinctIPs(ctx context.Context, filter store.EventFilter) (int, error) {
	var n int64
	err := filtered(s.db.WithContext(ctx), filter).Where("ip NOT IN ?", []string{"", store.UnknownIP}).Distinct("ip").Count(&n).Error
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) ActivityByIP(ctx context.Context, filter store.EventFilter) ([]store.IPActivity, error) {
	out := make([]store.IPActivity, 0)
	err := filtered(s.db.WithContext(ctx), filter).
		Select("ip, COUNT(*) AS attempts, SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures").
		Where("ip NOT IN ?", []string{"", store.UnknownIP}).
		Group("ip").
		Order("ip").
		Scan(&out).Error
	return out, err
}

func (s *Store) IPSpreadByAccount(ctx context.Context, filter store.EventFilter) ([]store.AccountIPSpread, error) {
	out := make([]store.AccountIPSpread, 0)
	err := filtered(s.db.WithContext(ctx), filter).
		Select("account_id, COUNT(DISTINCT ip) AS distinct_ips").
		Where("account_id <> '' AND ip NOT IN ?", []string{"", store.UnknownIP}).
		Group("account_id").
		Order("account_id").
		Scan(&out).Error
	return out, err
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&eventRow{})
	return res.RowsAffected, res.Error
}

var _ store.Store = (*Store)(nil)
