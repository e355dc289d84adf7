package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

const accountColumns = `id, email, name, image, password_hash, plan, email_verified_at,
	failed_attempts, is_locked, lockout_until, lock_manual, last_login_at, last_login_ip,
	two_factor_enabled, two_factor_secret, backup_codes,
	password_reset_token, password_reset_expiry,
	email_verification_token, email_verification_expiry,
	magic_link_token, magic_link_expiry,
	version, created_at, updated_at`

// maxConsumeAttempts bounds the optimistic retry loop in ConsumeToken when
// unrelated writes keep bumping the version.
const maxConsumeAttempts = 5

var errMissingID = errors.New("sqlstore: account id required")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var (
		a                                      store.Account
		plan, backupCodes                      string
		verifiedAt, lockoutUntil, lastLoginAt  sql.NullInt64
		resetExpiry, verifyExpiry, magicExpiry sql.NullInt64
		createdAt, updatedAt                   int64
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.Image, &a.PasswordHash, &plan, &verifiedAt,
		&a.FailedAttempts, &a.IsLocked, &lockoutUntil, &a.LockManual, &lastLoginAt, &a.LastLoginIP,
		&a.TwoFactorEnabled, &a.TwoFactorSecret, &backupCodes,
		&a.PasswordResetToken, &resetExpiry,
		&a.EmailVerificationToken, &verifyExpiry,
		&a.MagicLinkToken, &magicExpiry,
		&a.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Plan = store.PlanTier(plan)
	a.EmailVerifiedAt = fromNullNanos(verifiedAt)
	a.LockoutUntil = fromNullNanos(lockoutUntil)
	a.LastLoginAt = fromNullNanos(lastLoginAt)
	a.PasswordResetExpiry = fromNullNanos(resetExpiry)
	a.EmailVerificationExpiry = fromNullNanos(verifyExpiry)
	a.MagicLinkExpiry = fromNullNanos(magicExpiry)
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)
	if backupCodes != "" {
		if err := json.Unmarshal([]byte(backupCodes), &a.BackupCodes); err != nil {
			return nil, fmt.Errorf("sqlstore: decode backup codes: %w", err)
		}
	}
	if len(a.BackupCodes) == 0 {
		a.BackupCodes = nil
	}
	return &a, nil
}

func encodeCodes(codes []string) (string, error) {
	if len(codes) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// mutableArgs returns every column value except id, version and created_at,
// in the order used by both INSERT and UPDATE.
func mutableArgs(a *store.Account) ([]any, error) {
	codes, err := encodeCodes(a.BackupCodes)
	if err != nil {
		return nil, err
	}
	plan := a.Plan
	if plan == "" {
		plan = store.PlanFree
	}
	return []any{
		a.Email, a.Name, a.Image, a.PasswordHash, string(plan), nullNanos(a.EmailVerifiedAt),
		a.FailedAttempts, a.IsLocked, nullNanos(a.LockoutUntil), a.LockManual, nullNanos(a.LastLoginAt), a.LastLoginIP,
		a.TwoFactorEnabled, a.TwoFactorSecret, codes,
		a.PasswordResetToken, nullNanos(a.PasswordResetExpiry),
		a.EmailVerificationToken, nullNanos(a.EmailVerificationExpiry),
		a.MagicLinkToken, nullNanos(a.MagicLinkExpiry),
	}, nil
}

const updateAssignments = `email = ?, name = ?, image = ?, password_hash = ?, plan = ?, email_verified_at = ?,
	failed_attempts = ?, is_locked = ?, lockout_until = ?, lock_manual = ?, last_login_at = ?, last_login_ip = ?,
	two_factor_enabled = ?, two_factor_secret = ?, backup_codes = ?,
	password_reset_token = ?, password_reset_expiry = ?,
	email_verification_token = ?, email_verification_expiry = ?,
	magic_link_token = ?, magic_link_expiry = ?,
	version = version + 1, updated_at = ?`

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

	args, err := mutableArgs(account)
	if err != nil {
		return err
	}
	query := `INSERT INTO gg_accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	full := make([]any, 0, len(args)+4)
	full = append(full, account.ID)
	full = append(full, args...)
	full = append(full, int64(1), nanos(account.CreatedAt), nanos(account.UpdatedAt))

	if _, err := s.db.ExecContext(ctx, s.rebind(query), full...); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("sqlstore: create account: %w", err)
	}
	account.Version = 1
	return nil
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (*store.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM gg_accounts WHERE id = ?`), id)
	return scanAccount(row)
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM gg_accounts WHERE email = ?`),
		store.NormalizeEmail(email))
	return scanAccount(row)
}

func tokenColumns(kind store.TokenKind) (digest, expiry string, err error) {
	switch kind {
	case store.TokenPasswordReset:
		return "password_reset_token", "password_reset_expiry", nil
	case store.TokenEmailVerification:
		return "email_verification_token", "email_verification_expiry", nil
	case store.TokenMagicLink:
		return "magic_link_token", "magic_link_expiry", nil
	}
	return "", "", fmt.Errorf("sqlstore: unknown token kind %q", kind)
}

func (s *Store) FindAccountByToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time) (*store.Account, error) {
	if digest == "" {
		return nil, store.ErrNotFound
	}
	tokCol, expCol, err := tokenColumns(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + accountColumns + ` FROM gg_accounts WHERE ` + tokCol + ` = ? AND ` + expCol + ` > ?`
	return scanAccount(s.db.QueryRowContext(ctx, s.rebind(query), digest, nanos(now)))
}

// write runs the conditional UPDATE for next and reports whether a row
// matched. cond is appended to the WHERE clause after the version check.
func (s *Store) write(ctx context.Context, next *store.Account, expectVersion int64, updatedAt time.Time, cond string, condArgs ...any) (bool, error) {
	args, err := mutableArgs(next)
	if err != nil {
		return false, err
	}
	args = append(args, nanos(updatedAt), next.ID, expectVersion)
	args = append(args, condArgs...)

	query := `UPDATE gg_accounts SET ` + updateAssignments + ` WHERE id = ? AND version = ?` + cond
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, store.ErrDuplicate
		}
		return false, fmt.Errorf("sqlstore: update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *store.Account) error {
	account.Email = store.NormalizeEmail(account.Email)
	now := time.Now().UTC()
	ok, err := s.write(ctx, account, account.Version, now, "")
	if err != nil {
		return err
	}
	if !ok {
		var one int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM gg_accounts WHERE id = ?`), account.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrConflict
	}
	account.Version++
	account.UpdatedAt = now
	return nil
}

func (s *Store) ConsumeToken(ctx context.Context, kind store.TokenKind, digest string, now time.Time, apply func(*store.Account)) (*store.Account, error) {
	tokCol, _, err := tokenColumns(kind)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		current, err := s.FindAccountByToken(ctx, kind, digest, now)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		next.ClearToken(kind)
		if apply != nil {
			apply(next)
		}
		next.Email = current.Email

		updatedAt := time.Now().UTC()
		ok, err := s.write(ctx, next, current.Version, updatedAt, ` AND `+tokCol+` = ?`, digest)
		if err != nil {
			return nil, err
		}
		if ok {
			next.Version = current.Version + 1
			next.UpdatedAt = updatedAt
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, store.ErrConflict
}
