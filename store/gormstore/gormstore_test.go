package gormstore

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), store.ErrNotFound)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), store.ErrDuplicate)

	other := errors.New("connection refused")
	assert.Equal(t, other, translate(other))
}

func TestRowConversionKeepsFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := &store.Account{
		ID:               "a1",
		Email:            "row@example.com",
		EmailVerifiedAt:  &now,
		FailedAttempts:   3,
		TwoFactorEnabled: true,
		BackupCodes:      []string{"d1", "d2"},
		Version:          4,
		CreatedAt:        now,
	}
	acct.SetToken(store.TokenMagicLink, "digest", now.Add(15*time.Minute))

	row := toAccountRow(acct)
	assert.Equal(t, string(store.PlanFree), row.Plan, "empty plan defaults to FREE")

	back := row.toAccount()
	assert.Equal(t, acct.FailedAttempts, back.FailedAttempts)
	assert.Equal(t, acct.BackupCodes, back.BackupCodes)
	assert.True(t, back.TokenMatches(store.TokenMagicLink, "digest", now))
	assert.Equal(t, int64(4), back.Version)
}

func TestTokenQueryRejectsUnknownKind(t *testing.T) {
	_, err := tokenQuery("sms")
	assert.Error(t, err)
	q, err := tokenQuery(store.TokenPasswordReset)
	assert.NoError(t, err)
	assert.Contains(t, q, "password_reset_expiry > ?")
}
