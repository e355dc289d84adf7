package gormstore

import (
	"time"

	"github.com/MrEthical07/goGuard/store"
)

type accountRow struct {
	ID              string `gorm:"primaryKey"`
	Email           string `gorm:"uniqueIndex;not null"`
	Name            string `gorm:"not null;default:''"`
	Image           string `gorm:"not null;default:''"`
	PasswordHash    string `gorm:"not null;default:''"`
	Plan            string `gorm:"not null;default:'FREE'"`
	EmailVerifiedAt *time.Time

	FailedAttempts int  `gorm:"not null;default:0"`
	IsLocked       bool `gorm:"not null;default:false"`
	LockoutUntil   *time.Time
	LockManual     bool `gorm:"not null;default:false"`
	LastLoginAt    *time.Time
	LastLoginIP    string `gorm:"column:last_login_ip;not null;default:''"`

	TwoFactorEnabled bool     `gorm:"not null;default:false"`
	TwoFactorSecret  string   `gorm:"not null;default:''"`
	BackupCodes      []string `gorm:"type:text;serializer:json"`

	PasswordResetToken      string `gorm:"index;not null;default:''"`
	PasswordResetExpiry     *time.Time
	EmailVerificationToken  string `gorm:"index;not null;default:''"`
	EmailVerificationExpiry *time.Time
	MagicLinkToken          string `gorm:"index;not null;default:''"`
	MagicLinkExpiry         *time.Time

	Version   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (accountRow) TableName() string { return "goguard_accounts" }

type eventRow struct {
	Seq       int64             `gorm:"primaryKey;autoIncrement"`
	ID        string            `gorm:"column:id;uniqueIndex;not null"`
	AccountID string            `gorm:"index:idx_goguard_events_account,priority:1;not null;default:''"`
	Email     string            `gorm:"index:idx_goguard_events_email_kind,priority:1;not null;default:''"`
	Kind      string            `gorm:"index:idx_goguard_events_email_kind,priority:2;not null"`
	Success   bool              `gorm:"not null;default:false"`
	Reason    string            `gorm:"not null;default:''"`
	IP        string            `gorm:"column:ip;index:idx_goguard_events_ip,priority:1;not null;default:''"`
	UserAgent string            `gorm:"not null;default:''"`
	Details   map[string]string `gorm:"type:text;serializer:json"`
	CreatedAt time.Time         `gorm:"index;index:idx_goguard_events_account,priority:2;index:idx_goguard_events_ip,priority:2;not null;autoCreateTime:false"`
}

func (eventRow) TableName() string { return "goguard_audit_events" }

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toAccountRow(a *store.Account) *accountRow {
	plan := string(a.Plan)
	if plan == "" {
		plan = string(store.PlanFree)
	}
	return &accountRow{
		ID:                      a.ID,
		Email:                   a.Email,
		Name:                    a.Name,
		Image:                   a.Image,
		PasswordHash:            a.PasswordHash,
		Plan:                    plan,
		EmailVerifiedAt:         a.EmailVerifiedAt,
		FailedAttempts:          a.FailedAttempts,
		IsLocked:                a.IsLocked,
		LockoutUntil:            a.LockoutUntil,
		LockManual:              a.LockManual,
		LastLoginAt:             a.LastLoginAt,
		LastLoginIP:             a.LastLoginIP,
		TwoFactorEnabled:        a.TwoFactorEnabled,
		TwoFactorSecret:         a.TwoFactorSecret,
		BackupCodes:             a.BackupCodes,
		PasswordResetToken:      a.PasswordResetToken,
		PasswordResetExpiry:     a.PasswordResetExpiry,
		EmailVerificationToken:  a.EmailVerificationToken,
		EmailVerificationExpiry: a.EmailVerificationExpiry,
		MagicLinkToken:          a.MagicLinkToken,
		MagicLinkExpiry:         a.MagicLinkExpiry,
		Version:                 a.Version,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func (r *accountRow) toAccount() *store.Account {
	a := &store.Account{
		ID:                      r.ID,
		Email:                   r.Email,
		Name:                    r.Name,
		Image:                   r.Image,
		PasswordHash:            r.PasswordHash,
		Plan:                    store.PlanTier(r.Plan),
		EmailVerifiedAt:         utc(r.EmailVerifiedAt),
		FailedAttempts:          r.FailedAttempts,
		IsLocked:                r.IsLocked,
		LockoutUntil:            utc(r.LockoutUntil),
		LockManual:              r.LockManual,
		LastLoginAt:             utc(r.LastLoginAt),
		LastLoginIP:             r.LastLoginIP,
		TwoFactorEnabled:        r.TwoFactorEnabled,
		TwoFactorSecret:         r.TwoFactorSecret,
		PasswordResetToken:      r.PasswordResetToken,
		PasswordResetExpiry:     utc(r.PasswordResetExpiry),
		EmailVerificationToken:  r.EmailVerificationToken,
		EmailVerificationExpiry: utc(r.EmailVerificationExpiry),
		MagicLinkToken:          r.MagicLinkToken,
		MagicLinkExpiry:         utc(r.MagicLinkExpiry),
		Version:                 r.Version,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	if len(r.BackupCodes) > 0 {
		a.BackupCodes = append([]string(nil), r.BackupCodes...)
	}
	return a
}

func toEventRow(ev *store.AuditEvent) *eventRow {
	return &eventRow{
		ID:        ev.ID,
		AccountID: ev.AccountID,
		Email:     ev.Email,
		Kind:      string(ev.Kind),
		Success:   ev.Success,
		Reason:    ev.Reason,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Details:   ev.Details,
		CreatedAt: ev.CreatedAt,
	}
}

func (r *eventRow) toEvent() store.AuditEvent {
	return store.AuditEvent{
		ID:        r.ID,
		AccountID: r.AccountID,
		Email:     r.Email,
		Kind:      store.EventKind(r.Kind),
		Success:   r.Success,
		Reason:    r.Reason,
		IP:        r.IP,
		UserAgent: r.UserAgent,
		Details:   r.Details,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
