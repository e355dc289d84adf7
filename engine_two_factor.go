package goGuard

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGuard/internal/twofactor"
	"github.com/MrEthical07/goGuard/store"
)

// BeginTwoFactorSetup creates a pending TOTP secret for the account and
// returns it with its otpauth URI and a QR code. Two-factor stays disabled
// until EnableTwoFactor confirms a code. Calling it again replaces the
// pending secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, e.accountError(ctx, "two_factor_setup", err)
	}
	if acct.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	setup, err := e.totp.Generate(acct.Email)
	if err != nil {
		return nil, err
	}
	_, err = e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		if a.TwoFactorEnabled {
			return ErrTwoFactorAlreadyEnabled
		}
		a.TwoFactorSecret = setup.Secret
		return nil
	})
	if errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		return nil, err
	}
	if err != nil {
		return nil, e.accountError(ctx, "two_factor_setup", err)
	}
	return &TwoFactorSetup{Secret: setup.Secret, URI: setup.URI, QRPNG: setup.QRPNG}, nil
}

// EnableTwoFactor confirms the pending secret with a current code and
// returns ten backup codes. The plain codes are not stored and cannot be
// shown again.
func (e *Engine) EnableTwoFactor(ctx context.Context, accountID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, e.accountError(ctx, "two_factor_enable", err)
	}
	if acct.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if acct.TwoFactorSecret == "" {
		return nil, ErrTwoFactorSetupRequired
	}
	ok, err := e.totp.Validate(acct.TwoFactorSecret, code, e.clock())
	if err != nil || !ok {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrTwoFactorInvalid
	}

	codes, err := twofactor.GenerateBackupCodes(acct.ID)
	if err != nil {
		return nil, err
	}
	secret := acct.TwoFactorSecret
	updated, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		switch {
		case a.TwoFactorEnabled:
			return ErrTwoFactorAlreadyEnabled
		case a.TwoFactorSecret != secret:
			// A newer setup replaced the secret the code was checked against.
			return ErrTwoFactorSetupRequired
		}
		a.TwoFactorEnabled = true
		a.BackupCodes = codes.Digests
		return nil
	})
	if errors.Is(err, ErrTwoFactorAlreadyEnabled) || errors.Is(err, ErrTwoFactorSetupRequired) {
		return nil, err
	}
	if err != nil {
		return nil, e.accountError(ctx, "two_factor_enable", err)
	}

	ev := accountEvent(updated, store.EventTwoFactorEnabled, true)
	ev.Details = details(store.DetailMethod, "totp")
	e.emit(ctx, ev)
	e.metricInc(MetricTwoFactorEnabled)
	return codes.Plain, nil
}

// DisableTwoFactor turns two-factor off after checking a TOTP or backup
// code, and removes the secret and all backup codes.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	acct, err := e.requireTwoFactor(ctx, accountID, code, "two_factor_disable")
	if err != nil {
		return err
	}

	updated, err := e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		a.TwoFactorEnabled = false
		a.TwoFactorSecret = ""
		a.BackupCodes = nil
		return nil
	})
	if err != nil {
		return e.accountError(ctx, "two_factor_disable", err)
	}

	e.emit(ctx, accountEvent(updated, store.EventTwoFactorDisabled, true))
	e.metricInc(MetricTwoFactorDisabled)
	return nil
}

// RegenerateBackupCodes replaces every backup code after checking a TOTP or
// backup code.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.requireTwoFactor(ctx, accountID, code, "backup_codes_regenerate")
	if err != nil {
		return nil, err
	}

	codes, err := twofactor.GenerateBackupCodes(acct.ID)
	if err != nil {
		return nil, err
	}
	updated, err := e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		if !a.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		a.BackupCodes = codes.Digests
		return nil
	})
	if errors.Is(err, ErrTwoFactorNotEnabled) {
		return nil, err
	}
	if err != nil {
		return nil, e.accountError(ctx, "backup_codes_regenerate", err)
	}

	e.emit(ctx, accountEvent(updated, store.EventBackupCodesRegenerated, true))
	e.metricInc(MetricBackupCodesRegenerated)
	return codes.Plain, nil
}

// BackupCodesRemaining reports how many unused backup codes the account has.
func (e *Engine) BackupCodesRemaining(ctx context.Context, accountID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return 0, e.accountError(ctx, "backup_codes_remaining", err)
	}
	if !acct.TwoFactorEnabled {
		return 0, ErrTwoFactorNotEnabled
	}
	return len(acct.BackupCodes), nil
}

// requireTwoFactor loads an account with two-factor enabled and checks code
// the same way sign-in does.
func (e *Engine) requireTwoFactor(ctx context.Context, accountID, code, op string) (*store.Account, error) {
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, e.accountError(ctx, op, err)
	}
	if !acct.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	method, err := e.verifySecondFactor(ctx, acct, code)
	if err != nil {
		return nil, err
	}
	if method == "" {
		return nil, ErrTwoFactorInvalid
	}
	return acct, nil
}
