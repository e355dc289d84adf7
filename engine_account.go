package goGuard

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/MrEthical07/goGuard/internal/identity"
	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
)

// Register creates a password account on the free plan and mails an email
// verification link. The password must be at least 8 bytes.
func (e *Engine) Register(ctx context.Context, email, password, name string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	email = store.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	hash, err := e.hashNewPassword(password)
	if err != nil {
		return nil, err
	}

	acct, err := e.createAccount(ctx, &store.Account{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
	}, "password", "")
	if err != nil {
		return nil, err
	}

	if _, err := e.RequestEmailVerification(ctx, email); err != nil {
		e.log.WithError(err).WithField("account_id", acct.ID).Warn("verification request after registration failed")
	}
	return acct, nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := netmail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (e *Engine) createAccount(ctx context.Context, acct *store.Account, method, provider string) (*Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("account id: %w", err)
	}
	acct.ID = id.String()
	if acct.Plan == "" {
		acct.Plan = store.PlanFree
	}

	if err := e.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			e.metricInc(MetricAccountDuplicate)
			return nil, ErrAccountExists
		}
		return nil, e.unavailable(ctx, "create_account", err)
	}

	ev := accountEvent(acct, store.EventAccountCreated, true)
	kv := []string{store.DetailMethod, method}
	if provider != "" {
		kv = append(kv, store.DetailProvider, provider)
	}
	ev.Details = details(kv...)
	e.emit(ctx, ev)
	e.metricInc(MetricAccountCreated)
	return acct, nil
}

// SignInFederated signs in with an identity asserted by an external
// provider, creating the account on first use. The password check and the
// failure counter do not apply since the provider has already authenticated
// the user. An administrative lock and two-factor still do.
//
// An existing account is only matched when fid.EmailVerified is set.
func (e *Engine) SignInFederated(ctx context.Context, fid FederatedIdentity) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	provider := strings.ToLower(strings.TrimSpace(fid.Provider))
	email := store.NormalizeEmail(fid.Email)
	if provider == "" || !validEmail(email) {
		return nil, ErrInvalidCredentials
	}
	method := "oauth:" + provider
	now := e.clock()

	acct, err := e.accounts.FindByEmail(ctx, email)
	if err == nil && !fid.EmailVerified {
		ev := accountEvent(acct, store.EventLoginFailed, false)
		ev.Reason = store.ReasonUnverifiedEmail
		ev.Details = details(store.DetailMethod, method)
		e.emit(ctx, ev)
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}
	if errors.Is(err, store.ErrNotFound) {
		fresh := &store.Account{Email: email, Name: fid.Name, Image: fid.Image}
		if fid.EmailVerified {
			fresh.EmailVerifiedAt = &now
		}
		acct, err = e.createAccount(ctx, fresh, method, provider)
		if errors.Is(err, ErrAccountExists) {
			// Lost a race with a concurrent first sign-in.
			if !fid.EmailVerified {
				return nil, ErrInvalidCredentials
			}
			acct, err = e.accounts.FindByEmail(ctx, email)
		}
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, e.unavailable(ctx, "federated_lookup", err)
	}

	if lockoutState(acct).ManuallyLocked(now) {
		return e.refuseLocked(ctx, acct, method), nil
	}
	if acct.TwoFactorEnabled {
		code := strings.TrimSpace(fid.SecondFactor)
		if code == "" {
			e.metricInc(MetricLoginTwoFactorRequired)
			return &LoginResult{Status: LoginTwoFactorRequired}, nil
		}
		used, err := e.verifySecondFactor(ctx, acct, code)
		if err != nil {
			return nil, err
		}
		if used == "" {
			return &LoginResult{Status: LoginTwoFactorInvalid}, nil
		}
	}

	acct, err = e.accounts.Mutate(ctx, acct.ID, func(a *store.Account) error {
		changed := false
		if a.Name == "" && fid.Name != "" {
			a.Name, changed = fid.Name, true
		}
		if a.Image == "" && fid.Image != "" {
			a.Image, changed = fid.Image, true
		}
		if a.EmailVerifiedAt == nil && fid.EmailVerified {
			a.EmailVerifiedAt, changed = &now, true
		}
		if !changed {
			return identity.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, e.unavailable(ctx, "federated_profile", err)
	}

	e.metricInc(MetricFederatedSignIn)
	return e.completeLogin(ctx, acct, method, "")
}

// ChangePassword replaces the password after checking the current one.
// Accounts without a password (federated-only) may set one directly.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return e.accountError(ctx, "change_password", err)
	}
	if acct.HasPassword() {
		ok, _ := e.hasher.Verify(current, acct.PasswordHash)
		if !ok {
			ev := accountEvent(acct, store.EventPasswordChange, false)
			ev.Reason = store.ReasonCurrentPasswordBad
			ev.Details = details(store.DetailMethod, "change")
			e.emit(ctx, ev)
			return ErrInvalidCredentials
		}
	}
	hash, err := e.hashNewPassword(next)
	if err != nil {
		return err
	}

	checked := acct.PasswordHash
	updated, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		if a.PasswordHash != checked {
			// Changed since the current password was verified.
			return ErrInvalidCredentials
		}
		a.PasswordHash = hash
		return nil
	})
	if errors.Is(err, ErrInvalidCredentials) {
		return err
	}
	if err != nil {
		return e.accountError(ctx, "change_password", err)
	}
	e.passwordChanged(ctx, updated, "change")
	return nil
}

// GetAccount returns the account record.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, e.accountError(ctx, "get_account", err)
	}
	return acct, nil
}

// SetPlan changes the subscription tier. The tier has no effect on any
// security decision.
func (e *Engine) SetPlan(ctx context.Context, accountID string, plan PlanTier) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !plan.Valid() {
		return ErrInvalidPlan
	}
	_, err := e.accounts.Mutate(ctx, accountID, func(a *store.Account) error {
		if a.Plan == plan {
			return identity.ErrNoChange
		}
		a.Plan = plan
		return nil
	})
	if err != nil {
		return e.accountError(ctx, "set_plan", err)
	}
	return nil
}
