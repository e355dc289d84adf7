package goGuard

import "errors"

var (
	// ErrUnavailable is returned when the store or limiter still fails after retries.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrInvalidCredentials is the generic sign-in failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned by LoginResult.Err for locked accounts.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is returned when an attempt window is full.
	ErrRateLimited = errors.New("too many attempts")
	// ErrAccountNotFound is returned by account-id based operations.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by Register for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidEmail is returned by Register for unparseable addresses.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrPasswordPolicy is returned for passwords shorter than the minimum.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidPlan is returned by SetPlan for unknown tiers.
	ErrInvalidPlan = errors.New("invalid plan tier")

	// ErrTokenInvalid covers unknown, expired and already used tokens alike.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrSessionInvalid is returned for sessions that must sign in again.
	ErrSessionInvalid = errors.New("session invalid")

	ErrTwoFactorRequired       = errors.New("two-factor code required")
	ErrTwoFactorInvalid        = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorSetupRequired is returned by EnableTwoFactor before BeginTwoFactorSetup.
	ErrTwoFactorSetupRequired = errors.New("two-factor setup not started")
)
