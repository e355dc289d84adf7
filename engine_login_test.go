package goGuard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"golang.org/x/crypto/bcrypt"
)

func relaxedLoginLimit(cfg *Config) {
	cfg.RateLimit.Login.Max = 100
}

func TestLoginSuccessIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "alice@example.com")

	ctx := WithClientIP(context.Background(), "198.51.100.7")
	res, err := env.engine.Login(ctx, LoginRequest{Email: "  Alice@Example.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginSucceeded {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if res.SessionToken == "" {
		t.Fatal("expected session token")
	}
	if res.Account == nil || res.Account.ID != acct.ID {
		t.Fatalf("unexpected account %+v", res.Account)
	}

	stored := env.account(t, acct.ID)
	if stored.LastLoginAt == nil {
		t.Fatal("expected LastLoginAt to be stamped")
	}
	if stored.LastLoginIP != "198.51.100.7" {
		t.Fatalf("expected LastLoginIP, got %q", stored.LastLoginIP)
	}
	if n := env.countEvents(t, store.EventLoginSuccess, acct.Email); n != 1 {
		t.Fatalf("expected 1 LOGIN_SUCCESS, got %d", n)
	}
}

func TestLoginEmptyInputIsGenericFailure(t *testing.T) {
	env := newTestEnv(t)

	res := env.login(t, "", "whatever", "")
	if res.Status != LoginInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %s", res.Status)
	}
	if len(env.events(t, store.EventFilter{})) != 0 {
		t.Fatal("empty input must not be audited")
	}
}

func TestLoginUnknownEmailMatchesWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "bob@example.com")

	unknown := env.login(t, "nobody@example.com", testPassword, "")
	wrong := env.login(t, "bob@example.com", "not-the-password", "")
	if unknown.Status != wrong.Status {
		t.Fatalf("unknown email (%s) must look like a wrong password (%s)", unknown.Status, wrong.Status)
	}
	if unknown.Err() != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", unknown.Err())
	}

	evs := env.events(t, store.EventFilter{Email: "nobody@example.com"})
	if len(evs) != 1 || evs[0].Reason != store.ReasonUnknownAccount || evs[0].AccountID != "" {
		t.Fatalf("unexpected events for unknown email: %+v", evs)
	}
}

func TestLoginUnknownAccountStillVerifiesAHash(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Password.Memory = 32 * 1024
		cfg.Password.Time = 2
	})
	env.register(t, "timing@example.com")

	ok, err := env.engine.hasher.Verify(dummyPassword, env.engine.dummyHash)
	if err != nil || !ok {
		t.Fatalf("dummy hash does not verify: %v, %v", ok, err)
	}
	if stale, err := env.engine.hasher.NeedsRehash(env.engine.dummyHash); err != nil || stale {
		t.Fatalf("dummy hash must use the configured parameters: stale=%v err=%v", stale, err)
	}

	fastest := func(email string) time.Duration {
		best := time.Duration(1<<63 - 1)
		for i := 0; i < 3; i++ {
			start := time.Now()
			env.login(t, email, "not-the-password", "")
			if d := time.Since(start); d < best {
				best = d
			}
		}
		return best
	}
	known := fastest("timing@example.com")
	unknown := fastest("nobody@example.com")
	if unknown < known/4 {
		t.Fatalf("unknown email answered in %v, wrong password in %v", unknown, known)
	}
}

func TestLoginLocksAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "carol@example.com")

	for i := 1; i <= 4; i++ {
		res := env.login(t, acct.Email, "bad-password", "")
		if res.Status != LoginInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %s", i, res.Status)
		}
	}
	if got := env.account(t, acct.ID).FailedAttempts; got != 4 {
		t.Fatalf("expected 4 failed attempts, got %d", got)
	}

	res := env.login(t, acct.Email, "bad-password", "")
	if res.Status != LoginLocked {
		t.Fatalf("fifth failure: expected locked, got %s", res.Status)
	}
	stored := env.account(t, acct.ID)
	if !stored.IsLocked || stored.LockoutUntil == nil {
		t.Fatalf("expected locked account, got %+v", stored)
	}
	want := env.clock.Now().Add(30 * time.Minute)
	if !stored.LockoutUntil.Equal(want) {
		t.Fatalf("LockoutUntil = %v, want %v", stored.LockoutUntil, want)
	}

	locked := env.events(t, store.EventFilter{Kinds: []store.EventKind{store.EventAccountLocked}})
	if len(locked) != 1 || locked[0].Details[store.DetailMethod] != "auto" {
		t.Fatalf("expected one automatic ACCOUNT_LOCKED, got %+v", locked)
	}

	// The email window is full straight after the fifth failure.
	if res := env.login(t, acct.Email, testPassword, ""); res.Status != LoginRateLimited {
		t.Fatalf("sixth attempt: expected rate limited, got %s", res.Status)
	}

	// The 15 minute window drains before the 30 minute lock does.
	env.clock.Advance(16 * time.Minute)
	res = env.login(t, acct.Email, testPassword, "")
	if res.Status != LoginLocked {
		t.Fatalf("correct password while locked: expected locked, got %s", res.Status)
	}
}

func TestLoginLockExpiresAutomatically(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "dave@example.com")

	for i := 0; i < 5; i++ {
		env.login(t, acct.Email, "bad-password", "")
	}
	env.clock.Advance(29 * time.Minute)
	if res := env.login(t, acct.Email, testPassword, ""); res.Status != LoginLocked {
		t.Fatalf("expected lock to hold at 29m, got %s", res.Status)
	}

	env.clock.Advance(2 * time.Minute)
	res := env.login(t, acct.Email, testPassword, "")
	if res.Status != LoginSucceeded {
		t.Fatalf("expected success after lock period, got %s", res.Status)
	}
	stored := env.account(t, acct.ID)
	if stored.IsLocked || stored.FailedAttempts != 0 || stored.LockoutUntil != nil {
		t.Fatalf("expected cleared lockout, got %+v", stored)
	}

	unlocked := env.events(t, store.EventFilter{Kinds: []store.EventKind{store.EventAccountUnlocked}})
	if len(unlocked) != 1 || unlocked[0].Details[store.DetailMethod] != "auto" {
		t.Fatalf("expected one automatic ACCOUNT_UNLOCKED, got %+v", unlocked)
	}
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t, relaxedLoginLimit)
	acct := env.register(t, "erin@example.com")

	for i := 0; i < 3; i++ {
		env.login(t, acct.Email, "bad-password", "")
	}
	if res := env.login(t, acct.Email, testPassword, ""); res.Status != LoginSucceeded {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if got := env.account(t, acct.ID).FailedAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}

	// Four more failures must not lock: the earlier three were cleared.
	for i := 0; i < 4; i++ {
		if res := env.login(t, acct.Email, "bad-password", ""); res.Status != LoginInvalidCredentials {
			t.Fatalf("expected invalid credentials, got %s", res.Status)
		}
	}
}

func TestLoginRateLimitedPerEmail(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 5; i++ {
		if res := env.login(t, "ghost@example.com", "whatever", ""); res.Status != LoginInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %s", i, res.Status)
		}
	}

	res := env.login(t, "ghost@example.com", "whatever", "")
	if res.Status != LoginRateLimited {
		t.Fatalf("expected rate limited, got %s", res.Status)
	}
	if !errors.Is(res.Err(), ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", res.Err())
	}
	if res.RetryAt.IsZero() || !res.RetryAt.After(time.Now()) {
		t.Fatalf("expected RetryAt in the future, got %v", res.RetryAt)
	}

	limited := withReason(env.events(t, store.EventFilter{Email: "ghost@example.com"}), store.ReasonRateLimited)
	if len(limited) != 1 || limited[0].Details[store.DetailScope] != "email" {
		t.Fatalf("expected one email-scoped rate_limited event, got %+v", limited)
	}

	// Other addresses are unaffected.
	if res := env.login(t, "other@example.com", "whatever", ""); res.Status != LoginInvalidCredentials {
		t.Fatalf("expected invalid credentials for other email, got %s", res.Status)
	}
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 100; i++ {
		email := "user" + itoa(i) + "@example.com"
		res, err := env.engine.Login(ctx, LoginRequest{Email: email, Password: "whatever"})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if res.Status != LoginInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %s", i, res.Status)
		}
	}

	res, err := env.engine.Login(ctx, LoginRequest{Email: "fresh@example.com", Password: "whatever"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginRateLimited {
		t.Fatalf("expected IP rate limit, got %s", res.Status)
	}
	limited := withReason(env.events(t, store.EventFilter{Email: "fresh@example.com"}), store.ReasonRateLimited)
	if len(limited) != 1 || limited[0].Details[store.DetailScope] != "ip" {
		t.Fatalf("expected one ip-scoped rate_limited event, got %+v", limited)
	}

	// Without a known IP only the email window applies.
	if res := env.login(t, "fresh@example.com", "whatever", ""); res.Status != LoginInvalidCredentials {
		t.Fatalf("expected invalid credentials without IP, got %s", res.Status)
	}
}

func TestLoginFederatedAccountHasNoPassword(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.engine.SignInFederated(context.Background(), FederatedIdentity{
		Provider: "github", Email: "fed@example.com", Name: "Fed", EmailVerified: true,
	})
	if err != nil || res.Status != LoginSucceeded {
		t.Fatalf("SignInFederated = %v, %v", res, err)
	}

	login := env.login(t, "fed@example.com", "anything-at-all", "")
	if login.Status != LoginInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %s", login.Status)
	}
	evs := env.events(t, store.EventFilter{Kinds: []store.EventKind{store.EventLoginFailed}, Email: "fed@example.com"})
	if len(evs) != 1 || evs[0].Reason != store.ReasonNoPassword {
		t.Fatalf("expected no_password failure, got %+v", evs)
	}
}

func TestLoginTwoFactorRequiredInvalidValid(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "frank@example.com")
	secret, _ := env.enableTwoFactor(t, acct.ID)

	res := env.login(t, acct.Email, testPassword, "")
	if res.Status != LoginTwoFactorRequired {
		t.Fatalf("expected two-factor required, got %s", res.Status)
	}
	if res.SessionToken != "" {
		t.Fatal("no session before the second factor")
	}

	res = env.login(t, acct.Email, testPassword, "abcdef")
	if res.Status != LoginTwoFactorInvalid {
		t.Fatalf("expected two-factor invalid, got %s", res.Status)
	}
	if n := env.countEvents(t, store.EventTwoFactorFailed, acct.Email); n != 1 {
		t.Fatalf("expected 1 TWO_FA_FAILED, got %d", n)
	}

	res = env.login(t, acct.Email, testPassword, env.totpCode(t, secret))
	if res.Status != LoginSucceeded || res.SessionToken == "" {
		t.Fatalf("expected success with TOTP, got %s", res.Status)
	}
}

func TestLoginBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "grace@example.com")
	_, backup := env.enableTwoFactor(t, acct.ID)
	if len(backup) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(backup))
	}

	res := env.login(t, acct.Email, testPassword, backup[0])
	if res.Status != LoginSucceeded {
		t.Fatalf("expected success with backup code, got %s", res.Status)
	}
	remaining, err := env.engine.BackupCodesRemaining(context.Background(), acct.ID)
	if err != nil || remaining != 9 {
		t.Fatalf("BackupCodesRemaining = %d, %v", remaining, err)
	}

	res = env.login(t, acct.Email, testPassword, backup[0])
	if res.Status != LoginTwoFactorInvalid {
		t.Fatalf("reused backup code: expected invalid, got %s", res.Status)
	}

	// Codes are accepted regardless of case and separator.
	loose := strings.ToLower(strings.ReplaceAll(backup[1], "-", ""))
	if res := env.login(t, acct.Email, testPassword, loose); res.Status != LoginSucceeded {
		t.Fatalf("expected normalized backup code to work, got %s", res.Status)
	}
}

func TestLoginStoreOutageReturnsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "heidi@example.com")

	env.store.FailNext(10, errors.New("connection refused"))
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: "heidi@example.com", Password: testPassword})
	env.store.FailNext(0, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected no result on outage, got %+v", res)
	}
}

func TestLoginRetriesTransientStoreErrors(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ivan@example.com")

	env.store.FailNext(2, errors.New("connection reset"))
	res := env.login(t, "ivan@example.com", testPassword, "")
	if res.Status != LoginSucceeded {
		t.Fatalf("expected success after retries, got %s", res.Status)
	}
}

func TestLoginUpgradesBcryptHash(t *testing.T) {
	env := newTestEnv(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	acct := &store.Account{
		ID:           "legacy-1",
		Email:        "judy@example.com",
		PasswordHash: string(legacy),
		Plan:         store.PlanFree,
	}
	if err := env.store.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if res := env.login(t, acct.Email, testPassword, ""); res.Status != LoginSucceeded {
		t.Fatalf("expected bcrypt login to succeed, got %s", res.Status)
	}
	upgraded := env.account(t, acct.ID).PasswordHash
	if !strings.HasPrefix(upgraded, "$argon2id$") {
		t.Fatalf("expected argon2id hash after login, got %q", upgraded)
	}
	if res := env.login(t, acct.Email, testPassword, ""); res.Status != LoginSucceeded {
		t.Fatalf("expected login with upgraded hash, got %s", res.Status)
	}
}

func TestLoginMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "kim@example.com")

	env.login(t, "kim@example.com", testPassword, "")
	env.login(t, "kim@example.com", "bad-password", "")

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected 1 login success, got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("expected 1 login failure, got %d", snap.Counters[MetricLoginFailure])
	}
}
