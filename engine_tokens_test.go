package goGuard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "alice@example.com")
	ctx := context.Background()

	res, err := env.engine.RequestPasswordReset(ctx, "ALICE@example.com")
	if err != nil || res.Status != IssueAccepted {
		t.Fatalf("RequestPasswordReset = %+v, %v", res, err)
	}
	msg, _ := env.outbox.Last(acct.Email)
	if !strings.Contains(msg.Subject, "Reset") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "https://app.example.com/reset-password?token=") {
		t.Fatalf("expected reset link in body, got %q", msg.Text)
	}
	token := env.mailedToken(t, acct.Email)

	stored := env.account(t, acct.ID)
	if stored.PasswordResetToken == "" || stored.PasswordResetToken == token {
		t.Fatal("expected a stored digest, never the plain token")
	}
	if want := env.clock.Now().Add(time.Hour); !stored.PasswordResetExpiry.Equal(want) {
		t.Fatalf("expiry = %v, want %v", stored.PasswordResetExpiry, want)
	}

	if err := env.engine.CompletePasswordReset(ctx, token, "brand-new-secret"); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}
	if res := env.login(t, acct.Email, "brand-new-secret", ""); res.Status != LoginSucceeded {
		t.Fatalf("login with new password: %s", res.Status)
	}
	if res := env.login(t, acct.Email, testPassword, ""); res.Status != LoginInvalidCredentials {
		t.Fatalf("login with old password: %s", res.Status)
	}

	if err := env.engine.CompletePasswordReset(ctx, token, "another-secret-1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("reused token: expected ErrTokenInvalid, got %v", err)
	}
	failed := env.events(t, store.EventFilter{Kinds: []store.EventKind{store.EventPasswordChange}, Success: new(bool)})
	if len(failed) != 1 || failed[0].Reason != store.ReasonTokenInvalid {
		t.Fatalf("expected one failed PASSWORD_CHANGE, got %+v", failed)
	}
}

func TestPasswordResetPolicyKeepsTokenUsable(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "bob@example.com")
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, acct.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	if err := env.engine.CompletePasswordReset(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.CompletePasswordReset(ctx, token, "long-enough-now"); err != nil {
		t.Fatalf("token must survive a policy failure: %v", err)
	}
}

func TestPasswordResetVerifyThenReset(t *testing.T) {
	env := newTestEnv(t, relaxedLoginLimit)
	acct := env.register(t, "carol@example.com")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.login(t, acct.Email, "bad-password", "")
	}
	if !env.account(t, acct.ID).IsLocked {
		t.Fatal("expected account to be locked")
	}

	if _, err := env.engine.RequestPasswordReset(ctx, acct.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	id, err := env.engine.VerifyPasswordResetToken(ctx, token)
	if err != nil || id != acct.ID {
		t.Fatalf("VerifyPasswordResetToken = %q, %v", id, err)
	}
	if _, err := env.engine.VerifyPasswordResetToken(ctx, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("second verify: expected ErrTokenInvalid, got %v", err)
	}

	if err := env.engine.ResetPassword(ctx, id, "recovered-secret"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	stored := env.account(t, acct.ID)
	if stored.IsLocked || stored.FailedAttempts != 0 {
		t.Fatalf("reset must clear lockout, got %+v", stored)
	}
	if res := env.login(t, acct.Email, "recovered-secret", ""); res.Status != LoginSucceeded {
		t.Fatalf("login after reset: %s", res.Status)
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "dave@example.com")
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, acct.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	env.clock.Advance(61 * time.Minute)
	if err := env.engine.CompletePasswordReset(ctx, token, "too-late-secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid after expiry, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsAccepted(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.engine.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil || res.Status != IssueAccepted {
		t.Fatalf("RequestPasswordReset = %+v, %v", res, err)
	}
	if n := len(env.outbox.Messages()); n != 0 {
		t.Fatalf("expected no mail, got %d", n)
	}
	evs := env.events(t, store.EventFilter{Email: "nobody@example.com"})
	if len(evs) != 1 || evs[0].Reason != store.ReasonUnknownAccount {
		t.Fatalf("expected unknown_account event, got %+v", evs)
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "erin@example.com")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := env.engine.RequestPasswordReset(ctx, acct.Email)
		if err != nil || res.Status != IssueAccepted {
			t.Fatalf("request %d = %+v, %v", i, res, err)
		}
	}
	before := len(env.outbox.Messages())

	res, err := env.engine.RequestPasswordReset(ctx, acct.Email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if res.Status != IssueRateLimited || !errors.Is(res.Err(), ErrRateLimited) {
		t.Fatalf("fourth request: expected rate limited, got %+v", res)
	}
	if res.RetryAt.IsZero() {
		t.Fatal("expected RetryAt")
	}
	if len(env.outbox.Messages()) != before {
		t.Fatal("rate-limited request must not send mail")
	}
}

func TestPasswordResetMalformedToken(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "abc", strings.Repeat("z", 64)} {
		if err := env.engine.CompletePasswordReset(context.Background(), token, "whatever-secret"); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestTokenMailFailureStillIssues(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "frank@example.com")
	env.outbox.FailWith(errors.New("smtp: connection refused"))

	res, err := env.engine.RequestPasswordReset(context.Background(), acct.Email)
	if err != nil || res.Status != IssueAccepted {
		t.Fatalf("RequestPasswordReset = %+v, %v", res, err)
	}
	if env.account(t, acct.ID).PasswordResetToken == "" {
		t.Fatal("token must be stored even when mail fails")
	}
	if env.engine.MetricsSnapshot().Counters[MetricMailFailure] != 1 {
		t.Fatal("expected mail failure metric")
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "grace@example.com")
	ctx := context.Background()

	msg, ok := env.outbox.Last(acct.Email)
	if !ok || !strings.Contains(msg.Text, "/verify-email?token=") {
		t.Fatalf("expected verification mail on registration, got %+v", msg)
	}
	token := env.mailedToken(t, acct.Email)

	verified, err := env.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if verified.EmailVerifiedAt == nil || verified.EmailVerificationToken != "" {
		t.Fatalf("expected verified account with cleared token, got %+v", verified)
	}
	if _, err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay: expected ErrTokenInvalid, got %v", err)
	}

	sent := len(env.outbox.Messages())
	res, err := env.engine.RequestEmailVerification(ctx, acct.Email)
	if err != nil || res.Status != IssueAccepted {
		t.Fatalf("RequestEmailVerification = %+v, %v", res, err)
	}
	if len(env.outbox.Messages()) != sent {
		t.Fatal("verified accounts must not get another link")
	}
	evs := env.events(t, store.EventFilter{Kinds: []store.EventKind{store.EventEmailVerificationRequest}, Email: acct.Email})
	if last := evs[len(evs)-1]; last.Reason != store.ReasonAlreadyVerified {
		t.Fatalf("expected already_verified, got %+v", last)
	}
}

func TestEmailVerificationExpiresAfterADay(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "heidi@example.com")
	token := env.mailedToken(t, acct.Email)

	env.clock.Advance(23 * time.Hour)
	if env.account(t, acct.ID).EmailVerificationExpiry.Before(env.clock.Now()) {
		t.Fatal("token must still be live at 23h")
	}
	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.VerifyEmail(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid at 25h, got %v", err)
	}
}

func TestMagicLinkSignIn(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "ivan@example.com")
	ctx := WithClientIP(context.Background(), "192.0.2.44")

	env.login(t, acct.Email, "bad-password", "")
	env.login(t, acct.Email, "bad-password", "")

	if _, err := env.engine.RequestMagicLink(ctx, acct.Email); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	res, err := env.engine.SignInWithMagicLink(ctx, token, "")
	if err != nil || res.Status != LoginSucceeded || res.SessionToken == "" {
		t.Fatalf("SignInWithMagicLink = %+v, %v", res, err)
	}
	stored := env.account(t, acct.ID)
	if stored.EmailVerifiedAt == nil {
		t.Fatal("magic link must verify the email")
	}
	if stored.FailedAttempts != 0 || stored.LastLoginIP != "192.0.2.44" {
		t.Fatalf("unexpected account state %+v", stored)
	}

	if _, err := env.engine.SignInWithMagicLink(ctx, token, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay: expected ErrTokenInvalid, got %v", err)
	}
}

func TestMagicLinkRequiresSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "mfa-link@example.com")
	secret, _ := env.enableTwoFactor(t, acct.ID)
	ctx := context.Background()

	if _, err := env.engine.RequestMagicLink(ctx, acct.Email); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	res, err := env.engine.SignInWithMagicLink(ctx, token, "")
	if err != nil || res.Status != LoginTwoFactorRequired || res.SessionToken != "" {
		t.Fatalf("without code = %+v, %v", res, err)
	}
	res, err = env.engine.SignInWithMagicLink(ctx, token, "abcdef")
	if err != nil || res.Status != LoginTwoFactorInvalid || res.SessionToken != "" {
		t.Fatalf("wrong code = %+v, %v", res, err)
	}
	if n := env.countEvents(t, store.EventLoginSuccess, acct.Email); n != 0 {
		t.Fatalf("expected no LOGIN_SUCCESS yet, got %d", n)
	}

	res, err = env.engine.SignInWithMagicLink(ctx, token, env.totpCode(t, secret))
	if err != nil || res.Status != LoginSucceeded || res.SessionToken == "" {
		t.Fatalf("with code = %+v, %v", res, err)
	}
	if _, err := env.engine.SignInWithMagicLink(ctx, token, env.totpCode(t, secret)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay: expected ErrTokenInvalid, got %v", err)
	}
}

func TestMagicLinkExpiresAfterFifteenMinutes(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "judy@example.com")
	if _, err := env.engine.RequestMagicLink(context.Background(), acct.Email); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.SignInWithMagicLink(context.Background(), token, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestMagicLinkConcurrentConsumeSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "kim@example.com")
	if _, err := env.engine.RequestMagicLink(context.Background(), acct.Email); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := env.mailedToken(t, acct.Email)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		invalids int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.SignInWithMagicLink(context.Background(), token, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenInvalid):
				invalids++
			}
		}()
	}
	wg.Wait()

	if wins != 1 || invalids != workers-1 {
		t.Fatalf("expected 1 winner and %d invalid, got %d and %d", workers-1, wins, invalids)
	}
}

func TestTokenKindsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "leo@example.com")
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, acct.Email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	resetToken := env.mailedToken(t, acct.Email)
	if _, err := env.engine.RequestMagicLink(ctx, acct.Email); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}

	// A reset token is not a magic link.
	if _, err := env.engine.SignInWithMagicLink(ctx, resetToken, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	stored := env.account(t, acct.ID)
	if stored.PasswordResetToken == "" || stored.MagicLinkToken == "" || stored.EmailVerificationToken == "" {
		t.Fatalf("expected all three tokens live, got %+v", stored)
	}
}
