package goGuard

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/mail"
	"github.com/MrEthical07/goGuard/store"
	"github.com/MrEthical07/goGuard/store/memstore"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *Engine
	store  *memstore.Store
	outbox *mail.Outbox
	clock  *testClock
	logs   *logtest.Hook
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Retry.Initial = time.Millisecond
	cfg.Mail.BaseURL = "https://app.example.com"
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	st := memstore.New()
	outbox := mail.NewOutbox()
	logger, hook := logtest.NewNullLogger()

	clock := &testClock{now: time.Now().UTC()}
	engine, err := New().
		WithConfig(cfg).
		WithStore(st).
		WithMailer(outbox).
		WithLogger(logger).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: st, outbox: outbox, clock: clock, logs: hook}
}

// register creates an unverified password account.
func (env *testEnv) register(t *testing.T, email string) *Account {
	t.Helper()
	acct, err := env.engine.Register(context.Background(), email, testPassword, "Test User")
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return acct
}

func (env *testEnv) account(t *testing.T, id string) *Account {
	t.Helper()
	acct, err := env.store.FindAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindAccountByID(%s) failed: %v", id, err)
	}
	return acct
}

func (env *testEnv) events(t *testing.T, filter store.EventFilter) []store.AuditEvent {
	t.Helper()
	evs, err := env.store.FindEvents(context.Background(), filter, store.Page{OldestFirst: true})
	if err != nil {
		t.Fatalf("FindEvents failed: %v", err)
	}
	return evs
}

func (env *testEnv) countEvents(t *testing.T, kind store.EventKind, email string) int {
	t.Helper()
	return len(env.events(t, store.EventFilter{Kinds: []store.EventKind{kind}, Email: email}))
}

func withReason(evs []store.AuditEvent, reason string) []store.AuditEvent {
	var out []store.AuditEvent
	for _, ev := range evs {
		if ev.Reason == reason {
			out = append(out, ev)
		}
	}
	return out
}

func (env *testEnv) login(t *testing.T, email, password, factor string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: password, SecondFactor: factor})
	if err != nil {
		t.Fatalf("Login(%s) returned error: %v", email, err)
	}
	return res
}

var tokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)

// mailedToken returns the token in the newest message sent to email.
func (env *testEnv) mailedToken(t *testing.T, email string) string {
	t.Helper()
	msg, ok := env.outbox.Last(email)
	if !ok {
		t.Fatalf("no mail sent to %s", email)
	}
	m := tokenPattern.FindStringSubmatch(msg.Text)
	if m == nil {
		t.Fatalf("no token link in mail to %s: %q", email, msg.Text)
	}
	return m[1]
}

func (env *testEnv) enableTwoFactor(t *testing.T, accountID string) (secret string, backup []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := env.engine.BeginTwoFactorSetup(ctx, accountID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	code := env.totpCode(t, setup.Secret)
	backup, err = env.engine.EnableTwoFactor(ctx, accountID, code)
	if err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	return setup.Secret, backup
}

func (env *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := env.engine.totp.Code(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code failed: %v", err)
	}
	return code
}
