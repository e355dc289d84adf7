package goGuard

import (
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/identity"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/observability"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/twofactor"
	"github.com/MrEthical07/goGuard/mail"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/session"
	"github.com/MrEthical07/goGuard/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config   Config
	accounts store.AccountStore
	events   store.AuditStore
	redis    redis.UniversalClient
	mailer   mail.Dispatcher
	logger   logrus.FieldLogger
	reporter ErrorReporter
	clock    func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore uses s for both accounts and audit events.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.accounts = s
	b.events = s
	return b
}

func (b *Builder) WithAccountStore(s store.AccountStore) *Builder {
	b.accounts = s
	return b
}

func (b *Builder) WithAuditStore(s store.AuditStore) *Builder {
	b.events = s
	return b
}

// WithRedis switches rate limiting from audit-log counting to fixed-window
// Redis counters with the same limits.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the dispatcher for token emails. Without one, emails are
// written to the log.
func (b *Builder) WithMailer(d mail.Dispatcher) *Builder {
	b.mailer = d
	return b
}

func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.logger = log
	return b
}

func (b *Builder) WithErrorReporter(r ErrorReporter) *Builder {
	b.reporter = r
	return b
}

// WithClock replaces time.Now for every time-based decision: lockout,
// token expiry, audit timestamps, rate windows and analytics.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.events == nil {
		return nil, errors.New("audit store required")
	}

	log := b.logger
	if log == nil {
		log = observability.NewLogger(observability.LoggerConfig{Level: "info", Format: "json", Service: "goguard"})
	}

	hasher, err := password.NewHasher(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}
	// Verified against when no real hash exists so unknown emails cost the
	// same as wrong passwords.
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	codec, err := session.NewCodec(cfg.sessionConfig())
	if err != nil {
		return nil, err
	}
	templates, err := mail.NewTemplates()
	if err != nil {
		return nil, err
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = mail.NewLogDispatcher(log.WithField("component", "mail"))
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- AUDIT --------
	recorder := audit.NewRecorder(b.events, audit.Options{
		Now:          clock,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Async: audit.Config{
			Enabled:    cfg.Audit.Async,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		},
		Logger:   log.WithField("component", "audit"),
		Reporter: b.reporter,
	})

	// -------- RATE LIMITER --------
	var limiter rate.Limiter
	if b.redis != nil {
		limiter = rate.NewRedisLimiter(b.redis, cfg.ratePolicies(), clock)
	} else {
		limiter = rate.NewAuditLimiter(b.events, cfg.ratePolicies(), clock)
	}

	engine := &Engine{
		config: cfg,
		accounts: identity.New(b.accounts, identity.RetryPolicy{
			Attempts: cfg.Retry.Attempts,
			Initial:  cfg.Retry.Initial,
		}, log.WithField("component", "identity")),
		events:    b.events,
		recorder:  recorder,
		analytics: audit.NewAnalytics(b.events, clock),
		limiter:   limiter,
		lockout: lockout.Policy{
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.Lockout.Duration,
		},
		hasher:    hasher,
		dummyHash: dummyHash,
		codec:     codec,
		totp: twofactor.NewTOTP(twofactor.Config{
			Issuer:     cfg.TwoFactor.Issuer,
			Period:     cfg.TwoFactor.Period,
			Skew:       cfg.TwoFactor.Skew,
			Digits:     cfg.TwoFactor.Digits,
			SecretSize: 20,
			QRSize:     cfg.TwoFactor.QRSize,
		}),
		mailer:    mailer,
		templates: templates,
		metrics:   NewMetrics(cfg.Metrics),
		log:       log,
		reporter:  b.reporter,
		now:       clock,
	}

	b.built = true
	return engine, nil
}
