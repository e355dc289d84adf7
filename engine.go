package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/identity"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/twofactor"
	"github.com/MrEthical07/goGuard/mail"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/session"
	"github.com/MrEthical07/goGuard/store"
	"github.com/sirupsen/logrus"
)

// Engine runs every account-security operation. It holds no mutable
// security state of its own and is safe for concurrent use.
type Engine struct {
	config    Config
	accounts  *identity.Gateway
	events    store.AuditStore
	recorder  *audit.Recorder
	analytics *audit.Analytics
	limiter   rate.Limiter
	lockout   lockout.Policy
	hasher    *password.Hasher
	dummyHash string
	codec     *session.Codec
	totp      *twofactor.TOTP
	mailer    mail.Dispatcher
	templates *mail.Templates
	metrics   *Metrics
	log       logrus.FieldLogger
	reporter  ErrorReporter
	now       func() time.Time
}

// Close flushes buffered audit events.
func (e *Engine) Close() {
	if e == nil || e.recorder == nil {
		return
	}
	e.recorder.Close()
}

// AuditDropped reports audit events lost to a full async buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.recorder == nil {
		return 0
	}
	return e.recorder.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && e.accounts != nil && e.recorder != nil && e.limiter != nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}

// unavailable logs an infrastructure failure and converts it to
// ErrUnavailable. Cancellation is passed through untouched.
func (e *Engine) unavailable(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.metricInc(MetricStoreUnavailable)
	e.log.WithError(err).WithField("op", op).Error("backend call failed")
	e.report(ctx, err, map[string]string{"component": "engine", "op": op})
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (e *Engine) report(ctx context.Context, err error, tags map[string]string) {
	if e.reporter != nil {
		e.reporter.Report(ctx, err, tags)
	}
}
