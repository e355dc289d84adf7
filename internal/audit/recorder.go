package audit

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultWriteTimeout = 2 * time.Second

// Reporter receives errors that were swallowed so they still reach an
// error tracker.
type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, error, map[string]string) {}

// Options tune a Recorder. Zero values pick defaults.
type Options struct {
	WriteTimeout time.Duration
	Async        Config
	Logger       logrus.FieldLogger
	Reporter     Reporter
	// Now stamps events. Defaults to time.Now.
	Now func() time.Time
}

// Recorder appends audit events.
type Recorder struct {
	events   store.AuditStore
	timeout  time.Duration
	log      logrus.FieldLogger
	reporter Reporter
	async    *Dispatcher
	now      func() time.Time
}

// NewRecorder returns a Recorder writing to events. When opts.Async is
// enabled, writes go through a Dispatcher and Close must be called to
// flush them.
func NewRecorder(events store.AuditStore, opts Options) *Recorder {
	r := &Recorder{
		events:   events,
		timeout:  opts.WriteTimeout,
		log:      opts.Logger,
		reporter: opts.Reporter,
		now:      opts.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.timeout <= 0 {
		r.timeout = defaultWriteTimeout
	}
	if r.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		r.log = l
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	r.async = NewDispatcher(opts.Async, r.write)
	return r
}

// Log stamps ev with an id and timestamp if missing and appends it. It
// never fails; the stamped event is returned for callers that want to
// forward it.
func (r *Recorder) Log(ctx context.Context, ev store.AuditEvent) store.AuditEvent {
	if ev.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			ev.ID = id.String()
		} else {
			ev.ID = uuid.NewString()
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}
	if r.async != nil {
		r.async.Emit(ctx, ev)
		return ev
	}
	r.write(ctx, ev)
	return ev
}

func (r *Recorder) write(ctx context.Context, ev store.AuditEvent) {
	// The request may already be finished; the audit write still happens.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.events.InsertEvent(wctx, &ev); err != nil {
		fields := logrus.Fields{
			"event_id":   ev.ID,
			"event_kind": string(ev.Kind),
			"account_id": ev.AccountID,
		}
		r.log.WithError(err).WithFields(fields).Error("audit write failed")
		r.reporter.Report(ctx, err, map[string]string{
			"component":  "audit",
			"event_kind": string(ev.Kind),
		})
	}
}

// Dropped reports events discarded by a full async buffer.
func (r *Recorder) Dropped() uint64 {
	return r.async.Dropped()
}

// Close drains the async buffer, if any.
func (r *Recorder) Close() {
	r.async.Close()
}
