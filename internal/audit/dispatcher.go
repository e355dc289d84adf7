package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/goGuard/store"
)

// Config controls async buffering. Disabled means writes happen inline.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type writeFunc func(context.Context, store.AuditEvent)

type queued struct {
	ctx context.Context
	ev  store.AuditEvent
}

// Dispatcher forwards events to a writer on a background goroutine.
type Dispatcher struct {
	cfg       Config
	write     writeFunc
	ch        chan queued
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when cfg is disabled. A nil Dispatcher is
// safe to call.
func NewDispatcher(cfg Config, write writeFunc) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	d := &Dispatcher{
		cfg:   cfg,
		write: write,
		ch:    make(chan queued, cfg.BufferSize),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case q := <-d.ch:
			d.write(q.ctx, q.ev)
		case <-d.done:
			for {
				select {
				case q := <-d.ch:
					d.write(q.ctx, q.ev)
				default:
					return
				}
			}
		}
	}
}

// Emit queues ev. With DropIfFull a full buffer drops the event and
// counts it; otherwise Emit blocks until there is room or ctx ends.
func (d *Dispatcher) Emit(ctx context.Context, ev store.AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q := queued{ctx: context.WithoutCancel(ctx), ev: ev}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- q:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- q:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
