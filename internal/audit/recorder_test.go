package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/MrEthical07/goGuard/store/memstore"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type captureReporter struct {
	mu   sync.Mutex
	errs []error
}

func (c *captureReporter) Report(_ context.Context, err error, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func TestRecorderWritesAndStamps(t *testing.T) {
	ms := memstore.New()
	r := NewRecorder(ms, Options{})

	ev := r.Log(context.Background(), store.AuditEvent{Kind: store.EventLogout, AccountID: "a1", Success: true})
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Fatalf("event not stamped: %+v", ev)
	}

	got, err := ms.FindEvents(context.Background(), store.EventFilter{AccountID: "a1"}, store.Page{})
	if err != nil {
		t.Fatalf("FindEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("stored events = %+v", got)
	}
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	ms := memstore.New()
	logger, hook := logtest.NewNullLogger()
	rep := &captureReporter{}
	r := NewRecorder(ms, Options{Logger: logger, Reporter: rep})

	boom := errors.New("disk full")
	ms.FailNext(1, boom)
	r.Log(context.Background(), store.AuditEvent{Kind: store.EventLoginFailed})

	if len(rep.errs) != 1 || !errors.Is(rep.errs[0], boom) {
		t.Fatalf("reporter got %v", rep.errs)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel || entry.Message != "audit write failed" {
		t.Fatalf("unexpected log entry %+v", entry)
	}
}

func TestRecorderWritesAfterRequestCancel(t *testing.T) {
	ms := memstore.New()
	r := NewRecorder(ms, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Log(ctx, store.AuditEvent{Kind: store.EventLogout})
	n, _ := ms.CountEvents(context.Background(), store.EventFilter{})
	if n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
}

func TestAsyncRecorderDrainsOnClose(t *testing.T) {
	ms := memstore.New()
	r := NewRecorder(ms, Options{Async: Config{Enabled: true, BufferSize: 64}})
	for i := 0; i < 50; i++ {
		r.Log(context.Background(), store.AuditEvent{Kind: store.EventLogout})
	}
	r.Close()

	n, _ := ms.CountEvents(context.Background(), store.EventFilter{})
	if n != 50 {
		t.Fatalf("events = %d, want 50", n)
	}
	if r.Dropped() != 0 {
		t.Fatalf("dropped = %d", r.Dropped())
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	written := 0
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, func(context.Context, store.AuditEvent) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		written++
		mu.Unlock()
	})

	d.Emit(context.Background(), store.AuditEvent{})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("writer never started")
	}
	d.Emit(context.Background(), store.AuditEvent{}) // fills the buffer
	d.Emit(context.Background(), store.AuditEvent{}) // dropped

	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}
	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), store.AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports drops")
	}
	if NewDispatcher(Config{}, nil) != nil {
		t.Fatal("disabled config should yield nil dispatcher")
	}
}
