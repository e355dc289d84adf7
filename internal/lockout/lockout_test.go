package lockout

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func TestFiveFailuresLock(t *testing.T) {
	p := DefaultPolicy()
	var s State
	for i := 1; i <= 4; i++ {
		tr := p.RecordFailure(s, t0)
		if tr.Locked || tr.State.Locked {
			t.Fatalf("locked after %d failures", i)
		}
		if tr.State.FailedAttempts != i {
			t.Fatalf("FailedAttempts = %d, want %d", tr.State.FailedAttempts, i)
		}
		s = tr.State
	}

	tr := p.RecordFailure(s, t0)
	if !tr.Locked || !tr.State.Locked {
		t.Fatal("fifth failure must lock")
	}
	if tr.State.FailedAttempts != 5 {
		t.Fatalf("FailedAttempts = %d, want 5", tr.State.FailedAttempts)
	}
	if tr.State.Until == nil || !tr.State.Until.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("Until = %v, want now+30m", tr.State.Until)
	}
	if !tr.State.IsLocked(t0.Add(29 * time.Minute)) {
		t.Fatal("expected locked within the period")
	}
	if tr.State.IsLocked(t0.Add(30 * time.Minute)) {
		t.Fatal("lock must lapse at until")
	}
}

func TestFailureWhileLockedDoesNotExtend(t *testing.T) {
	p := DefaultPolicy()
	until := t0.Add(10 * time.Minute)
	s := State{FailedAttempts: 5, Locked: true, Until: &until}

	tr := p.RecordFailure(s, t0)
	if tr.Locked {
		t.Fatal("already-locked account must not transition again")
	}
	if !tr.State.Until.Equal(until) {
		t.Fatal("lock period must not be extended")
	}
}

func TestSuccessResets(t *testing.T) {
	p := DefaultPolicy()
	s := State{FailedAttempts: 3}
	if got := p.RecordSuccess(s, t0); got.FailedAttempts != 0 || got.Locked || got.Until != nil {
		t.Fatalf("RecordSuccess = %+v", got)
	}
}

func TestSuccessClearsFailureLock(t *testing.T) {
	p := DefaultPolicy()
	tr := p.RecordFailure(State{FailedAttempts: 4}, t0)
	if got := p.RecordSuccess(tr.State, t0); got.Locked || got.Manual || got.FailedAttempts != 0 {
		t.Fatalf("RecordSuccess = %+v", got)
	}
}

func TestSuccessKeepsManualLock(t *testing.T) {
	p := DefaultPolicy()

	forever := p.Lock(State{FailedAttempts: 2}, t0, 0)
	got := p.RecordSuccess(forever, t0.Add(time.Hour))
	if !got.ManuallyLocked(t0.Add(time.Hour)) || got.Until != nil {
		t.Fatalf("indefinite lock lost: %+v", got)
	}
	if got.FailedAttempts != 0 {
		t.Fatalf("FailedAttempts = %d, want 0", got.FailedAttempts)
	}

	timed := p.Lock(State{}, t0, 10*time.Minute)
	if got := p.RecordSuccess(timed, t0.Add(5*time.Minute)); !got.ManuallyLocked(t0.Add(5 * time.Minute)) {
		t.Fatalf("timed lock lost while in force: %+v", got)
	}
	if got := p.RecordSuccess(timed, t0.Add(11*time.Minute)); got.Locked {
		t.Fatalf("lapsed manual lock kept: %+v", got)
	}
}

func TestExpireOnlyAfterUntil(t *testing.T) {
	p := DefaultPolicy()
	until := t0.Add(30 * time.Minute)
	s := State{FailedAttempts: 5, Locked: true, Until: &until}

	if _, ok := p.Expire(s, t0.Add(29*time.Minute)); ok {
		t.Fatal("lock must not expire early")
	}
	next, ok := p.Expire(s, t0.Add(31*time.Minute))
	if !ok {
		t.Fatal("expected expiry")
	}
	if next.FailedAttempts != 0 || next.Locked || next.Until != nil {
		t.Fatalf("expired state = %+v", next)
	}
	if _, ok := p.Expire(State{FailedAttempts: 2}, t0); ok {
		t.Fatal("unlocked state cannot expire")
	}
}

func TestManualLockAndUnlock(t *testing.T) {
	p := DefaultPolicy()
	s := p.Lock(State{FailedAttempts: 1}, t0, 0)
	if !s.Manual {
		t.Fatal("administrative lock must be marked manual")
	}
	if !s.IsLocked(t0.Add(1000 * time.Hour)) {
		t.Fatal("indefinite lock must hold")
	}
	if _, ok := p.Expire(s, t0.Add(1000*time.Hour)); ok {
		t.Fatal("indefinite lock must not auto-expire")
	}
	if got := p.Unlock(s); got.Locked || got.Manual || got.FailedAttempts != 0 {
		t.Fatalf("Unlock = %+v", got)
	}
}
