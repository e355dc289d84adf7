// Package lockout is the progressive account lockout state machine.
//
// Transitions are pure: callers pass the persisted State in and write the
// returned State back with a conditional update. Nothing here touches
// storage or the clock.
package lockout

import "time"

// Policy sets when an account locks and for how long.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy locks after 5 consecutive failures for 30 minutes.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Duration: 30 * time.Minute}
}

// State mirrors the lockout columns of an account.
type State struct {
	FailedAttempts int
	Locked         bool
	Until          *time.Time
	// Manual marks a lock placed by an administrator. Only Unlock or the
	// end of its period releases it.
	Manual bool
}

// Transition is the outcome of recording a failed attempt.
type Transition struct {
	State State
	// Locked is true when this failure moved the account into LOCKED.
	Locked bool
}

// IsLocked reports whether s blocks sign-in at now. A lock without an
// expiry is indefinite and only an administrative unlock clears it.
func (s State) IsLocked(now time.Time) bool {
	if !s.Locked {
		return false
	}
	return s.Until == nil || now.Before(*s.Until)
}

// Expired reports whether s is a timed lock whose period has passed.
func (s State) Expired(now time.Time) bool {
	return s.Locked && s.Until != nil && !now.Before(*s.Until)
}

// RecordFailure counts one failed attempt. Reaching the threshold locks the
// account until now+Duration.
func (p Policy) RecordFailure(s State, now time.Time) Transition {
	next := State{
		FailedAttempts: s.FailedAttempts + 1,
		Locked:         s.Locked,
		Until:          s.Until,
		Manual:         s.Manual,
	}
	if s.Locked || next.FailedAttempts < p.Threshold {
		return Transition{State: next}
	}
	until := now.Add(p.Duration)
	next.Locked = true
	next.Until = &until
	return Transition{State: next, Locked: true}
}

// ManuallyLocked reports whether s is an administrative lock in force at now.
func (s State) ManuallyLocked(now time.Time) bool {
	return s.Manual && s.IsLocked(now)
}

// RecordSuccess clears the failure counter and any failure-driven lock. An
// administrative lock still in force at now is kept.
func (p Policy) RecordSuccess(s State, now time.Time) State {
	if s.ManuallyLocked(now) {
		return State{Locked: true, Until: s.Until, Manual: true}
	}
	return State{}
}

// Expire clears a lock whose period has ended. ok is false when s was not
// an expired lock and is returned unchanged.
func (p Policy) Expire(s State, now time.Time) (next State, ok bool) {
	if !s.Expired(now) {
		return s, false
	}
	return State{}, true
}

// Unlock is the administrative release. It clears everything regardless of
// the current state.
func (p Policy) Unlock(State) State {
	return State{}
}

// Lock is the administrative lock. A zero d locks indefinitely.
func (p Policy) Lock(s State, now time.Time, d time.Duration) State {
	next := State{FailedAttempts: s.FailedAttempts, Locked: true, Manual: true}
	if d > 0 {
		until := now.Add(d)
		next.Until = &until
	}
	return next
}
