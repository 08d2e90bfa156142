// Package lockout holds the account lockout state machine shared by the
// authentication service and the credential stores.
package lockout

import "time"

const (
	MaxAttempts  = 5
	LockDuration = 15 * time.Minute
)

// Policy configures when repeated failures lock an account.
type Policy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// DefaultPolicy locks an account for 15 minutes after 5 consecutive failures.
var DefaultPolicy = Policy{MaxAttempts: MaxAttempts, LockDuration: LockDuration}

// Counters are the persisted lockout fields of a credential.
type Counters struct {
	FailedAttempts int
	LockUntil      *time.Time
}

// Result is what a store reports after recording a failed attempt.
// Applied is false when the row was already locked and nothing changed.
type Result struct {
	Counters Counters
	Applied  bool
}

// State is either Unlocked or Locked.
type State interface {
	isState()
}

// Unlocked carries the current failure count. Stale marks a lock that has
// lapsed but has not yet been cleared; the next failure starts over at 1.
type Unlocked struct {
	Attempts int
	Stale    bool
}

// Locked rejects every attempt until Until.
type Locked struct {
	Until time.Time
}

func (Unlocked) isState() {}
func (Locked) isState()   {}

// StateOf derives the state of c at now. Lock expiry is lazy: nothing sweeps
// lapsed locks, they are only noticed here.
func StateOf(c Counters, now time.Time) State {
	if c.LockUntil == nil {
		return Unlocked{Attempts: c.FailedAttempts}
	}
	if now.Before(*c.LockUntil) {
		return Locked{Until: *c.LockUntil}
	}
	return Unlocked{Attempts: c.FailedAttempts, Stale: true}
}

// IsLocked reports whether c rejects attempts at now.
func IsLocked(c Counters, now time.Time) bool {
	_, ok := StateOf(c, now).(Locked)
	return ok
}

// AfterFailure returns the counters after one more failed attempt at now.
// Callers must not apply it to a Locked state; a locked account does not
// consume attempts.
func (p Policy) AfterFailure(c Counters, now time.Time) Counters {
	switch s := StateOf(c, now).(type) {
	case Locked:
		return c
	case Unlocked:
		if s.Stale {
			return Counters{FailedAttempts: 1}
		}
		next := Counters{FailedAttempts: s.Attempts + 1}
		if next.FailedAttempts >= p.MaxAttempts {
			until := now.Add(p.LockDuration)
			next.LockUntil = &until
		}
		return next
	}
	return c
}

// Remaining is the number of failures left before the account locks.
func (p Policy) Remaining(c Counters) int {
	n := p.MaxAttempts - c.FailedAttempts
	if n < 0 {
		return 0
	}
	return n
}
