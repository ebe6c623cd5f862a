// Package timer implements the round countdown as pure functions over a
// persisted State. Nothing ticks: a running timer stores its absolute target
// and every read resolves it against the caller's clock, so the countdown
// survives restarts and never drifts.
package timer

import (
	"errors"
	"time"
)

// DefaultDuration is used when no configured round length is available.
const DefaultDuration = 120 * time.Second

// Status of the countdown.
type Status string

const (
	Idle      Status = "idle"
	Running   Status = "running"
	Paused    Status = "paused"
	Completed Status = "completed"
)

// State is the persisted countdown. TargetTs is set iff Status is Running.
// RemainingMs is a snapshot taken at the last mutation; for a running timer
// the authoritative value is TargetTs minus now.
type State struct {
	Status      Status `json:"status"`
	DurationMs  int64  `json:"durationMs"`
	RemainingMs int64  `json:"remainingMs"`
	UpdatedAt   int64  `json:"updatedAt"`
	TargetTs    *int64 `json:"targetTs"`
}

var (
	ErrNotRunning       = errors.New("timer is not running")
	ErrNotPaused        = errors.New("timer is not paused")
	ErrInvalidExtension = errors.New("extension must be positive")
	ErrInvalidState     = errors.New("cannot extend timer in current state")
)

func ms(now time.Time) int64 { return now.UnixMilli() }

func target(v int64) *int64 { return &v }

// Reset returns an idle timer holding the full duration.
func Reset(d time.Duration, now time.Time) State {
	return State{
		Status:      Idle,
		DurationMs:  d.Milliseconds(),
		RemainingMs: d.Milliseconds(),
		UpdatedAt:   ms(now),
	}
}

// Arm prepares a fresh round paused at the full duration. The producer starts
// it explicitly with Resume.
func Arm(d time.Duration, now time.Time) State {
	s := Reset(d, now)
	s.Status = Paused
	return s
}

// ArmRunning prepares a round that is already counting down.
func ArmRunning(d time.Duration, now time.Time) State {
	s := Reset(d, now)
	s.Status = Running
	s.TargetTs = target(ms(now) + s.DurationMs)
	return s
}

// Resolve projects s onto now. Only running timers change: once the target is
// reached the timer completes, otherwise RemainingMs is recomputed.
// Resolve(Resolve(s, now), now) == Resolve(s, now).
func Resolve(s State, now time.Time) State {
	if s.Status != Running {
		return s
	}
	t := ms(now)
	tgt := t
	if s.TargetTs != nil {
		tgt = *s.TargetTs
	}
	if tgt-t <= 0 {
		return State{Status: Completed, DurationMs: s.DurationMs, UpdatedAt: t}
	}
	s.RemainingMs = tgt - t
	return s
}

// Changed reports whether resolving moved the timer to a different persisted
// shape. A running timer whose remaining time merely shrank is not a change:
// that value is derived from the target on every read.
func Changed(before, after State) bool {
	if before.Status != after.Status {
		return true
	}
	switch {
	case before.TargetTs == nil && after.TargetTs == nil:
	case before.TargetTs == nil || after.TargetTs == nil:
		return true
	case *before.TargetTs != *after.TargetTs:
		return true
	}
	if before.Status != Running && before.RemainingMs != after.RemainingMs {
		return true
	}
	return false
}

// Pause freezes a running timer at its remaining time.
func Pause(s State, now time.Time) (State, error) {
	s = Resolve(s, now)
	if s.Status != Running {
		return s, ErrNotRunning
	}
	t := ms(now)
	remaining := *s.TargetTs - t
	if remaining < 0 {
		remaining = 0
	}
	return State{Status: Paused, DurationMs: s.DurationMs, RemainingMs: remaining, UpdatedAt: t}, nil
}

// Resume restarts a paused timer from its remaining time.
func Resume(s State, now time.Time) (State, error) {
	s = Resolve(s, now)
	if s.Status != Paused {
		return s, ErrNotPaused
	}
	t := ms(now)
	return State{
		Status:      Running,
		DurationMs:  s.DurationMs,
		RemainingMs: s.RemainingMs,
		UpdatedAt:   t,
		TargetTs:    target(t + s.RemainingMs),
	}, nil
}

// Extend adds delta to a running or paused timer. Duration grows with it so
// progress bars keep their proportions.
func Extend(s State, delta time.Duration, now time.Time) (State, error) {
	if delta <= 0 {
		return s, ErrInvalidExtension
	}
	s = Resolve(s, now)
	t := ms(now)
	d := delta.Milliseconds()
	switch s.Status {
	case Running:
		tgt := *s.TargetTs + d
		remaining := tgt - t
		if remaining < 0 {
			remaining = 0
		}
		return State{Status: Running, DurationMs: s.DurationMs + d, RemainingMs: remaining, UpdatedAt: t, TargetTs: target(tgt)}, nil
	case Paused:
		return State{Status: Paused, DurationMs: s.DurationMs + d, RemainingMs: s.RemainingMs + d, UpdatedAt: t}, nil
	default:
		return s, ErrInvalidState
	}
}

// ForceComplete ends the countdown regardless of its current status.
func ForceComplete(s State, now time.Time) State {
	return State{Status: Completed, DurationMs: s.DurationMs, UpdatedAt: ms(now)}
}
