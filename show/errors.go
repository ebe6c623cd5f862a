package show

import (
	"errors"
	"fmt"

	"github.com/kevin-huff/slash-or-smash/timer"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// Kind classifies a failed show operation so transports can map it to a
// status code without matching on messages.
type Kind string

const (
	EmptyQueue        Kind = "empty_queue"
	WrongStage        Kind = "wrong_stage"
	NoActiveItem      Kind = "no_active_item"
	NotInQueue        Kind = "not_in_queue"
	QueueMismatch     Kind = "queue_mismatch"
	InvalidExtension  Kind = "invalid_extension"
	InvalidTimerState Kind = "invalid_timer_state"
	InvalidScore      Kind = "invalid_score"
	NoActiveRound     Kind = "no_active_round"
	InvalidSettings   Kind = "invalid_settings"
	InvalidInput      Kind = "invalid_input"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	JudgeInactive     Kind = "judge_inactive"
)

// Error is a typed operation failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind carried by err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// ErrStaleRound is returned by a RoundStore when a commit's expected version
// no longer matches the stored one.
var ErrStaleRound = errors.New("show: round version is stale")

// ErrQueueMismatch is returned by queue stores when a reorder is not an exact
// permutation of the current queue.
var ErrQueueMismatch = &Error{Kind: QueueMismatch, Message: "queue order must list every queued item exactly once"}

func timerError(err error) error {
	switch {
	case errors.Is(err, timer.ErrInvalidExtension):
		return &Error{Kind: InvalidExtension, Message: "Extension must be positive", Err: err}
	case errors.Is(err, timer.ErrNotRunning):
		return &Error{Kind: InvalidTimerState, Message: "Timer is not running", Err: err}
	case errors.Is(err, timer.ErrNotPaused):
		return &Error{Kind: InvalidTimerState, Message: "Timer is not paused", Err: err}
	case errors.Is(err, timer.ErrInvalidState):
		return &Error{Kind: InvalidTimerState, Message: "Cannot extend timer in current state", Err: err}
	}
	return err
}

func scoreError(err error) error {
	if errors.Is(err, votes.ErrInvalidScore) {
		return &Error{Kind: InvalidScore, Message: "Score must be an integer between 1 and 5", Err: err}
	}
	return &Error{Kind: InvalidInput, Message: err.Error(), Err: err}
}
