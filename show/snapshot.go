package show

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kevin-huff/slash-or-smash/telemetry"
	"github.com/kevin-huff/slash-or-smash/timer"
)

func pauseTimer(s timer.State, now time.Time) (timer.State, error) {
	t, err := timer.Pause(s, now)
	return t, timerError(err)
}

func resumeTimer(s timer.State, now time.Time) (timer.State, error) {
	t, err := timer.Resume(s, now)
	return t, timerError(err)
}

func extendTimer(s timer.State, d time.Duration, now time.Time) (timer.State, error) {
	t, err := timer.Extend(s, d, now)
	return t, timerError(err)
}

// Snapshot returns the fully resolved show state. A running timer that has
// reached its target is persisted as completed; if that happens during
// voting the round is locked as part of the read. That path does not touch
// the prediction service: only an explicit Lock resolves predictions.
func (e *Engine) Snapshot(ctx context.Context) (ShowState, error) {
	defer telemetry.ObserveSince("snapshot", time.Now())
	for attempt := 0; attempt < commitAttempts; attempt++ {
		r, err := e.store.LoadRound(ctx)
		if err != nil {
			return ShowState{}, fmt.Errorf("snapshot: load round: %w", err)
		}
		now := e.clock.Now()

		var c *Commit
		autoLocked := false
		if lc, ok := r.AutoLock(now); ok {
			c, autoLocked = &lc, true
		} else if resolved := timer.Resolve(r.Timer, now); timer.Changed(r.Timer, resolved) {
			tc := r.WithTimer(resolved)
			c = &tc
		}
		if c != nil {
			r, err = e.store.CommitRound(ctx, *c)
			if errors.Is(err, ErrStaleRound) {
				telemetry.RecordConflict("snapshot")
				continue
			}
			if err != nil {
				return ShowState{}, fmt.Errorf("snapshot: persist timer: %w", err)
			}
			if autoLocked {
				telemetry.RecordAutoLock()
				e.logger(ctx).Info("round locked on expiry", slog.String("item_id", r.CurrentItemID))
			}
		}
		r.Timer = timer.Resolve(r.Timer, now)
		return e.project(ctx, r)
	}
	return ShowState{}, newError(Conflict, "Show state changed concurrently, retry")
}

func (e *Engine) project(ctx context.Context, r Round) (ShowState, error) {
	st := ShowState{
		Version: r.Version,
		Stage:   r.Stage,
		Timer:   r.Timer,
	}
	if r.CurrentItemID != "" {
		it, err := e.store.GetItem(ctx, r.CurrentItemID)
		if err != nil {
			return ShowState{}, fmt.Errorf("snapshot: current item: %w", err)
		}
		st.CurrentItem = it
	}
	if st.CurrentItem != nil {
		js, err := e.judgeSummary(ctx, st.CurrentItem.ID)
		if err != nil {
			return ShowState{}, err
		}
		as, err := e.audienceSummary(ctx, st.CurrentItem.ID)
		if err != nil {
			return ShowState{}, err
		}
		st.CurrentVotes, st.AudienceVotes = &js, &as
	}
	q, err := e.store.ListQueue(ctx)
	if err != nil {
		return ShowState{}, fmt.Errorf("snapshot: queue: %w", err)
	}
	st.Queue = q
	telemetry.SetQueueDepth(len(q))

	raw, ok, err := e.store.GetValue(ctx, KeyOverlayVoting)
	if err != nil {
		return ShowState{}, fmt.Errorf("snapshot: overlay flag: %w", err)
	}
	if ok {
		st.ShowOverlayVoting, _ = strconv.ParseBool(raw)
	}
	return st, nil
}
