package show

import (
	"time"

	"github.com/kevin-huff/slash-or-smash/timer"
)

// InitialRound is the record used before anything has been persisted.
func InitialRound(d time.Duration, now time.Time) Round {
	return Round{Stage: StageIdle, Timer: timer.Reset(d, now)}
}

func (r Round) commit(next Round, statuses ...StatusChange) Commit {
	next.Version = r.Version
	return Commit{Expect: r.Version, Next: next, Statuses: statuses}
}

// WithTimer keeps stage and item and replaces the timer.
func (r Round) WithTimer(t timer.State) Commit {
	next := r
	next.Timer = t
	return r.commit(next)
}

// Advance makes nextID the current item and arms a paused timer. The previous
// item, if any, is marked done.
func (r Round) Advance(nextID string, d time.Duration, now time.Time) Commit {
	statuses := make([]StatusChange, 0, 2)
	if r.CurrentItemID != "" && r.CurrentItemID != nextID {
		statuses = append(statuses, StatusChange{ItemID: r.CurrentItemID, Status: ItemDone})
	}
	statuses = append(statuses, StatusChange{ItemID: nextID, Status: ItemVoting})
	c := r.commit(Round{Stage: StageVoting, CurrentItemID: nextID, Timer: timer.Arm(d, now)}, statuses...)
	c.Dequeue = nextID
	return c
}

// Lock closes voting on the current item.
func (r Round) Lock(now time.Time) (Commit, error) {
	if r.CurrentItemID == "" {
		return Commit{}, newError(NoActiveItem, "No active item to lock")
	}
	if r.Stage != StageVoting {
		return Commit{}, newError(WrongStage, "Only items in voting can be locked")
	}
	return r.lock(now), nil
}

func (r Round) lock(now time.Time) Commit {
	next := Round{Stage: StageLocked, CurrentItemID: r.CurrentItemID, Timer: timer.ForceComplete(r.Timer, now)}
	if r.CurrentItemID == "" {
		return r.commit(next)
	}
	return r.commit(next, StatusChange{ItemID: r.CurrentItemID, Status: ItemLocked})
}

// AutoLock locks a voting round whose timer has run out. ok is false when
// the round does not need locking.
func (r Round) AutoLock(now time.Time) (c Commit, ok bool) {
	if r.Stage != StageVoting || timer.Resolve(r.Timer, now).Status != timer.Completed {
		return Commit{}, false
	}
	return r.lock(now), true
}

// Reopen resumes voting on a locked item with a fresh running timer.
func (r Round) Reopen(d time.Duration, now time.Time) (Commit, error) {
	if r.CurrentItemID == "" {
		return Commit{}, newError(NoActiveItem, "No active item to reopen")
	}
	if r.Stage != StageLocked {
		return Commit{}, newError(WrongStage, "Can only reopen voting from locked stage")
	}
	next := Round{Stage: StageVoting, CurrentItemID: r.CurrentItemID, Timer: timer.ArmRunning(d, now)}
	return r.commit(next, StatusChange{ItemID: r.CurrentItemID, Status: ItemVoting}), nil
}

// ShowResults reveals a locked item.
func (r Round) ShowResults(now time.Time) (Commit, error) {
	if r.CurrentItemID == "" {
		return Commit{}, newError(NoActiveItem, "No active item to show results for")
	}
	if r.Stage != StageLocked {
		return Commit{}, newError(WrongStage, "Can only show results after locking votes")
	}
	next := Round{Stage: StageResults, CurrentItemID: r.CurrentItemID, Timer: timer.ForceComplete(r.Timer, now)}
	return r.commit(next, StatusChange{ItemID: r.CurrentItemID, Status: ItemDone}), nil
}

// Reset returns the show to idle with no current item.
func (r Round) Reset(d time.Duration, now time.Time) Commit {
	return r.commit(Round{Stage: StageIdle, Timer: timer.Reset(d, now)})
}
