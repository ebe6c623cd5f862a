package show

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/kevin-huff/slash-or-smash/telemetry"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// commitAttempts bounds how often an operation reloads after losing a
// compare-and-swap before reporting Conflict.
const commitAttempts = 3

// Predictor is the external prediction service. Calls are made off the
// request path; failures are logged and never reach the caller.
type Predictor interface {
	OpenPrediction(ctx context.Context, itemID string, window time.Duration) error
	ResolvePrediction(ctx context.Context, itemID string, verdict votes.Verdict) error
	CancelPrediction(ctx context.Context) error
}

// Engine orchestrates the round lifecycle over a Store.
type Engine struct {
	store       Store
	predictor   Predictor
	clock       clockwork.Clock
	log         *slog.Logger
	hookTimeout time.Duration
	newVoterID  func() string
	newItemID   func() (string, error)

	hooks sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, typically with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithPredictor installs the prediction service hooks.
func WithPredictor(p Predictor) Option { return func(e *Engine) { e.predictor = p } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithHookTimeout bounds each prediction call.
func WithHookTimeout(d time.Duration) Option { return func(e *Engine) { e.hookTimeout = d } }

// WithVoterIDs sets the generator for anonymous audience voter ids.
func WithVoterIDs(fn func() string) Option { return func(e *Engine) { e.newVoterID = fn } }

// WithItemIDs sets the generator for registered item ids.
func WithItemIDs(fn func() (string, error)) Option { return func(e *Engine) { e.newItemID = fn } }

// NewEngine returns an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		clock:       clockwork.NewRealClock(),
		log:         slog.Default(),
		hookTimeout: 10 * time.Second,
		newVoterID:  uuid.NewString,
		newItemID:   func() (string, error) { return gonanoid.New() },
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(slog.String("component", "show"))
	return e
}

// Wait blocks until in-flight prediction calls finish.
func (e *Engine) Wait() { e.hooks.Wait() }

func (e *Engine) logger(ctx context.Context) *slog.Logger { return telemetry.WithCorr(ctx, e.log) }

// Settings returns the persisted settings, defaulted.
func (e *Engine) Settings(ctx context.Context) (Settings, error) {
	return loadSettings(ctx, e.store)
}

// UpdateSettings applies p after validation and returns the stored result.
func (e *Engine) UpdateSettings(ctx context.Context, p SettingsPatch) (Settings, error) {
	cur, err := e.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := cur.Apply(p)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	if err := saveSettings(ctx, e.store, next); err != nil {
		return Settings{}, err
	}
	e.logger(ctx).Info("settings updated", slog.Int("default_timer_seconds", next.DefaultTimerSeconds), slog.Int("grace_window_seconds", next.GraceWindowSeconds))
	return next, nil
}

func (e *Engine) roundDuration(ctx context.Context) (time.Duration, error) {
	s, err := e.Settings(ctx)
	if err != nil {
		return 0, err
	}
	return s.TimerDuration(), nil
}

// transition loads the round, plans a commit and applies it, reloading when
// another writer got there first.
func (e *Engine) transition(ctx context.Context, op string, plan func(r Round, now time.Time) (Commit, error)) (Round, error) {
	ctx, span := telemetry.StartSpan(ctx, "show", op, telemetry.OperationAttr(op))
	defer span.End()
	defer telemetry.ObserveSince(op, time.Now())

	for attempt := 0; attempt < commitAttempts; attempt++ {
		r, err := e.store.LoadRound(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return Round{}, fmt.Errorf("%s: load round: %w", op, err)
		}
		c, err := plan(r, e.clock.Now())
		if err != nil {
			telemetry.RecordError(span, err)
			return Round{}, err
		}
		next, err := e.store.CommitRound(ctx, c)
		if errors.Is(err, ErrStaleRound) {
			telemetry.RecordConflict(op)
			continue
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return Round{}, fmt.Errorf("%s: commit round: %w", op, err)
		}
		if next.CurrentItemID != "" {
			span.SetAttributes(telemetry.ItemAttr(next.CurrentItemID))
		}
		telemetry.RecordTransition(op)
		telemetry.SetSpanSuccess(span)
		return next, nil
	}
	err := newError(Conflict, "Show state changed concurrently, retry")
	telemetry.RecordError(span, err)
	return Round{}, err
}

// Advance makes the lowest-ranked queued item current and opens voting on it
// with a paused timer.
func (e *Engine) Advance(ctx context.Context) (ShowState, error) {
	d, err := e.roundDuration(ctx)
	if err != nil {
		return ShowState{}, err
	}
	r, err := e.transition(ctx, "advance", func(r Round, now time.Time) (Commit, error) {
		next, ok, err := e.store.PeekQueue(ctx)
		if err != nil {
			return Commit{}, fmt.Errorf("peek queue: %w", err)
		}
		if !ok {
			return Commit{}, newError(EmptyQueue, "No items in queue. Add an item first.")
		}
		return r.Advance(next, d, now), nil
	})
	if err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Info("round advanced", slog.String("item_id", r.CurrentItemID))
	itemID := r.CurrentItemID
	e.goHook(ctx, "open", func(hctx context.Context) error {
		return e.predictor.OpenPrediction(hctx, itemID, d)
	})
	return e.Snapshot(ctx)
}

// Lock closes voting on the current item and resolves the prediction from the
// judge average.
func (e *Engine) Lock(ctx context.Context) (ShowState, error) {
	r, err := e.transition(ctx, "lock", func(r Round, now time.Time) (Commit, error) { return r.Lock(now) })
	if err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Info("round locked", slog.String("item_id", r.CurrentItemID))
	itemID := r.CurrentItemID
	e.goHook(ctx, "resolve", func(hctx context.Context) error {
		return e.resolvePrediction(hctx, itemID)
	})
	return e.Snapshot(ctx)
}

func (e *Engine) resolvePrediction(ctx context.Context, itemID string) error {
	ballots, err := e.store.JudgeVotes(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load judge votes: %w", err)
	}
	sum := votes.Summarize(ballots)
	verdict, ok := votes.VerdictFor(sum.Average)
	if !ok {
		e.logger(ctx).Warn("no judge votes; prediction left unresolved", slog.String("item_id", itemID))
		return nil
	}
	return e.predictor.ResolvePrediction(ctx, itemID, verdict)
}

// Reopen resumes voting on a locked item with a running timer at the full
// configured duration. The open prediction is cancelled and a fresh one
// opened.
func (e *Engine) Reopen(ctx context.Context) (ShowState, error) {
	d, err := e.roundDuration(ctx)
	if err != nil {
		return ShowState{}, err
	}
	r, err := e.transition(ctx, "reopen", func(r Round, now time.Time) (Commit, error) { return r.Reopen(d, now) })
	if err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Info("round reopened", slog.String("item_id", r.CurrentItemID))
	itemID := r.CurrentItemID
	e.goHook(ctx, "reopen", func(hctx context.Context) error {
		if err := e.predictor.CancelPrediction(hctx); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
		return e.predictor.OpenPrediction(hctx, itemID, d)
	})
	return e.Snapshot(ctx)
}

// ShowResults reveals the locked item.
func (e *Engine) ShowResults(ctx context.Context) (ShowState, error) {
	r, err := e.transition(ctx, "results", func(r Round, now time.Time) (Commit, error) { return r.ShowResults(now) })
	if err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Info("results shown", slog.String("item_id", r.CurrentItemID))
	return e.Snapshot(ctx)
}

// ResetToIdle clears the current item and resets the timer. It always
// succeeds.
func (e *Engine) ResetToIdle(ctx context.Context) (ShowState, error) {
	d, err := e.roundDuration(ctx)
	if err != nil {
		return ShowState{}, err
	}
	if _, err := e.transition(ctx, "reset", func(r Round, now time.Time) (Commit, error) { return r.Reset(d, now), nil }); err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Info("show reset to idle")
	return e.Snapshot(ctx)
}

// ClearAll resets the show and deletes the queue, every ballot and every
// registered item in one commit.
func (e *Engine) ClearAll(ctx context.Context) (ShowState, error) {
	d, err := e.roundDuration(ctx)
	if err != nil {
		return ShowState{}, err
	}
	_, err = e.transition(ctx, "clear_all", func(r Round, now time.Time) (Commit, error) {
		c := r.Reset(d, now)
		c.Wipe = true
		return c, nil
	})
	if err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Warn("show cleared")
	return e.Snapshot(ctx)
}

// PauseTimer freezes a running timer.
func (e *Engine) PauseTimer(ctx context.Context) (ShowState, error) {
	return e.timerOp(ctx, "timer_pause", func(r Round, now time.Time) (Commit, error) {
		t, err := pauseTimer(r.Timer, now)
		if err != nil {
			return Commit{}, err
		}
		return r.WithTimer(t), nil
	})
}

// ResumeTimer restarts a paused timer.
func (e *Engine) ResumeTimer(ctx context.Context) (ShowState, error) {
	return e.timerOp(ctx, "timer_resume", func(r Round, now time.Time) (Commit, error) {
		t, err := resumeTimer(r.Timer, now)
		if err != nil {
			return Commit{}, err
		}
		return r.WithTimer(t), nil
	})
}

// ExtendTimer adds d to a running or paused timer.
func (e *Engine) ExtendTimer(ctx context.Context, d time.Duration) (ShowState, error) {
	return e.timerOp(ctx, "timer_extend", func(r Round, now time.Time) (Commit, error) {
		t, err := extendTimer(r.Timer, d, now)
		if err != nil {
			return Commit{}, err
		}
		return r.WithTimer(t), nil
	})
}

func (e *Engine) timerOp(ctx context.Context, op string, plan func(Round, time.Time) (Commit, error)) (ShowState, error) {
	r, err := e.transition(ctx, op, plan)
	if err != nil {
		return ShowState{}, err
	}
	e.logger(ctx).Info("timer updated", slog.String("op", op), slog.String("status", string(r.Timer.Status)), slog.Int64("remaining_ms", r.Timer.RemainingMs))
	return e.Snapshot(ctx)
}

// RegisterItem creates an item and appends it to the queue.
func (e *Engine) RegisterItem(ctx context.Context, name string) (Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, newError(InvalidInput, "name is required")
	}
	id, err := e.newItemID()
	if err != nil {
		return Item{}, fmt.Errorf("generate item id: %w", err)
	}
	it := Item{ID: id, Name: name, Status: ItemQueued, CreatedAt: e.clock.Now().UTC()}
	if err := e.store.CreateItem(ctx, it); err != nil {
		return Item{}, fmt.Errorf("create item: %w", err)
	}
	if _, err := e.store.Enqueue(ctx, id); err != nil {
		return Item{}, fmt.Errorf("enqueue item: %w", err)
	}
	e.logger(ctx).Info("item queued", slog.String("item_id", id))
	return it, nil
}

// RemoveFromQueue drops a queued item.
func (e *Engine) RemoveFromQueue(ctx context.Context, itemID string) (ShowState, error) {
	removed, err := e.store.RemoveFromQueue(ctx, itemID)
	if err != nil {
		return ShowState{}, fmt.Errorf("remove from queue: %w", err)
	}
	if !removed {
		return ShowState{}, newError(NotInQueue, "Item %s is not in the queue", itemID)
	}
	return e.Snapshot(ctx)
}

// ReorderQueue replaces the queue order. ids must be an exact permutation of
// the queued items; otherwise the queue is left unchanged.
func (e *Engine) ReorderQueue(ctx context.Context, ids []string) (ShowState, error) {
	if err := e.store.ReorderQueue(ctx, ids); err != nil {
		if IsKind(err, QueueMismatch) {
			return ShowState{}, err
		}
		return ShowState{}, fmt.Errorf("reorder queue: %w", err)
	}
	return e.Snapshot(ctx)
}

// SetOverlayVoting toggles the audience voting panel on the overlay.
func (e *Engine) SetOverlayVoting(ctx context.Context, show bool) (ShowState, error) {
	if err := e.store.SetValue(ctx, KeyOverlayVoting, strconv.FormatBool(show)); err != nil {
		return ShowState{}, fmt.Errorf("set overlay voting: %w", err)
	}
	return e.Snapshot(ctx)
}

// UpsertVote records a judge's score; a second vote from the same judge
// replaces the first.
func (e *Engine) UpsertVote(ctx context.Context, itemID, judgeID string, score int) (votes.Summary, error) {
	b := votes.JudgeBallot{ItemID: itemID, JudgeID: judgeID, Score: score, UpdatedAt: e.clock.Now().UTC()}
	if err := votes.Validate(b); err != nil {
		return votes.Summary{}, scoreError(err)
	}
	it, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return votes.Summary{}, fmt.Errorf("get item: %w", err)
	}
	if it == nil {
		return votes.Summary{}, newError(NotFound, "Item %s not found", itemID)
	}
	if err := e.store.UpsertJudgeVote(ctx, b); err != nil {
		return votes.Summary{}, fmt.Errorf("upsert vote: %w", err)
	}
	telemetry.RecordVote("judge")
	return e.judgeSummary(ctx, itemID)
}

// DeleteVote removes one judge's score.
func (e *Engine) DeleteVote(ctx context.Context, itemID, judgeID string) (votes.Summary, error) {
	if err := e.store.DeleteJudgeVote(ctx, itemID, judgeID); err != nil {
		return votes.Summary{}, fmt.Errorf("delete vote: %w", err)
	}
	return e.judgeSummary(ctx, itemID)
}

// ClearAllVotes deletes every judge and audience ballot.
func (e *Engine) ClearAllVotes(ctx context.Context) (ShowState, error) {
	if err := e.store.ClearVotes(ctx); err != nil {
		return ShowState{}, fmt.Errorf("clear votes: %w", err)
	}
	e.logger(ctx).Warn("all votes cleared")
	return e.Snapshot(ctx)
}

// SubmitAudienceVote records a viewer score for the round in progress. raw
// is rounded to the nearest rating; an empty voterID gets a generated one
// which is returned so the client can reuse it.
func (e *Engine) SubmitAudienceVote(ctx context.Context, voterID string, raw float64) (string, votes.Summary, error) {
	score, err := votes.RoundScore(raw)
	if err != nil {
		return "", votes.Summary{}, scoreError(err)
	}
	if voterID = strings.TrimSpace(voterID); voterID == "" {
		voterID = e.newVoterID()
	}
	itemID, err := e.recordAudience(ctx, voterID, score, "audience")
	if err != nil {
		return "", votes.Summary{}, err
	}
	sum, err := e.audienceSummary(ctx, itemID)
	return voterID, sum, err
}

// SubmitChatVote records a chat participant's score. It fails with
// NoActiveRound outside a voting window.
func (e *Engine) SubmitChatVote(ctx context.Context, voterID string, score int) error {
	if !votes.InRange(score) {
		return scoreError(votes.ErrInvalidScore)
	}
	_, err := e.recordAudience(ctx, voterID, score, "chat")
	return err
}

func (e *Engine) recordAudience(ctx context.Context, voterID string, score int, source string) (string, error) {
	itemID, err := e.castVote(ctx, func(itemID string) votes.Ballot {
		return votes.AudienceBallot{ItemID: itemID, VoterID: voterID, Score: score, UpdatedAt: e.clock.Now().UTC()}
	})
	if err != nil {
		return "", err
	}
	telemetry.RecordVote(source)
	return itemID, nil
}

// castVote stores the ballot built for the item under vote. The write is
// tied to the round version it observed, so a vote racing a lock or an
// advance is retried against the new round instead of landing after it.
func (e *Engine) castVote(ctx context.Context, ballot func(itemID string) votes.Ballot) (string, error) {
	for attempt := 0; attempt < commitAttempts; attempt++ {
		st, err := e.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		if st.Stage != StageVoting || st.CurrentItem == nil {
			return "", newError(NoActiveRound, "No active voting round")
		}
		b := ballot(st.CurrentItem.ID)
		if err := votes.Validate(b); err != nil {
			return "", scoreError(err)
		}
		err = e.store.CastVote(ctx, b, st.Version)
		if errors.Is(err, ErrStaleRound) {
			telemetry.RecordConflict("vote")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("cast vote: %w", err)
		}
		return b.Item(), nil
	}
	return "", newError(Conflict, "Show state changed concurrently, retry")
}

func (e *Engine) judgeSummary(ctx context.Context, itemID string) (votes.Summary, error) {
	ballots, err := e.store.JudgeVotes(ctx, itemID)
	if err != nil {
		return votes.Summary{}, fmt.Errorf("judge votes: %w", err)
	}
	return votes.Summarize(ballots), nil
}

func (e *Engine) audienceSummary(ctx context.Context, itemID string) (votes.Summary, error) {
	ballots, err := e.store.AudienceVotes(ctx, itemID)
	if err != nil {
		return votes.Summary{}, fmt.Errorf("audience votes: %w", err)
	}
	return votes.SummarizeAudience(ballots), nil
}

// goHook runs a prediction call in the background with its own deadline.
// The request context's values (correlation id) carry over; its
// cancellation does not.
func (e *Engine) goHook(ctx context.Context, action string, fn func(context.Context) error) {
	if e.predictor == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	log := e.logger(ctx)
	e.hooks.Add(1)
	go func() {
		defer e.hooks.Done()
		hctx, cancel := context.WithTimeout(base, e.hookTimeout)
		defer cancel()
		err := fn(hctx)
		telemetry.RecordPredictionCall(action, err)
		if err != nil {
			log.Warn("prediction call failed", slog.String("action", action), slog.Any("err", err))
		}
	}()
}
