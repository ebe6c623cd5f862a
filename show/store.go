package show

import (
	"context"

	"github.com/kevin-huff/slash-or-smash/votes"
)

// RoundStore persists the versioned round record.
type RoundStore interface {
	// LoadRound returns the stored round, or a zero-version idle round when
	// nothing was persisted yet.
	LoadRound(ctx context.Context) (Round, error)
	// CommitRound applies c atomically or returns ErrStaleRound.
	CommitRound(ctx context.Context, c Commit) (Round, error)
}

// QueueStore keeps the FIFO of queued items.
type QueueStore interface {
	PeekQueue(ctx context.Context) (itemID string, ok bool, err error)
	ListQueue(ctx context.Context) ([]QueueEntry, error)
	Enqueue(ctx context.Context, itemID string) (QueueEntry, error)
	RemoveFromQueue(ctx context.Context, itemID string) (bool, error)
	// ReorderQueue returns ErrQueueMismatch unless ids is a permutation of
	// the queue; on success ranks become (i+1)*RankStep.
	ReorderQueue(ctx context.Context, ids []string) error
}

// ItemStore is the submission catalogue.
type ItemStore interface {
	CreateItem(ctx context.Context, it Item) error
	// GetItem returns nil without error for unknown ids.
	GetItem(ctx context.Context, id string) (*Item, error)
	// ListItems returns every registered item, oldest first.
	ListItems(ctx context.Context) ([]Item, error)
}

// VoteStore keeps judge and audience ballots in separate tables. Writes are
// last-write-wins per (item, voter). Audience ballots only arrive through
// CastVote.
type VoteStore interface {
	UpsertJudgeVote(ctx context.Context, b votes.JudgeBallot) error
	DeleteJudgeVote(ctx context.Context, itemID, judgeID string) error
	JudgeVotes(ctx context.Context, itemID string) ([]votes.JudgeBallot, error)
	AudienceVotes(ctx context.Context, itemID string) ([]votes.AudienceBallot, error)
	// CastVote upserts b only while the round version still equals round.
	// Otherwise it writes nothing and returns ErrStaleRound.
	CastVote(ctx context.Context, b votes.Ballot, round uint64) error
	// ClearVotes deletes every judge and audience ballot.
	ClearVotes(ctx context.Context) error
}

// JudgeStore is the judge registry.
type JudgeStore interface {
	CreateJudge(ctx context.Context, j Judge) error
	// ListJudges returns judges oldest first.
	ListJudges(ctx context.Context) ([]Judge, error)
	// GetJudge and JudgeByToken return nil without error when nothing matches.
	GetJudge(ctx context.Context, id string) (*Judge, error)
	JudgeByToken(ctx context.Context, token string) (*Judge, error)
	UpdateJudge(ctx context.Context, j Judge) error
}

// RunState is the scalar key/value store backing settings and flags.
type RunState interface {
	GetValue(ctx context.Context, key string) (value string, ok bool, err error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// Store is everything the engine persists.
type Store interface {
	RoundStore
	QueueStore
	ItemStore
	VoteStore
	JudgeStore
	RunState
}

// Run-state keys owned by the engine.
const (
	KeyOverlayVoting = "show_overlay_voting"
	KeySettings      = "settings"
)

// CheckPermutation reports ErrQueueMismatch unless proposed lists exactly the
// ids in current, each once.
func CheckPermutation(current, proposed []string) error {
	if len(current) != len(proposed) {
		return ErrQueueMismatch
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range proposed {
		if !want[id] {
			return ErrQueueMismatch
		}
		delete(want, id)
	}
	return nil
}
