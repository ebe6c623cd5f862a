// Package show runs the round lifecycle of a live rating show: a producer
// advances through a queue of submissions, opens a timed voting window,
// locks it and reveals results.
//
// State lives in a versioned Round record. Every operation loads the record,
// computes the next one with a pure transition and commits it with a
// compare-and-swap on the version, so concurrent producers and polling
// overlays never interleave half-applied transitions. Reads resolve the timer
// lazily; there is no background ticker.
package show

import (
	"time"

	"github.com/kevin-huff/slash-or-smash/timer"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// Stage of the show.
type Stage string

const (
	StageIdle    Stage = "idle"
	StageReady   Stage = "ready" // reserved; no operation enters it
	StageVoting  Stage = "voting"
	StageLocked  Stage = "locked"
	StageResults Stage = "results"
)

// ParseStage normalizes a persisted value. Unknown or empty values are idle.
func ParseStage(s string) Stage {
	switch st := Stage(s); st {
	case StageIdle, StageReady, StageVoting, StageLocked, StageResults:
		return st
	}
	return StageIdle
}

// ItemStatus tracks an item through the show.
type ItemStatus string

const (
	ItemQueued ItemStatus = "queued"
	ItemVoting ItemStatus = "voting"
	ItemLocked ItemStatus = "locked"
	ItemDone   ItemStatus = "done"
)

// Item is a submission. The engine only reads its identity and writes its
// status; content lives with whoever registered it.
type Item struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// QueueEntry is a queued item. Ranks are sparse multiples of ten; Position is
// the 1-based place in rank order.
type QueueEntry struct {
	ItemID   string `json:"itemId"`
	Rank     int    `json:"ord"`
	Position int    `json:"position"`
	Item     *Item  `json:"item,omitempty"`
}

// RankStep is the gap between consecutive queue ranks.
const RankStep = 10

// Round is the versioned run-state record every transition reads and writes.
type Round struct {
	Version       uint64      `json:"version"`
	Stage         Stage       `json:"stage"`
	CurrentItemID string      `json:"currentItemId,omitempty"`
	Timer         timer.State `json:"timer"`
}

// StatusChange sets an item's status as part of a commit.
type StatusChange struct {
	ItemID string
	Status ItemStatus
}

// Commit is applied atomically by a RoundStore iff the stored version still
// equals Expect. On success the stored version becomes Expect+1.
type Commit struct {
	Expect   uint64
	Next     Round
	Dequeue  string // queue head removed in the same transaction; stale if no longer the head
	Statuses []StatusChange
	Wipe     bool // also delete queue, votes and items
}

// ShowState is the projection served to consoles and overlays. Clients
// extrapolate the countdown from Timer.RemainingMs, UpdatedAt and TargetTs.
type ShowState struct {
	Version           uint64         `json:"version"`
	Stage             Stage          `json:"stage"`
	CurrentItem       *Item          `json:"currentItem"`
	Queue             []QueueEntry   `json:"queue"`
	Timer             timer.State    `json:"timer"`
	CurrentVotes      *votes.Summary `json:"currentVotes"`
	AudienceVotes     *votes.Summary `json:"audienceVotes"`
	ShowOverlayVoting bool           `json:"showOverlayVoting"`
}

// JudgeStatus tracks a judge invite.
type JudgeStatus string

const (
	JudgePending  JudgeStatus = "pending"
	JudgeActive   JudgeStatus = "active"
	JudgeDisabled JudgeStatus = "disabled"
)

// Judge is an invited panel member. Token is the secret carried in the
// invite link and is the judge console's only credential.
type Judge struct {
	ID          string      `json:"id"`
	InviteCode  string      `json:"inviteCode"`
	Token       string      `json:"inviteToken"`
	Name        string      `json:"name"`
	Icon        string      `json:"icon"`
	Status      JudgeStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	ActivatedAt *time.Time  `json:"activatedAt"`
	LastSeenAt  *time.Time  `json:"lastSeenAt"`
}

// Standing is one item's place on the leaderboard.
type Standing struct {
	Item         Item     `json:"item"`
	Average      *float64 `json:"average"`
	VoteCount    int      `json:"voteCount"`
	Distribution [5]int   `json:"distribution"`
}
