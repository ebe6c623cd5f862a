// Package votes aggregates judge and audience ballots into the quantized
// summaries shown on the producer console and the overlay.
package votes

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	MinScore = 1
	MaxScore = 5
)

// ErrInvalidScore is returned for scores outside MinScore..MaxScore.
var ErrInvalidScore = errors.New("score must be an integer between 1 and 5")

// Ballot is a single voter's score for an item. Judges and audience members
// vote into separate tables and are never mixed in one summary.
type Ballot interface {
	Item() string
	Voter() string
	Value() int
	isBallot()
}

// JudgeBallot is a score from a named judge.
type JudgeBallot struct {
	ItemID    string    `json:"itemId"`
	JudgeID   string    `json:"judgeId"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b JudgeBallot) Item() string  { return b.ItemID }
func (b JudgeBallot) Voter() string { return b.JudgeID }
func (b JudgeBallot) Value() int    { return b.Score }
func (JudgeBallot) isBallot()       {}

// AudienceBallot is a score from an anonymous viewer, keyed by a voter id
// the client keeps (or a chat user id).
type AudienceBallot struct {
	ItemID    string    `json:"itemId"`
	VoterID   string    `json:"voterId"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b AudienceBallot) Item() string  { return b.ItemID }
func (b AudienceBallot) Voter() string { return b.VoterID }
func (b AudienceBallot) Value() int    { return b.Score }
func (AudienceBallot) isBallot()       {}

// Validate checks the ballot identifies an item and voter and carries a
// score in range.
func Validate(b Ballot) error {
	if b.Item() == "" || b.Voter() == "" {
		return fmt.Errorf("ballot requires item and voter ids")
	}
	if !InRange(b.Value()) {
		return ErrInvalidScore
	}
	return nil
}

// InRange reports whether score is a valid rating.
func InRange(score int) bool { return score >= MinScore && score <= MaxScore }

// RoundScore rounds a raw score to the nearest integer rating. The raw value
// must itself lie within MinScore..MaxScore, so 0.6 is rejected rather than
// counted as a 1.
func RoundScore(raw float64) (int, error) {
	if math.IsNaN(raw) || raw < MinScore || raw > MaxScore {
		return 0, ErrInvalidScore
	}
	return int(math.Round(raw)), nil
}

// Summary is the aggregate for one item. Average is nil when nobody voted.
type Summary struct {
	Average      *float64      `json:"average"`
	Distribution [5]int        `json:"distribution"`
	Count        int           `json:"count"`
	Votes        []JudgeBallot `json:"votes,omitempty"`
}

// Quantize rounds the mean to the nearest quarter point.
func Quantize(sum float64, count int) *float64 {
	if count <= 0 {
		return nil
	}
	avg := math.Round(sum/float64(count)*4) / 4
	return &avg
}

// Summarize builds a judge summary. Every row counts toward the mean while
// only in-range scores land in the distribution.
func Summarize(ballots []JudgeBallot) Summary {
	var s Summary
	sum := 0
	for _, b := range ballots {
		if InRange(b.Score) {
			s.Distribution[b.Score-1]++
		}
		sum += b.Score
	}
	s.Count = len(ballots)
	s.Average = Quantize(float64(sum), s.Count)
	if len(ballots) > 0 {
		s.Votes = append([]JudgeBallot(nil), ballots...)
	}
	return s
}

// SummarizeAudience builds an audience summary. Out-of-range rows are counted
// but contribute nothing to the sum.
func SummarizeAudience(ballots []AudienceBallot) Summary {
	var s Summary
	sum := 0
	for _, b := range ballots {
		if InRange(b.Score) {
			s.Distribution[b.Score-1]++
			sum += b.Score
		}
	}
	s.Count = len(ballots)
	s.Average = Quantize(float64(sum), s.Count)
	return s
}

// Verdict is the outcome a round's judge average maps to.
type Verdict string

const (
	High Verdict = "high"
	Low  Verdict = "low"
)

// VerdictThreshold splits high from low averages.
const VerdictThreshold = 2.5

// VerdictFor maps an average to a verdict. ok is false when there is no
// average to judge.
func VerdictFor(avg *float64) (v Verdict, ok bool) {
	if avg == nil {
		return "", false
	}
	if *avg >= VerdictThreshold {
		return High, true
	}
	return Low, true
}
