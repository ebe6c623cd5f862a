package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// UpsertJudgeVote records or replaces a judge's score.
func (s *Store) UpsertJudgeVote(ctx context.Context, b votes.JudgeBallot) error {
	return upsertJudgeVote(ctx, s.db, b)
}

func upsertJudgeVote(ctx context.Context, ex execer, b votes.JudgeBallot) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO votes(item_id, judge_id, score, updated_at) VALUES($1,$2,$3,$4)
		ON CONFLICT(item_id, judge_id) DO UPDATE SET score=EXCLUDED.score, updated_at=EXCLUDED.updated_at`,
		b.ItemID, b.JudgeID, b.Score, b.UpdatedAt)
	return err
}

// DeleteJudgeVote removes one judge's score.
func (s *Store) DeleteJudgeVote(ctx context.Context, itemID, judgeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM votes WHERE item_id=$1 AND judge_id=$2`, itemID, judgeID)
	return err
}

// JudgeVotes lists an item's judge ballots, most recent first.
func (s *Store) JudgeVotes(ctx context.Context, itemID string) ([]votes.JudgeBallot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, judge_id, score, updated_at FROM votes
		WHERE item_id=$1 ORDER BY updated_at DESC, judge_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []votes.JudgeBallot
	for rows.Next() {
		var b votes.JudgeBallot
		if err := rows.Scan(&b.ItemID, &b.JudgeID, &b.Score, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func upsertAudienceVote(ctx context.Context, ex execer, b votes.AudienceBallot) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO audience_votes(item_id, voter_id, score, updated_at) VALUES($1,$2,$3,$4)
		ON CONFLICT(item_id, voter_id) DO UPDATE SET score=EXCLUDED.score, updated_at=EXCLUDED.updated_at`,
		b.ItemID, b.VoterID, b.Score, b.UpdatedAt)
	return err
}

// AudienceVotes lists an item's audience ballots.
func (s *Store) AudienceVotes(ctx context.Context, itemID string) ([]votes.AudienceBallot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, voter_id, score, updated_at FROM audience_votes WHERE item_id=$1`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []votes.AudienceBallot
	for rows.Next() {
		var b votes.AudienceBallot
		if err := rows.Scan(&b.ItemID, &b.VoterID, &b.Score, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CastVote upserts b iff round_version still equals round. The version row
// is share-locked so a concurrent CommitRound waits for the vote, or the
// vote sees the new version.
func (s *Store) CastVote(ctx context.Context, b votes.Ballot, round uint64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := roundVersion(ctx, tx, "FOR SHARE")
		if err != nil {
			return err
		}
		if cur != round {
			return show.ErrStaleRound
		}
		switch v := b.(type) {
		case votes.JudgeBallot:
			return upsertJudgeVote(ctx, tx, v)
		case votes.AudienceBallot:
			return upsertAudienceVote(ctx, tx, v)
		}
		return fmt.Errorf("unsupported ballot %T", b)
	})
}

// ClearVotes deletes every judge and audience ballot in one transaction.
func (s *Store) ClearVotes(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM votes`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM audience_votes`)
		return err
	})
}
