package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/timer"
)

// run_state keys holding the round record.
const (
	keyRoundVersion = "round_version"
	keyStage        = "stage"
	keyCurrentItem  = "current_item_id"
	keyTimerState   = "timer_state"
)

// GetValue returns a run-state value.
func (s *Store) GetValue(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM run_state WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, v.Valid, nil
}

// SetValue upserts a run-state value.
func (s *Store) SetValue(ctx context.Context, key, value string) error {
	return setValue(ctx, s.db, key, value)
}

// DeleteValue removes a run-state key.
func (s *Store) DeleteValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_state WHERE key=$1`, key)
	return err
}

func setValue(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO run_state(key, value, updated_at) VALUES($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// LoadRound assembles the round record from its run_state keys. A missing or
// corrupt timer falls back to an idle default.
func (s *Store) LoadRound(ctx context.Context) (show.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM run_state WHERE key IN ($1,$2,$3,$4)`,
		keyRoundVersion, keyStage, keyCurrentItem, keyTimerState)
	if err != nil {
		return show.Round{}, err
	}
	defer rows.Close()
	vals := map[string]string{}
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return show.Round{}, err
		}
		vals[k] = v.String
	}
	if err := rows.Err(); err != nil {
		return show.Round{}, err
	}
	return decodeRound(vals, s.now()), nil
}

// CommitRound applies c iff round_version still equals c.Expect. The version
// row is locked for the duration so concurrent commits serialize.
func (s *Store) CommitRound(ctx context.Context, c show.Commit) (show.Round, error) {
	next := c.Next
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_state(key, value) VALUES($1,'0') ON CONFLICT(key) DO NOTHING`, keyRoundVersion); err != nil {
			return err
		}
		cur, err := roundVersion(ctx, tx, "FOR UPDATE")
		if err != nil {
			return err
		}
		if cur != c.Expect {
			return show.ErrStaleRound
		}

		if c.Wipe {
			for _, q := range []string{`DELETE FROM queue`, `DELETE FROM audience_votes`, `DELETE FROM votes`, `DELETE FROM items`} {
				if _, err := tx.ExecContext(ctx, q); err != nil {
					return fmt.Errorf("wipe: %w", err)
				}
			}
		}
		if c.Dequeue != "" {
			// Blocks reorders and enqueues until commit so the head read
			// below is the head being removed.
			if _, err := tx.ExecContext(ctx, `LOCK TABLE queue IN SHARE ROW EXCLUSIVE MODE`); err != nil {
				return fmt.Errorf("lock queue: %w", err)
			}
			var head string
			err := tx.QueryRowContext(ctx, `SELECT item_id FROM queue ORDER BY ord, item_id LIMIT 1`).Scan(&head)
			if errors.Is(err, sql.ErrNoRows) {
				return show.ErrStaleRound
			}
			if err != nil {
				return fmt.Errorf("queue head: %w", err)
			}
			if head != c.Dequeue {
				return show.ErrStaleRound
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE item_id=$1`, c.Dequeue); err != nil {
				return fmt.Errorf("dequeue: %w", err)
			}
		}
		for _, sc := range c.Statuses {
			if _, err := tx.ExecContext(ctx, `UPDATE items SET status=$1, updated_at=NOW() WHERE id=$2`, string(sc.Status), sc.ItemID); err != nil {
				return fmt.Errorf("set item status: %w", err)
			}
		}

		next.Version = c.Expect + 1
		tb, err := json.Marshal(next.Timer)
		if err != nil {
			return err
		}
		for k, v := range map[string]string{
			keyStage:        string(next.Stage),
			keyTimerState:   string(tb),
			keyRoundVersion: strconv.FormatUint(next.Version, 10),
		} {
			if err := setValue(ctx, tx, k, v); err != nil {
				return fmt.Errorf("persist %s: %w", k, err)
			}
		}
		if next.CurrentItemID == "" {
			_, err = tx.ExecContext(ctx, `DELETE FROM run_state WHERE key=$1`, keyCurrentItem)
		} else {
			err = setValue(ctx, tx, keyCurrentItem, next.CurrentItemID)
		}
		return err
	})
	if err != nil {
		return show.Round{}, err
	}
	return next, nil
}

// roundVersion reads round_version with the given row lock clause. A missing
// row is version zero.
func roundVersion(ctx context.Context, tx *sql.Tx, lock string) (uint64, error) {
	var raw sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT value FROM run_state WHERE key=$1 `+lock, keyRoundVersion).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read round version: %w", err)
	}
	v, _ := strconv.ParseUint(raw.String, 10, 64)
	return v, nil
}

// decodeRound maps run_state rows onto a Round. Unknown stages normalize to
// idle.
func decodeRound(vals map[string]string, now time.Time) show.Round {
	r := show.InitialRound(timer.DefaultDuration, now)
	r.Version, _ = strconv.ParseUint(vals[keyRoundVersion], 10, 64)
	r.Stage = show.ParseStage(vals[keyStage])
	r.CurrentItemID = vals[keyCurrentItem]
	if raw := vals[keyTimerState]; raw != "" {
		var t timer.State
		if err := json.Unmarshal([]byte(raw), &t); err == nil && t.Status != "" {
			r.Timer = t
		}
	}
	return r
}
