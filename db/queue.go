package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kevin-huff/slash-or-smash/show"
)

// CreateItem registers an item.
func (s *Store) CreateItem(ctx context.Context, it show.Item) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO items(id, name, status, created_at) VALUES($1,$2,$3,$4)`,
		it.ID, it.Name, string(it.Status), it.CreatedAt)
	return err
}

// GetItem returns nil for unknown ids.
func (s *Store) GetItem(ctx context.Context, id string) (*show.Item, error) {
	var it show.Item
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, status, created_at FROM items WHERE id=$1`, id).
		Scan(&it.ID, &it.Name, &status, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.Status = show.ItemStatus(status)
	return &it, nil
}

// ListItems returns every item, oldest first.
func (s *Store) ListItems(ctx context.Context) ([]show.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, status, created_at FROM items ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []show.Item{}
	for rows.Next() {
		var it show.Item
		var status string
		if err := rows.Scan(&it.ID, &it.Name, &status, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Status = show.ItemStatus(status)
		out = append(out, it)
	}
	return out, rows.Err()
}

// Enqueue appends itemID behind the highest rank and marks it queued.
// Enqueueing an already queued item returns its existing entry.
func (s *Store) Enqueue(ctx context.Context, itemID string) (show.QueueEntry, error) {
	var rank int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE queue IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock queue: %w", err)
		}
		err := tx.QueryRowContext(ctx, `SELECT ord FROM queue WHERE item_id=$1`, itemID).Scan(&rank)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(ord), 0) + $1 FROM queue`, show.RankStep).Scan(&rank); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO queue(item_id, ord) VALUES($1,$2)`, itemID, rank); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE items SET status=$1, updated_at=NOW() WHERE id=$2`, string(show.ItemQueued), itemID)
		return err
	})
	if err != nil {
		return show.QueueEntry{}, err
	}
	return show.QueueEntry{ItemID: itemID, Rank: rank}, nil
}

// PeekQueue returns the lowest-ranked item without removing it.
func (s *Store) PeekQueue(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT item_id FROM queue ORDER BY ord, item_id LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ListQueue returns entries in rank order with their items.
func (s *Store) ListQueue(ctx context.Context) ([]show.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT q.item_id, q.ord, i.name, i.status, i.created_at
		FROM queue q JOIN items i ON i.id = q.item_id
		ORDER BY q.ord, q.item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []show.QueueEntry{}
	for rows.Next() {
		var e show.QueueEntry
		var name, status string
		var created time.Time
		if err := rows.Scan(&e.ItemID, &e.Rank, &name, &status, &created); err != nil {
			return nil, err
		}
		e.Position = len(out) + 1
		e.Item = &show.Item{ID: e.ItemID, Name: name, Status: show.ItemStatus(status), CreatedAt: created}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveFromQueue reports whether itemID was queued.
func (s *Store) RemoveFromQueue(ctx context.Context, itemID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE item_id=$1`, itemID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReorderQueue validates ids against the locked queue and rewrites ranks
// densely in one transaction.
func (s *Store) ReorderQueue(ctx context.Context, ids []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE queue IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock queue: %w", err)
		}
		rows, err := tx.QueryContext(ctx, `SELECT item_id FROM queue ORDER BY ord, item_id`)
		if err != nil {
			return err
		}
		var current []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			current = append(current, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := show.CheckPermutation(current, ids); err != nil {
			return err
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE queue SET ord=$1 WHERE item_id=$2`, (i+1)*show.RankStep, id); err != nil {
				return fmt.Errorf("rerank %s: %w", id, err)
			}
		}
		return nil
	})
}
