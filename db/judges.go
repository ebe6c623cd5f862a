package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kevin-huff/slash-or-smash/show"
)

const judgeColumns = `id, invite_code, secret, name, icon, status, created_at, activated_at, last_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJudge(row rowScanner) (show.Judge, error) {
	var (
		j               show.Judge
		name, icon      sql.NullString
		status          string
		activated, seen sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.InviteCode, &j.Token, &name, &icon, &status, &j.CreatedAt, &activated, &seen); err != nil {
		return show.Judge{}, err
	}
	j.Name, j.Icon, j.Status = name.String, icon.String, show.JudgeStatus(status)
	j.ActivatedAt = timePtr(activated)
	j.LastSeenAt = timePtr(seen)
	return j, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

// CreateJudge stores a new invite.
func (s *Store) CreateJudge(ctx context.Context, j show.Judge) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO judges(`+judgeColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		j.ID, j.InviteCode, j.Token, nullString(j.Name), nullString(j.Icon), string(j.Status), j.CreatedAt,
		nullTime(j.ActivatedAt), nullTime(j.LastSeenAt))
	return err
}

// ListJudges returns judges oldest first.
func (s *Store) ListJudges(ctx context.Context) ([]show.Judge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+judgeColumns+` FROM judges ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []show.Judge{}
	for rows.Next() {
		j, err := scanJudge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) judgeWhere(ctx context.Context, cond string, arg string) (*show.Judge, error) {
	j, err := scanJudge(s.db.QueryRowContext(ctx, `SELECT `+judgeColumns+` FROM judges WHERE `+cond+`=$1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJudge returns nil for unknown ids.
func (s *Store) GetJudge(ctx context.Context, id string) (*show.Judge, error) {
	return s.judgeWhere(ctx, "id", id)
}

// JudgeByToken returns nil when no invite carries token.
func (s *Store) JudgeByToken(ctx context.Context, token string) (*show.Judge, error) {
	return s.judgeWhere(ctx, "secret", token)
}

// UpdateJudge saves the judge's profile, status and timestamps.
func (s *Store) UpdateJudge(ctx context.Context, j show.Judge) error {
	res, err := s.db.ExecContext(ctx, `UPDATE judges SET name=$2, icon=$3, status=$4, activated_at=$5, last_seen_at=$6 WHERE id=$1`,
		j.ID, nullString(j.Name), nullString(j.Icon), string(j.Status), nullTime(j.ActivatedAt), nullTime(j.LastSeenAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("judge %s not found", j.ID)
	}
	return nil
}
