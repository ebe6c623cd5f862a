// Package db provides database connection helpers, schema migration, and the
// Postgres implementation of the show stores.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/kevin-huff/slash-or-smash/crypto"
	"github.com/kevin-huff/slash-or-smash/show"
)

// Open opens a Postgres connection for dsn with pool limits suited to a
// single-writer service.
func Open(dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(10)
	database.SetMaxIdleConns(5)
	database.SetConnMaxIdleTime(5 * time.Minute)
	return database, nil
}

// Migrate applies idempotent schema changes for all required tables and indices.
// It is the fallback when versioned migrations cannot run.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS queue (
			item_id TEXT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
			ord INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			judge_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (item_id, judge_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audience_votes (
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			voter_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (item_id, voter_id)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			subject_id TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0,
			encryption_key_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS judges (
			id TEXT PRIMARY KEY,
			invite_code TEXT NOT NULL,
			secret TEXT NOT NULL UNIQUE,
			name TEXT,
			icon TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			activated_at TIMESTAMPTZ,
			last_seen_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_ord ON queue(ord)`,
		`CREATE INDEX IF NOT EXISTS idx_judges_created ON judges(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_item_updated ON votes(item_id, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audience_votes_item ON audience_votes(item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_status ON items(status)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Store implements show.Store and the OAuth token store on Postgres.
type Store struct {
	db  *sql.DB
	enc crypto.Encryptor
	now func() time.Time
}

var _ show.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEncryptor encrypts OAuth tokens at rest.
func WithEncryptor(enc crypto.Encryptor) StoreOption { return func(s *Store) { s.enc = enc } }

// NewStore wraps an open database.
func NewStore(database *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: database, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
	}
	return s
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn in a transaction, committing iff fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Warn("tx rollback failed", slog.Any("err", err), slog.String("component", "db"))
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
