package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kevin-huff/slash-or-smash/show"
)

// setupTestDB opens TEST_PG_DSN, applies migrations and empties every show
// table. It skips the test when no database is configured.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.ExecContext(ctx, `TRUNCATE queue, votes, audience_votes, items, run_state, oauth_tokens, judges`); err != nil {
		database.Close()
		t.Fatalf("failed to truncate: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

func TestMigrate(t *testing.T) {
	database := setupTestDB(t)
	// Running the fallback twice must be a no-op.
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	for name, check := range map[string]func(*testing.T, show.Store){
		"commit round":     checkCommitRound,
		"dequeue missing":  checkDequeueMissing,
		"dequeue not head": checkDequeueNotHead,
		"queue ordering":   checkQueueOrdering,
		"votes":            checkVotes,
		"cast vote":        checkCastVote,
		"judges":           checkJudges,
		"list items":       checkListItems,
		"wipe":             checkWipe,
		"run state":        checkRunState,
	} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(setupTestDB(t))
			s.now = func() time.Time { return t0 }
			check(t, s)
		})
	}
}
