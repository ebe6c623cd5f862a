// Package main provides a CLI tool that seals plaintext OAuth tokens.
//
// Rows with encryption_version=0 are re-saved through the encrypted store,
// which rewrites them as version 1 (AES-256-GCM bound to the provider name).
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kevin-huff/slash-or-smash/crypto"
	"github.com/kevin-huff/slash-or-smash/db"
	"github.com/kevin-huff/slash-or-smash/oauth"
)

// tokenRewriter is the part of db.Store the migration needs.
type tokenRewriter interface {
	oauth.TokenStore
	PlaintextTokenProviders(ctx context.Context) ([]string, error)
}

type result struct {
	Found, Migrated, Failed int
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate a single provider only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}
	enc, err := crypto.NewAESGCM(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := db.Open(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	store := db.NewStore(database, db.WithEncryptor(enc))
	res, err := migrateTokens(ctx, store, *dryRun, *provider)
	slog.Info("migration summary",
		slog.Int("found", res.Found),
		slog.Int("migrated", res.Migrated),
		slog.Int("errors", res.Failed),
		slog.Bool("dry_run", *dryRun))
	if err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	if status, err := store.TokenEncryptionStatus(ctx); err == nil {
		for version, n := range status {
			slog.Info("token encryption status", slog.Int("encryption_version", version), slog.Int("count", n))
		}
	}
}

// migrateTokens loads each plaintext token and saves it back through the
// encrypting store. A failure on one provider does not stop the rest.
func migrateTokens(ctx context.Context, store tokenRewriter, dryRun bool, only string) (result, error) {
	var res result
	providers, err := store.PlaintextTokenProviders(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range providers {
		if only != "" && p != only {
			continue
		}
		res.Found++
		logger := slog.With(slog.String("provider", p))
		if dryRun {
			logger.Info("would migrate token (dry-run)")
			continue
		}
		tok, ok, err := store.LoadToken(ctx, p)
		if err == nil && !ok {
			// Deleted since the listing.
			continue
		}
		if err == nil {
			err = store.SaveToken(ctx, p, tok)
		}
		if err != nil {
			logger.Error("failed to migrate token", slog.Any("error", err))
			res.Failed++
			continue
		}
		logger.Info("migrated token")
		res.Migrated++
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("migration completed with %d errors", res.Failed)
	}
	return res, nil
}
