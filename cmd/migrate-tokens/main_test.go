package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/kevin-huff/slash-or-smash/crypto"
	"github.com/kevin-huff/slash-or-smash/db"
	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/testutil"
)

type fakeTokens struct {
	plain   map[string]oauth.Token
	sealed  map[string]oauth.Token
	failFor string
}

func (f *fakeTokens) PlaintextTokenProviders(context.Context) ([]string, error) {
	var out []string
	for p := range f.plain {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeTokens) LoadToken(_ context.Context, p string) (oauth.Token, bool, error) {
	t, ok := f.plain[p]
	return t, ok, nil
}

func (f *fakeTokens) SaveToken(_ context.Context, p string, t oauth.Token) error {
	if p == f.failFor {
		return errors.New("boom")
	}
	delete(f.plain, p)
	f.sealed[p] = t
	return nil
}

func (f *fakeTokens) DeleteToken(_ context.Context, p string) error {
	delete(f.plain, p)
	return nil
}

func newFake() *fakeTokens {
	return &fakeTokens{
		plain: map[string]oauth.Token{
			"twitch": {AccessToken: "a", RefreshToken: "r"},
			"other":  {AccessToken: "b"},
		},
		sealed: map[string]oauth.Token{},
	}
}

func TestMigrateTokens(t *testing.T) {
	tests := []struct {
		name     string
		dryRun   bool
		only     string
		failFor  string
		want     result
		wantErr  bool
		wantLeft int
	}{
		{name: "all", want: result{Found: 2, Migrated: 2}},
		{name: "dry run", dryRun: true, want: result{Found: 2}, wantLeft: 2},
		{name: "single provider", only: "twitch", want: result{Found: 1, Migrated: 1}, wantLeft: 1},
		{name: "one failure", failFor: "other", want: result{Found: 2, Migrated: 1, Failed: 1}, wantErr: true, wantLeft: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			f.failFor = tt.failFor
			got, err := migrateTokens(context.Background(), f, tt.dryRun, tt.only)
			if (err != nil) != tt.wantErr {
				t.Fatalf("migrateTokens() err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("migrateTokens() = %+v, want %+v", got, tt.want)
			}
			if len(f.plain) != tt.wantLeft {
				t.Errorf("plaintext left = %d, want %d", len(f.plain), tt.wantLeft)
			}
		})
	}
}

func TestMigrateTokensPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	enc, err := crypto.NewAESGCM(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}

	want := oauth.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour).UTC().Truncate(time.Second), Scope: "chat:read"}
	if err := db.NewStore(database).SaveToken(ctx, "twitch", want); err != nil {
		t.Fatalf("SaveToken() plaintext: %v", err)
	}

	store := db.NewStore(database, db.WithEncryptor(enc))
	res, err := migrateTokens(ctx, store, false, "")
	if err != nil || res.Migrated != 1 {
		t.Fatalf("migrateTokens() = %+v, %v", res, err)
	}

	left, err := store.PlaintextTokenProviders(ctx)
	if err != nil || len(left) != 0 {
		t.Errorf("PlaintextTokenProviders() = %v, %v, want none", left, err)
	}
	status, err := store.TokenEncryptionStatus(ctx)
	if err != nil || status[1] != 1 {
		t.Errorf("TokenEncryptionStatus() = %v, %v", status, err)
	}
	got, ok, err := store.LoadToken(ctx, "twitch")
	if err != nil || !ok || got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("LoadToken() = %+v, %v, %v", got, ok, err)
	}
}
