package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kevin-huff/slash-or-smash/crypto"
	"github.com/kevin-huff/slash-or-smash/oauth"
)

var _ oauth.TokenStore = (*Store)(nil)

// SaveToken stores or updates the token for provider. With an encryptor
// configured both secrets are sealed (encryption_version=1) and bound to the
// provider name; otherwise they are stored as plaintext (version 0).
func (s *Store) SaveToken(ctx context.Context, provider string, t oauth.Token) error {
	access, refresh := t.AccessToken, t.RefreshToken
	encVersion, encKeyID := 0, ""
	if s.enc != nil {
		var err error
		if access, err = crypto.SealString(s.enc, access, provider); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.SealString(s.enc, refresh, provider); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		encVersion, encKeyID = 1, s.enc.KeyID()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, subject_id, encryption_version, encryption_key_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			subject_id=EXCLUDED.subject_id,
			encryption_version=EXCLUDED.encryption_version,
			encryption_key_id=EXCLUDED.encryption_key_id,
			updated_at=NOW()`,
		provider, access, refresh, t.Expiry, t.Scope, t.SubjectID, encVersion, encKeyID)
	return err
}

// LoadToken returns the stored token for provider; ok is false when none is
// stored. Plaintext rows from before encryption was enabled are read as is.
func (s *Store) LoadToken(ctx context.Context, provider string) (oauth.Token, bool, error) {
	var t oauth.Token
	var access, refresh, scope, subject, keyID sql.NullString
	var expiry sql.NullTime
	var encVersion int
	err := s.db.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at, scope, subject_id,
			COALESCE(encryption_version, 0), encryption_key_id
		FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&access, &refresh, &expiry, &scope, &subject, &encVersion, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	t.AccessToken, t.RefreshToken = access.String, refresh.String
	t.Expiry, t.Scope, t.SubjectID = expiry.Time, scope.String, subject.String
	if encVersion == 1 {
		if s.enc == nil {
			return oauth.Token{}, false, fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if keyID.Valid && keyID.String != "" && keyID.String != s.enc.KeyID() {
			return oauth.Token{}, false, fmt.Errorf("token sealed with key %s, configured key is %s", keyID.String, s.enc.KeyID())
		}
		if t.AccessToken, err = crypto.OpenString(s.enc, t.AccessToken, provider); err != nil {
			return oauth.Token{}, false, fmt.Errorf("decrypt access token: %w", err)
		}
		if t.RefreshToken, err = crypto.OpenString(s.enc, t.RefreshToken, provider); err != nil {
			return oauth.Token{}, false, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return t, true, nil
}

// DeleteToken forgets provider's token.
func (s *Store) DeleteToken(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider=$1`, provider)
	return err
}

// PlaintextTokenProviders lists providers whose token row is not yet sealed.
func (s *Store) PlaintextTokenProviders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0 ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TokenEncryptionStatus counts token rows by encryption_version.
func (s *Store) TokenEncryptionStatus(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT COALESCE(encryption_version, 0), COUNT(*) FROM oauth_tokens GROUP BY 1 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query encryption status: %w", err)
	}
	defer rows.Close()
	out := map[int]int{}
	for rows.Next() {
		var version, n int
		if err := rows.Scan(&version, &n); err != nil {
			return nil, err
		}
		out[version] = n
	}
	return out, rows.Err()
}
