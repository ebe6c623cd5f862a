package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kevin-huff/slash-or-smash/oauth"
)

// ErrNotConnected means no broadcaster token is stored.
var ErrNotConnected = errors.New("twitch account not connected")

// StoredToken serves the broadcaster's user token from a TokenStore,
// refreshing it through Refresh when it is close to expiry or rejected.
type StoredToken struct {
	Store    oauth.TokenStore
	Provider string
	Refresh  oauth.RefreshFunc

	mu sync.Mutex
}

// Skew is how early before expiry a token is refreshed.
const Skew = 60 * time.Second

func (s *StoredToken) provider() string {
	if s.Provider == "" {
		return Provider
	}
	return s.Provider
}

// Token returns the stored token without refreshing.
func (s *StoredToken) Token(ctx context.Context) (oauth.Token, error) {
	t, ok, err := s.Store.LoadToken(ctx, s.provider())
	if err != nil {
		return oauth.Token{}, err
	}
	if !ok || t.AccessToken == "" {
		return oauth.Token{}, ErrNotConnected
	}
	return t, nil
}

// AccessToken returns a fresh (or cached) access token.
func (s *StoredToken) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	if t.Valid(time.Now().Add(Skew)) || t.RefreshToken == "" || s.Refresh == nil {
		return t.AccessToken, nil
	}
	if _, err := oauth.RefreshOnce(ctx, s.Store, s.provider(), Skew, s.Refresh); err != nil {
		return "", err
	}
	t, err = s.Token(ctx)
	return t.AccessToken, err
}

// ForceRefresh refreshes regardless of the stored expiry.
func (s *StoredToken) ForceRefresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Refresh == nil {
		return "", errors.New("token refresh not configured")
	}
	t, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	if t.RefreshToken == "" {
		return "", errors.New("no refresh token stored")
	}
	t.Expiry = time.Now()
	if err := s.Store.SaveToken(ctx, s.provider(), t); err != nil {
		return "", fmt.Errorf("expire token: %w", err)
	}
	if _, err := oauth.RefreshOnce(ctx, s.Store, s.provider(), Skew, s.Refresh); err != nil {
		return "", err
	}
	t, err = s.Token(ctx)
	return t.AccessToken, err
}
