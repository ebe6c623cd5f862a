package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
)

// RefreshFunc performs the provider-specific refresh grant for t.
type RefreshFunc func(ctx context.Context, t Token) (Token, error)

// ConfigRefresher returns a RefreshFunc backed by cfg's token endpoint.
func ConfigRefresher(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, t Token) (Token, error) {
		// An expired copy forces the token source to hit the endpoint.
		stale := &oauth2.Token{RefreshToken: t.RefreshToken, Expiry: time.Unix(1, 0)}
		nt, err := cfg.TokenSource(ctx, stale).Token()
		if err != nil {
			return Token{}, err
		}
		return FromOAuth2(nt), nil
	}
}

// RefreshOnce refreshes provider's token when its remaining lifetime is
// within window. It reports whether a new token was saved. An empty refresh
// token or scope in the response keeps the stored value.
func RefreshOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	cur, ok, err := store.LoadToken(ctx, provider)
	if err != nil {
		return false, fmt.Errorf("load %s token: %w", provider, err)
	}
	if !ok || cur.RefreshToken == "" {
		return false, nil
	}
	if !cur.Expiry.IsZero() && time.Until(cur.Expiry) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	next, err := fn(ctx2, cur)
	cancel()
	if err != nil {
		return false, fmt.Errorf("refresh %s token: %w", provider, err)
	}
	if next.AccessToken == "" {
		return false, errors.New("refresh returned empty access token")
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	next.SubjectID = cur.SubjectID
	if err := store.SaveToken(ctx, provider, next); err != nil {
		return false, fmt.Errorf("persist %s token: %w", provider, err)
	}
	return true, nil
}

// StartRefresher launches a goroutine that periodically checks provider's
// stored token and refreshes it when expiry falls within window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := RefreshOnce(ctx, store, provider, window, fn)
			switch {
			case err != nil && ctx.Err() == nil:
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
			case refreshed:
				slog.Info("token refreshed", slog.String("provider", provider))
			}
			// Per-iteration jitter of +/-20% of interval.
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}
