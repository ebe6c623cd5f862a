// Package twitchapi contains minimal helpers for the Twitch Helix API:
// resolving the authorized broadcaster and running channel predictions with a
// user access token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

const helixMaxRetries = 3

// retryBackoff is the base delay between retried Helix calls.
var retryBackoff = 250 * time.Millisecond

// ErrUnauthorized is returned when Helix rejects the token even after a
// forced refresh.
var ErrUnauthorized = errors.New("twitch rejected the access token")

// Auth supplies user access tokens.
type Auth interface {
	AccessToken(ctx context.Context) (string, error)
	// ForceRefresh discards the current token and returns a new one.
	ForceRefresh(ctx context.Context) (string, error)
}

// APIError is a non-retryable Helix error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api: %d: %s", e.Status, e.Message)
}

// HelixClient calls Helix on behalf of the authorized user.
type HelixClient struct {
	Auth       Auth
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) url(path string, q url.Values) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u := strings.TrimRight(base, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs a Helix call, retrying 429 and 5xx responses and refreshing the
// token once on 401. out may be nil.
func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if hc.Auth == nil {
		return errors.New("twitch client has no credentials")
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	tok, err := hc.Auth.AccessToken(ctx)
	if err != nil {
		return err
	}
	refreshed := false
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, hc.url(path, q), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		data, readErr := io.ReadAll(resp.Body)
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
		if readErr != nil {
			return readErr
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			refreshed = true
			if tok, err = hc.Auth.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < helixMaxRetries:
			slog.Debug("retrying helix call", slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
			continue
		case resp.StatusCode >= 300:
			return &APIError{Status: resp.StatusCode, Message: helixMessage(data)}
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, out)
	}
}

func helixMessage(data []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(data))
}

// User is a Helix user.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// CurrentUser returns the user the access token belongs to.
func (hc *HelixClient) CurrentUser(ctx context.Context) (User, error) {
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/users", nil, nil, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	return body.Data[0], nil
}
