package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kevin-huff/slash-or-smash/db"
	"github.com/kevin-huff/slash-or-smash/oauth"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = prev })
}

// newTestClient stores access as the broadcaster token and points a client
// at srv. refresh, when set, serves forced refreshes.
func newTestClient(t *testing.T, srv *httptest.Server, access string, refresh oauth.RefreshFunc) *HelixClient {
	t.Helper()
	store := db.NewMemoryStore(time.Now())
	if access != "" {
		_ = store.SaveToken(context.Background(), Provider, oauth.Token{
			AccessToken: access, RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour),
		})
	}
	return &HelixClient{
		Auth:       &StoredToken{Store: store, Refresh: refresh},
		ClientID:   "test-client-id",
		BaseURL:    srv.URL + "/helix",
		HTTPClient: srv.Client(),
	}
}

func TestHelixClient_CurrentUser(t *testing.T) {
	fastRetries(t)
	tests := []struct {
		response    interface{}
		name        string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name: "successful user lookup",
			response: map[string]interface{}{
				"data": []map[string]string{{"id": "12345", "login": "testuser"}},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			response:    map[string]interface{}{"data": []map[string]string{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "bad request is not retried",
			response:    map[string]interface{}{"message": "Missing required parameter"},
			statusCode:  http.StatusBadRequest,
			wantErr:     true,
			errContains: "Missing required parameter",
		},
		{
			name:        "server errors exhaust retries",
			response:    map[string]interface{}{"error": "Internal Server Error"},
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if r.URL.Path != "/helix/users" {
					t.Errorf("path = %s, want /helix/users", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			user, err := newTestClient(t, server, "test-token", nil).CurrentUser(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("CurrentUser() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("CurrentUser() error = %v, want containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("CurrentUser() unexpected error = %v", err)
			}
			if user.ID != tt.wantUserID {
				t.Errorf("CurrentUser() = %s, want %s", user.ID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_NotConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a token")
	}))
	defer server.Close()

	_, err := newTestClient(t, server, "", nil).CurrentUser(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("CurrentUser() error = %v, want ErrNotConnected", err)
	}
}

func TestHelixClient_401RefreshRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
				t.Fatalf("first attempt auth = %q, want stale token", got)
			}
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "Unauthorized", "status": 401})
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
			t.Fatalf("second attempt auth = %q, want refreshed token", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "u-123"}},
		})
	}))
	defer server.Close()

	refreshes := 0
	refresh := func(_ context.Context, cur oauth.Token) (oauth.Token, error) {
		refreshes++
		if cur.RefreshToken != "refresh" {
			t.Errorf("refresh token = %s, want refresh", cur.RefreshToken)
		}
		return oauth.Token{AccessToken: "fresh-token", Expiry: time.Now().Add(time.Hour)}, nil
	}

	user, err := newTestClient(t, server, "stale-token", refresh).CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() unexpected error = %v", err)
	}
	if user.ID != "u-123" {
		t.Fatalf("CurrentUser() = %q, want u-123", user.ID)
	}
	if refreshes != 1 || attempts != 2 {
		t.Fatalf("refreshes = %d attempts = %d, want 1 and 2", refreshes, attempts)
	}
}

func TestHelixClient_Repeated401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresh := func(context.Context, oauth.Token) (oauth.Token, error) {
		return oauth.Token{AccessToken: "still-bad", Expiry: time.Now().Add(time.Hour)}, nil
	}
	_, err := newTestClient(t, server, "stale", refresh).CurrentUser(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("CurrentUser() error = %v, want ErrUnauthorized", err)
	}
}

func TestHelixClient_429Retry(t *testing.T) {
	fastRetries(t)
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "u-1"}},
		})
	}))
	defer server.Close()

	if _, err := newTestClient(t, server, "tok", nil).CurrentUser(context.Background()); err != nil {
		t.Fatalf("CurrentUser() unexpected error after 429 retry = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts (429 + success), got %d", attempts)
	}
}
