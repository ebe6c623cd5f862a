package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "channel:manage:predictions chat:read",
			state:       "random-state",
			wantParts:   []string{"client_id=test-client-id", "state=random-state", "scope=channel%3Amanage%3Apredictions+chat%3Aread"},
		},
		{
			name:        "empty client ID",
			redirectURI: "http://localhost/callback",
			state:       "state",
			wantErr:     true,
		},
		{
			name:     "empty redirect URI",
			clientID: "client",
			state:    "state",
			wantErr:  true,
		},
		{
			name:        "comma separated scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read,chat:edit",
			state:       "state-123",
			wantParts:   []string{"client_id=client-id", "scope=chat%3Aread+chat%3Aedit"},
		},
		{
			name:        "default scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			state:       "s",
			wantParts:   []string{"scope=channel%3Amanage%3Apredictions+chat%3Aread+chat%3Aedit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewOAuthConfig(tt.clientID, "secret", tt.redirectURI, ParseScopes(tt.scopes))
			url, err := BuildAuthorizeURL(cfg, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Error("BuildAuthorizeURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAuthorizeURL() unexpected error = %v", err)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(url, part) {
					t.Errorf("URL missing expected part %q: %s", part, url)
				}
			}
			if !strings.HasPrefix(url, "https://id.twitch.tv/oauth2/authorize") {
				t.Errorf("URL doesn't start with Twitch auth endpoint: %s", url)
			}
		})
	}
}

func TestExchangeAuthCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("code") != "the-code" || r.PostForm.Get("client_id") != "cid" || r.PostForm.Get("client_secret") != "secret" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-123",
			"refresh_token": "refresh-456",
			"expires_in":    14400,
			"token_type":    "bearer",
			"scope":         []string{"channel:manage:predictions"},
		})
	}))
	defer server.Close()

	cfg := NewOAuthConfig("cid", "secret", "http://localhost/cb", DefaultScopes)
	cfg.Endpoint = oauth2.Endpoint{AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}

	tok, err := ExchangeAuthCode(context.Background(), cfg, "the-code")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if tok.AccessToken != "access-123" || tok.RefreshToken != "refresh-456" {
		t.Errorf("token = %+v", tok)
	}
	if tok.Scope != "channel:manage:predictions" {
		t.Errorf("Scope = %q", tok.Scope)
	}
	if d := time.Until(tok.Expiry); d < 3*time.Hour || d > 5*time.Hour {
		t.Errorf("expiry in %v, want about 4h", d)
	}

	if _, err := ExchangeAuthCode(context.Background(), cfg, ""); err == nil {
		t.Error("ExchangeAuthCode() with empty code should fail")
	}
}
