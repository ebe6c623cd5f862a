package server

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/kevin-huff/slash-or-smash/config"
	"github.com/kevin-huff/slash-or-smash/db"
	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/prediction"
	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/testutil"
	"github.com/kevin-huff/slash-or-smash/twitchapi"
)

type twitchFixture struct {
	*testServer
	mock *testutil.MockPredictions
}

func newTwitchFixture(t *testing.T) twitchFixture {
	t.Helper()
	srv := testutil.NewMockTwitchServer(t)
	srv.MockUserResponse("b-42", "streamer")
	srv.MockOAuthTokenResponse("access-1", 14400)
	mock := srv.MockPredictions()

	store := db.NewMemoryStore(t0)
	clock := clockwork.NewFakeClockAt(t0)
	engine := show.NewEngine(store, show.WithClock(clock))

	oc := twitchapi.NewOAuthConfig("cid", "secret", "http://localhost:8080/auth/twitch/callback", twitchapi.DefaultScopes)
	oc.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token", AuthStyle: oauth2.AuthStyleInParams}
	helix := &twitchapi.HelixClient{
		Auth:       &twitchapi.StoredToken{Store: store},
		ClientID:   "cid",
		BaseURL:    srv.HelixURL(),
		HTTPClient: srv.Client(),
	}
	cfg := config.Default()
	opts := Options{
		Engine:      engine,
		Health:      store,
		Config:      cfg,
		Predictions: prediction.New(helix, store, prediction.WithTokens(store)),
		OAuth:       oc,
		Tokens:      store,
		Identity:    helix,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return twitchFixture{
		testServer: &testServer{handler: NewRouter(ctx, opts), store: store, clock: clock},
		mock:       mock,
	}
}

func TestTwitchOAuthFlow(t *testing.T) {
	f := newTwitchFixture(t)

	rr := f.do(t, http.MethodGet, "/auth/twitch/start", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("start status = %d, body=%s", rr.Code, rr.Body.String())
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" || loc.Query().Get("client_id") != "cid" {
		t.Fatalf("authorize URL = %s", loc)
	}

	callback := "/auth/twitch/callback?code=abc&state=" + url.QueryEscape(state)
	rr = f.do(t, http.MethodGet, callback, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body=%s", rr.Code, rr.Body.String())
	}
	resp := decode[map[string]any](t, rr)
	if resp["login"] != "streamer" {
		t.Errorf("callback body = %v, want login streamer", resp)
	}

	tok, ok, err := f.store.LoadToken(context.Background(), twitchapi.Provider)
	if err != nil || !ok {
		t.Fatalf("LoadToken() = %v, %v", ok, err)
	}
	if tok.AccessToken != "access-1" || tok.RefreshToken != "refresh-access-1" || tok.SubjectID != "b-42" {
		t.Errorf("stored token = %+v", tok)
	}
	if time.Until(tok.Expiry) <= 0 {
		t.Errorf("token expiry %v is not in the future", tok.Expiry)
	}

	// State is single use.
	if rr := f.do(t, http.MethodGet, callback, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("replayed callback = %d, want 400", rr.Code)
	}
}

func TestTwitchOAuthCallbackRejects(t *testing.T) {
	f := newTwitchFixture(t)
	tests := []struct {
		name  string
		query string
	}{
		{"missing code", "?state=abc"},
		{"unknown state", "?code=abc&state=never-issued"},
		{"denied", "?error=access_denied&state=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := f.do(t, http.MethodGet, "/auth/twitch/callback"+tt.query, nil); rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestTwitchIntegrationRoutes(t *testing.T) {
	f := newTwitchFixture(t)
	ctx := context.Background()

	st := decode[prediction.Status](t, f.do(t, http.MethodGet, "/api/integrations/twitch/status", nil))
	if !st.Configured || st.Connected || !st.Enabled {
		t.Errorf("initial status = %+v, want configured, disconnected, enabled", st)
	}

	if err := f.store.SaveToken(ctx, twitchapi.Provider, tokenFor("b-42")); err != nil {
		t.Fatal(err)
	}
	st = decode[prediction.Status](t, f.do(t, http.MethodPost, "/api/integrations/twitch/toggle", map[string]bool{"enabled": false}))
	if st.Enabled || !st.Connected {
		t.Errorf("status after toggle = %+v, want connected and disabled", st)
	}

	rr := f.do(t, http.MethodPost, "/api/integrations/twitch/prediction/retry", map[string]any{})
	if rr.Code != http.StatusConflict {
		t.Errorf("retry without an item = %d, want 409", rr.Code)
	}

	f.do(t, http.MethodPost, "/api/items", map[string]string{"name": "first"})
	f.state(t, f.do(t, http.MethodPost, "/api/control/start", nil))
	rr = f.do(t, http.MethodPost, "/api/integrations/twitch/prediction/retry", map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[map[string]string](t, rr); got["predictionId"] != "p-1" {
		t.Errorf("retry body = %v, want p-1", got)
	}
	calls := f.mock.Calls()
	if len(calls) != 1 || calls[0].Window != 120 {
		t.Errorf("calls = %+v, want one create with the default 120s window", calls)
	}

	st = decode[prediction.Status](t, f.do(t, http.MethodPost, "/api/integrations/twitch/disconnect", nil))
	if st.Connected || st.PredictionID != "" {
		t.Errorf("status after disconnect = %+v", st)
	}
}

func TestTwitchRoutesUnconfigured(t *testing.T) {
	s := newTestServer(t, nil)

	st := decode[prediction.Status](t, s.do(t, http.MethodGet, "/api/integrations/twitch/status", nil))
	if st.Configured {
		t.Errorf("status = %+v, want unconfigured", st)
	}
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/api/integrations/twitch/toggle", http.StatusBadRequest},
		{http.MethodPost, "/api/integrations/twitch/disconnect", http.StatusBadRequest},
		{http.MethodPost, "/api/integrations/twitch/prediction/retry", http.StatusBadRequest},
		{http.MethodGet, "/auth/twitch/start", http.StatusBadRequest},
		{http.MethodGet, "/auth/twitch/callback?code=a&state=b", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rr := s.do(t, tt.method, tt.path, map[string]bool{"enabled": true}); rr.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rr.Code, tt.want)
		}
	}
}

func TestOAuthStateStore(t *testing.T) {
	h := NewHandlers(Options{})
	if !h.addOAuthState("live", time.Now().Add(time.Minute)) {
		t.Fatal("addOAuthState() = false")
	}
	h.addOAuthState("stale", time.Now().Add(-time.Minute))
	if h.consumeOAuthState("stale") {
		t.Error("expired state accepted")
	}
	if !h.consumeOAuthState("live") {
		t.Error("live state rejected")
	}
	if h.consumeOAuthState("live") {
		t.Error("state accepted twice")
	}
}

func tokenFor(subject string) oauth.Token {
	return oauth.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour), SubjectID: subject}
}
