package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kevin-huff/slash-or-smash/config"
	"github.com/kevin-huff/slash-or-smash/db"
	"github.com/kevin-huff/slash-or-smash/show"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	store   *db.MemoryStore
	clock   *clockwork.FakeClock
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	store := db.NewMemoryStore(t0)
	clock := clockwork.NewFakeClockAt(t0)
	n := 0
	engine := show.NewEngine(store, show.WithClock(clock), show.WithItemIDs(func() (string, error) {
		n++
		return "item-" + string(rune('0'+n)), nil
	}))
	cfg := config.Default()
	cfg.StoreBackend = config.BackendMemory
	opts := Options{Engine: engine, Health: store, Config: cfg}
	if mutate != nil {
		mutate(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testServer{handler: NewRouter(ctx, opts), store: store, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func (s *testServer) state(t *testing.T, rr *httptest.ResponseRecorder) show.ShowState {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
	return decode[show.ShowState](t, rr)
}

func TestShowFlow(t *testing.T) {
	s := newTestServer(t, nil)

	for _, name := range []string{"first", "second"} {
		rr := s.do(t, http.MethodPost, "/api/items", map[string]string{"name": name})
		if rr.Code != http.StatusCreated {
			t.Fatalf("register %s: status = %d, body=%s", name, rr.Code, rr.Body.String())
		}
	}
	st := s.state(t, s.do(t, http.MethodGet, "/api/control/state", nil))
	if len(st.Queue) != 2 || st.Stage != show.StageIdle {
		t.Fatalf("state = %+v, want idle with two queued", st)
	}

	st = s.state(t, s.do(t, http.MethodPost, "/api/control/start", nil))
	if st.Stage != show.StageVoting || st.CurrentItem == nil || st.CurrentItem.Name != "first" {
		t.Fatalf("after start: stage %s, item %+v", st.Stage, st.CurrentItem)
	}
	itemID := st.CurrentItem.ID

	rr := s.do(t, http.MethodPut, "/api/control/votes/"+itemID+"/judge-a", map[string]int{"score": 4})
	if rr.Code != http.StatusOK {
		t.Fatalf("vote: status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodPost, "/api/control/audience/vote", map[string]any{"score": 2.6})
	if rr.Code != http.StatusOK {
		t.Fatalf("audience vote: status = %d, body=%s", rr.Code, rr.Body.String())
	}
	av := decode[audienceVoteResponse](t, rr)
	if av.VoterID == "" || av.AudienceVotes.Count != 1 || av.AudienceVotes.Distribution[2] != 1 {
		t.Errorf("audience vote = %+v, want generated voter and one 3", av)
	}

	st = s.state(t, s.do(t, http.MethodPost, "/api/control/lock", nil))
	if st.Stage != show.StageLocked || st.CurrentVotes == nil || st.CurrentVotes.Count != 1 {
		t.Errorf("after lock: %+v", st)
	}
	st = s.state(t, s.do(t, http.MethodPost, "/api/control/reopen", nil))
	if st.Stage != show.StageVoting {
		t.Errorf("after reopen: stage %s", st.Stage)
	}
	s.state(t, s.do(t, http.MethodPost, "/api/control/lock", nil))
	st = s.state(t, s.do(t, http.MethodPost, "/api/control/results", nil))
	if st.Stage != show.StageResults {
		t.Errorf("after results: stage %s", st.Stage)
	}
	st = s.state(t, s.do(t, http.MethodPost, "/api/control/reset", nil))
	if st.Stage != show.StageIdle || st.CurrentItem != nil {
		t.Errorf("after reset: %+v", st)
	}

	over := s.state(t, s.do(t, http.MethodGet, "/api/control/overlay/state", nil))
	if over.Stage != show.StageIdle || len(over.Queue) != 1 {
		t.Errorf("overlay state = %+v", over)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantKind show.Kind
	}{
		{"advance empty queue", http.MethodPost, "/api/control/start", nil, http.StatusConflict, show.EmptyQueue},
		{"lock when idle", http.MethodPost, "/api/control/lock", nil, http.StatusConflict, show.NoActiveItem},
		{"results when idle", http.MethodPost, "/api/control/results", nil, http.StatusConflict, show.NoActiveItem},
		{"remove unknown", http.MethodDelete, "/api/control/queue/nope", nil, http.StatusNotFound, show.NotInQueue},
		{"reorder mismatch", http.MethodPut, "/api/control/queue", map[string][]string{"queue": {"ghost"}}, http.StatusBadRequest, show.QueueMismatch},
		{"reorder missing body", http.MethodPut, "/api/control/queue", nil, http.StatusBadRequest, show.InvalidInput},
		{"extend zero", http.MethodPost, "/api/control/timer/extend", map[string]int{"seconds": 0}, http.StatusBadRequest, show.InvalidExtension},
		{"pause idle timer", http.MethodPost, "/api/control/timer/pause", nil, http.StatusConflict, show.InvalidTimerState},
		{"audience vote idle", http.MethodPost, "/api/control/audience/vote", map[string]int{"score": 3}, http.StatusConflict, show.NoActiveRound},
		{"audience vote out of range", http.MethodPost, "/api/control/audience/vote", map[string]int{"score": 9}, http.StatusBadRequest, show.InvalidScore},
		{"audience vote rounds into range", http.MethodPost, "/api/control/audience/vote", map[string]float64{"score": 5.4}, http.StatusBadRequest, show.InvalidScore},
		{"judge console vote without token", http.MethodPost, "/api/judge/vote", map[string]int{"score": 3}, http.StatusBadRequest, show.InvalidInput},
		{"judge console vote unknown token", http.MethodPost, "/api/judge/vote", map[string]any{"token": "nope", "score": 3}, http.StatusNotFound, show.NotFound},
		{"judge console vote without score", http.MethodPost, "/api/judge/vote", map[string]string{"token": "nope"}, http.StatusBadRequest, show.InvalidInput},
		{"judge profile unknown token", http.MethodPost, "/api/judge/profile", map[string]string{"token": "nope"}, http.StatusNotFound, show.NotFound},
		{"disable unknown judge", http.MethodPost, "/api/judges/nope/disable", nil, http.StatusNotFound, show.NotFound},
		{"judge vote bad score", http.MethodPut, "/api/control/votes/x/j", map[string]int{"score": 6}, http.StatusBadRequest, show.InvalidScore},
		{"judge vote unknown item", http.MethodPut, "/api/control/votes/x/j", map[string]int{"score": 3}, http.StatusNotFound, show.NotFound},
		{"bad settings", http.MethodPut, "/api/control/settings", map[string]int{"defaultTimerSeconds": 0}, http.StatusBadRequest, show.InvalidSettings},
		{"missing name", http.MethodPost, "/api/items", map[string]string{}, http.StatusBadRequest, show.InvalidInput},
		{"overlay without flag", http.MethodPost, "/api/control/overlay/voting", map[string]string{}, http.StatusBadRequest, show.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rr := s.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tt.wantCode, rr.Body.String())
			}
			body := decode[errorBody](t, rr)
			if body.Kind != tt.wantKind || body.Error == "" {
				t.Errorf("body = %+v, want kind %s", body, tt.wantKind)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/items", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestQueueAndTimerRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	for _, name := range []string{"a", "b", "c"} {
		s.do(t, http.MethodPost, "/api/items", map[string]string{"name": name})
	}
	st := s.state(t, s.do(t, http.MethodPut, "/api/control/queue", map[string][]string{"queue": {"item-3", "item-1", "item-2"}}))
	if got := st.Queue[0].ItemID; got != "item-3" {
		t.Errorf("head after reorder = %s, want item-3", got)
	}
	st = s.state(t, s.do(t, http.MethodDelete, "/api/control/queue/item-1", nil))
	if len(st.Queue) != 2 {
		t.Errorf("queue len = %d, want 2", len(st.Queue))
	}

	s.state(t, s.do(t, http.MethodPost, "/api/control/start", nil))
	st = s.state(t, s.do(t, http.MethodPost, "/api/control/timer/extend", map[string]int{"seconds": 30}))
	if st.Timer.DurationMs != 150_000 || st.Timer.RemainingMs != 150_000 {
		t.Errorf("timer after extend = %+v, want 150s paused", st.Timer)
	}
	st = s.state(t, s.do(t, http.MethodPost, "/api/control/timer/resume", nil))
	if st.Timer.TargetTs == nil {
		t.Fatalf("resumed timer has no target: %+v", st.Timer)
	}
	s.clock.Advance(10 * time.Second)
	st = s.state(t, s.do(t, http.MethodPost, "/api/control/timer/pause", nil))
	if st.Timer.RemainingMs != 140_000 || st.Timer.TargetTs != nil {
		t.Errorf("timer after pause = %+v, want 140s left", st.Timer)
	}

	st = s.state(t, s.do(t, http.MethodPost, "/api/control/overlay/voting", map[string]bool{"show": true}))
	if !st.ShowOverlayVoting {
		t.Error("ShowOverlayVoting = false after enabling")
	}
}

func TestVotesRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/items", map[string]string{"name": "a"})
	s.state(t, s.do(t, http.MethodPost, "/api/control/start", nil))

	s.do(t, http.MethodPut, "/api/control/votes/item-1/j1", map[string]int{"score": 1})
	rr := s.do(t, http.MethodPut, "/api/control/votes/item-1/j2", map[string]int{"score": 2})
	sum := decode[struct {
		Average *float64 `json:"average"`
		Count   int      `json:"count"`
	}](t, rr)
	if sum.Count != 2 || sum.Average == nil || *sum.Average != 1.5 {
		t.Errorf("summary = %+v, want two votes averaging 1.5", sum)
	}

	rr = s.do(t, http.MethodDelete, "/api/control/votes/item-1/j1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete vote status = %d", rr.Code)
	}
	st := s.state(t, s.do(t, http.MethodDelete, "/api/control/votes", nil))
	if st.CurrentVotes == nil || st.CurrentVotes.Count != 0 {
		t.Errorf("votes after clear = %+v", st.CurrentVotes)
	}

	st = s.state(t, s.do(t, http.MethodPost, "/api/control/clear-all", nil))
	if st.Stage != show.StageIdle || len(st.Queue) != 0 || st.CurrentItem != nil {
		t.Errorf("after clear-all = %+v", st)
	}
}

func TestSettingsRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/api/control/settings", nil)
	if got := decode[show.Settings](t, rr); got != show.DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", got)
	}
	rr = s.do(t, http.MethodPut, "/api/control/settings", map[string]int{"defaultTimerSeconds": 45})
	got := decode[show.Settings](t, rr)
	if got.DefaultTimerSeconds != 45 || got.GraceWindowSeconds != show.DefaultSettings().GraceWindowSeconds {
		t.Errorf("settings after patch = %+v", got)
	}
}

func TestAdminAuthOnRoutes(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Config.AdminToken = "secret-token" })

	tests := []struct {
		path  string
		token string
		want  int
	}{
		{"/api/control/state", "", http.StatusUnauthorized},
		{"/api/control/state", "wrong", http.StatusUnauthorized},
		{"/api/control/state", "secret-token", http.StatusOK},
		{"/api/control/settings", "", http.StatusUnauthorized},
		{"/api/integrations/twitch/status", "", http.StatusUnauthorized},
		{"/api/judges", "", http.StatusUnauthorized},
		{"/api/judges", "secret-token", http.StatusOK},
		{"/api/control/overlay/state", "", http.StatusOK},
		{"/api/leaderboard", "", http.StatusOK},
		{"/api/judge/icons", "", http.StatusOK},
		{"/healthz", "", http.StatusOK},
		{"/readyz", "", http.StatusOK},
		{"/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.token != "" {
			req.Header.Set("X-Admin-Token", tt.token)
		}
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("GET %s (token %q) = %d, want %d", tt.path, tt.token, rr.Code, tt.want)
		}
	}
}

func TestAudienceVoteRateLimited(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.Config.RateLimitRequests = 2
		o.Config.RateLimitWindow = time.Minute
	})
	for i := 0; i < 2; i++ {
		if rr := s.do(t, http.MethodPost, "/api/control/audience/vote", map[string]int{"score": 3}); rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i+1)
		}
	}
	rr := s.do(t, http.MethodPost, "/api/control/audience/vote", map[string]int{"score": 3})
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("third vote = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rr.Header().Get("Retry-After"))
	}
	if body := decode[errorBody](t, rr); body.Kind != kindRateLimited {
		t.Errorf("kind = %q, want %q", body.Kind, kindRateLimited)
	}
	// Control routes are not throttled.
	for i := 0; i < 5; i++ {
		if rr := s.do(t, http.MethodGet, "/api/control/state", nil); rr.Code != http.StatusOK {
			t.Fatalf("state request %d = %d", i+1, rr.Code)
		}
	}
}

func TestCorrelationID(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}

	rr = s.do(t, http.MethodGet, "/healthz", nil)
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a generated correlation id")
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return context.DeadlineExceeded }

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d, body=%s", rr.Code, rr.Body.String())
	}
	resp := decode[map[string]any](t, rr)
	if resp["status"] != "ready" {
		t.Errorf("readyz body = %v", resp)
	}

	s = newTestServer(t, func(o *Options) { o.Health = failingPinger{} })
	if rr := s.do(t, http.MethodGet, "/healthz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz with failing store = %d, want 503", rr.Code)
	}
	rr = s.do(t, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store = %d, want 503", rr.Code)
	}
	if resp := decode[map[string]string](t, rr); resp["failed_check"] != "database" {
		t.Errorf("failed_check = %q, want database", resp["failed_check"])
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		permissive bool
		origins    []string
		origin     string
		wantAllow  string
	}{
		{"permissive", true, nil, "http://anything.test", "*"},
		{"allowed origin", false, []string{"https://overlay.example.com"}, "https://overlay.example.com", "https://overlay.example.com"},
		{"wildcard subdomain", false, []string{"*.example.com"}, "https://cam.example.com", "https://cam.example.com"},
		{"blocked origin", false, []string{"https://overlay.example.com"}, "https://evil.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, func(o *Options) {
				o.Config.CORSPermissive = tt.permissive
				o.Config.CORSAllowedOrigins = tt.origins
			})
			req := httptest.NewRequest(http.MethodGet, "/api/control/overlay/state", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			s.handler.ServeHTTP(rr, req)
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}
