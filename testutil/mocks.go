package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to hand to a Helix client.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": "refresh-" + accessToken,
			"expires_in":    expiresIn,
			"token_type":    "bearer",
			"scope":         []string{"channel:manage:predictions", "chat:read", "chat:edit"},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// PredictionCall records one request to /helix/predictions.
type PredictionCall struct {
	Method           string
	ID               string
	Status           string
	WinningOutcomeID string
	Window           int
}

// MockPredictions is a stateful /helix/predictions endpoint. Created
// predictions get ids p-1, p-2, ... with outcomes <id>-smash and <id>-slash.
type MockPredictions struct {
	mu     sync.Mutex
	calls  []PredictionCall
	status map[string]string
	next   int
	// FailCreate makes POST return 500.
	FailCreate bool
}

// Calls returns the recorded requests in order.
func (p *MockPredictions) Calls() []PredictionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PredictionCall(nil), p.calls...)
}

// SetStatus overrides a prediction's status, e.g. to simulate it ending on
// Twitch's side.
func (p *MockPredictions) SetStatus(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[id] = status
}

// MockPredictions installs a stateful predictions handler.
func (m *MockTwitchServer) MockPredictions() *MockPredictions {
	p := &MockPredictions{status: map[string]string{}}
	m.Handlers["/helix/predictions"] = func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		reply := func(id string) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
				"data": []map[string]interface{}{{
					"id":     id,
					"status": p.status[id],
					"outcomes": []map[string]string{
						{"id": id + "-smash", "title": "Smash"},
						{"id": id + "-slash", "title": "Slash"},
					},
				}},
			})
		}
		switch r.Method {
		case http.MethodPost:
			var body struct {
				PredictionWindow int `json:"prediction_window"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock request
			p.calls = append(p.calls, PredictionCall{Method: r.Method, Window: body.PredictionWindow})
			if p.FailCreate {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			p.next++
			id := fmt.Sprintf("p-%d", p.next)
			p.status[id] = "ACTIVE"
			p.calls[len(p.calls)-1].ID = id
			reply(id)
		case http.MethodGet:
			id := r.URL.Query().Get("id")
			p.calls = append(p.calls, PredictionCall{Method: r.Method, ID: id, Status: p.status[id]})
			if _, ok := p.status[id]; !ok {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}}) //nolint:errcheck // test mock response
				return
			}
			reply(id)
		case http.MethodPatch:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock request
			id := body["id"]
			p.calls = append(p.calls, PredictionCall{Method: r.Method, ID: id, Status: body["status"], WinningOutcomeID: body["winning_outcome_id"]})
			p.status[id] = body["status"]
			reply(id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
	return p
}
