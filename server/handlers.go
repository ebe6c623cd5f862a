package server

import (
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/kevin-huff/slash-or-smash/config"
	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/show"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine   *show.Engine
	health   Pinger
	cfg      *config.Config
	preds    Predictions
	oauth    *oauth2.Config
	tokens   oauth.TokenStore
	identity Identity

	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options) *Handlers {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handlers{
		engine:     opts.Engine,
		health:     opts.Health,
		cfg:        cfg,
		preds:      opts.Predictions,
		oauth:      opts.OAuth,
		tokens:     opts.Tokens,
		identity:   opts.Identity,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states. Callers hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records a state; it reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was live.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
