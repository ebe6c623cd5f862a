package server

import (
	"fmt"
	"net/http"
)

// HandleHealthz responds to liveness checks by pinging the store.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz checks the store and that the show state can be projected.
// A missing Twitch login is reported but does not fail readiness: the show
// runs without predictions.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.health.Ping(r.Context()) }},
		{"show_state", func() error {
			if _, err := h.engine.Snapshot(r.Context()); err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	resp := map[string]any{"status": "ready"}
	if st, err := h.twitchStatus(r.Context()); err == nil {
		resp["twitch_connected"] = st.Connected
	}
	writeJSON(w, http.StatusOK, resp)
}
