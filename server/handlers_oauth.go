package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kevin-huff/slash-or-smash/prediction"
	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/telemetry"
	"github.com/kevin-huff/slash-or-smash/twitchapi"
)

// HandleTwitchOAuthStart redirects the producer to Twitch to grant the
// broadcaster scopes predictions need.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil || h.tokens == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	authURL, err := twitchapi.BuildAuthorizeURL(h.oauth, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the broadcaster
// token, tagged with the Twitch user it belongs to.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil || h.tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth"))
	tok, err := twitchapi.ExchangeAuthCode(ctx, h.oauth, code)
	if err != nil {
		log.Error("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	if err := h.tokens.SaveToken(ctx, twitchapi.Provider, tok); err != nil {
		writeError(w, r, err)
		return
	}
	var user twitchapi.User
	if h.identity != nil {
		if user, err = h.identity.CurrentUser(ctx); err != nil {
			log.Warn("could not identify twitch account", slog.Any("err", err))
		} else {
			tok.SubjectID = user.ID
			if err := h.tokens.SaveToken(ctx, twitchapi.Provider, tok); err != nil {
				writeError(w, r, err)
				return
			}
		}
	}
	log.Info("twitch account connected", slog.String("login", user.Login), slog.String("scopes", tok.Scope))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"login":  user.Login,
		"scopes": strings.Fields(tok.Scope),
		"expiry": tok.Expiry,
	})
}

func (h *Handlers) twitchStatus(ctx context.Context) (prediction.Status, error) {
	if h.preds == nil {
		return prediction.Status{}, nil
	}
	return h.preds.Status(ctx)
}

func (h *Handlers) requirePredictions(w http.ResponseWriter, r *http.Request) bool {
	if h.preds == nil {
		writeError(w, r, invalid("twitch integration is not configured"))
		return false
	}
	return true
}

// HandleTwitchStatus reports whether predictions are configured, connected
// and switched on.
func (h *Handlers) HandleTwitchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.twitchStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleTwitchToggle switches predictions on or off: {"enabled": bool}.
func (h *Handlers) HandleTwitchToggle(w http.ResponseWriter, r *http.Request) {
	if !h.requirePredictions(w, r) {
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, r, invalid("enabled must be a boolean"))
		return
	}
	if err := h.preds.SetEnabled(r.Context(), *body.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	h.HandleTwitchStatus(w, r)
}

// HandleTwitchDisconnect forgets the stored broadcaster token.
func (h *Handlers) HandleTwitchDisconnect(w http.ResponseWriter, r *http.Request) {
	if !h.requirePredictions(w, r) {
		return
	}
	if err := h.preds.Disconnect(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.HandleTwitchStatus(w, r)
}

// HandlePredictionRetry opens a prediction by hand after a failed or
// skipped open. itemId defaults to the current item and duration (seconds)
// to the configured round length.
func (h *Handlers) HandlePredictionRetry(w http.ResponseWriter, r *http.Request) {
	if !h.requirePredictions(w, r) {
		return
	}
	var body struct {
		ItemID   string `json:"itemId"`
		Duration int    `json:"duration"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if body.ItemID == "" {
		st, err := h.engine.Snapshot(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if st.CurrentItem == nil {
			writeError(w, r, &show.Error{Kind: show.NoActiveItem, Message: "No active item"})
			return
		}
		body.ItemID = st.CurrentItem.ID
	}
	window := time.Duration(body.Duration) * time.Second
	if window <= 0 {
		s, err := h.engine.Settings(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		window = s.TimerDuration()
	}
	id, err := h.preds.Retry(ctx, body.ItemID, window)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("prediction retry failed", slog.String("item_id", body.ItemID), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"predictionId": id, "itemId": body.ItemID})
}
