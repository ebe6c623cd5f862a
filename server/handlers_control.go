package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kevin-huff/slash-or-smash/show"
)

type stateOp func(context.Context) (show.ShowState, error)

// serveState runs op and renders the resulting show state.
func (h *Handlers) serveState(w http.ResponseWriter, r *http.Request, op stateOp) {
	st, err := op(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleState returns the full console state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.Snapshot)
}

// HandleOverlayState is the public, read-only state for broadcast overlays.
func (h *Handlers) HandleOverlayState(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.Snapshot)
}

func (h *Handlers) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.Advance)
}

func (h *Handlers) HandleLock(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.Lock)
}

func (h *Handlers) HandleResults(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.ShowResults)
}

func (h *Handlers) HandleReopen(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.Reopen)
}

func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.ResetToIdle)
}

// HandleClearAll wipes items, queue and votes and resets the round.
func (h *Handlers) HandleClearAll(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.ClearAll)
}

// HandleReorderQueue accepts {"queue": [ids]} listing every queued item once.
func (h *Handlers) HandleReorderQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Queue []string `json:"queue"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Queue == nil {
		writeError(w, r, invalid("queue must be an array of item ids"))
		return
	}
	h.serveState(w, r, func(ctx context.Context) (show.ShowState, error) {
		return h.engine.ReorderQueue(ctx, body.Queue)
	})
}

func (h *Handlers) HandleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	h.serveState(w, r, func(ctx context.Context) (show.ShowState, error) {
		return h.engine.RemoveFromQueue(ctx, itemID)
	})
}

func (h *Handlers) HandlePauseTimer(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.PauseTimer)
}

func (h *Handlers) HandleResumeTimer(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.ResumeTimer)
}

// HandleExtendTimer adds {"seconds": n} to the timer.
func (h *Handlers) HandleExtendTimer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds float64 `json:"seconds"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	d := time.Duration(body.Seconds * float64(time.Second))
	h.serveState(w, r, func(ctx context.Context) (show.ShowState, error) {
		return h.engine.ExtendTimer(ctx, d)
	})
}

// HandleOverlayVoting shows or hides the audience panel: {"show": bool}.
func (h *Handlers) HandleOverlayVoting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Show *bool `json:"show"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Show == nil {
		writeError(w, r, invalid("show must be a boolean"))
		return
	}
	h.serveState(w, r, func(ctx context.Context) (show.ShowState, error) {
		return h.engine.SetOverlayVoting(ctx, *body.Show)
	})
}

func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandlePutSettings applies a partial settings update.
func (h *Handlers) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	var patch show.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.engine.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleRegisterItem creates an item from {"name": ...} and queues it.
func (h *Handlers) HandleRegisterItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	it, err := h.engine.RegisterItem(r.Context(), body.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}
