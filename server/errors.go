package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/telemetry"
)

// Transport-level kinds alongside the show taxonomy.
const (
	kindUnauthorized show.Kind = "unauthorized"
	kindRateLimited  show.Kind = "rate_limited"
)

type errorBody struct {
	Error string    `json:"error"`
	Kind  show.Kind `json:"kind,omitempty"`
}

// statusFor maps a show error kind to an HTTP status.
func statusFor(kind show.Kind) int {
	switch kind {
	case show.EmptyQueue, show.WrongStage, show.NoActiveItem, show.InvalidTimerState,
		show.NoActiveRound, show.Conflict:
		return http.StatusConflict
	case show.QueueMismatch, show.InvalidExtension, show.InvalidScore, show.InvalidSettings, show.InvalidInput:
		return http.StatusBadRequest
	case show.NotInQueue, show.NotFound:
		return http.StatusNotFound
	case show.JudgeInactive:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError renders err. Errors without a kind are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := show.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Error: err.Error(), Kind: kind}
	if kind == "" {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func invalid(msg string) error {
	return &show.Error{Kind: show.InvalidInput, Message: msg}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return invalid("invalid json")
	}
	return nil
}
