package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kevin-huff/slash-or-smash/votes"
)

// HandleUpsertVote records a judge's {"score": n} for an item.
func (h *Handlers) HandleUpsertVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Score *int `json:"score"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Score == nil {
		writeError(w, r, invalid("score is required"))
		return
	}
	sum, err := h.engine.UpsertVote(r.Context(), chi.URLParam(r, "itemID"), chi.URLParam(r, "judgeID"), *body.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) HandleDeleteVote(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.DeleteVote(r.Context(), chi.URLParam(r, "itemID"), chi.URLParam(r, "judgeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) HandleClearVotes(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, h.engine.ClearAllVotes)
}

type audienceVoteResponse struct {
	VoterID       string        `json:"voterId"`
	AudienceVotes votes.Summary `json:"audienceVotes"`
}

// HandleAudienceVote records a viewer score. Clients without a voterId get
// one back and should send it with later votes.
func (h *Handlers) HandleAudienceVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Score   *float64 `json:"score"`
		VoterID string   `json:"voterId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Score == nil {
		writeError(w, r, invalid("score is required"))
		return
	}
	voterID, sum, err := h.engine.SubmitAudienceVote(r.Context(), body.VoterID, *body.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, audienceVoteResponse{VoterID: voterID, AudienceVotes: sum})
}
