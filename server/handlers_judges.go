package server

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kevin-huff/slash-or-smash/show"
)

// judgeView is a judge as the producer sees it, with the link to hand out.
type judgeView struct {
	show.Judge
	InvitePath string `json:"invitePath"`
}

func viewJudge(j show.Judge) judgeView {
	return judgeView{Judge: j, InvitePath: "/judge?token=" + url.QueryEscape(j.Token)}
}

type judgeResponse struct {
	Judge any `json:"judge"`
}

// HandleListJudges returns every invite and the selectable icons.
func (h *Handlers) HandleListJudges(w http.ResponseWriter, r *http.Request) {
	js, err := h.engine.ListJudges(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]judgeView, len(js))
	for i, j := range js {
		views[i] = viewJudge(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"judges": views, "icons": show.JudgeIcons})
}

// HandleCreateJudge issues an invite from an optional {"name", "icon"}.
func (h *Handlers) HandleCreateJudge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	j, err := h.engine.CreateJudge(r.Context(), body.Name, body.Icon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, judgeResponse{Judge: viewJudge(j)})
}

func (h *Handlers) HandleDisableJudge(w http.ResponseWriter, r *http.Request) {
	j, err := h.engine.DisableJudge(r.Context(), chi.URLParam(r, "judgeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, judgeResponse{Judge: j})
}

func (h *Handlers) HandleJudgeIcons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"icons": show.JudgeIcons})
}

type judgeRequest struct {
	Token string   `json:"token"`
	Name  string   `json:"name"`
	Icon  string   `json:"icon"`
	Score *float64 `json:"score"`
}

func decodeJudgeRequest(w http.ResponseWriter, r *http.Request) (judgeRequest, bool) {
	var body judgeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return body, false
	}
	return body, true
}

// HandleJudgeProfile looks up the judge behind an invite token.
func (h *Handlers) HandleJudgeProfile(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJudgeRequest(w, r)
	if !ok {
		return
	}
	j, err := h.engine.JudgeProfile(r.Context(), body.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, judgeResponse{Judge: j})
}

// HandleActivateJudge sets name and icon from {"token", "name", "icon"}.
func (h *Handlers) HandleActivateJudge(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJudgeRequest(w, r)
	if !ok {
		return
	}
	j, err := h.engine.ActivateJudge(r.Context(), body.Token, body.Name, body.Icon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, judgeResponse{Judge: j})
}

func (h *Handlers) HandlePingJudge(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJudgeRequest(w, r)
	if !ok {
		return
	}
	j, err := h.engine.PingJudge(r.Context(), body.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, judgeResponse{Judge: j})
}

// HandleJudgeVote records {"token", "score"} for the item under vote.
func (h *Handlers) HandleJudgeVote(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJudgeRequest(w, r)
	if !ok {
		return
	}
	if body.Score == nil {
		writeError(w, r, invalid("score must be a number"))
		return
	}
	sum, err := h.engine.SubmitJudgeVote(r.Context(), body.Token, *body.Score)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": sum})
}

// HandleLeaderboard ranks every item by judge average.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.engine.Leaderboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board})
}
