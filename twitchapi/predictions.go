package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Prediction window bounds accepted by Helix, in seconds.
const (
	MinPredictionWindow = 30
	MaxPredictionWindow = 1800
)

// Prediction statuses reported by Helix.
const (
	PredictionActive   = "ACTIVE"
	PredictionLocked   = "LOCKED"
	PredictionResolved = "RESOLVED"
	PredictionCanceled = "CANCELED"
)

// Outcome is one side of a prediction.
type Outcome struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Prediction is a channel prediction.
type Prediction struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	Outcomes []Outcome `json:"outcomes"`
}

// OutcomeID returns the id of the outcome titled title.
func (p Prediction) OutcomeID(title string) (string, bool) {
	for _, o := range p.Outcomes {
		if o.Title == title {
			return o.ID, true
		}
	}
	return "", false
}

// Ended reports whether the prediction can no longer be resolved or
// cancelled.
func (p Prediction) Ended() bool {
	return p.Status == PredictionResolved || p.Status == PredictionCanceled
}

// ClampWindow bounds seconds to the range Helix accepts.
func ClampWindow(seconds int) int {
	if seconds < MinPredictionWindow {
		return MinPredictionWindow
	}
	if seconds > MaxPredictionWindow {
		return MaxPredictionWindow
	}
	return seconds
}

type predictionsResponse struct {
	Data []Prediction `json:"data"`
}

func (r predictionsResponse) first() (Prediction, error) {
	if len(r.Data) == 0 {
		return Prediction{}, errors.New("twitch returned no prediction")
	}
	return r.Data[0], nil
}

// CreatePrediction starts a prediction on broadcasterID's channel. window is
// clamped to the accepted range.
func (hc *HelixClient) CreatePrediction(ctx context.Context, broadcasterID, title string, outcomes []string, window int) (Prediction, error) {
	if broadcasterID == "" {
		return Prediction{}, fmt.Errorf("broadcasterID empty")
	}
	type outcome struct {
		Title string `json:"title"`
	}
	body := struct {
		BroadcasterID    string    `json:"broadcaster_id"`
		Title            string    `json:"title"`
		Outcomes         []outcome `json:"outcomes"`
		PredictionWindow int       `json:"prediction_window"`
	}{BroadcasterID: broadcasterID, Title: title, PredictionWindow: ClampWindow(window)}
	for _, o := range outcomes {
		body.Outcomes = append(body.Outcomes, outcome{Title: o})
	}
	var resp predictionsResponse
	if err := hc.do(ctx, http.MethodPost, "/predictions", nil, body, &resp); err != nil {
		return Prediction{}, err
	}
	return resp.first()
}

// GetPrediction fetches one prediction by id.
func (hc *HelixClient) GetPrediction(ctx context.Context, broadcasterID, id string) (Prediction, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("id", id)
	var resp predictionsResponse
	if err := hc.do(ctx, http.MethodGet, "/predictions", q, nil, &resp); err != nil {
		return Prediction{}, err
	}
	return resp.first()
}

// EndPrediction moves a prediction to status. winningOutcomeID is required
// for PredictionResolved and ignored otherwise.
func (hc *HelixClient) EndPrediction(ctx context.Context, broadcasterID, id, status, winningOutcomeID string) (Prediction, error) {
	body := map[string]string{
		"broadcaster_id": broadcasterID,
		"id":             id,
		"status":         status,
	}
	if status == PredictionResolved {
		if winningOutcomeID == "" {
			return Prediction{}, fmt.Errorf("winning outcome required to resolve")
		}
		body["winning_outcome_id"] = winningOutcomeID
	}
	var resp predictionsResponse
	if err := hc.do(ctx, http.MethodPatch, "/predictions", nil, body, &resp); err != nil {
		return Prediction{}, err
	}
	return resp.first()
}
