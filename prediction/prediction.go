// Package prediction runs a Twitch channel prediction alongside each round:
// viewers bet on whether the judges will call the item a smash or a slash.
// The open prediction's id and outcome ids live in run-state so a restart
// between open and resolve still settles the right prediction.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/twitchapi"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// Title is shown to viewers on every prediction.
const Title = "Will this get a SMASH or SLASH?"

// Outcome titles, in the order they are created.
const (
	OutcomeSmash = "Smash"
	OutcomeSlash = "Slash"
)

// Run-state keys.
const (
	KeyPredictionID = "twitch_prediction_id"
	KeySmashOutcome = "twitch_prediction_smash_outcome_id"
	KeySlashOutcome = "twitch_prediction_slash_outcome_id"
	KeyEnabled      = "twitch_predictions_enabled"
)

// Client is the subset of the Helix client the service needs.
type Client interface {
	CurrentUser(ctx context.Context) (twitchapi.User, error)
	CreatePrediction(ctx context.Context, broadcasterID, title string, outcomes []string, window int) (twitchapi.Prediction, error)
	GetPrediction(ctx context.Context, broadcasterID, id string) (twitchapi.Prediction, error)
	EndPrediction(ctx context.Context, broadcasterID, id, status, winningOutcomeID string) (twitchapi.Prediction, error)
}

// Service implements show.Predictor over Twitch predictions.
type Service struct {
	client Client
	state  show.RunState
	tokens oauth.TokenStore
	log    *slog.Logger

	pinned string

	mu            sync.Mutex
	broadcasterID string // resolved from the token owner
}

var _ show.Predictor = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithBroadcasterID pins the channel instead of resolving the token owner.
func WithBroadcasterID(id string) Option { return func(s *Service) { s.pinned = id } }

// WithTokens lets Status and Disconnect inspect the stored broadcaster token.
func WithTokens(ts oauth.TokenStore) Option { return func(s *Service) { s.tokens = ts } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New returns a Service.
func New(client Client, state show.RunState, opts ...Option) *Service {
	s := &Service{client: client, state: state, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "prediction"))
	return s
}

// broadcaster returns the channel predictions run on. Callers hold mu.
func (s *Service) broadcaster(ctx context.Context) (string, error) {
	if s.pinned != "" {
		return s.pinned, nil
	}
	if s.broadcasterID != "" {
		return s.broadcasterID, nil
	}
	if s.tokens != nil {
		if t, ok, err := s.tokens.LoadToken(ctx, twitchapi.Provider); err == nil && ok && t.SubjectID != "" {
			return t.SubjectID, nil
		}
	}
	u, err := s.client.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve broadcaster: %w", err)
	}
	s.broadcasterID = u.ID
	return u.ID, nil
}

// Enabled reports the toggle. Predictions are on until switched off.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	v, ok, err := s.state.GetValue(ctx, KeyEnabled)
	if err != nil || !ok {
		return true, err
	}
	on, perr := strconv.ParseBool(v)
	if perr != nil {
		return true, nil
	}
	return on, nil
}

// SetEnabled switches predictions on or off. Switching off does not touch a
// prediction already running.
func (s *Service) SetEnabled(ctx context.Context, on bool) error {
	return s.state.SetValue(ctx, KeyEnabled, strconv.FormatBool(on))
}

// OpenPrediction cancels any prediction still open and starts a new one
// whose window matches the round length.
func (s *Service) OpenPrediction(ctx context.Context, itemID string, window time.Duration) error {
	on, err := s.Enabled(ctx)
	if err != nil {
		return err
	}
	if !on {
		s.log.Info("predictions disabled; not opening", slog.String("item_id", itemID))
		return nil
	}
	_, err = s.open(ctx, itemID, window)
	return err
}

// Retry opens a prediction for itemID even when predictions are switched
// off. It is the producer's manual recovery after a failed open.
func (s *Service) Retry(ctx context.Context, itemID string, window time.Duration) (string, error) {
	return s.open(ctx, itemID, window)
}

func (s *Service) open(ctx context.Context, itemID string, window time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cancelLocked(ctx); err != nil {
		s.log.Warn("could not cancel previous prediction", slog.Any("err", err))
	}
	bid, err := s.broadcaster(ctx)
	if err != nil {
		return "", err
	}
	p, err := s.client.CreatePrediction(ctx, bid, Title, []string{OutcomeSmash, OutcomeSlash}, int(window/time.Second))
	if err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}
	smash, ok1 := p.OutcomeID(OutcomeSmash)
	slash, ok2 := p.OutcomeID(OutcomeSlash)
	if (!ok1 || !ok2) && len(p.Outcomes) == 2 {
		smash, slash = p.Outcomes[0].ID, p.Outcomes[1].ID
	}
	for k, v := range map[string]string{KeyPredictionID: p.ID, KeySmashOutcome: smash, KeySlashOutcome: slash} {
		if err := s.state.SetValue(ctx, k, v); err != nil {
			return "", fmt.Errorf("store prediction: %w", err)
		}
	}
	s.log.Info("prediction opened", slog.String("prediction_id", p.ID), slog.String("item_id", itemID))
	return p.ID, nil
}

// ResolvePrediction settles the open prediction: High pays out Smash, Low
// pays out Slash. Without an open prediction it does nothing.
func (s *Service) ResolvePrediction(ctx context.Context, itemID string, verdict votes.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.value(ctx, KeyPredictionID)
	if err != nil || id == "" {
		return err
	}
	defer s.clear(ctx)

	key := KeySlashOutcome
	if verdict == votes.High {
		key = KeySmashOutcome
	}
	winner, err := s.value(ctx, key)
	if err != nil {
		return err
	}
	if winner == "" {
		return errors.New("missing outcome ids for prediction resolution")
	}
	bid, err := s.broadcaster(ctx)
	if err != nil {
		return err
	}
	ended, err := s.ended(ctx, bid, id)
	if err != nil {
		return err
	}
	if ended {
		s.log.Info("prediction already ended", slog.String("prediction_id", id))
		return nil
	}
	if _, err := s.client.EndPrediction(ctx, bid, id, twitchapi.PredictionResolved, winner); err != nil {
		return fmt.Errorf("resolve prediction: %w", err)
	}
	s.log.Info("prediction resolved", slog.String("prediction_id", id), slog.String("item_id", itemID), slog.String("verdict", string(verdict)))
	return nil
}

// CancelPrediction refunds the open prediction, if any.
func (s *Service) CancelPrediction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx)
}

func (s *Service) cancelLocked(ctx context.Context) error {
	id, err := s.value(ctx, KeyPredictionID)
	if err != nil || id == "" {
		return err
	}
	defer s.clear(ctx)
	bid, err := s.broadcaster(ctx)
	if err != nil {
		return err
	}
	ended, err := s.ended(ctx, bid, id)
	if err != nil {
		return err
	}
	if ended {
		return nil
	}
	if _, err := s.client.EndPrediction(ctx, bid, id, twitchapi.PredictionCanceled, ""); err != nil {
		return fmt.Errorf("cancel prediction: %w", err)
	}
	s.log.Info("prediction cancelled", slog.String("prediction_id", id))
	return nil
}

func (s *Service) ended(ctx context.Context, bid, id string) (bool, error) {
	p, err := s.client.GetPrediction(ctx, bid, id)
	if err != nil {
		return false, fmt.Errorf("get prediction: %w", err)
	}
	return p.Ended(), nil
}

func (s *Service) value(ctx context.Context, key string) (string, error) {
	v, _, err := s.state.GetValue(ctx, key)
	return v, err
}

func (s *Service) clear(ctx context.Context) {
	for _, k := range []string{KeyPredictionID, KeySmashOutcome, KeySlashOutcome} {
		if err := s.state.DeleteValue(ctx, k); err != nil {
			s.log.Warn("failed to clear prediction state", slog.String("key", k), slog.Any("err", err))
		}
	}
}

// Status is the integration state shown on the control dashboard.
type Status struct {
	Configured   bool   `json:"configured"`
	Connected    bool   `json:"connected"`
	Enabled      bool   `json:"enabled"`
	PredictionID string `json:"predictionId,omitempty"`
}

// Status reports whether a broadcaster token is stored, the toggle and the
// open prediction.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Configured: true}
	var err error
	if st.Enabled, err = s.Enabled(ctx); err != nil {
		return st, err
	}
	if st.PredictionID, err = s.value(ctx, KeyPredictionID); err != nil {
		return st, err
	}
	if s.tokens != nil {
		t, ok, err := s.tokens.LoadToken(ctx, twitchapi.Provider)
		if err != nil {
			return st, err
		}
		st.Connected = ok && t.AccessToken != ""
	}
	return st, nil
}

// Disconnect forgets the broadcaster token and any open prediction.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear(ctx)
	if s.tokens == nil {
		return nil
	}
	if err := s.tokens.DeleteToken(ctx, twitchapi.Provider); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	s.broadcasterID = ""
	return nil
}
