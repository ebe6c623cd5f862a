package show

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/kevin-huff/slash-or-smash/telemetry"
	"github.com/kevin-huff/slash-or-smash/votes"
)

// JudgeIcons are the avatars a judge can pick when activating.
var JudgeIcons = []string{"ghost", "pumpkin", "skull", "bat", "spider", "moon", "star", "planet", "ufo", "witch"}

const (
	inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ23456789"
	secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func validIcon(icon string) bool { return slices.Contains(JudgeIcons, icon) }

// CreateJudge issues a pending invite. An unknown icon is dropped rather
// than rejected; the judge picks one when activating.
func (e *Engine) CreateJudge(ctx context.Context, name, icon string) (Judge, error) {
	j := Judge{Name: strings.TrimSpace(name), Status: JudgePending, CreatedAt: e.clock.Now().UTC()}
	if validIcon(icon) {
		j.Icon = icon
	}
	var err error
	if j.ID, err = gonanoid.Generate(secretAlphabet, 16); err != nil {
		return Judge{}, fmt.Errorf("generate judge id: %w", err)
	}
	if j.InviteCode, err = gonanoid.Generate(inviteAlphabet, 6); err != nil {
		return Judge{}, fmt.Errorf("generate invite code: %w", err)
	}
	if j.Token, err = gonanoid.Generate(secretAlphabet, 32); err != nil {
		return Judge{}, fmt.Errorf("generate judge token: %w", err)
	}
	if err := e.store.CreateJudge(ctx, j); err != nil {
		return Judge{}, fmt.Errorf("create judge: %w", err)
	}
	e.logger(ctx).Info("judge invited", slog.String("judge_id", j.ID))
	return j, nil
}

func (e *Engine) ListJudges(ctx context.Context) ([]Judge, error) {
	js, err := e.store.ListJudges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list judges: %w", err)
	}
	return js, nil
}

// DisableJudge revokes an invite. Ballots already cast stay.
func (e *Engine) DisableJudge(ctx context.Context, id string) (Judge, error) {
	j, err := e.store.GetJudge(ctx, id)
	if err != nil {
		return Judge{}, fmt.Errorf("get judge: %w", err)
	}
	if j == nil {
		return Judge{}, newError(NotFound, "Judge not found")
	}
	j.Status = JudgeDisabled
	if err := e.store.UpdateJudge(ctx, *j); err != nil {
		return Judge{}, fmt.Errorf("disable judge: %w", err)
	}
	e.logger(ctx).Info("judge disabled", slog.String("judge_id", id))
	return *j, nil
}

func (e *Engine) judgeByToken(ctx context.Context, token string) (*Judge, error) {
	if strings.TrimSpace(token) == "" {
		return nil, newError(InvalidInput, "token is required")
	}
	j, err := e.store.JudgeByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("judge by token: %w", err)
	}
	if j == nil {
		return nil, newError(NotFound, "Judge not found")
	}
	return j, nil
}

// JudgeProfile returns the judge holding token.
func (e *Engine) JudgeProfile(ctx context.Context, token string) (Judge, error) {
	j, err := e.judgeByToken(ctx, token)
	if err != nil {
		return Judge{}, err
	}
	return *j, nil
}

// ActivateJudge sets the judge's display name and icon and makes the invite
// usable for voting. A disabled invite stays disabled.
func (e *Engine) ActivateJudge(ctx context.Context, token, name, icon string) (Judge, error) {
	j, err := e.judgeByToken(ctx, token)
	if err != nil {
		return Judge{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || icon == "" {
		return Judge{}, newError(InvalidInput, "name and icon are required")
	}
	if !validIcon(icon) {
		return Judge{}, newError(InvalidInput, "Invalid icon choice")
	}
	if j.Status == JudgeDisabled {
		return Judge{}, newError(JudgeInactive, "Judge invite not active")
	}
	now := e.clock.Now().UTC()
	j.Name, j.Icon, j.Status = name, icon, JudgeActive
	j.ActivatedAt, j.LastSeenAt = &now, &now
	if err := e.store.UpdateJudge(ctx, *j); err != nil {
		return Judge{}, fmt.Errorf("activate judge: %w", err)
	}
	e.logger(ctx).Info("judge activated", slog.String("judge_id", j.ID))
	return *j, nil
}

// PingJudge records that the judge console is still open.
func (e *Engine) PingJudge(ctx context.Context, token string) (Judge, error) {
	j, err := e.judgeByToken(ctx, token)
	if err != nil {
		return Judge{}, err
	}
	if err := e.touchJudge(ctx, j); err != nil {
		return Judge{}, err
	}
	return *j, nil
}

func (e *Engine) touchJudge(ctx context.Context, j *Judge) error {
	now := e.clock.Now().UTC()
	j.LastSeenAt = &now
	if err := e.store.UpdateJudge(ctx, *j); err != nil {
		return fmt.Errorf("touch judge: %w", err)
	}
	return nil
}

// SubmitJudgeVote records the score of the judge holding token for the item
// under vote. raw is rounded to the nearest rating. The judge must be
// active and the round must be in voting.
func (e *Engine) SubmitJudgeVote(ctx context.Context, token string, raw float64) (votes.Summary, error) {
	score, err := votes.RoundScore(raw)
	if err != nil {
		return votes.Summary{}, scoreError(err)
	}
	j, err := e.judgeByToken(ctx, token)
	if err != nil {
		return votes.Summary{}, err
	}
	if j.Status != JudgeActive {
		return votes.Summary{}, newError(JudgeInactive, "Judge invite not active")
	}
	itemID, err := e.castVote(ctx, func(itemID string) votes.Ballot {
		return votes.JudgeBallot{ItemID: itemID, JudgeID: j.ID, Score: score, UpdatedAt: e.clock.Now().UTC()}
	})
	if err != nil {
		return votes.Summary{}, err
	}
	telemetry.RecordVote("judge")
	if err := e.touchJudge(ctx, j); err != nil {
		e.logger(ctx).Warn("judge vote stored but last-seen not updated", slog.String("judge_id", j.ID), slog.Any("err", err))
	}
	return e.judgeSummary(ctx, itemID)
}
