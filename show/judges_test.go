package show_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/votes"
)

func TestJudgeRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j, err := f.engine.CreateJudge(ctx, "  Mara  ", "crown")
	if err != nil {
		t.Fatalf("CreateJudge: %v", err)
	}
	if j.Name != "Mara" || j.Icon != "" || j.Status != show.JudgePending {
		t.Errorf("created = %+v, want pending Mara without icon", j)
	}
	if len(j.ID) != 16 || len(j.InviteCode) != 6 || len(j.Token) != 32 {
		t.Errorf("id/code/token lengths = %d/%d/%d, want 16/6/32", len(j.ID), len(j.InviteCode), len(j.Token))
	}

	f.clock.Advance(time.Minute)
	other, err := f.engine.CreateJudge(ctx, "", "moon")
	if err != nil {
		t.Fatal(err)
	}
	if other.Icon != "moon" {
		t.Errorf("icon = %q, want moon", other.Icon)
	}
	list, err := f.engine.ListJudges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != j.ID || list[1].ID != other.ID {
		t.Errorf("ListJudges = %+v, want oldest first", list)
	}

	tests := []struct {
		name             string
		token, who, icon string
		want             show.Kind
	}{
		{"missing token", "", "Mara", "bat", show.InvalidInput},
		{"unknown token", "nope", "Mara", "bat", show.NotFound},
		{"blank name", j.Token, "  ", "bat", show.InvalidInput},
		{"unknown icon", j.Token, "Mara", "crown", show.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ActivateJudge(ctx, tt.token, tt.who, tt.icon)
			mustKind(t, err, tt.want)
		})
	}

	active, err := f.engine.ActivateJudge(ctx, j.Token, "Mara V", "bat")
	if err != nil {
		t.Fatalf("ActivateJudge: %v", err)
	}
	if active.Status != show.JudgeActive || active.Name != "Mara V" || active.ActivatedAt == nil || !active.ActivatedAt.Equal(f.clock.Now()) {
		t.Errorf("activated = %+v", active)
	}

	f.clock.Advance(time.Minute)
	pinged, err := f.engine.PingJudge(ctx, j.Token)
	if err != nil {
		t.Fatal(err)
	}
	if pinged.LastSeenAt == nil || !pinged.LastSeenAt.Equal(f.clock.Now()) {
		t.Errorf("last seen = %v, want %v", pinged.LastSeenAt, f.clock.Now())
	}

	disabled, err := f.engine.DisableJudge(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if disabled.Status != show.JudgeDisabled {
		t.Errorf("status = %s, want disabled", disabled.Status)
	}
	_, err = f.engine.DisableJudge(ctx, "nope")
	mustKind(t, err, show.NotFound)
	_, err = f.engine.ActivateJudge(ctx, j.Token, "Mara", "bat")
	mustKind(t, err, show.JudgeInactive)

	profile, err := f.engine.JudgeProfile(ctx, j.Token)
	if err != nil {
		t.Fatal(err)
	}
	if profile.Status != show.JudgeDisabled || profile.Name != "Mara V" {
		t.Errorf("profile = %+v, want disabled Mara V", profile)
	}
}

func TestJudgeConsoleVoting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, err := f.engine.CreateJudge(ctx, "Mara", "")
	if err != nil {
		t.Fatal(err)
	}
	f.register(t, "first")

	_, err = f.engine.SubmitJudgeVote(ctx, j.Token, 4)
	mustKind(t, err, show.JudgeInactive)
	if _, err := f.engine.ActivateJudge(ctx, j.Token, "Mara", "bat"); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.SubmitJudgeVote(ctx, j.Token, 4)
	mustKind(t, err, show.NoActiveRound)
	_, err = f.engine.SubmitJudgeVote(ctx, "nope", 4)
	mustKind(t, err, show.NotFound)

	if _, err := f.engine.Advance(ctx); err != nil {
		t.Fatal(err)
	}
	for _, raw := range []float64{0.6, 5.4, math.NaN()} {
		_, err := f.engine.SubmitJudgeVote(ctx, j.Token, raw)
		mustKind(t, err, show.InvalidScore)
	}

	sum, err := f.engine.SubmitJudgeVote(ctx, j.Token, 3.6)
	if err != nil {
		t.Fatalf("SubmitJudgeVote: %v", err)
	}
	if sum.Count != 1 || sum.Average == nil || *sum.Average != 4 || sum.Votes[0].JudgeID != j.ID {
		t.Errorf("summary = %+v, want one 4 from %s", sum, j.ID)
	}
	sum, err = f.engine.SubmitJudgeVote(ctx, j.Token, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 1 || *sum.Average != 2 {
		t.Errorf("revote summary = %+v, want a single 2", sum)
	}

	if _, err := f.engine.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.SubmitJudgeVote(ctx, j.Token, 5)
	mustKind(t, err, show.NoActiveRound)
	f.engine.Wait()

	var resolved []votes.Verdict
	for _, c := range f.preds.calls {
		if c.Action == "resolve" {
			resolved = append(resolved, c.Verdict)
		}
	}
	if len(resolved) != 1 || resolved[0] != votes.Low {
		t.Errorf("resolved verdicts = %v, want [low]", resolved)
	}

	if _, err := f.engine.DisableJudge(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Reopen(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = f.engine.SubmitJudgeVote(ctx, j.Token, 5)
	mustKind(t, err, show.JudgeInactive)
}

func TestLeaderboardOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.register(t, name)
		f.clock.Advance(time.Minute)
	}
	scores := map[string][]int{
		"item-1": {4},
		"item-2": {5, 3},
		"item-5": {5},
	}
	for item, ss := range scores {
		for i, score := range ss {
			if _, err := f.engine.UpsertVote(ctx, item, fmt.Sprintf("judge-%d", i), score); err != nil {
				t.Fatal(err)
			}
		}
	}

	board, err := f.engine.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	var got []string
	for _, s := range board {
		got = append(got, s.Item.ID)
	}
	// item-1 and item-2 tie on 4; the newer wins. Unscored items trail,
	// newest first.
	want := "[item-5 item-2 item-1 item-4 item-3]"
	if fmt.Sprint(got) != want {
		t.Errorf("order = %v, want %s", got, want)
	}
	if board[1].VoteCount != 2 || board[1].Distribution[4] != 1 || board[1].Distribution[2] != 1 {
		t.Errorf("item-2 standing = %+v", board[1])
	}
	if board[4].Average != nil || board[4].VoteCount != 0 {
		t.Errorf("unscored standing = %+v, want nil average", board[4])
	}
}
