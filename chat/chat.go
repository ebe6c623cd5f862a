package chat

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/kevin-huff/slash-or-smash/show"
)

var (
	directVote  = regexp.MustCompile(`^([1-5])$`)
	commandVote = regexp.MustCompile(`(?i)^!v(?:ote)?\s*([1-5])$`)
)

// ParseScore extracts a rating from a chat message.
func ParseScore(message string) (int, bool) {
	msg := strings.TrimSpace(message)
	m := directVote.FindStringSubmatch(msg)
	if m == nil {
		m = commandVote.FindStringSubmatch(msg)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// VoteSink records audience votes; show.Engine implements it.
type VoteSink interface {
	SubmitChatVote(ctx context.Context, voterID string, score int) error
}

// TokenFunc supplies an IRC token when none is configured.
type TokenFunc func(ctx context.Context) (string, error)

// Config holds the IRC identity and channel.
type Config struct {
	Channel    string
	Username   string
	OAuthToken string
	Tokens     TokenFunc
}

// Listener feeds chat votes into a VoteSink.
type Listener struct {
	cfg  Config
	sink VoteSink
	log  *slog.Logger
}

// NewListener returns a listener for cfg.
func NewListener(cfg Config, sink VoteSink, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	cfg.Channel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.Channel)), "#")
	return &Listener{cfg: cfg, sink: sink, log: log.With(slog.String("component", "chat"))}
}

func (l *Listener) token(ctx context.Context) (string, error) {
	tok := l.cfg.OAuthToken
	if tok == "" && l.cfg.Tokens != nil {
		var err error
		if tok, err = l.cfg.Tokens(ctx); err != nil {
			return "", err
		}
	}
	if tok == "" {
		return "", errors.New("no chat token")
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	return tok, nil
}

// Run connects and processes messages until ctx is cancelled. Missing
// credentials are not an error: the listener logs and returns.
func (l *Listener) Run(ctx context.Context) error {
	if l.cfg.Channel == "" || l.cfg.Username == "" {
		l.log.Info("twitch chat not configured; skipping chat votes")
		return nil
	}
	tok, err := l.token(ctx)
	if err != nil {
		l.log.Warn("twitch chat token unavailable; skipping chat votes", slog.Any("err", err))
		return nil
	}
	client := twitch.NewClient(l.cfg.Username, tok)
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) { l.handle(ctx, msg) })
	client.OnConnect(func() {
		l.log.Info("connected to twitch chat", slog.String("channel", l.cfg.Channel))
	})

	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
	}()

	client.Join(l.cfg.Channel)
	err = client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}

// VoterID picks the stable identity for a chat user.
func VoterID(u twitch.User) string {
	switch {
	case u.ID != "":
		return u.ID
	case u.Name != "":
		return u.Name
	}
	return "anon"
}

func (l *Listener) handle(ctx context.Context, msg twitch.PrivateMessage) {
	if strings.EqualFold(msg.User.Name, l.cfg.Username) {
		return
	}
	score, ok := ParseScore(msg.Message)
	if !ok {
		return
	}
	voter := VoterID(msg.User)
	err := l.sink.SubmitChatVote(ctx, voter, score)
	switch {
	case err == nil:
		l.log.Debug("chat vote recorded", slog.String("voter_id", voter), slog.Int("score", score))
	case show.IsKind(err, show.NoActiveRound):
	default:
		l.log.Error("failed to record chat vote", slog.String("voter_id", voter), slog.Any("err", err))
	}
}
