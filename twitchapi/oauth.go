package twitchapi

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/kevin-huff/slash-or-smash/oauth"
)

// Provider is the oauth_tokens key for the broadcaster token.
const Provider = "twitch"

// DefaultScopes lets the token run predictions and the chat bot.
var DefaultScopes = []string{"channel:manage:predictions", "chat:read", "chat:edit"}

// ParseScopes splits a comma or space separated scope list, falling back to
// DefaultScopes when empty.
func ParseScopes(s string) []string {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) == 0 {
		return append([]string(nil), DefaultScopes...)
	}
	return fields
}

// NewOAuthConfig builds the authorization code configuration. Twitch expects
// client credentials in the form body.
func NewOAuthConfig(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	ep := twitch.Endpoint
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     ep,
	}
}

// BuildAuthorizeURL constructs the user authorization URL for the code grant.
func BuildAuthorizeURL(cfg *oauth2.Config, state string) (string, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return cfg.AuthCodeURL(state), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func ExchangeAuthCode(ctx context.Context, cfg *oauth2.Config, code string) (oauth.Token, error) {
	if cfg == nil || cfg.ClientID == "" || cfg.ClientSecret == "" || code == "" {
		return oauth.Token{}, errors.New("missing required parameter for auth code exchange")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return oauth.Token{}, err
	}
	return oauth.FromOAuth2(tok), nil
}
