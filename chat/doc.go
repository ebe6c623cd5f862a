// Package chat turns Twitch chat into audience votes.
//
// Listener joins the show's channel over IRC and treats a message consisting
// of a single rating ("3") or a vote command ("!vote 3", "!v3") as that
// viewer's score for the round in progress. Messages outside a voting window
// are ignored. A viewer is identified by their Twitch user id, falling back
// to their login and finally "anon".
//
// Credentials: the IRC client needs a bot username and a user token with the
// chat:read scope. When TWITCH_OAUTH_TOKEN is not set the broadcaster token
// stored by the OAuth flow is used instead.
package chat
