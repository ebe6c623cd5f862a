// Package oauth persists provider tokens behind TokenStore and keeps them
// fresh with a jittered background refresher built on golang.org/x/oauth2.
package oauth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Token is a stored provider credential. SubjectID is the provider account
// that authorized it (the Twitch broadcaster id).
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	SubjectID    string
}

// TokenStore persists one token per provider name.
type TokenStore interface {
	SaveToken(ctx context.Context, provider string, t Token) error
	// LoadToken reports ok=false when nothing is stored for provider.
	LoadToken(ctx context.Context, provider string) (Token, bool, error)
	DeleteToken(ctx context.Context, provider string) error
}

// FromOAuth2 converts an exchanged token. Twitch returns scope as a JSON
// array, so both the array and string forms are accepted.
func FromOAuth2(t *oauth2.Token) Token {
	out := Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}
	switch s := t.Extra("scope").(type) {
	case string:
		out.Scope = strings.TrimSpace(s)
	case []interface{}:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if str, ok := p.(string); ok {
				parts = append(parts, str)
			}
		}
		out.Scope = strings.Join(parts, " ")
	}
	return out
}

// OAuth2 returns the x/oauth2 form of t.
func (t Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry, TokenType: "Bearer"}
}

// Valid reports whether an access token is present and unexpired.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && (t.Expiry.IsZero() || now.Before(t.Expiry))
}
