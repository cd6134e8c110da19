package credential

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenType is used when the provider omits token_type.
const DefaultTokenType = "Bearer"

// ErrMissingAccessToken is returned when a token bundle has no access token.
var ErrMissingAccessToken = errors.New("credential: token bundle is missing the access token")

// TokenBundle is the bearer-mode credential issued by the identity provider.
type TokenBundle struct {
	// AccessToken authenticates requests against the mobile GraphQL host.
	AccessToken string `json:"access_token"`
	// RefreshToken obtains a new access token once the current one expires.
	RefreshToken string `json:"refresh_token,omitempty"`
	// IDToken is the OIDC identity token, if the provider issued one.
	IDToken string `json:"id_token,omitempty"`
	// TokenType defaults to Bearer when empty.
	TokenType string `json:"token_type,omitempty"`
	// Scope is the granted scope, space separated.
	Scope string `json:"scope,omitempty"`
	// ExpiresAt is the explicit expiry instant.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	// ExpiresIn is a relative lifetime in seconds, used only when ExpiresAt is zero.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// Type returns the authorization scheme.
func (t TokenBundle) Type() string {
	if typ := strings.TrimSpace(t.TokenType); typ != "" {
		return typ
	}
	return DefaultTokenType
}

// Validate checks the construction-time required fields.
func (t TokenBundle) Validate() error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return ErrMissingAccessToken
	}
	return nil
}

// AuthorizationHeader formats the Authorization header value.
func (t TokenBundle) AuthorizationHeader() string {
	return t.Type() + " " + t.AccessToken
}

// ResolveExpiry picks the expiry in order: explicit instant, now+ExpiresIn, JWT exp of the
// access token. The second return is false when none is known.
func (t TokenBundle) ResolveExpiry(now time.Time) (time.Time, bool) {
	if !t.ExpiresAt.IsZero() {
		return t.ExpiresAt, true
	}
	if t.ExpiresIn > 0 {
		return now.Add(time.Duration(t.ExpiresIn) * time.Second), true
	}
	return DecodeExpiry(t.AccessToken)
}

// Pin returns a copy with ExpiresIn converted to an absolute ExpiresAt, so the bundle can be
// persisted without its lifetime drifting on reload.
func (t TokenBundle) Pin(now time.Time) TokenBundle {
	if t.ExpiresAt.IsZero() && t.ExpiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	t.ExpiresIn = 0
	return t
}

// FromOAuth2 converts an x/oauth2 token, pulling id_token and scope from the raw response.
func FromOAuth2(tok *oauth2.Token) TokenBundle {
	if tok == nil {
		return TokenBundle{}
	}
	bundle := TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		bundle.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		bundle.Scope = scope
	}
	return bundle
}
