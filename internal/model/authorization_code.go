package model

import "time"

// AuthCodeTTL is the fixed lifetime of an authorization code.
const AuthCodeTTL = 10 * time.Minute

// AuthorizationCode models an entry in the `authorization_codes` table.
// Codes are single use: once IsUsed is set the code is permanently invalid,
// and the store enforces that the flip from unused to used happens at most
// once even under concurrent redemption.
//
// Fields:
//
//	Code                – opaque random value handed to the client.
//	UserID              – resource owner who approved the request.
//	ClientID            – internal oauth_clients.id (not the public client_id).
//	RedirectURI         – URI the code was issued for; must match at exchange.
//	Scope               – space-separated scopes approved at /authorize.
//	CodeChallenge       – PKCE challenge; empty when PKCE was not used.
//	CodeChallengeMethod – "S256" or "plain"; empty when PKCE was not used.
//	Nonce               – OIDC nonce to echo into the ID token, if any.
type AuthorizationCode struct {
	ID                  uint64
	Code                string
	UserID              uint64
	ClientID            uint64
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	ExpiresAt           time.Time
	IsUsed              bool
	CreatedAt           time.Time
}

// IsExpired reports whether the code has passed its expiry at the given time.
func (a *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
