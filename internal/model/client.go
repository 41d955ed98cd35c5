package model

import "time"

// Client types as stored in oauth_clients.client_type.
const (
	ClientTypePublic       = "PUBLIC"
	ClientTypeConfidential = "CONFIDENTIAL"
)

// Grant types supported by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// Client represents a registered OAuth client as stored in the
// `oauth_clients` table plus its child tables.  The redirect URI, scope,
// grant type, response type and permission sets are loaded eagerly because
// every authorize/token request consults them.
//
// Fields:
//
//	ID              – internal primary key; referenced by authorization_codes
//	                  and refresh_tokens (never exposed on the wire).
//	ClientID        – public identifier presented by the client.
//	SecretHash      – bcrypt hash of the client secret; nil for PUBLIC clients.
//	Type            – PUBLIC or CONFIDENTIAL.
//	RedirectURIs    – exact-match set of registered redirect URIs.
//	Scopes          – scopes the client may request.
//	GrantTypes      – grant types the client may use at the token endpoint.
//	ResponseTypes   – response types the client may use at /authorize.
//	Permissions     – permissions granted directly to the client; used only
//	                  by the client_credentials grant.
//	AccessTokenTTL  – lifetime of issued access tokens.
//	RefreshTokenTTL – lifetime of issued refresh tokens.
type Client struct {
	ID              uint64
	ClientID        string
	SecretHash      *string
	Type            string
	Name            string
	RedirectURIs    []string
	Scopes          []string
	GrantTypes      []string
	ResponseTypes   []string
	Permissions     []string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RequirePKCE     bool
	RequireConsent  bool
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsPublic reports whether the client is a public (secretless) client.
func (c *Client) IsPublic() bool { return c.Type == ClientTypePublic }

// HasRedirectURI checks a redirect URI against the registered set using
// exact string equality, as required for OAuth 2.1.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the client may use the given grant type.
func (c *Client) HasGrantType(gt string) bool {
	for _, g := range c.GrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// HasResponseType reports whether the client may use the given response type.
func (c *Client) HasResponseType(rt string) bool {
	for _, r := range c.ResponseTypes {
		if r == rt {
			return true
		}
	}
	return false
}
