package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators carried in the "token_type" claim and the
// token_blacklist.token_type column.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// RefreshToken models an entry in the `refresh_tokens` table.  The raw
// token (a signed JWT) is never stored; only its SHA-256 hash.  Rotation
// links the successor to the redeemed token via PreviousTokenID so the
// chain can be audited.
type RefreshToken struct {
	ID              uint64
	JTI             string
	TokenHash       string
	UserID          uint64
	ClientID        uint64 // internal oauth_clients.id
	Scope           string
	ExpiresAt       time.Time
	IsRevoked       bool
	PreviousTokenID *uint64
	CreatedAt       time.Time
}

// AccessTokenClaims captures the JWT claims minted for access and refresh
// tokens.  Subject is empty for client_credentials tokens.  Permissions are
// resolved at issuance and never re-derived from the token afterwards.
type AccessTokenClaims struct {
	ClientID    string   `json:"client_id"`
	Scope       string   `json:"scope"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// IDTokenClaims carries the OIDC claims for ID tokens issued when the
// granted scope contains "openid".
type IDTokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// TokenBlacklistEntry models an entry in the `token_blacklist` table.
// Access tokens are self-verifying, so revocation is honored by keeping
// their jti on a denylist until slightly past the token's own expiry.
type TokenBlacklistEntry struct {
	ID        uint64
	JTI       string
	TokenType string
	UserID    *uint64
	ClientID  string
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}
