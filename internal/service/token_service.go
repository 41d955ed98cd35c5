package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/queue"
	"github.com/iliyamo/oauth-token-service/internal/repository"
	"github.com/iliyamo/oauth-token-service/internal/utils"
)

// RefreshTokenStore is the refresh token persistence seam.  Rotate must be
// atomic per jti.  The concrete implementation is
// repository.RefreshTokenRepo.
type RefreshTokenStore interface {
	Store(ctx context.Context, rt *model.RefreshToken) error
	FindByJTI(ctx context.Context, jti string) (*model.RefreshToken, error)
	Rotate(ctx context.Context, oldJTI string, successor *model.RefreshToken) error
	Revoke(ctx context.Context, jti string) error
}

// BlacklistStore is the revocation denylist seam.
type BlacklistStore interface {
	Add(ctx context.Context, e *model.TokenBlacklistEntry) error
	Exists(ctx context.Context, jti string) (bool, error)
}

// UserStore loads users for ID token claims and active-account checks.
type UserStore interface {
	FindByID(ctx context.Context, id uint64) (*model.User, error)
}

// PermissionResolver resolves a user's effective permissions at issuance
// time.  The concrete implementation is RBACService.
type PermissionResolver interface {
	GetUserPermissions(ctx context.Context, userID uint64) ([]string, error)
}

// blacklistSlack extends a blacklist entry slightly past the token's own
// expiry so clock skew between instances cannot resurrect a revoked token.
const blacklistSlack = 5 * time.Minute

// TokenPair is the result of token issuance.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    int
	Scope        string
}

// Introspection is the answer to an introspection request.  When Active is
// false every other field is zero: callers learn nothing about why a token
// is inactive.
type Introspection struct {
	Active    bool
	Scope     string
	ClientID  string
	Sub       string
	Exp       int64
	TokenType string
}

// TokenService issues signed access/refresh/ID tokens, rotates refresh
// tokens atomically, introspects and revokes.  Access tokens are stateless
// HS256 JWTs; refresh tokens are JWTs whose SHA-256 hash is persisted so a
// presented token can be matched to exactly one stored record.
type TokenService struct {
	issuer        string
	secret        []byte
	refreshTokens RefreshTokenStore
	blacklist     BlacklistStore
	users         UserStore
	permissions   PermissionResolver
	publish       Publisher
	nowFunc       func() time.Time
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithNowFunc injects a clock for tests.
func WithNowFunc(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.nowFunc = now }
}

// WithPublisher injects a security-event publisher.
func WithPublisher(p Publisher) TokenOption {
	return func(s *TokenService) { s.publish = p }
}

// NewTokenService constructs a TokenService.
func NewTokenService(issuer, secret string, refreshTokens RefreshTokenStore, blacklist BlacklistStore,
	users UserStore, permissions PermissionResolver, opts ...TokenOption) *TokenService {
	s := &TokenService{
		issuer:        issuer,
		secret:        []byte(secret),
		refreshTokens: refreshTokens,
		blacklist:     blacklist,
		users:         users,
		permissions:   permissions,
		publish:       queue.PublishSecurityEvent,
		nowFunc:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueTokens mints a token set for a client.  The access token is always
// issued.  When userID is present a refresh token is persisted alongside
// it, and an ID token is added only when the scope contains "openid".  For
// client_credentials (userID nil) the access token stands alone.
// Permissions are baked into the access token at issuance and never
// re-derived from the token later.
func (s *TokenService) IssueTokens(ctx context.Context, client *model.Client, userID *uint64,
	scope string, permissions []string, nonce string) (*TokenPair, error) {
	now := s.nowFunc().UTC()

	sub := ""
	if userID != nil {
		sub = strconv.FormatUint(*userID, 10)
	}
	accessToken, _, err := s.signToken(model.TokenTypeAccess, sub, client.ClientID, scope, permissions,
		now, client.AccessTokenTTL)
	if err != nil {
		return nil, Internal(err)
	}

	pair := &TokenPair{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(client.AccessTokenTTL / time.Second),
		Scope:       scope,
	}
	if userID == nil {
		return pair, nil
	}

	rawRefresh, refreshJTI, err := s.signToken(model.TokenTypeRefresh, sub, client.ClientID, scope, nil,
		now, client.RefreshTokenTTL)
	if err != nil {
		return nil, Internal(err)
	}
	rt := &model.RefreshToken{
		JTI:       refreshJTI,
		TokenHash: utils.HashTokenRaw(rawRefresh),
		UserID:    *userID,
		ClientID:  client.ID,
		Scope:     scope,
		ExpiresAt: now.Add(client.RefreshTokenTTL),
	}
	if err := s.refreshTokens.Store(ctx, rt); err != nil {
		return nil, Internal(err)
	}
	pair.RefreshToken = rawRefresh

	if ScopeContains(scope, "openid") {
		idToken, err := s.signIDToken(ctx, *userID, client.ClientID, nonce, now, client.AccessTokenTTL)
		if err != nil {
			return nil, err
		}
		pair.IDToken = idToken
	}
	return pair, nil
}

// Refresh validates a presented refresh token and atomically rotates it:
// inside one transaction the old record is revoked and its successor
// persisted, then the new pair is returned.  A rotated token that is
// presented again is treated as a replayed credential, logged at warning
// level and published as a security event.  The token must belong to the
// authenticated client.
func (s *TokenService) Refresh(ctx context.Context, rawToken string, client *model.Client) (*TokenPair, error) {
	claims, err := s.parseAndVerify(rawToken)
	if err != nil {
		return nil, Unauthorized("invalid_grant", "invalid refresh token")
	}
	if claims.TokenType != model.TokenTypeRefresh {
		return nil, Unauthorized("invalid_grant", "not a refresh token")
	}

	rec, err := s.refreshTokens.FindByJTI(ctx, claims.ID)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, Unauthorized("invalid_grant", "invalid refresh token")
	}
	if err != nil {
		return nil, Internal(err)
	}
	if rec.TokenHash != utils.HashTokenRaw(rawToken) {
		return nil, Unauthorized("invalid_grant", "invalid refresh token")
	}
	if rec.ClientID != client.ID {
		return nil, Unauthorized("invalid_grant", "refresh token was not issued to this client")
	}
	if rec.IsRevoked {
		s.reportRefreshReuse(ctx, rec)
		return nil, Unauthorized("invalid_grant", "refresh token revoked")
	}
	now := s.nowFunc().UTC()
	if now.After(rec.ExpiresAt) {
		return nil, Unauthorized("invalid_grant", "refresh token expired")
	}

	user, err := s.users.FindByID(ctx, rec.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Unauthorized("invalid_grant", "unknown user")
	}
	if err != nil {
		return nil, Internal(err)
	}
	if !user.IsActive {
		return nil, Unauthorized("invalid_grant", "user is inactive")
	}

	permissions, err := s.permissions.GetUserPermissions(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}

	// Sign everything before touching the store so a signing failure
	// aborts with no state change; the transactional Rotate then makes
	// revoke+persist all-or-nothing.
	sub := strconv.FormatUint(rec.UserID, 10)
	accessToken, _, err := s.signToken(model.TokenTypeAccess, sub, client.ClientID, rec.Scope, permissions,
		now, client.AccessTokenTTL)
	if err != nil {
		return nil, Internal(err)
	}
	rawRefresh, refreshJTI, err := s.signToken(model.TokenTypeRefresh, sub, client.ClientID, rec.Scope, nil,
		now, client.RefreshTokenTTL)
	if err != nil {
		return nil, Internal(err)
	}
	successor := &model.RefreshToken{
		JTI:       refreshJTI,
		TokenHash: utils.HashTokenRaw(rawRefresh),
		UserID:    rec.UserID,
		ClientID:  rec.ClientID,
		Scope:     rec.Scope,
		ExpiresAt: now.Add(client.RefreshTokenTTL),
	}
	switch err := s.refreshTokens.Rotate(ctx, rec.JTI, successor); {
	case err == nil:
	case errors.Is(err, repository.ErrTokenRevoked):
		// Lost the race against a concurrent redemption of the same token.
		s.reportRefreshReuse(ctx, rec)
		return nil, Unauthorized("invalid_grant", "refresh token revoked")
	case errors.Is(err, repository.ErrTokenNotFound), errors.Is(err, repository.ErrTokenExpired):
		return nil, Unauthorized("invalid_grant", "invalid refresh token")
	default:
		return nil, Internal(err)
	}

	pair := &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(client.AccessTokenTTL / time.Second),
		Scope:        rec.Scope,
	}
	if ScopeContains(rec.Scope, "openid") {
		idToken, err := s.signIDToken(ctx, rec.UserID, client.ClientID, "", now, client.AccessTokenTTL)
		if err != nil {
			return nil, err
		}
		pair.IDToken = idToken
	}
	return pair, nil
}

// Introspect verifies a token and reports its state.  Any verification
// failure, blacklist hit or revoked refresh record yields Active:false
// with no further detail, per RFC 7662's anti-enumeration guidance.
func (s *TokenService) Introspect(ctx context.Context, rawToken string) (*Introspection, error) {
	claims, err := s.parseAndVerify(rawToken)
	if err != nil {
		return &Introspection{Active: false}, nil
	}
	revoked, err := s.blacklist.Exists(ctx, claims.ID)
	if err != nil {
		return nil, Internal(err)
	}
	if revoked {
		return &Introspection{Active: false}, nil
	}
	// A jti backed by a revoked refresh-token record is rejected as well,
	// regardless of which token type was presented.
	rec, err := s.refreshTokens.FindByJTI(ctx, claims.ID)
	if err != nil && !errors.Is(err, repository.ErrTokenNotFound) {
		return nil, Internal(err)
	}
	if rec != nil && rec.IsRevoked {
		return &Introspection{Active: false}, nil
	}

	out := &Introspection{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Sub:       claims.Subject,
		TokenType: claims.TokenType,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// Revoke implements RFC 7009 semantics: it succeeds whether or not the
// presented token is valid, known or already revoked, so the endpoint
// cannot be used as a token-existence oracle.  A verifiable token's jti is
// blacklisted with a bounded TTL; refresh tokens additionally have their
// stored record revoked.
func (s *TokenService) Revoke(ctx context.Context, rawToken, typeHint string) error {
	claims, err := s.parseAndVerify(rawToken)
	if err != nil {
		// Unverifiable tokens are treated as already revoked.
		return nil
	}

	expiresAt := s.nowFunc().UTC().Add(blacklistSlack)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.Add(blacklistSlack)
	}
	entry := &model.TokenBlacklistEntry{
		JTI:       claims.ID,
		TokenType: claims.TokenType,
		ClientID:  claims.ClientID,
		ExpiresAt: expiresAt,
		Reason:    "revoked",
	}
	if uid, err := strconv.ParseUint(claims.Subject, 10, 64); err == nil {
		entry.UserID = &uid
	}
	if err := s.blacklist.Add(ctx, entry); err != nil {
		return Internal(err)
	}

	if claims.TokenType == model.TokenTypeRefresh || typeHint == "refresh_token" {
		if err := s.refreshTokens.Revoke(ctx, claims.ID); err != nil {
			return Internal(err)
		}
	}

	_ = s.publish(ctx, queue.SecurityEvent{
		Type:       queue.EventTokenRevoked,
		ClientID:   claims.ClientID,
		JTI:        claims.ID,
		Reason:     "revocation request",
		OccurredAt: s.nowFunc().UTC().Format(time.RFC3339),
	})
	return nil
}

// IsTokenRevoked reports whether a jti sits on the non-expired blacklist.
func (s *TokenService) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	revoked, err := s.blacklist.Exists(ctx, jti)
	if err != nil {
		return false, Internal(err)
	}
	return revoked, nil
}

// signToken mints and signs one HS256 JWT, returning the token and its jti.
func (s *TokenService) signToken(tokenType, sub, clientID, scope string, permissions []string,
	now time.Time, ttl time.Duration) (string, string, error) {
	jti := uuid.NewString()
	claims := model.AccessTokenClaims{
		ClientID:    clientID,
		Scope:       scope,
		Permissions: permissions,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// signIDToken mints the OIDC ID token for a user.  Issuance is refused for
// deactivated accounts.
func (s *TokenService) signIDToken(ctx context.Context, userID uint64, clientID, nonce string,
	now time.Time, ttl time.Duration) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", Unauthorized("invalid_grant", "unknown user")
	}
	if err != nil {
		return "", Internal(err)
	}
	if !user.IsActive {
		return "", Unauthorized("invalid_grant", "user is inactive")
	}
	claims := model.IDTokenClaims{
		Email: user.Email,
		Name:  user.FullName,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatUint(userID, 10),
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Internal(err)
	}
	return signed, nil
}

// parseAndVerify parses a token, enforcing the HMAC signing method and the
// registered time claims against the injected clock.
func (s *TokenService) parseAndVerify(rawToken string) (*model.AccessTokenClaims, error) {
	claims := &model.AccessTokenClaims{}
	tok, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.nowFunc().UTC() }))
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}
	return claims, nil
}

// reportRefreshReuse logs and publishes the replay of an already-rotated
// or revoked refresh token.
func (s *TokenService) reportRefreshReuse(ctx context.Context, rec *model.RefreshToken) {
	log.Warn().
		Str("jti", rec.JTI).
		Uint64("user_id", rec.UserID).
		Msg("revoked refresh token presented again")
	_ = s.publish(ctx, queue.SecurityEvent{
		Type:       queue.EventRefreshReuse,
		UserID:     rec.UserID,
		JTI:        rec.JTI,
		Reason:     "rotated token replayed",
		OccurredAt: s.nowFunc().UTC().Format(time.RFC3339),
	})
}
