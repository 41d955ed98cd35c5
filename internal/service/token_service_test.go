package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/queue"
)

type tokenFixture struct {
	svc     *TokenService
	refresh *fakeRefreshStore
	deny    *fakeBlacklist
	users   *fakeUserStore
	rec     *eventRecorder
	client  *model.Client
	now     time.Time
	setNow  func(time.Time)
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := start
	nowFn := func() time.Time { return current }

	f := &tokenFixture{
		refresh: newFakeRefreshStore(nowFn),
		deny:    newFakeBlacklist(nowFn),
		users: newFakeUserStore(&model.User{
			ID: 7, Email: "ana@example.com", FullName: "Ana Ops", IsActive: true,
		}),
		rec:    &eventRecorder{},
		client: confidentialClient(t, "web-app", "s3cret"),
		now:    start,
		setNow: func(tm time.Time) { current = tm },
	}
	f.svc = NewTokenService("https://auth.example.com", "unit-test-secret",
		f.refresh, f.deny, f.users, staticPermissions{"orders:read"},
		WithNowFunc(nowFn), WithPublisher(f.rec.publish))
	return f
}

func TestIssueTokens(t *testing.T) {
	ctx := context.Background()
	userID := uint64(7)

	t.Run("user grant issues access and refresh tokens", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", []string{"orders:read"}, "")
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Empty(t, pair.IDToken)
		require.Equal(t, "Bearer", pair.TokenType)
		require.Equal(t, int(f.client.AccessTokenTTL/time.Second), pair.ExpiresIn)
		require.Equal(t, "profile", pair.Scope)
		require.Len(t, f.refresh.byJTI, 1)
	})

	t.Run("openid scope adds an ID token with the nonce", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "openid profile", nil, "n-0S6_WzA2Mj")
		require.NoError(t, err)
		require.NotEmpty(t, pair.IDToken)

		claims := &model.IDTokenClaims{}
		_, err = jwt.ParseWithClaims(pair.IDToken, claims, func(*jwt.Token) (interface{}, error) {
			return []byte("unit-test-secret"), nil
		}, jwt.WithTimeFunc(func() time.Time { return f.now }))
		require.NoError(t, err)
		require.Equal(t, "n-0S6_WzA2Mj", claims.Nonce)
		require.Equal(t, "ana@example.com", claims.Email)
		require.Equal(t, "7", claims.Subject)
	})

	t.Run("client credentials issue a bare access token", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, nil, "profile", []string{"svc:ping"}, "")
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.Empty(t, pair.RefreshToken)
		require.Empty(t, pair.IDToken)
		require.Empty(t, f.refresh.byJTI)

		claims := &model.AccessTokenClaims{}
		_, err = jwt.ParseWithClaims(pair.AccessToken, claims, func(*jwt.Token) (interface{}, error) {
			return []byte("unit-test-secret"), nil
		}, jwt.WithTimeFunc(func() time.Time { return f.now }))
		require.NoError(t, err)
		require.Empty(t, claims.Subject)
		require.Equal(t, []string{"svc:ping"}, claims.Permissions)
	})

	t.Run("ID token issuance refuses an inactive user", func(t *testing.T) {
		f := newTokenFixture(t)
		f.users.byID[7].IsActive = false
		_, err := f.svc.IssueTokens(ctx, f.client, &userID, "openid", nil, "")
		require.Equal(t, KindUnauthorized, KindOf(err))
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	userID := uint64(7)

	t.Run("rotation revokes the old record and links the successor", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		next, err := f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.NoError(t, err)
		require.NotEmpty(t, next.AccessToken)
		require.NotEmpty(t, next.RefreshToken)
		require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

		require.Len(t, f.refresh.byJTI, 2)
		var old, successor *model.RefreshToken
		for _, rt := range f.refresh.byJTI {
			if rt.IsRevoked {
				old = rt
			} else {
				successor = rt
			}
		}
		require.NotNil(t, old)
		require.NotNil(t, successor)
		require.NotNil(t, successor.PreviousTokenID)
		require.Equal(t, old.ID, *successor.PreviousTokenID)
	})

	t.Run("a rotated token cannot be redeemed twice", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		next, err := f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.NoError(t, err)

		_, err = f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.Equal(t, KindUnauthorized, KindOf(err))
		require.Len(t, f.rec.byType(queue.EventRefreshReuse), 1)

		// The successor is unaffected by the replay.
		_, err = f.svc.Refresh(ctx, next.RefreshToken, f.client)
		require.NoError(t, err)
	})

	t.Run("token issued to another client is rejected", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		other := publicClient("spa-app")
		_, err = f.svc.Refresh(ctx, pair.RefreshToken, other)
		require.Equal(t, KindUnauthorized, KindOf(err))
	})

	t.Run("tampered token is rejected", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		tampered := pair.RefreshToken[:len(pair.RefreshToken)-2] + "xx"
		_, err = f.svc.Refresh(ctx, tampered, f.client)
		require.Equal(t, KindUnauthorized, KindOf(err))
	})

	t.Run("access token is not accepted as a refresh token", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		_, err = f.svc.Refresh(ctx, pair.AccessToken, f.client)
		require.Equal(t, KindUnauthorized, KindOf(err))
	})

	t.Run("expired refresh token is rejected", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		f.setNow(f.now.Add(f.client.RefreshTokenTTL + time.Minute))
		_, err = f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.Equal(t, KindUnauthorized, KindOf(err))
	})

	t.Run("deactivated user cannot refresh", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		f.users.byID[7].IsActive = false
		_, err = f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.Equal(t, KindUnauthorized, KindOf(err))
	})
}

func TestIntrospect(t *testing.T) {
	ctx := context.Background()
	userID := uint64(7)

	t.Run("valid access token is active", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "openid profile", nil, "")
		require.NoError(t, err)

		info, err := f.svc.Introspect(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.True(t, info.Active)
		require.Equal(t, "openid profile", info.Scope)
		require.Equal(t, "web-app", info.ClientID)
		require.Equal(t, "7", info.Sub)
		require.Equal(t, model.TokenTypeAccess, info.TokenType)
		require.Equal(t, f.now.Add(f.client.AccessTokenTTL).Unix(), info.Exp)
	})

	t.Run("garbage is inactive with no detail", func(t *testing.T) {
		f := newTokenFixture(t)
		info, err := f.svc.Introspect(ctx, "not-a-jwt")
		require.NoError(t, err)
		require.Equal(t, &Introspection{Active: false}, info)
	})

	t.Run("expired token is inactive", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		f.setNow(f.now.Add(f.client.AccessTokenTTL + time.Minute))
		info, err := f.svc.Introspect(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.False(t, info.Active)
	})

	t.Run("rotated refresh token is inactive", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)
		_, err = f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.NoError(t, err)

		info, err := f.svc.Introspect(ctx, pair.RefreshToken)
		require.NoError(t, err)
		require.False(t, info.Active)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	userID := uint64(7)

	t.Run("revoked access token introspects inactive", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		require.NoError(t, f.svc.Revoke(ctx, pair.AccessToken, ""))
		info, err := f.svc.Introspect(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.False(t, info.Active)
		require.Len(t, f.rec.byType(queue.EventTokenRevoked), 1)
	})

	t.Run("revocation is idempotent", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		require.NoError(t, f.svc.Revoke(ctx, pair.AccessToken, ""))
		require.NoError(t, f.svc.Revoke(ctx, pair.AccessToken, ""))
	})

	t.Run("unparseable token still succeeds", func(t *testing.T) {
		f := newTokenFixture(t)
		require.NoError(t, f.svc.Revoke(ctx, "garbage", ""))
		require.Empty(t, f.deny.entries)
	})

	t.Run("revoked refresh token cannot be redeemed", func(t *testing.T) {
		f := newTokenFixture(t)
		pair, err := f.svc.IssueTokens(ctx, f.client, &userID, "profile", nil, "")
		require.NoError(t, err)

		require.NoError(t, f.svc.Revoke(ctx, pair.RefreshToken, "refresh_token"))
		_, err = f.svc.Refresh(ctx, pair.RefreshToken, f.client)
		require.Equal(t, KindUnauthorized, KindOf(err))
	})
}

// TestCodeFlowEndToEnd walks the full authorization-code grant through the
// services: authorize, redeem the code, verify PKCE, issue tokens,
// introspect, refresh and finally revoke.
func TestCodeFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	nowFn := func() time.Time { return f.now }

	client := publicClient("spa-app")
	authorize := NewAuthorizeService(newFakeClientStore(client), newFakeCodeStore(nowFn),
		WithAuthorizeNowFunc(nowFn), WithAuthorizePublisher(f.rec.publish))

	verifier := strings.Repeat("e2e-verifier-", 4)
	code, err := authorize.Authorize(ctx, AuthorizeRequest{
		ClientID:            "spa-app",
		RedirectURI:         "https://spa.example.com/callback",
		ResponseType:        "code",
		Scope:               "openid profile",
		CodeChallenge:       s256Challenge(verifier),
		CodeChallengeMethod: PKCEMethodS256,
		Nonce:               "nonce-1",
	}, 7)
	require.NoError(t, err)

	ac, err := authorize.Consume(ctx, code)
	require.NoError(t, err)
	require.NoError(t, VerifyPKCE(verifier, ac.CodeChallenge, ac.CodeChallengeMethod))

	scope, err := EnforceScopeSubset(ac.Scope, "")
	require.NoError(t, err)

	pair, err := f.svc.IssueTokens(ctx, client, &ac.UserID, scope, []string{"orders:read"}, ac.Nonce)
	require.NoError(t, err)
	require.NotEmpty(t, pair.IDToken)

	info, err := f.svc.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.True(t, info.Active)
	require.Equal(t, "openid profile", info.Scope)

	next, err := f.svc.Refresh(ctx, pair.RefreshToken, client)
	require.NoError(t, err)
	require.NotEmpty(t, next.IDToken)

	require.NoError(t, f.svc.Revoke(ctx, next.RefreshToken, "refresh_token"))
	_, err = f.svc.Refresh(ctx, next.RefreshToken, client)
	require.Equal(t, KindUnauthorized, KindOf(err))

	info, err = f.svc.Introspect(ctx, next.RefreshToken)
	require.NoError(t, err)
	require.False(t, info.Active)
}
