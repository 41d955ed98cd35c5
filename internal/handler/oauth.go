package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/service"
)

// OAuthHandler bundles dependencies for the OAuth protocol endpoints.
type OAuthHandler struct {
	Clients   *service.ClientAuthenticator
	Authorize *service.AuthorizeService
	RBAC      *service.RBACService
	Tokens    *service.TokenService
}

func NewOAuthHandler(clients *service.ClientAuthenticator, authorize *service.AuthorizeService,
	rbac *service.RBACService, tokens *service.TokenService) *OAuthHandler {
	return &OAuthHandler{Clients: clients, Authorize: authorize, RBAC: rbac, Tokens: tokens}
}

// ----- DTOs -----

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type introspectResp struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

type oauthErrResp struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HandleAuthorize implements GET /oauth/authorize.  The user is already
// authenticated by the upstream session layer, which forwards the resolved
// user id in the X-User-ID header; this core only consumes it.  On success
// the user agent is redirected back to the client with a fresh single-use
// code.
func (h *OAuthHandler) HandleAuthorize(c echo.Context) error {
	userID, err := strconv.ParseUint(c.Request().Header.Get("X-User-ID"), 10, 64)
	if err != nil || userID == 0 {
		return c.JSON(http.StatusUnauthorized, oauthErrResp{Error: "access_denied", ErrorDescription: "authentication required"})
	}

	req := service.AuthorizeRequest{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		ResponseType:        c.QueryParam("response_type"),
		Scope:               c.QueryParam("scope"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
		Nonce:               c.QueryParam("nonce"),
		State:               c.QueryParam("state"),
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	code, err := h.Authorize.Authorize(ctx, req, userID)
	if err != nil {
		return writeOAuthError(c, err)
	}

	loc, err := url.Parse(req.RedirectURI)
	if err != nil {
		return writeOAuthError(c, service.Validation("invalid_request", "invalid redirect_uri"))
	}
	q := loc.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	loc.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, loc.String())
}

// HandleToken implements POST /oauth/token for the authorization_code,
// refresh_token and client_credentials grants.
func (h *OAuthHandler) HandleToken(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	clientID, clientSecret := clientCredentials(c)
	grantType := c.FormValue("grant_type")

	client, err := h.Clients.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return writeOAuthError(c, err)
	}
	if !client.HasGrantType(grantType) {
		return writeOAuthError(c, service.Validation("unauthorized_client", "grant type not allowed for this client"))
	}

	var pair *service.TokenPair
	switch grantType {
	case model.GrantAuthorizationCode:
		pair, err = h.authorizationCodeGrant(ctx, c, client)
	case model.GrantRefreshToken:
		pair, err = h.refreshTokenGrant(ctx, c, client)
	case model.GrantClientCredentials:
		pair, err = h.clientCredentialsGrant(ctx, c, client)
	default:
		err = service.Validation("unsupported_grant_type", "unsupported grant_type")
	}
	if err != nil {
		return writeOAuthError(c, err)
	}

	return c.JSON(http.StatusOK, tokenResp{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        pair.Scope,
		IDToken:      pair.IDToken,
	})
}

// authorizationCodeGrant consumes the code, verifies proof of possession
// and redirect binding, resolves the user's permissions and issues tokens.
func (h *OAuthHandler) authorizationCodeGrant(ctx context.Context, c echo.Context, client *model.Client) (*service.TokenPair, error) {
	code := c.FormValue("code")
	if code == "" {
		return nil, service.Validation("invalid_request", "code is required")
	}

	ac, err := h.Authorize.Consume(ctx, code)
	if err != nil {
		return nil, err
	}
	// The code is bound to the client it was issued to.
	if ac.ClientID != client.ID {
		return nil, service.Validation("invalid_grant", "code was issued to another client")
	}
	if ac.RedirectURI != c.FormValue("redirect_uri") {
		return nil, service.Validation("invalid_grant", "redirect_uri does not match the authorization request")
	}
	if ac.CodeChallenge != "" {
		verifier := c.FormValue("code_verifier")
		if verifier == "" {
			return nil, service.Validation("invalid_request", "code_verifier is required")
		}
		if err := service.VerifyPKCE(verifier, ac.CodeChallenge, ac.CodeChallengeMethod); err != nil {
			return nil, err
		}
	}

	scope, err := service.EnforceScopeSubset(ac.Scope, c.FormValue("scope"))
	if err != nil {
		return nil, err
	}

	permissions, err := h.RBAC.GetUserPermissions(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	return h.Tokens.IssueTokens(ctx, client, &ac.UserID, scope, permissions, ac.Nonce)
}

// refreshTokenGrant rotates the presented refresh token.
func (h *OAuthHandler) refreshTokenGrant(ctx context.Context, c echo.Context, client *model.Client) (*service.TokenPair, error) {
	raw := strings.TrimSpace(c.FormValue("refresh_token"))
	if raw == "" {
		return nil, service.Validation("invalid_request", "refresh_token is required")
	}
	return h.Tokens.Refresh(ctx, raw, client)
}

// clientCredentialsGrant issues a bare access token for a confidential
// client.  Permissions come from the client's own configured permission
// list, never from user-role resolution, and no refresh or ID token is
// issued.
func (h *OAuthHandler) clientCredentialsGrant(ctx context.Context, c echo.Context, client *model.Client) (*service.TokenPair, error) {
	if client.IsPublic() {
		return nil, service.Unauthorized("invalid_client", "public clients may not use client_credentials")
	}
	scope := c.FormValue("scope")
	if scope != "" {
		if err := service.ValidateRequestedScope(scope, client.Scopes); err != nil {
			return nil, err
		}
	} else {
		scope = strings.Join(client.Scopes, " ")
	}
	return h.Tokens.IssueTokens(ctx, client, nil, scope, client.Permissions, "")
}

// HandleIntrospect implements POST /oauth/introspect.  Optional fields are
// omitted entirely when the token is inactive.
func (h *OAuthHandler) HandleIntrospect(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Tokens.Introspect(ctx, c.FormValue("token"))
	if err != nil {
		return writeOAuthError(c, err)
	}
	if !res.Active {
		return c.JSON(http.StatusOK, introspectResp{Active: false})
	}
	return c.JSON(http.StatusOK, introspectResp{
		Active:   true,
		Scope:    res.Scope,
		ClientID: res.ClientID,
		Sub:      res.Sub,
		Exp:      res.Exp,
	})
}

// HandleRevoke implements POST /oauth/revoke.  Per RFC 7009 the endpoint
// answers 200 OK whether or not the presented token was valid or known,
// but the requesting client must still authenticate.
func (h *OAuthHandler) HandleRevoke(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	clientID, clientSecret := clientCredentials(c)
	if _, err := h.Clients.Authenticate(ctx, clientID, clientSecret); err != nil {
		return writeOAuthError(c, err)
	}
	if err := h.Tokens.Revoke(ctx, c.FormValue("token"), c.FormValue("token_type_hint")); err != nil {
		return writeOAuthError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// clientCredentials extracts client authentication from the form body or,
// failing that, from HTTP Basic auth (client_secret_basic).
func clientCredentials(c echo.Context) (string, string) {
	clientID := c.FormValue("client_id")
	clientSecret := c.FormValue("client_secret")
	if clientID == "" {
		if user, pass, ok := c.Request().BasicAuth(); ok {
			clientID, clientSecret = user, pass
		}
	}
	return clientID, clientSecret
}

// writeOAuthError maps a service error onto the RFC 6749 wire format.
// NotFound collapses into invalid_client so internal identifiers never
// leak, and internal causes are logged but never serialized.
func writeOAuthError(c echo.Context, err error) error {
	var (
		status int
		body   oauthErrResp
	)
	if se, ok := err.(*service.Error); ok {
		body = oauthErrResp{Error: se.Code, ErrorDescription: se.Message}
		switch se.Kind {
		case service.KindValidation:
			status = http.StatusBadRequest
		case service.KindUnauthorized:
			status = http.StatusUnauthorized
		case service.KindNotFound:
			status = http.StatusUnauthorized
			body = oauthErrResp{Error: "invalid_client"}
		case service.KindConflict:
			status = http.StatusConflict
		case service.KindRateLimited:
			status = http.StatusTooManyRequests
		default:
			status = http.StatusInternalServerError
			body = oauthErrResp{Error: "server_error"}
		}
	} else {
		status = http.StatusInternalServerError
		body = oauthErrResp{Error: "server_error"}
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, body)
}
