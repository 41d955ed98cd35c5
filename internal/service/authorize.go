package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/queue"
	"github.com/iliyamo/oauth-token-service/internal/repository"
)

// CodeStore is the authorization code persistence seam.  The concrete
// implementation is repository.AuthCodeRepo; Consume must be atomic per
// code value.
type CodeStore interface {
	Create(ctx context.Context, ac *model.AuthorizationCode) error
	Consume(ctx context.Context, code string) (*model.AuthorizationCode, error)
}

// Publisher emits security events.  Injected so tests can capture events;
// production wiring uses queue.PublishSecurityEvent.
type Publisher func(ctx context.Context, event queue.SecurityEvent) error

// AuthorizeRequest carries the query parameters of GET /oauth/authorize.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	State               string
}

// AuthorizeService validates authorize requests for an already
// authenticated user and issues single-use authorization codes.
type AuthorizeService struct {
	clients ClientStore
	codes   CodeStore
	publish Publisher
	nowFunc func() time.Time
}

// AuthorizeOption customizes an AuthorizeService.
type AuthorizeOption func(*AuthorizeService)

// WithAuthorizeNowFunc injects a clock for tests.
func WithAuthorizeNowFunc(now func() time.Time) AuthorizeOption {
	return func(s *AuthorizeService) { s.nowFunc = now }
}

// WithAuthorizePublisher injects a security-event publisher.
func WithAuthorizePublisher(p Publisher) AuthorizeOption {
	return func(s *AuthorizeService) { s.publish = p }
}

// NewAuthorizeService returns an AuthorizeService over the given stores.
func NewAuthorizeService(clients ClientStore, codes CodeStore, opts ...AuthorizeOption) *AuthorizeService {
	s := &AuthorizeService{
		clients: clients,
		codes:   codes,
		publish: queue.PublishSecurityEvent,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize validates the request against the client's registration and
// persists a fresh authorization code for the given user.  OAuth 2.1
// mandates PKCE for public clients, so those requests are rejected without
// a code challenge.  Only the S256 method is accepted here; "plain" never
// reaches storage.
func (s *AuthorizeService) Authorize(ctx context.Context, req AuthorizeRequest, userID uint64) (string, error) {
	client, err := s.clients.FindByClientID(ctx, req.ClientID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", NotFound("unknown client")
	}
	if err != nil {
		return "", Internal(err)
	}
	if !client.IsActive {
		return "", Unauthorized("invalid_client", "client is inactive")
	}
	if req.ResponseType != "code" {
		return "", Validation("unsupported_response_type", "only the code response type is supported")
	}
	if !client.HasResponseType("code") {
		return "", Validation("unauthorized_client", "client may not use the code response type")
	}
	if !client.HasGrantType(model.GrantAuthorizationCode) {
		return "", Validation("unauthorized_client", "client may not use the authorization_code grant")
	}

	// Redirect URIs match by exact string equality, and fragments are
	// rejected outright (RFC 6749 §3.1.2).
	if req.RedirectURI == "" || strings.Contains(req.RedirectURI, "#") {
		return "", Validation("invalid_request", "invalid redirect_uri")
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return "", Validation("invalid_request", "redirect_uri is not registered for this client")
	}

	if err := ValidateRequestedScope(req.Scope, client.Scopes); err != nil {
		return "", err
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge == "" {
		if client.IsPublic() || client.RequirePKCE {
			return "", Validation("invalid_request", "code_challenge is required for this client")
		}
	} else {
		if method == "" {
			method = PKCEMethodS256
		}
		if method != PKCEMethodS256 {
			return "", Validation("invalid_request", "only the S256 code_challenge_method is supported")
		}
		if len(req.CodeChallenge) < minVerifierLen || len(req.CodeChallenge) > maxVerifierLen {
			return "", Validation("invalid_request", "code_challenge must be between 43 and 128 characters")
		}
	}

	now := s.nowFunc().UTC()
	ac := &model.AuthorizationCode{
		Code:                uuid.NewString(),
		UserID:              userID,
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		Nonce:               req.Nonce,
		ExpiresAt:           now.Add(model.AuthCodeTTL),
	}
	if ac.CodeChallenge == "" {
		ac.CodeChallengeMethod = ""
	}
	if err := s.codes.Create(ctx, ac); err != nil {
		return "", Internal(err)
	}
	return ac.Code, nil
}

// Consume atomically redeems a code, translating store outcomes into
// protocol errors.  A reused code is logged at warning level and published
// as a security event before being rejected: redeeming an already-spent
// code is the signature of a replayed or stolen code.
func (s *AuthorizeService) Consume(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	ac, err := s.codes.Consume(ctx, code)
	switch {
	case err == nil:
		return ac, nil
	case errors.Is(err, repository.ErrCodeUsed):
		log.Warn().Str("code_prefix", codePrefix(code)).Msg("authorization code replay detected")
		_ = s.publish(ctx, queue.SecurityEvent{
			Type:       queue.EventCodeReplay,
			Reason:     "code already used",
			OccurredAt: s.nowFunc().UTC().Format(time.RFC3339),
		})
		return nil, Validation("invalid_grant", "code already used")
	case errors.Is(err, repository.ErrCodeExpired):
		return nil, Validation("invalid_grant", "code expired")
	case errors.Is(err, repository.ErrCodeInvalid):
		return nil, Validation("invalid_grant", "invalid code")
	default:
		return nil, Internal(err)
	}
}

// codePrefix truncates a code for logging; the full value never goes to
// the logs.
func codePrefix(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:8]
}
