package service

import (
	"context"
	"errors"

	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/repository"
	"github.com/iliyamo/oauth-token-service/internal/utils"
)

// ClientStore is the client lookup seam.  The concrete implementation is
// repository.ClientRepo.
type ClientStore interface {
	FindByClientID(ctx context.Context, clientID string) (*model.Client, error)
	FindByID(ctx context.Context, id uint64) (*model.Client, error)
}

// ClientAuthenticator loads client records and verifies client secrets for
// confidential clients.  Read-only apart from the bcrypt comparison.
type ClientAuthenticator struct {
	clients ClientStore
}

// NewClientAuthenticator returns a ClientAuthenticator over the given store.
func NewClientAuthenticator(clients ClientStore) *ClientAuthenticator {
	return &ClientAuthenticator{clients: clients}
}

// Find loads a client by public client_id without authenticating it.
func (a *ClientAuthenticator) Find(ctx context.Context, clientID string) (*model.Client, error) {
	c, err := a.clients.FindByClientID(ctx, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound("unknown client")
	}
	if err != nil {
		return nil, Internal(err)
	}
	return c, nil
}

// Authenticate loads a client and verifies its credentials.  PUBLIC clients
// authenticate with no secret and must not present one.  CONFIDENTIAL
// clients must present a secret matching the stored bcrypt hash; bcrypt's
// comparison is constant time with respect to the secret material.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, clientID, secret string) (*model.Client, error) {
	c, err := a.Find(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, Unauthorized("invalid_client", "client is inactive")
	}
	if c.IsPublic() {
		if secret != "" {
			return nil, Unauthorized("invalid_client", "public clients must not present a secret")
		}
		return c, nil
	}
	if secret == "" {
		return nil, Unauthorized("invalid_client", "client secret required")
	}
	if c.SecretHash == nil || !utils.VerifySecret(*c.SecretHash, secret) {
		return nil, Unauthorized("invalid_client", "invalid client secret")
	}
	return c, nil
}
