package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/oauth-token-service/internal/cache"
	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/repository"
)

// RBACStore is the role/permission graph seam.  The concrete
// implementation is repository.RBACRepo.
type RBACStore interface {
	UserPermissions(ctx context.Context, userID uint64) ([]string, error)
	UserHasPermission(ctx context.Context, userID uint64, permission string) (bool, error)
	ClientHasPermission(ctx context.Context, clientID, permission string) (bool, error)
	UserIDsForRole(ctx context.Context, roleID uint64) ([]uint64, error)
	CreateRole(ctx context.Context, role *model.Role) error
	CreatePermission(ctx context.Context, p *model.Permission) error
	AssignRoleToUser(ctx context.Context, userID, roleID uint64) error
	RemoveRoleFromUser(ctx context.Context, userID, roleID uint64) error
	AssignPermissionToRole(ctx context.Context, roleID, permissionID uint64) error
	RemovePermissionFromRole(ctx context.Context, roleID, permissionID uint64) error
	DeleteRole(ctx context.Context, roleID uint64) error
}

// RBACService resolves effective user permissions through a TTL cache and
// owns the cache invalidation contract: every mutation of the role or
// permission graph invalidates the cache entries of all affected users
// before the mutation is reported complete.  Readers only populate and
// read the cache; they never invalidate.
type RBACService struct {
	store RBACStore
	cache cache.Cache
	ttl   time.Duration
}

// DefaultPermissionCacheTTL is used when no TTL is configured.
const DefaultPermissionCacheTTL = 300 * time.Second

// NewRBACService returns an RBACService over the given store and cache.
func NewRBACService(store RBACStore, c cache.Cache, ttl time.Duration) *RBACService {
	if ttl <= 0 {
		ttl = DefaultPermissionCacheTTL
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &RBACService{store: store, cache: c, ttl: ttl}
}

func permCacheKey(userID uint64) string { return fmt.Sprintf("perm:%d", userID) }

// GetUserPermissions returns the user's effective permission names.  On a
// cache hit the cached list is returned as-is; on a miss the graph is
// resolved from the store and the cache populated.  A cache write failure
// is logged and swallowed: the freshly computed result is still correct.
func (s *RBACService) GetUserPermissions(ctx context.Context, userID uint64) ([]string, error) {
	key := permCacheKey(userID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var perms []string
		if jsonErr := json.Unmarshal([]byte(raw), &perms); jsonErr == nil {
			return perms, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		_ = s.cache.Invalidate(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Warn().Err(err).Uint64("user_id", userID).Msg("permission cache read failed")
	}

	perms, err := s.store.UserPermissions(ctx, userID)
	if err != nil {
		return nil, Internal(err)
	}
	if raw, err := json.Marshal(perms); err == nil {
		if err := s.cache.Set(ctx, key, string(raw), s.ttl); err != nil {
			log.Warn().Err(err).Uint64("user_id", userID).Msg("permission cache write failed")
		}
	}
	return perms, nil
}

// HasPermission checks a single permission for a user directly against the
// store, bypassing the cache.
func (s *RBACService) HasPermission(ctx context.Context, userID uint64, permission string) (bool, error) {
	ok, err := s.store.UserHasPermission(ctx, userID, permission)
	if err != nil {
		return false, Internal(err)
	}
	return ok, nil
}

// HasPermissionForClient checks a client's directly configured permission
// list by public client_id.
func (s *RBACService) HasPermissionForClient(ctx context.Context, clientID, permission string) (bool, error) {
	ok, err := s.store.ClientHasPermission(ctx, clientID, permission)
	if err != nil {
		return false, Internal(err)
	}
	return ok, nil
}

// CreateRole creates a role.  Duplicate names surface as Conflict.
func (s *RBACService) CreateRole(ctx context.Context, role *model.Role) error {
	if err := s.store.CreateRole(ctx, role); err != nil {
		return mapRBACErr(err)
	}
	return nil
}

// CreatePermission creates a permission.  Duplicate names surface as
// Conflict.
func (s *RBACService) CreatePermission(ctx context.Context, p *model.Permission) error {
	if p.Type == "" {
		p.Type = model.PermissionTypeAPI
	}
	if err := s.store.CreatePermission(ctx, p); err != nil {
		return mapRBACErr(err)
	}
	return nil
}

// AssignRoleToUser links a role to a user and invalidates that user's
// cached permission set.
func (s *RBACService) AssignRoleToUser(ctx context.Context, userID, roleID uint64) error {
	if err := s.store.AssignRoleToUser(ctx, userID, roleID); err != nil {
		return mapRBACErr(err)
	}
	return s.invalidateUsers(ctx, userID)
}

// RemoveRoleFromUser unlinks a role from a user and invalidates that
// user's cached permission set.
func (s *RBACService) RemoveRoleFromUser(ctx context.Context, userID, roleID uint64) error {
	if err := s.store.RemoveRoleFromUser(ctx, userID, roleID); err != nil {
		return mapRBACErr(err)
	}
	return s.invalidateUsers(ctx, userID)
}

// AssignPermissionToRole links a permission to a role and invalidates the
// cached permission sets of every user holding that role.
func (s *RBACService) AssignPermissionToRole(ctx context.Context, roleID, permissionID uint64) error {
	if err := s.store.AssignPermissionToRole(ctx, roleID, permissionID); err != nil {
		return mapRBACErr(err)
	}
	affected, err := s.store.UserIDsForRole(ctx, roleID)
	if err != nil {
		return Internal(err)
	}
	return s.invalidateUsers(ctx, affected...)
}

// RemovePermissionFromRole unlinks a permission from a role and
// invalidates the cached permission sets of every user holding that role.
func (s *RBACService) RemovePermissionFromRole(ctx context.Context, roleID, permissionID uint64) error {
	if err := s.store.RemovePermissionFromRole(ctx, roleID, permissionID); err != nil {
		return mapRBACErr(err)
	}
	affected, err := s.store.UserIDsForRole(ctx, roleID)
	if err != nil {
		return Internal(err)
	}
	return s.invalidateUsers(ctx, affected...)
}

// DeleteRole removes a role.  Affected users are collected before the
// delete cascades through user_roles, then their cache entries are
// invalidated.
func (s *RBACService) DeleteRole(ctx context.Context, roleID uint64) error {
	affected, err := s.store.UserIDsForRole(ctx, roleID)
	if err != nil {
		return Internal(err)
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return mapRBACErr(err)
	}
	return s.invalidateUsers(ctx, affected...)
}

// invalidateUsers drops the cached permission sets for the given users.  A
// failed invalidation fails the mutation: acknowledging a write while a
// stale entry can still be served would break the cache consistency
// contract.
func (s *RBACService) invalidateUsers(ctx context.Context, userIDs ...uint64) error {
	for _, id := range userIDs {
		if err := s.cache.Invalidate(ctx, permCacheKey(id)); err != nil {
			return Internal(err)
		}
	}
	return nil
}

func mapRBACErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return Conflict("name or assignment already exists")
	case errors.Is(err, repository.ErrNotFound):
		return NotFound("role or permission not found")
	default:
		return Internal(err)
	}
}
