package service

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/oauth-token-service/internal/cache"
	"github.com/iliyamo/oauth-token-service/internal/model"
	"github.com/iliyamo/oauth-token-service/internal/queue"
	"github.com/iliyamo/oauth-token-service/internal/repository"
)

// In-memory stand-ins for the database-backed repositories.  They mirror
// the repository semantics (sentinel errors, single-use consumption,
// rotation under a lock) closely enough for the services not to notice.

type fakeClientStore struct {
	byClientID map[string]*model.Client
}

func newFakeClientStore(clients ...*model.Client) *fakeClientStore {
	s := &fakeClientStore{byClientID: map[string]*model.Client{}}
	for _, c := range clients {
		s.byClientID[c.ClientID] = c
	}
	return s
}

func (s *fakeClientStore) FindByClientID(_ context.Context, clientID string) (*model.Client, error) {
	c, ok := s.byClientID[clientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (s *fakeClientStore) FindByID(_ context.Context, id uint64) (*model.Client, error) {
	for _, c := range s.byClientID {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeCodeStore struct {
	mu     sync.Mutex
	nextID uint64
	codes  map[string]*model.AuthorizationCode
	now    func() time.Time
}

func newFakeCodeStore(now func() time.Time) *fakeCodeStore {
	return &fakeCodeStore{codes: map[string]*model.AuthorizationCode{}, now: now}
}

func (s *fakeCodeStore) Create(_ context.Context, ac *model.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ac.ID = s.nextID
	cp := *ac
	s.codes[ac.Code] = &cp
	return nil
}

func (s *fakeCodeStore) Consume(_ context.Context, code string) (*model.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.codes[code]
	if !ok {
		return nil, repository.ErrCodeInvalid
	}
	if ac.IsUsed {
		return nil, repository.ErrCodeUsed
	}
	if s.now().UTC().After(ac.ExpiresAt) {
		return nil, repository.ErrCodeExpired
	}
	ac.IsUsed = true
	cp := *ac
	return &cp, nil
}

type fakeRefreshStore struct {
	mu     sync.Mutex
	nextID uint64
	byJTI  map[string]*model.RefreshToken
	now    func() time.Time
}

func newFakeRefreshStore(now func() time.Time) *fakeRefreshStore {
	return &fakeRefreshStore{byJTI: map[string]*model.RefreshToken{}, now: now}
}

func (s *fakeRefreshStore) Store(_ context.Context, rt *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rt.ID = s.nextID
	cp := *rt
	s.byJTI[rt.JTI] = &cp
	return nil
}

func (s *fakeRefreshStore) FindByJTI(_ context.Context, jti string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.byJTI[jti]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	cp := *rt
	return &cp, nil
}

func (s *fakeRefreshStore) Rotate(_ context.Context, oldJTI string, successor *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byJTI[oldJTI]
	if !ok {
		return repository.ErrTokenNotFound
	}
	if old.IsRevoked {
		return repository.ErrTokenRevoked
	}
	if s.now().UTC().After(old.ExpiresAt) {
		return repository.ErrTokenExpired
	}
	old.IsRevoked = true
	s.nextID++
	successor.ID = s.nextID
	prev := old.ID
	successor.PreviousTokenID = &prev
	cp := *successor
	s.byJTI[successor.JTI] = &cp
	return nil
}

func (s *fakeRefreshStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.byJTI[jti]; ok {
		rt.IsRevoked = true
	}
	return nil
}

type fakeBlacklist struct {
	mu      sync.Mutex
	entries map[string]*model.TokenBlacklistEntry
	now     func() time.Time
}

func newFakeBlacklist(now func() time.Time) *fakeBlacklist {
	return &fakeBlacklist{entries: map[string]*model.TokenBlacklistEntry{}, now: now}
}

func (s *fakeBlacklist) Add(_ context.Context, e *model.TokenBlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.JTI] = &cp
	return nil
}

func (s *fakeBlacklist) Exists(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	return s.now().UTC().Before(e.ExpiresAt), nil
}

type fakeUserStore struct {
	byID map[uint64]*model.User
}

func newFakeUserStore(users ...*model.User) *fakeUserStore {
	s := &fakeUserStore{byID: map[uint64]*model.User{}}
	for _, u := range users {
		s.byID[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) FindByID(_ context.Context, id uint64) (*model.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

// staticPermissions satisfies PermissionResolver with a fixed answer.
type staticPermissions []string

func (p staticPermissions) GetUserPermissions(context.Context, uint64) ([]string, error) {
	return []string(p), nil
}

// fakeCache is a TTL-less in-memory cache that records every Invalidate
// call so tests can assert on the invalidation contract.
type fakeCache struct {
	mu          sync.Mutex
	data        map[string]string
	invalidated []string
	getErr      error
	setErr      error
	invErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invErr != nil {
		return c.invErr
	}
	delete(c.data, key)
	c.invalidated = append(c.invalidated, key)
	return nil
}

// eventRecorder captures published security events.
type eventRecorder struct {
	mu     sync.Mutex
	events []queue.SecurityEvent
}

func (r *eventRecorder) publish(_ context.Context, e queue.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) byType(t string) []queue.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []queue.SecurityEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeRBACStore implements the full role/permission graph in memory.
type fakeRBACStore struct {
	mu         sync.Mutex
	nextID     uint64
	roles      map[uint64]*model.Role
	perms      map[uint64]*model.Permission
	rolePerms  map[uint64]map[uint64]bool // roleID -> permissionID
	userRoles  map[uint64]map[uint64]bool // userID -> roleID
	clientPerm map[string]map[string]bool // clientID -> permission name
}

func newFakeRBACStore() *fakeRBACStore {
	return &fakeRBACStore{
		roles:      map[uint64]*model.Role{},
		perms:      map[uint64]*model.Permission{},
		rolePerms:  map[uint64]map[uint64]bool{},
		userRoles:  map[uint64]map[uint64]bool{},
		clientPerm: map[string]map[string]bool{},
	}
}

func (s *fakeRBACStore) UserPermissions(_ context.Context, userID uint64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			if p, ok := s.perms[permID]; ok && !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p.Name)
			}
		}
	}
	return out, nil
}

func (s *fakeRBACStore) UserHasPermission(ctx context.Context, userID uint64, permission string) (bool, error) {
	perms, _ := s.UserPermissions(ctx, userID)
	for _, p := range perms {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeRBACStore) ClientHasPermission(_ context.Context, clientID, permission string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientPerm[clientID][permission], nil
}

func (s *fakeRBACStore) UserIDsForRole(_ context.Context, roleID uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for userID, roles := range s.userRoles {
		if roles[roleID] {
			out = append(out, userID)
		}
	}
	return out, nil
}

func (s *fakeRBACStore) CreateRole(_ context.Context, role *model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return repository.ErrDuplicate
		}
	}
	s.nextID++
	role.ID = s.nextID
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *fakeRBACStore) CreatePermission(_ context.Context, p *model.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.perms {
		if existing.Name == p.Name {
			return repository.ErrDuplicate
		}
	}
	s.nextID++
	p.ID = s.nextID
	cp := *p
	s.perms[p.ID] = &cp
	return nil
}

func (s *fakeRBACStore) AssignRoleToUser(_ context.Context, userID, roleID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	if s.userRoles[userID][roleID] {
		return repository.ErrDuplicate
	}
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = map[uint64]bool{}
	}
	s.userRoles[userID][roleID] = true
	return nil
}

func (s *fakeRBACStore) RemoveRoleFromUser(_ context.Context, userID, roleID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.userRoles[userID][roleID] {
		return repository.ErrNotFound
	}
	delete(s.userRoles[userID], roleID)
	return nil
}

func (s *fakeRBACStore) AssignPermissionToRole(_ context.Context, roleID, permissionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := s.perms[permissionID]; !ok {
		return repository.ErrNotFound
	}
	if s.rolePerms[roleID][permissionID] {
		return repository.ErrDuplicate
	}
	if s.rolePerms[roleID] == nil {
		s.rolePerms[roleID] = map[uint64]bool{}
	}
	s.rolePerms[roleID][permissionID] = true
	return nil
}

func (s *fakeRBACStore) RemovePermissionFromRole(_ context.Context, roleID, permissionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rolePerms[roleID][permissionID] {
		return repository.ErrNotFound
	}
	delete(s.rolePerms[roleID], permissionID)
	return nil
}

func (s *fakeRBACStore) DeleteRole(_ context.Context, roleID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.roles, roleID)
	delete(s.rolePerms, roleID)
	for _, roles := range s.userRoles {
		delete(roles, roleID)
	}
	return nil
}
