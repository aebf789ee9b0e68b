package core

import (
	"context"
	"fmt"

	"kincore/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPermissionCacheSize bounds the number of (user, tree) permission
// sets held in memory before least-recently-used eviction kicks in.
const DefaultPermissionCacheSize = 4096

type permissionKey struct {
	UserID string
	TreeID string
}

type permissionSet map[domain.Action]struct{}

// CacheStats receives permission cache hit/miss signals. Implementations must
// be safe for concurrent use.
type CacheStats interface {
	Hit()
	Miss()
}

type noopCacheStats struct{}

func (noopCacheStats) Hit()  {}
func (noopCacheStats) Miss() {}

// PermissionService answers (user, tree, action) authorization questions by
// evaluating the fixed strategy list and caching the resulting permission set
// per (user, tree) pair. It is safe for concurrent use.
type PermissionService struct {
	trees      domain.TreeRepository
	strategies []Strategy
	cache      *lru.Cache[permissionKey, permissionSet]
	stats      CacheStats
}

// PermissionOption customises PermissionService construction.
type PermissionOption func(*permissionConfig)

type permissionConfig struct {
	cacheSize int
	stats     CacheStats
}

// WithPermissionCacheSize overrides the cache capacity.
func WithPermissionCacheSize(size int) PermissionOption {
	return func(c *permissionConfig) { c.cacheSize = size }
}

// WithCacheStats wires a hit/miss recorder into the cache.
func WithCacheStats(stats CacheStats) PermissionOption {
	return func(c *permissionConfig) { c.stats = stats }
}

// NewPermissionService constructs the authorization engine over the supplied
// tree repository.
func NewPermissionService(trees domain.TreeRepository, opts ...PermissionOption) (*PermissionService, error) {
	if trees == nil {
		return nil, fmt.Errorf("tree repository required")
	}
	cfg := permissionConfig{cacheSize: DefaultPermissionCacheSize, stats: noopCacheStats{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	cache, err := lru.New[permissionKey, permissionSet](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("permission cache: %w", err)
	}
	return &PermissionService{
		trees:      trees,
		strategies: DefaultStrategies(),
		cache:      cache,
		stats:      cfg.stats,
	}, nil
}

// CanAccess reports whether userID may perform action on treeID. A missing
// tree yields false rather than an error: absence is modeled as "no access"
// so denials never leak whether the tree exists.
func (s *PermissionService) CanAccess(ctx context.Context, userID, treeID string, action domain.Action) bool {
	set, ok := s.resolve(ctx, userID, treeID)
	if !ok {
		return false
	}
	_, allowed := set[action]
	return allowed
}

// GetPermissions returns every action granted to userID on treeID in stable
// order. A missing tree yields an empty set, mirroring CanAccess.
func (s *PermissionService) GetPermissions(ctx context.Context, userID, treeID string) ([]domain.Action, error) {
	set, ok := s.resolve(ctx, userID, treeID)
	if !ok {
		return []domain.Action{}, nil
	}
	out := make([]domain.Action, 0, len(set))
	for _, action := range domain.AllActions() {
		if _, granted := set[action]; granted {
			out = append(out, action)
		}
	}
	return out, nil
}

// GetRolePermissions returns the static permission set for a role. No
// repository access is performed; this exists for UI introspection.
func (s *PermissionService) GetRolePermissions(role domain.Role) []domain.Action {
	return domain.RolePermissions(role)
}

// HasMinimumRole reports whether userID holds at least min on treeID. The
// owner ranks above any collaborator role.
func (s *PermissionService) HasMinimumRole(ctx context.Context, userID, treeID string, min domain.Role) bool {
	if !min.Valid() {
		return false
	}
	tree, err := s.trees.FindByID(ctx, treeID)
	if err != nil || tree == nil {
		return false
	}
	role, ok := s.resolveRole(userID, tree)
	if !ok {
		return false
	}
	return role.Ordinal() >= min.Ordinal()
}

// Invalidate clears the entire cache. The effect is immediate: the next
// CanAccess call for any pair re-evaluates the strategies.
func (s *PermissionService) Invalidate() {
	s.cache.Purge()
}

// InvalidateUser clears cached permission sets for every tree the user has
// touched. Callers must invoke this after any collaborator mutation.
func (s *PermissionService) InvalidateUser(userID string) {
	for _, key := range s.cache.Keys() {
		if key.UserID == userID {
			s.cache.Remove(key)
		}
	}
}

func (s *PermissionService) resolve(ctx context.Context, userID, treeID string) (permissionSet, bool) {
	key := permissionKey{UserID: userID, TreeID: treeID}
	if set, ok := s.cache.Get(key); ok {
		s.stats.Hit()
		return set, true
	}
	s.stats.Miss()

	tree, err := s.trees.FindByID(ctx, treeID)
	if err != nil || tree == nil {
		// Absence is not cached: the tree may appear later and no
		// collaborator mutation would invalidate a negative entry.
		return nil, false
	}

	set := s.compute(userID, tree)
	s.cache.Add(key, set)
	return set, true
}

// compute evaluates the strategy list per action. The first non-abstain
// verdict wins; when every strategy abstains the action is denied.
func (s *PermissionService) compute(userID string, tree *domain.Tree) permissionSet {
	set := make(permissionSet)
	for _, action := range domain.AllActions() {
		for _, strategy := range s.strategies {
			switch strategy.Evaluate(userID, tree, action) {
			case Allow:
				set[action] = struct{}{}
			case Deny:
			case Abstain:
				continue
			}
			break
		}
	}
	return set
}

func (s *PermissionService) resolveRole(userID string, tree *domain.Tree) (domain.Role, bool) {
	if tree.OwnerID == userID {
		return domain.RoleOwner, true
	}
	return tree.CollaboratorRole(userID)
}
