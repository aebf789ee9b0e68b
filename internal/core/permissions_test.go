package core

import (
	"context"
	"sync/atomic"
	"testing"

	"kincore/internal/infra/persistence/memory"
	"kincore/pkg/domain"
)

// countingTreeRepo wraps a repository and counts FindByID calls so tests can
// assert on cache behavior.
type countingTreeRepo struct {
	domain.TreeRepository
	calls atomic.Int64
}

func (r *countingTreeRepo) FindByID(ctx context.Context, id string) (*domain.Tree, error) {
	r.calls.Add(1)
	return r.TreeRepository.FindByID(ctx, id)
}

func seedTree(t *testing.T, store *memory.Store) domain.Tree {
	t.Helper()
	tree, err := store.PutTree(context.Background(), domain.Tree{
		Base:    domain.Base{ID: "t1"},
		Name:    "family",
		OwnerID: "owner",
		Collaborators: []domain.Collaborator{
			{UserID: "editor", Role: domain.RoleEditor},
			{UserID: "viewer", Role: domain.RoleViewer},
		},
	})
	if err != nil {
		t.Fatalf("seed tree: %v", err)
	}
	return tree
}

func TestCanAccessOwnerAlwaysWins(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	svc, err := NewPermissionService(store.Repositories().Trees)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	for _, action := range domain.AllActions() {
		if !svc.CanAccess(ctx, "owner", tree.ID, action) {
			t.Errorf("owner denied %s", action)
		}
	}
}

func TestCanAccessRoles(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	svc, err := NewPermissionService(store.Repositories().Trees)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if !svc.CanAccess(ctx, "editor", tree.ID, domain.ActionAddRelationship) {
		t.Errorf("editor denied add_relationship")
	}
	if svc.CanAccess(ctx, "editor", tree.ID, domain.ActionDeleteTree) {
		t.Errorf("editor allowed delete_tree")
	}
	if !svc.CanAccess(ctx, "viewer", tree.ID, domain.ActionViewTree) {
		t.Errorf("viewer denied view_tree")
	}
	if svc.CanAccess(ctx, "viewer", tree.ID, domain.ActionEditPerson) {
		t.Errorf("viewer allowed edit_person")
	}
	if svc.CanAccess(ctx, "stranger", tree.ID, domain.ActionViewTree) {
		t.Errorf("stranger allowed view_tree on private tree")
	}
}

func TestCanAccessPublicTree(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	tree.Settings.IsPublic = true
	if _, err := store.PutTree(context.Background(), tree); err != nil {
		t.Fatalf("update tree: %v", err)
	}
	svc, err := NewPermissionService(store.Repositories().Trees)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	if !svc.CanAccess(ctx, "stranger", tree.ID, domain.ActionViewTree) {
		t.Fatalf("stranger denied view on public tree")
	}
	if svc.CanAccess(ctx, "stranger", tree.ID, domain.ActionEditTree) {
		t.Fatalf("stranger allowed edit on public tree")
	}
	// Viewer collaborators gain nothing beyond view even on public trees.
	if svc.CanAccess(ctx, "viewer", tree.ID, domain.ActionAddPerson) {
		t.Fatalf("viewer allowed add_person on public tree")
	}
}

func TestPermissionCacheSingleLoad(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	repo := &countingTreeRepo{TreeRepository: store.Repositories().Trees}
	svc, err := NewPermissionService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	for _, action := range domain.AllActions() {
		svc.CanAccess(ctx, "editor", tree.ID, action)
	}
	if got := repo.calls.Load(); got != 1 {
		t.Fatalf("expected a single repository load for a cached pair, got %d", got)
	}

	// A different user is a different cache key.
	svc.CanAccess(ctx, "viewer", tree.ID, domain.ActionViewTree)
	if got := repo.calls.Load(); got != 2 {
		t.Fatalf("expected second load for second user, got %d", got)
	}

	svc.Invalidate()
	svc.CanAccess(ctx, "editor", tree.ID, domain.ActionViewTree)
	if got := repo.calls.Load(); got != 3 {
		t.Fatalf("expected reload after invalidation, got %d", got)
	}
}

func TestInvalidateUser(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	repo := &countingTreeRepo{TreeRepository: store.Repositories().Trees}
	svc, err := NewPermissionService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	svc.CanAccess(ctx, "editor", tree.ID, domain.ActionViewTree)
	svc.CanAccess(ctx, "viewer", tree.ID, domain.ActionViewTree)
	before := repo.calls.Load()

	svc.InvalidateUser("editor")
	svc.CanAccess(ctx, "viewer", tree.ID, domain.ActionViewTree)
	if repo.calls.Load() != before {
		t.Fatalf("viewer entry should survive editor invalidation")
	}
	svc.CanAccess(ctx, "editor", tree.ID, domain.ActionViewTree)
	if repo.calls.Load() != before+1 {
		t.Fatalf("editor entry should reload after invalidation")
	}
}

func TestMissingTreeDenies(t *testing.T) {
	store := memory.NewStore()
	repo := &countingTreeRepo{TreeRepository: store.Repositories().Trees}
	svc, err := NewPermissionService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if svc.CanAccess(ctx, "anyone", "ghost", domain.ActionViewTree) {
		t.Fatalf("missing tree should deny")
	}
	perms, err := svc.GetPermissions(ctx, "anyone", "ghost")
	if err != nil {
		t.Fatalf("get permissions: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("missing tree should yield an empty permission set, got %v", perms)
	}

	// Absence is not cached: a later lookup hits the repository again.
	svc.CanAccess(ctx, "anyone", "ghost", domain.ActionViewTree)
	if repo.calls.Load() < 3 {
		t.Fatalf("expected repeated loads for missing tree, got %d", repo.calls.Load())
	}
}

func TestGetPermissionsOrder(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	svc, err := NewPermissionService(store.Repositories().Trees)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	perms, err := svc.GetPermissions(context.Background(), "owner", tree.ID)
	if err != nil {
		t.Fatalf("get permissions: %v", err)
	}
	all := domain.AllActions()
	if len(perms) != len(all) {
		t.Fatalf("owner should hold every action, got %d", len(perms))
	}
	for i, action := range all {
		if perms[i] != action {
			t.Fatalf("permissions out of stable order at %d: %s != %s", i, perms[i], action)
		}
	}
}

func TestHasMinimumRole(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	svc, err := NewPermissionService(store.Repositories().Trees)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		user string
		min  domain.Role
		want bool
	}{
		{"owner", domain.RoleOwner, true},
		{"owner", domain.RoleViewer, true},
		{"editor", domain.RoleEditor, true},
		{"editor", domain.RoleOwner, false},
		{"viewer", domain.RoleEditor, false},
		{"stranger", domain.RoleViewer, false},
	}
	for _, tc := range cases {
		if got := svc.HasMinimumRole(ctx, tc.user, tree.ID, tc.min); got != tc.want {
			t.Errorf("HasMinimumRole(%s, %s) = %v, want %v", tc.user, tc.min, got, tc.want)
		}
	}
	if svc.HasMinimumRole(ctx, "owner", tree.ID, domain.Role("gibberish")) {
		t.Errorf("invalid minimum role should never pass")
	}
}

type recordingStats struct {
	hits, misses atomic.Int64
}

func (s *recordingStats) Hit()  { s.hits.Add(1) }
func (s *recordingStats) Miss() { s.misses.Add(1) }

func TestCacheStats(t *testing.T) {
	store := memory.NewStore()
	tree := seedTree(t, store)
	stats := &recordingStats{}
	svc, err := NewPermissionService(store.Repositories().Trees, WithCacheStats(stats))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	svc.CanAccess(ctx, "editor", tree.ID, domain.ActionViewTree)
	svc.CanAccess(ctx, "editor", tree.ID, domain.ActionEditTree)
	if stats.misses.Load() != 1 || stats.hits.Load() != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got %d/%d", stats.misses.Load(), stats.hits.Load())
	}
}
