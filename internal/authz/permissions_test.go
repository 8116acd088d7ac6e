package authz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"promanage.org/internal/authz"
	"promanage.org/internal/authz/authztest"
)

// memCache records operations so tests can assert eviction behaviour.
type memCache struct {
	mu          sync.Mutex
	entries     map[string][]string
	invalidates int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]string)}
}

func (c *memCache) Get(_ context.Context, key string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	values, ok := c.entries[key]
	return values, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, values []string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]string(nil), values...)
	return nil
}

func (c *memCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]string)
	c.invalidates++
	return nil
}

func (c *memCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fixture wires the three services over the in-memory store with one
// super-admin actor and one organization admin for tenant 5.
type fixture struct {
	store    *authztest.Store
	cache    *memCache
	resolver *authz.Resolver
	perms    *authz.PermissionService
	roles    *authz.RoleService

	root     authz.User // holds SUPER_ADMIN
	orgAdmin authz.User // admin of organization 5
	member   authz.User // plain member of organization 5
}

const testOrg int64 = 5

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := authztest.NewStore()
	cache := newMemCache()
	resolver := authz.NewResolver(store, cache)

	f := &fixture{
		store:    store,
		cache:    cache,
		resolver: resolver,
		perms:    authz.NewPermissionService(store, cache, resolver),
		roles:    authz.NewRoleService(store, cache, resolver),
	}

	f.root = store.AddUser(authz.User{Username: "root", Email: "root@example.com"})
	super := store.AddRole(authz.Role{OrganizationID: authz.SystemTenant, Code: "SUPER_ADMIN", Name: "Super Administrator"})
	if err := store.ReplaceUserRoles(context.Background(), f.root.ID, []int64{super.ID}); err != nil {
		t.Fatalf("seed super admin: %v", err)
	}

	f.orgAdmin = store.AddUser(authz.User{Username: "lead", Email: "lead@example.com"})
	store.AddOrganizationMember(testOrg, f.orgAdmin.ID, "admin")

	f.member = store.AddUser(authz.User{Username: "dev", Email: "dev@example.com"})
	store.AddOrganizationMember(testOrg, f.member.ID, "member")

	return f
}

func TestPermissionCreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{
		Code: "document", Name: "Documents",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("create did not assign an id")
	}

	got, err := f.perms.Get(ctx, f.member.ID, testOrg, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != "document" || got.OrganizationID != testOrg {
		t.Fatalf("got = %+v", got)
	}
}

func TestPermissionCreateDuplicateCodeConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := authz.PermissionInput{Code: "task", Name: "Tasks"}
	if _, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, in)
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestPermissionCodeReusableAcrossTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := authz.PermissionInput{Code: "task", Name: "Tasks"}
	if _, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, in); err != nil {
		t.Fatalf("tenant create: %v", err)
	}
	// Same code in the system tenant is a different namespace.
	if _, err := f.perms.Create(ctx, f.root.ID, authz.SystemTenant, in); err != nil {
		t.Fatalf("system-tenant create: %v", err)
	}
}

func TestPermissionCodeReusableAfterDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := authz.PermissionInput{Code: "task", Name: "Tasks"}
	created, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.perms.Delete(ctx, f.orgAdmin.ID, testOrg, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, in); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func TestPermissionCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   authz.PermissionInput
	}{
		{"missing code", authz.PermissionInput{Name: "Tasks"}},
		{"missing name", authz.PermissionInput{Code: "task"}},
		{"blank code", authz.PermissionInput{Code: "   ", Name: "Tasks"}},
		{"negative parent", authz.PermissionInput{Code: "task", Name: "Tasks", ParentID: -1}},
		{"absent parent", authz.PermissionInput{Code: "task", Name: "Tasks", ParentID: 999}},
		{"bad status", authz.PermissionInput{Code: "task", Name: "Tasks", Status: 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, tc.in)
			if !errors.Is(err, authz.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestPermissionUpdateRejectsCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "a", Name: "A"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	child, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "b", Name: "B", ParentID: parent.ID})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	grandchild, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "c", Name: "C", ParentID: child.ID})
	if err != nil {
		t.Fatalf("create c: %v", err)
	}

	// Reparenting the root under its own grandchild must fail.
	_, err = f.perms.Update(ctx, f.orgAdmin.ID, testOrg, parent.ID, authz.PermissionInput{
		Code: "a", Name: "A", ParentID: grandchild.ID,
	})
	if !errors.Is(err, authz.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	// Self-parenting likewise.
	_, err = f.perms.Update(ctx, f.orgAdmin.ID, testOrg, parent.ID, authz.PermissionInput{
		Code: "a", Name: "A", ParentID: parent.ID,
	})
	if !errors.Is(err, authz.ErrInvalidInput) {
		t.Fatalf("self parent err = %v, want ErrInvalidInput", err)
	}
}

func TestPermissionDeleteLeafFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "a", Name: "A"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	child, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "b", Name: "B", ParentID: parent.ID})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	if err := f.perms.Delete(ctx, f.orgAdmin.ID, testOrg, parent.ID); !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("delete parent err = %v, want ErrConflict", err)
	}
	if err := f.perms.Delete(ctx, f.orgAdmin.ID, testOrg, child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	if err := f.perms.Delete(ctx, f.orgAdmin.ID, testOrg, parent.ID); err != nil {
		t.Fatalf("delete parent after child: %v", err)
	}
	if _, err := f.perms.Get(ctx, f.orgAdmin.ID, testOrg, parent.ID); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("get deleted err = %v, want ErrNotFound", err)
	}
}

func TestPermissionTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "task", Name: "Tasks"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The row is invisible through another tenant's scope, even for an
	// elevated caller.
	if _, err := f.perms.Get(ctx, f.root.ID, authz.SystemTenant, created.ID); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("cross-tenant get err = %v, want ErrNotFound", err)
	}

	other, err := f.perms.List(ctx, f.root.ID, authz.SystemTenant)
	if err != nil {
		t.Fatalf("list system tenant: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("system tenant sees %d foreign permissions", len(other))
	}
}

func TestPermissionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A plain member cannot mutate.
	_, err := f.perms.Create(ctx, f.member.ID, testOrg, authz.PermissionInput{Code: "task", Name: "Tasks"})
	if !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("member create err = %v, want ErrForbidden", err)
	}

	// An org admin cannot write the system tenant.
	_, err = f.perms.Create(ctx, f.orgAdmin.ID, authz.SystemTenant, authz.PermissionInput{Code: "task", Name: "Tasks"})
	if !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("system tenant create err = %v, want ErrForbidden", err)
	}

	// A stranger cannot read tenant 5.
	stranger := f.store.AddUser(authz.User{Username: "eve", Email: "eve@example.com"})
	if _, err := f.perms.List(ctx, stranger.ID, testOrg); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("stranger list err = %v, want ErrForbidden", err)
	}

	// System-tenant reads are open to any authenticated caller.
	if _, err := f.perms.List(ctx, stranger.ID, authz.SystemTenant); err != nil {
		t.Fatalf("system tenant list: %v", err)
	}
}

func TestPermissionMutationEvictsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cache.Set(ctx, "user:1:permissions", []string{"stale"}, 0)
	before := f.cache.invalidates

	if _, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "task", Name: "Tasks"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.cache.invalidates != before+1 {
		t.Fatalf("invalidates = %d, want %d", f.cache.invalidates, before+1)
	}
	if f.cache.len() != 0 {
		t.Fatalf("cache still holds %d entries", f.cache.len())
	}
}

func TestPermissionTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "document", Name: "Documents", SortOrder: 1})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if _, err := f.perms.Create(ctx, f.orgAdmin.ID, testOrg, authz.PermissionInput{Code: "document:upload", Name: "Upload", ParentID: root.ID}); err != nil {
		t.Fatalf("create child: %v", err)
	}

	forest, err := f.perms.Tree(ctx, f.member.ID, testOrg)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(forest) != 1 || forest[0].Code != "document" {
		t.Fatalf("forest = %+v", forest)
	}
	if len(forest[0].Children) != 1 || forest[0].Children[0].Code != "document:upload" {
		t.Fatalf("children = %+v", forest[0].Children)
	}
}
