// Package authztest provides an in-memory authz.Store for tests.
package authztest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"promanage.org/internal/authz"
)

// Store is a thread-safe in-memory implementation of authz.Store. The
// zero value is not usable; call NewStore.
type Store struct {
	mu sync.Mutex

	nextID      int64
	users       map[int64]authz.User
	roles       map[int64]authz.Role
	permissions map[int64]authz.Permission
	rolePerms   map[int64][]int64
	userRoles   map[int64][]int64
	orgMembers  map[string]string // "org/user" -> member role
	orgStatus   map[string]int
	projMembers map[string]string
	projStatus  map[string]int
	resources   map[string]resource
}

type resource struct {
	projectID int64
	deleted   bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[int64]authz.User),
		roles:       make(map[int64]authz.Role),
		permissions: make(map[int64]authz.Permission),
		rolePerms:   make(map[int64][]int64),
		userRoles:   make(map[int64][]int64),
		orgMembers:  make(map[string]string),
		orgStatus:   make(map[string]int),
		projMembers: make(map[string]string),
		projStatus:  make(map[string]int),
		resources:   make(map[string]resource),
	}
}

var _ authz.Store = (*Store)(nil)

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

func key2(a, b int64) string { return fmt.Sprintf("%d/%d", a, b) }

// --- seeding helpers ---

// AddUser inserts a user and returns it with an assigned id.
func (s *Store) AddUser(u authz.User) authz.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextIDLocked()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	s.users[u.ID] = u
	return u
}

// AddRole inserts a role and returns it with an assigned id.
func (s *Store) AddRole(r authz.Role) authz.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.nextIDLocked()
	}
	s.roles[r.ID] = r
	return r
}

// AddPermission inserts a permission row directly, bypassing service checks.
func (s *Store) AddPermission(p authz.Permission) authz.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextIDLocked()
	}
	s.permissions[p.ID] = p
	return p
}

// AddOrganizationMember records an active membership.
func (s *Store) AddOrganizationMember(orgID, userID int64, memberRole string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgMembers[key2(orgID, userID)] = memberRole
	s.orgStatus[key2(orgID, userID)] = 1
}

// AddProjectMember records an active membership.
func (s *Store) AddProjectMember(projectID, userID int64, memberRole string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projMembers[key2(projectID, userID)] = memberRole
	s.projStatus[key2(projectID, userID)] = 1
}

// AddResource registers a resource with its owning project.
func (s *Store) AddResource(kind authz.ResourceKind, id, projectID int64, deleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[fmt.Sprintf("%s/%d", kind, id)] = resource{projectID: projectID, deleted: deleted}
}

// --- authz.PermissionStore ---

func (s *Store) CreatePermission(_ context.Context, p *authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if !existing.Deleted && existing.OrganizationID == p.OrganizationID && existing.Code == p.Code {
			return fmt.Errorf("%w: duplicate code", authz.ErrConflict)
		}
	}
	p.ID = s.nextIDLocked()
	s.permissions[p.ID] = *p
	return nil
}

func (s *Store) UpdatePermission(_ context.Context, p *authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.permissions[p.ID]
	if !ok || existing.Deleted || existing.OrganizationID != p.OrganizationID {
		return fmt.Errorf("%w: permission %d", authz.ErrNotFound, p.ID)
	}
	s.permissions[p.ID] = *p
	return nil
}

func (s *Store) MarkPermissionDeleted(_ context.Context, orgID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok || p.Deleted || p.OrganizationID != orgID {
		return fmt.Errorf("%w: permission %d", authz.ErrNotFound, id)
	}
	p.Deleted = true
	s.permissions[id] = p
	return nil
}

func (s *Store) FindPermission(_ context.Context, orgID, id int64) (authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok || p.Deleted || p.OrganizationID != orgID {
		return authz.Permission{}, fmt.Errorf("%w: permission %d", authz.ErrNotFound, id)
	}
	return p, nil
}

func (s *Store) ListPermissions(_ context.Context, orgID int64) ([]authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []authz.Permission
	for _, p := range s.permissions {
		if !p.Deleted && p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListPermissionsByIDs(_ context.Context, orgID int64, ids []int64) ([]authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []authz.Permission
	for _, id := range ids {
		if p, ok := s.permissions[id]; ok && !p.Deleted && p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) PermissionCodeInUse(_ context.Context, orgID int64, code string, excludeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if !p.Deleted && p.OrganizationID == orgID && p.Code == code && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasActiveChildren(_ context.Context, orgID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if !p.Deleted && p.OrganizationID == orgID && p.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

// --- authz.RoleStore ---

func (s *Store) FindRole(_ context.Context, id int64) (authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok || r.Deleted {
		return authz.Role{}, fmt.Errorf("%w: role %d", authz.ErrNotFound, id)
	}
	return r, nil
}

func (s *Store) ListRoles(_ context.Context, orgID int64) ([]authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []authz.Role
	for _, r := range s.roles {
		if !r.Deleted && r.OrganizationID == orgID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (s *Store) RolePermissions(_ context.Context, roleID int64) ([]authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissionsForLocked(s.rolePerms[roleID]), nil
}

func (s *Store) ReplaceUserRoles(_ context.Context, userID int64, roleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[userID] = append([]int64(nil), roleIDs...)
	return nil
}

func (s *Store) UserRoles(_ context.Context, userID int64) ([]authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []authz.Role
	for _, id := range s.userRoles[userID] {
		if r, ok := s.roles[id]; ok && !r.Deleted {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) UserPermissions(_ context.Context, userID int64) ([]authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, roleID := range s.userRoles[userID] {
		if r, ok := s.roles[roleID]; !ok || r.Deleted {
			continue
		}
		for _, pid := range s.rolePerms[roleID] {
			if _, ok := seen[pid]; ok {
				continue
			}
			seen[pid] = struct{}{}
			ids = append(ids, pid)
		}
	}
	return s.permissionsForLocked(ids), nil
}

func (s *Store) permissionsForLocked(ids []int64) []authz.Permission {
	var out []authz.Permission
	for _, id := range ids {
		if p, ok := s.permissions[id]; ok && !p.Deleted && p.Status == authz.StatusEnabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- authz.UserStore ---

func (s *Store) FindUser(_ context.Context, id int64) (authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return authz.User{}, fmt.Errorf("%w: user %d", authz.ErrNotFound, id)
	}
	return u, nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if !u.Deleted && u.Username == username {
			return u, nil
		}
	}
	return authz.User{}, fmt.Errorf("%w: user %s", authz.ErrNotFound, username)
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if !u.Deleted && u.Email == email {
			return u, nil
		}
	}
	return authz.User{}, fmt.Errorf("%w: user %s", authz.ErrNotFound, email)
}

func (s *Store) CreateUser(_ context.Context, u *authz.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Deleted {
			continue
		}
		if existing.Username == u.Username || existing.Email == u.Email {
			return fmt.Errorf("%w: duplicate identity", authz.ErrConflict)
		}
	}
	u.ID = s.nextIDLocked()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, userID int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.Deleted {
		return fmt.Errorf("%w: user %d", authz.ErrNotFound, userID)
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

func (s *Store) TouchLastLogin(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.Deleted {
		return fmt.Errorf("%w: user %d", authz.ErrNotFound, userID)
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	s.users[userID] = u
	return nil
}

// --- authz.MembershipStore ---

func (s *Store) IsOrganizationMember(_ context.Context, userID, orgID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orgMembers[key2(orgID, userID)]
	return ok && s.orgStatus[key2(orgID, userID)] == 1, nil
}

func (s *Store) IsOrganizationAdmin(_ context.Context, userID, orgID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.orgMembers[key2(orgID, userID)]
	return ok && role == "admin" && s.orgStatus[key2(orgID, userID)] == 1, nil
}

func (s *Store) IsProjectMember(_ context.Context, userID, projectID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.projMembers[key2(projectID, userID)]
	return ok && s.projStatus[key2(projectID, userID)] == 1, nil
}

func (s *Store) IsProjectAdmin(_ context.Context, userID, projectID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.projMembers[key2(projectID, userID)]
	return ok && role == "admin" && s.projStatus[key2(projectID, userID)] == 1, nil
}

// --- authz.ResourceStore ---

func (s *Store) ProjectForResource(_ context.Context, kind authz.ResourceKind, resourceID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[fmt.Sprintf("%s/%d", kind, resourceID)]
	if !ok || res.deleted {
		return 0, fmt.Errorf("%w: %s %d", authz.ErrNotFound, kind, resourceID)
	}
	return res.projectID, nil
}
