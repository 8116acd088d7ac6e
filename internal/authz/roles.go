package authz

import (
	"context"
	"fmt"
	"time"

	"promanage.org/internal/stream"
)

// RoleService owns the role↔permission junction. Assignment is full
// replace: the role's existing pairs are deleted and the new set inserted in
// one transaction, so no partial state is ever observable.
type RoleService struct {
	store    Store
	cache    Cache
	resolver *Resolver
	events   *stream.Stream
	ttl      time.Duration
	now      func() time.Time
}

// RoleOption customises a RoleService.
type RoleOption func(*RoleService)

// WithRoleEvents publishes a change event after every assignment.
func WithRoleEvents(s *stream.Stream) RoleOption {
	return func(svc *RoleService) { svc.events = s }
}

// WithRoleClock overrides the time source.
func WithRoleClock(now func() time.Time) RoleOption {
	return func(svc *RoleService) { svc.now = now }
}

// NewRoleService wires the service.
func NewRoleService(store Store, cache Cache, resolver *Resolver, opts ...RoleOption) *RoleService {
	svc := &RoleService{
		store:    store,
		cache:    cache,
		resolver: resolver,
		ttl:      DefaultCacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// AssignPermissions replaces the role's permission set. The role must belong
// to the tenant and every permission id must resolve within it. An empty set
// is legal and clears the role's permissions.
func (s *RoleService) AssignPermissions(ctx context.Context, actorID, orgID, roleID int64, permissionIDs []int64) error {
	if err := s.resolver.EnsureTenantAdmin(ctx, actorID, orgID); err != nil {
		return err
	}
	role, err := s.roleInTenant(ctx, orgID, roleID)
	if err != nil {
		return err
	}

	ids := dedupeIDs(permissionIDs)
	if len(ids) > 0 {
		perms, err := s.store.ListPermissionsByIDs(ctx, orgID, ids)
		if err != nil {
			return err
		}
		if len(perms) != len(ids) {
			return fmt.Errorf("%w: permission ids must exist in the organization", ErrInvalidInput)
		}
	}

	if err := s.store.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
		return err
	}
	s.afterMutation(ctx, role.ID, "replace")
	return nil
}

// Permissions returns the role's permission rows.
func (s *RoleService) Permissions(ctx context.Context, actorID, orgID, roleID int64) ([]Permission, error) {
	if err := s.resolver.EnsureTenantMember(ctx, actorID, orgID); err != nil {
		return nil, err
	}
	role, err := s.roleInTenant(ctx, orgID, roleID)
	if err != nil {
		return nil, err
	}
	return s.store.RolePermissions(ctx, role.ID)
}

// PermissionIDs returns the role's permission ids.
func (s *RoleService) PermissionIDs(ctx context.Context, actorID, orgID, roleID int64) ([]int64, error) {
	perms, err := s.Permissions(ctx, actorID, orgID, roleID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// PermissionCodes returns the role's permission codes. This projection is
// cached; the shared eviction hook keeps it coherent with assignments.
func (s *RoleService) PermissionCodes(ctx context.Context, roleID int64) ([]string, error) {
	key := rolePermissionsKey(roleID)
	if codes, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return codes, nil
	}
	perms, err := s.store.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	codes := dedupeCodes(perms)
	if err := s.cache.Set(ctx, key, codes, s.ttl); err != nil {
		s.resolver.logCacheError(err)
	}
	return codes, nil
}

// Roles lists the tenant's non-deleted roles.
func (s *RoleService) Roles(ctx context.Context, actorID, orgID int64) ([]Role, error) {
	if err := s.resolver.EnsureTenantMember(ctx, actorID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListRoles(ctx, orgID)
}

// roleInTenant loads a role and hides its existence from other tenants.
func (s *RoleService) roleInTenant(ctx context.Context, orgID, roleID int64) (Role, error) {
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.OrganizationID != orgID {
		return Role{}, fmt.Errorf("%w: role not found in organization", ErrNotFound)
	}
	return role, nil
}

func (s *RoleService) afterMutation(ctx context.Context, roleID int64, action string) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.resolver.logCacheError(err)
	}
	if s.events != nil {
		s.events.Publish(stream.ChangeEvent{
			Kind:      stream.KindRolePermission,
			Action:    action,
			EntityID:  roleID,
			Timestamp: s.now(),
		})
	}
}
