package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"promanage.org/internal/obs"
	"promanage.org/internal/stream"
)

// Resolver owns user↔role assignment and answers the authorization
// questions the CRUD collaborators ask: effective permission codes,
// membership predicates, resource access checks. Expensive projections go
// through the cache; predicates never fail for a negative answer.
type Resolver struct {
	store  Store
	cache  Cache
	policy Policy
	events *stream.Stream
	ttl    time.Duration
	now    func() time.Time
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithPolicy overrides the elevated-role policy.
func WithPolicy(p Policy) ResolverOption {
	return func(r *Resolver) { r.policy = p }
}

// WithResolverEvents publishes a change event after every assignment.
func WithResolverEvents(s *stream.Stream) ResolverOption {
	return func(r *Resolver) { r.events = s }
}

// WithResolverCacheTTL overrides the projection cache TTL.
func WithResolverCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithResolverClock overrides the time source.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver wires the resolver. Cache may be NopCache.
func NewResolver(store Store, cache Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		cache:  cache,
		policy: DefaultPolicy(),
		ttl:    DefaultCacheTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AssignRoles replaces the user's role set with roles of the given tenant.
// The caller must administer the tenant and every role id must resolve within
// it; roles of other tenants are invisible here. An empty set is legal and
// clears the user's roles.
func (r *Resolver) AssignRoles(ctx context.Context, actorID, orgID, userID int64, roleIDs []int64) error {
	if err := r.EnsureTenantAdmin(ctx, actorID, orgID); err != nil {
		return err
	}
	user, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return err
	}

	ids := dedupeIDs(roleIDs)
	for _, roleID := range ids {
		role, err := r.store.FindRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.OrganizationID != orgID {
			return fmt.Errorf("%w: role not found in organization", ErrNotFound)
		}
	}

	if err := r.store.ReplaceUserRoles(ctx, user.ID, ids); err != nil {
		return err
	}
	r.afterMutation(ctx, stream.KindUserRole, user.ID, "replace")
	return nil
}

// EffectivePermissionCodes computes the union of permission codes over the
// user's roles, deduplicated. The result is cached per user; any write to
// permissions or either junction table evicts every entry.
func (r *Resolver) EffectivePermissionCodes(ctx context.Context, userID int64) ([]string, error) {
	key := userPermissionsKey(userID)
	if codes, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		obs.CacheHits.Inc()
		return codes, nil
	}
	obs.CacheMisses.Inc()

	perms, err := r.store.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes := dedupeCodes(perms)
	if err := r.cache.Set(ctx, key, codes, r.ttl); err != nil {
		r.logCacheError(err)
	}
	return codes, nil
}

// HasPermission reports whether the user's effective set contains code.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	codes, err := r.EffectivePermissionCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range codes {
		if c == code {
			return true, nil
		}
	}
	return false, nil
}

// RoleCodes returns the codes of the user's non-deleted roles.
func (r *Resolver) RoleCodes(ctx context.Context, userID int64) ([]string, error) {
	roles, err := r.store.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(roles))
	for _, role := range roles {
		codes = append(codes, role.Code)
	}
	return codes, nil
}

// IsSuperAdmin reports whether any of the user's role codes is elevated.
func (r *Resolver) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	codes, err := r.RoleCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	return r.policy.Elevated(codes), nil
}

// IsOrganizationMember reports active membership; super-admins short-circuit.
func (r *Resolver) IsOrganizationMember(ctx context.Context, userID, orgID int64) (bool, error) {
	if elevated, err := r.IsSuperAdmin(ctx, userID); err != nil || elevated {
		return elevated, err
	}
	return r.store.IsOrganizationMember(ctx, userID, orgID)
}

// IsOrganizationAdmin reports active admin membership; super-admins
// short-circuit.
func (r *Resolver) IsOrganizationAdmin(ctx context.Context, userID, orgID int64) (bool, error) {
	if elevated, err := r.IsSuperAdmin(ctx, userID); err != nil || elevated {
		return elevated, err
	}
	return r.store.IsOrganizationAdmin(ctx, userID, orgID)
}

// IsProjectMember reports active project membership; super-admins
// short-circuit.
func (r *Resolver) IsProjectMember(ctx context.Context, userID, projectID int64) (bool, error) {
	if elevated, err := r.IsSuperAdmin(ctx, userID); err != nil || elevated {
		return elevated, err
	}
	return r.store.IsProjectMember(ctx, userID, projectID)
}

// IsProjectAdmin reports active project admin membership; super-admins
// short-circuit.
func (r *Resolver) IsProjectAdmin(ctx context.Context, userID, projectID int64) (bool, error) {
	if elevated, err := r.IsSuperAdmin(ctx, userID); err != nil || elevated {
		return elevated, err
	}
	return r.store.IsProjectAdmin(ctx, userID, projectID)
}

// CanAccessResource resolves the resource to its owning project and checks
// project membership there. Absent and soft-deleted resources answer false.
func (r *Resolver) CanAccessResource(ctx context.Context, userID int64, kind ResourceKind, resourceID int64) (bool, error) {
	projectID, err := r.store.ProjectForResource(ctx, kind, resourceID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.IsProjectMember(ctx, userID, projectID)
}

// EnsureTenantAdmin fails with ErrForbidden unless the actor administers the
// tenant. The system tenant is managed by elevated roles only.
func (r *Resolver) EnsureTenantAdmin(ctx context.Context, actorID, orgID int64) error {
	elevated, err := r.IsSuperAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if elevated {
		return nil
	}
	if orgID == SystemTenant {
		return fmt.Errorf("%w: system tenant is managed by elevated roles only", ErrForbidden)
	}
	admin, err := r.store.IsOrganizationAdmin(ctx, actorID, orgID)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: organization admin role required", ErrForbidden)
	}
	return nil
}

// EnsureTenantMember fails with ErrForbidden unless the actor belongs to the
// tenant. System-tenant reads are open to any authenticated caller.
func (r *Resolver) EnsureTenantMember(ctx context.Context, actorID, orgID int64) error {
	if orgID == SystemTenant {
		return nil
	}
	member, err := r.IsOrganizationMember(ctx, actorID, orgID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: organization membership required", ErrForbidden)
	}
	return nil
}

func (r *Resolver) afterMutation(ctx context.Context, kind stream.ChangeKind, entityID int64, action string) {
	if err := r.cache.InvalidateAll(ctx); err != nil {
		r.logCacheError(err)
	}
	if r.events != nil {
		r.events.Publish(stream.ChangeEvent{
			Kind:      kind,
			Action:    action,
			EntityID:  entityID,
			Timestamp: r.now(),
		})
	}
}

func (r *Resolver) logCacheError(err error) {
	obs.LogRequest(map[string]any{
		"ts":    r.now().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   "permission cache access failed",
		"error": err.Error(),
	})
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupeCodes(perms []Permission) []string {
	seen := make(map[string]struct{}, len(perms))
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.Code]; ok {
			continue
		}
		seen[p.Code] = struct{}{}
		codes = append(codes, p.Code)
	}
	sort.Strings(codes)
	return codes
}
