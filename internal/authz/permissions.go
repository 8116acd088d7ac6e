package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promanage.org/internal/obs"
	"promanage.org/internal/stream"
)

// PermissionInput carries the writable fields of a permission.
type PermissionInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    int64  `json:"parent_id"`
	SortOrder   int    `json:"sort_order"`
	Status      Status `json:"status"`
}

// PermissionService owns permission rows: it is the only writer path for
// them. Structural checks (uniqueness, parent resolution, cycle-freedom,
// leaf-first deletion) run before any mutation is applied.
type PermissionService struct {
	store    Store
	cache    Cache
	resolver *Resolver
	events   *stream.Stream
	now      func() time.Time
}

// PermissionOption customises a PermissionService.
type PermissionOption func(*PermissionService)

// WithPermissionEvents publishes a change event after every mutation.
func WithPermissionEvents(s *stream.Stream) PermissionOption {
	return func(svc *PermissionService) { svc.events = s }
}

// WithPermissionClock overrides the time source.
func WithPermissionClock(now func() time.Time) PermissionOption {
	return func(svc *PermissionService) { svc.now = now }
}

// NewPermissionService wires the service. The resolver supplies the tenant
// guard predicates; cache may be NopCache.
func NewPermissionService(store Store, cache Cache, resolver *Resolver, opts ...PermissionOption) *PermissionService {
	svc := &PermissionService{
		store:    store,
		cache:    cache,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create inserts a permission into the tenant identified by orgID.
func (s *PermissionService) Create(ctx context.Context, actorID, orgID int64, in PermissionInput) (Permission, error) {
	if err := s.ensureCanManage(ctx, actorID, orgID); err != nil {
		return Permission{}, err
	}
	if err := s.validateInput(ctx, orgID, 0, &in); err != nil {
		return Permission{}, err
	}

	inUse, err := s.store.PermissionCodeInUse(ctx, orgID, in.Code, 0)
	if err != nil {
		return Permission{}, err
	}
	if inUse {
		return Permission{}, fmt.Errorf("%w: permission code %q already exists", ErrConflict, in.Code)
	}

	now := s.now()
	perm := Permission{
		OrganizationID: orgID,
		ParentID:       in.ParentID,
		Code:           in.Code,
		Name:           in.Name,
		Description:    in.Description,
		SortOrder:      in.SortOrder,
		Status:         in.Status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreatePermission(ctx, &perm); err != nil {
		return Permission{}, err
	}

	s.afterMutation(ctx, orgID, perm.ID, "create")
	return perm, nil
}

// Update rewrites the writable fields of an existing permission. Reparenting
// is rejected when it would close a cycle.
func (s *PermissionService) Update(ctx context.Context, actorID, orgID, id int64, in PermissionInput) (Permission, error) {
	if err := s.ensureCanManage(ctx, actorID, orgID); err != nil {
		return Permission{}, err
	}
	existing, err := s.store.FindPermission(ctx, orgID, id)
	if err != nil {
		return Permission{}, err
	}
	if err := s.validateInput(ctx, orgID, id, &in); err != nil {
		return Permission{}, err
	}
	if in.ParentID != existing.ParentID && in.ParentID != RootParent {
		if err := ensureNoCycle(ctx, s.store, orgID, id, in.ParentID); err != nil {
			return Permission{}, err
		}
	}

	inUse, err := s.store.PermissionCodeInUse(ctx, orgID, in.Code, id)
	if err != nil {
		return Permission{}, err
	}
	if inUse {
		return Permission{}, fmt.Errorf("%w: permission code %q already exists", ErrConflict, in.Code)
	}

	existing.Code = in.Code
	existing.Name = in.Name
	existing.Description = in.Description
	existing.ParentID = in.ParentID
	existing.SortOrder = in.SortOrder
	existing.Status = in.Status
	existing.UpdatedAt = s.now()
	if err := s.store.UpdatePermission(ctx, &existing); err != nil {
		return Permission{}, err
	}

	s.afterMutation(ctx, orgID, id, "update")
	return existing, nil
}

// Delete soft-deletes a permission. Deletion is leaf-first: a node with
// non-deleted children is rejected.
func (s *PermissionService) Delete(ctx context.Context, actorID, orgID, id int64) error {
	if err := s.ensureCanManage(ctx, actorID, orgID); err != nil {
		return err
	}
	if _, err := s.store.FindPermission(ctx, orgID, id); err != nil {
		return err
	}
	hasChildren, err := s.store.HasActiveChildren(ctx, orgID, id)
	if err != nil {
		return err
	}
	if hasChildren {
		return fmt.Errorf("%w: permission has active children, delete them first", ErrConflict)
	}
	if err := s.store.MarkPermissionDeleted(ctx, orgID, id); err != nil {
		return err
	}

	s.afterMutation(ctx, orgID, id, "delete")
	return nil
}

// Get loads one non-deleted permission from the tenant.
func (s *PermissionService) Get(ctx context.Context, actorID, orgID, id int64) (Permission, error) {
	if err := s.ensureCanView(ctx, actorID, orgID); err != nil {
		return Permission{}, err
	}
	return s.store.FindPermission(ctx, orgID, id)
}

// List returns the tenant's non-deleted permissions as a flat slice.
func (s *PermissionService) List(ctx context.Context, actorID, orgID int64) ([]Permission, error) {
	if err := s.ensureCanView(ctx, actorID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListPermissions(ctx, orgID)
}

// Tree returns the tenant's permission forest.
func (s *PermissionService) Tree(ctx context.Context, actorID, orgID int64) ([]*PermissionNode, error) {
	perms, err := s.List(ctx, actorID, orgID)
	if err != nil {
		return nil, err
	}
	return BuildForest(perms), nil
}

func (s *PermissionService) validateInput(ctx context.Context, orgID, id int64, in *PermissionInput) error {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Status != StatusEnabled && in.Status != StatusDisabled {
		return fmt.Errorf("%w: invalid status", ErrInvalidInput)
	}
	if in.ParentID < 0 {
		return fmt.Errorf("%w: parent_id must be >= 0", ErrInvalidInput)
	}
	if id != 0 && in.ParentID == id {
		return fmt.Errorf("%w: permission cannot be its own parent", ErrInvalidInput)
	}
	if in.ParentID != RootParent {
		if _, err := s.store.FindPermission(ctx, orgID, in.ParentID); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: parent_id does not reference an existing permission", ErrInvalidInput)
			}
			return err
		}
	}
	return nil
}

func (s *PermissionService) ensureCanManage(ctx context.Context, actorID, orgID int64) error {
	return s.resolver.EnsureTenantAdmin(ctx, actorID, orgID)
}

func (s *PermissionService) ensureCanView(ctx context.Context, actorID, orgID int64) error {
	return s.resolver.EnsureTenantMember(ctx, actorID, orgID)
}

// afterMutation runs the shared post-write hook: global cache eviction plus
// change-event publication. Eviction failures are logged, not returned; the
// cache TTL bounds the resulting staleness.
func (s *PermissionService) afterMutation(ctx context.Context, orgID, id int64, action string) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    s.now().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "permission cache eviction failed",
			"error": err.Error(),
		})
	}
	obs.PermissionMutations.WithLabelValues(action).Inc()
	if s.events != nil {
		s.events.Publish(stream.ChangeEvent{
			Kind:           stream.KindPermission,
			Action:         action,
			OrganizationID: orgID,
			EntityID:       id,
			Timestamp:      s.now(),
		})
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
