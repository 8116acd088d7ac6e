package authz

import "context"

// PermissionStore persists permission rows. Implementations enforce the
// per-tenant code uniqueness constraint and report violations as ErrConflict.
// Lookups never return soft-deleted rows.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	MarkPermissionDeleted(ctx context.Context, orgID, id int64) error
	FindPermission(ctx context.Context, orgID, id int64) (Permission, error)
	ListPermissions(ctx context.Context, orgID int64) ([]Permission, error)
	ListPermissionsByIDs(ctx context.Context, orgID int64, ids []int64) ([]Permission, error)
	PermissionCodeInUse(ctx context.Context, orgID int64, code string, excludeID int64) (bool, error)
	HasActiveChildren(ctx context.Context, orgID, id int64) (bool, error)
}

// RoleStore persists roles and both junction tables. The Replace* methods
// implement full-replace semantics: delete all pairs for the owner, insert
// the new set, all inside one transaction.
type RoleStore interface {
	FindRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, orgID int64) ([]Role, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserPermissions(ctx context.Context, userID int64) ([]Permission, error)
}

// UserStore persists user accounts. Identity lookups exclude soft-deleted
// rows; uniqueness violations on create surface as ErrConflict.
type UserStore interface {
	FindUser(ctx context.Context, id int64) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error
	TouchLastLogin(ctx context.Context, userID int64) error
}

// MembershipStore answers organization and project membership questions,
// filtered by active membership status.
type MembershipStore interface {
	IsOrganizationMember(ctx context.Context, userID, orgID int64) (bool, error)
	IsOrganizationAdmin(ctx context.Context, userID, orgID int64) (bool, error)
	IsProjectMember(ctx context.Context, userID, projectID int64) (bool, error)
	IsProjectAdmin(ctx context.Context, userID, projectID int64) (bool, error)
}

// ResourceStore resolves a resource to its owning project. Absent and
// soft-deleted resources yield ErrNotFound.
type ResourceStore interface {
	ProjectForResource(ctx context.Context, kind ResourceKind, resourceID int64) (int64, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	PermissionStore
	RoleStore
	UserStore
	MembershipStore
	ResourceStore
}
