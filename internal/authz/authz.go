// Package authz implements the permission and role model: tenant-scoped
// permission records with a parent-pointer hierarchy, role↔permission and
// user↔role assignment with full-replace semantics, and effective-permission
// resolution with an invalidation-aware cache.
package authz

import "time"

// SystemTenant is the organization id of the shared tenant. Permissions and
// roles in the system tenant are writable only by elevated callers. Stored as
// NULL in the database; 0 in memory.
const SystemTenant int64 = 0

// RootParent marks a permission with no parent.
const RootParent int64 = 0

// Status of a permission or user account.
type Status int

const (
	StatusEnabled  Status = 0
	StatusDisabled Status = 1
)

// Permission is one node of a tenant's permission hierarchy. Code is unique
// among non-deleted permissions of the same tenant. ParentID references
// another non-deleted permission of the same tenant, or RootParent.
type Permission struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	ParentID       int64     `json:"parent_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	SortOrder      int       `json:"sort_order"`
	Status         Status    `json:"status"`
	Deleted        bool      `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PermissionNode is a permission with its resolved children, as produced by
// BuildForest.
type PermissionNode struct {
	Permission
	Children []*PermissionNode `json:"children,omitempty"`
}

// Role aggregates permissions within a tenant.
type Role struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Deleted        bool      `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// User is the account record the engine authorizes. Password hashes never
// leave the package boundary in responses.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name,omitempty"`
	PasswordHash string     `json:"-"`
	Status       Status     `json:"status"`
	Deleted      bool       `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Active reports whether the account may authenticate.
func (u User) Active() bool {
	return !u.Deleted && u.Status == StatusEnabled
}

// ResourceKind identifies the resource families whose access checks delegate
// to the owning project's membership.
type ResourceKind string

const (
	ResourceTask          ResourceKind = "task"
	ResourceDocument      ResourceKind = "document"
	ResourceChangeRequest ResourceKind = "change_request"
	ResourceNotification  ResourceKind = "notification"
)
