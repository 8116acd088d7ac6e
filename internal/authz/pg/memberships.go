package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"promanage.org/internal/authz"
)

// Membership roles stored in the member tables.
const (
	memberRoleAdmin = "admin"

	memberStatusActive = 1
)

func (s *Store) IsOrganizationMember(ctx context.Context, userID, orgID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from organization_members
			where organization_id = $1 and user_id = $2 and status = $3
		)
	`, orgID, userID, memberStatusActive).Scan(&exists)
	return exists, err
}

func (s *Store) IsOrganizationAdmin(ctx context.Context, userID, orgID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from organization_members
			where organization_id = $1 and user_id = $2 and status = $3 and member_role = $4
		)
	`, orgID, userID, memberStatusActive, memberRoleAdmin).Scan(&exists)
	return exists, err
}

func (s *Store) IsProjectMember(ctx context.Context, userID, projectID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from project_members
			where project_id = $1 and user_id = $2 and status = $3
		)
	`, projectID, userID, memberStatusActive).Scan(&exists)
	return exists, err
}

func (s *Store) IsProjectAdmin(ctx context.Context, userID, projectID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from project_members
			where project_id = $1 and user_id = $2 and status = $3 and member_role = $4
		)
	`, projectID, userID, memberStatusActive, memberRoleAdmin).Scan(&exists)
	return exists, err
}

// resourceTables maps each resource family to the table carrying its
// project pointer and soft-delete flag.
var resourceTables = map[authz.ResourceKind]string{
	authz.ResourceTask:          "tasks",
	authz.ResourceDocument:      "documents",
	authz.ResourceChangeRequest: "change_requests",
	authz.ResourceNotification:  "notifications",
}

func (s *Store) ProjectForResource(ctx context.Context, kind authz.ResourceKind, resourceID int64) (int64, error) {
	table, ok := resourceTables[kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown resource kind %q", authz.ErrInvalidInput, kind)
	}
	var projectID int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select project_id from %s where id = $1 and not deleted`, table),
		resourceID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %d", authz.ErrNotFound, kind, resourceID)
	}
	if err != nil {
		return 0, err
	}
	return projectID, nil
}
