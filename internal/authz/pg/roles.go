package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"promanage.org/internal/authz"
)

const roleColumns = `id, organization_id, code, name, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (authz.Role, error) {
	var r authz.Role
	var org sql.NullInt64
	err := row.Scan(&r.ID, &org, &r.Code, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return authz.Role{}, err
	}
	r.OrganizationID = orgValue(org)
	return r, nil
}

func (s *Store) FindRole(ctx context.Context, id int64) (authz.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1 and not deleted
	`, id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, fmt.Errorf("%w: role %d", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.Role{}, err
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context, orgID int64) ([]authz.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+`
		from roles
		where organization_id is not distinct from $1 and not deleted
		order by id asc
	`, orgParam(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ReplaceRolePermissions swaps the role's permission set atomically:
// delete-all then batch insert inside one transaction, so readers never see
// a partially replaced junction.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return mapPgError(err)
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions(role_id, permission_id) values ($1, $2)
		`, roleID, pid); err != nil {
			return mapPgError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.organization_id, p.parent_id, p.code, p.name, coalesce(p.description, ''),
		       p.sort_order, p.status, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1 and not p.deleted
		order by p.sort_order asc, p.id asc
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ReplaceUserRoles swaps the user's role set with the same full-replace
// discipline as ReplaceRolePermissions.
func (s *Store) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return mapPgError(err)
	}
	for _, rid := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_id, role_id) values ($1, $2)
		`, userID, rid); err != nil {
			return mapPgError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) UserRoles(ctx context.Context, userID int64) ([]authz.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.organization_id, r.code, r.name, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1 and not r.deleted
		order by r.id asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UserPermissions is the effective-permission join: the union over all of
// the user's roles, deduplicated by permission id.
func (s *Store) UserPermissions(ctx context.Context, userID int64) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.id, p.organization_id, p.parent_id, p.code, p.name, coalesce(p.description, ''),
		       p.sort_order, p.status, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join user_roles ur on ur.role_id = rp.role_id
		join roles r on r.id = ur.role_id and not r.deleted
		where ur.user_id = $1 and not p.deleted and p.status = $2
		order by p.id asc
	`, userID, authz.StatusEnabled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}
