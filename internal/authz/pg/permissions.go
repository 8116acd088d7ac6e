package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"promanage.org/internal/authz"
)

const permissionColumns = `id, organization_id, parent_id, code, name, coalesce(description, ''), sort_order, status, created_at, updated_at`

func scanPermission(row interface{ Scan(...any) error }) (authz.Permission, error) {
	var p authz.Permission
	var org sql.NullInt64
	err := row.Scan(&p.ID, &org, &p.ParentID, &p.Code, &p.Name, &p.Description,
		&p.SortOrder, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return authz.Permission{}, err
	}
	p.OrganizationID = orgValue(org)
	return p, nil
}

func (s *Store) CreatePermission(ctx context.Context, p *authz.Permission) error {
	err := s.db.QueryRowContext(ctx, `
		insert into permissions(organization_id, parent_id, code, name, description, sort_order, status, deleted, created_at, updated_at)
		values ($1, $2, $3, $4, nullif($5, ''), $6, $7, false, $8, $8)
		returning id
	`, orgParam(p.OrganizationID), p.ParentID, p.Code, p.Name, p.Description,
		p.SortOrder, p.Status, p.CreatedAt).Scan(&p.ID)
	return mapPgError(err)
}

func (s *Store) UpdatePermission(ctx context.Context, p *authz.Permission) error {
	res, err := s.db.ExecContext(ctx, `
		update permissions
		set parent_id = $1, code = $2, name = $3, description = nullif($4, ''),
		    sort_order = $5, status = $6, updated_at = $7
		where id = $8 and organization_id is not distinct from $9 and not deleted
	`, p.ParentID, p.Code, p.Name, p.Description, p.SortOrder, p.Status,
		p.UpdatedAt, p.ID, orgParam(p.OrganizationID))
	if err != nil {
		return mapPgError(err)
	}
	return ensureAffected(res)
}

func (s *Store) MarkPermissionDeleted(ctx context.Context, orgID, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		update permissions
		set deleted = true, updated_at = now()
		where id = $1 and organization_id is not distinct from $2 and not deleted
	`, id, orgParam(orgID))
	if err != nil {
		return mapPgError(err)
	}
	return ensureAffected(res)
}

func (s *Store) FindPermission(ctx context.Context, orgID, id int64) (authz.Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where id = $1 and organization_id is not distinct from $2 and not deleted
	`, id, orgParam(orgID))
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Permission{}, fmt.Errorf("%w: permission %d", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.Permission{}, err
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context, orgID int64) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where organization_id is not distinct from $1 and not deleted
		order by sort_order asc, id asc
	`, orgParam(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *Store) ListPermissionsByIDs(ctx context.Context, orgID int64, ids []int64) ([]authz.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where id = any($1) and organization_id is not distinct from $2 and not deleted
	`, ids, orgParam(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *Store) PermissionCodeInUse(ctx context.Context, orgID int64, code string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from permissions
			where organization_id is not distinct from $1 and code = $2 and id <> $3 and not deleted
		)
	`, orgParam(orgID), code, excludeID).Scan(&exists)
	return exists, err
}

func (s *Store) HasActiveChildren(ctx context.Context, orgID, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from permissions
			where parent_id = $1 and organization_id is not distinct from $2 and not deleted
		)
	`, id, orgParam(orgID)).Scan(&exists)
	return exists, err
}

func collectPermissions(rows *sql.Rows) ([]authz.Permission, error) {
	var perms []authz.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func ensureAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no matching row", authz.ErrNotFound)
	}
	return nil
}
