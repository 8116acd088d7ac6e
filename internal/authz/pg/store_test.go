package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"promanage.org/internal/authz"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func permissionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "parent_id", "code", "name", "description",
		"sort_order", "status", "created_at", "updated_at",
	})
}

func TestFindPermissionNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from permissions").
		WithArgs(int64(12), int64(5)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindPermission(context.Background(), 5, 12)
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindPermissionSystemTenantNull(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("from permissions").
		WithArgs(int64(12), nil).
		WillReturnRows(permissionRows().AddRow(12, nil, 0, "task", "Tasks", "", 0, 0, now, now))

	p, err := store.FindPermission(context.Background(), authz.SystemTenant, 12)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	// NULL organization_id folds back to the in-memory system tenant.
	if p.OrganizationID != authz.SystemTenant {
		t.Fatalf("org = %d, want %d", p.OrganizationID, authz.SystemTenant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreatePermissionUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into permissions").
		WillReturnError(&pgconn.PgError{
			Code:           "23505",
			ConstraintName: "permissions_tenant_code_live_idx",
		})

	perm := authz.Permission{OrganizationID: 5, Code: "task", Name: "Tasks"}
	err := store.CreatePermission(context.Background(), &perm)
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdatePermissionMissingRow(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update permissions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	perm := authz.Permission{ID: 3, OrganizationID: 5, Code: "task", Name: "Tasks"}
	err := store.UpdatePermission(context.Background(), &perm)
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkPermissionDeletedSystemTenant(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update permissions").
		WithArgs(int64(4), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkPermissionDeleted(context.Background(), authz.SystemTenant, 4); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceRolePermissionsTransaction(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").
		WithArgs(int64(7), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs(int64(7), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.ReplaceRolePermissions(context.Background(), 7, []int64{1, 2}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceUserRolesRollsBackOnBadRole(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from user_roles").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into user_roles").
		WithArgs(int64(9), int64(42)).
		WillReturnError(&pgconn.PgError{
			Code:           "23503",
			ConstraintName: "user_roles_role_id_fkey",
		})
	mock.ExpectRollback()

	err := store.ReplaceUserRoles(context.Background(), 9, []int64{42})
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceUserRolesEmptySet(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from user_roles").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := store.ReplaceUserRoles(context.Background(), 9, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUserPermissionsFiltersDisabled(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select distinct p.id").
		WithArgs(int64(9), authz.StatusEnabled).
		WillReturnRows(permissionRows().
			AddRow(1, 5, 0, "document:read", "Read", "", 0, 0, now, now).
			AddRow(2, 5, 1, "document:upload", "Upload", "", 1, 0, now, now))

	perms, err := store.UserPermissions(context.Background(), 9)
	if err != nil {
		t.Fatalf("user permissions: %v", err)
	}
	if len(perms) != 2 || perms[0].Code != "document:read" || perms[1].Code != "document:upload" {
		t.Fatalf("perms = %+v", perms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
