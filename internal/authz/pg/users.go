package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"promanage.org/internal/authz"
)

const userColumns = `id, username, email, coalesce(display_name, ''), password_hash, status, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (authz.User, error) {
	var u authz.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.Status, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return authz.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *Store) FindUser(ctx context.Context, id int64) (authz.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1 and not deleted
	`, id)
	return finishUserScan(row, fmt.Sprintf("user %d", id))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (authz.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1 and not deleted
	`, username)
	return finishUserScan(row, "user "+username)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (authz.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = $1 and not deleted
	`, email)
	return finishUserScan(row, "user "+email)
}

func finishUserScan(row *sql.Row, what string) (authz.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.User{}, fmt.Errorf("%w: %s", authz.ErrNotFound, what)
	}
	if err != nil {
		return authz.User{}, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *authz.User) error {
	err := s.db.QueryRowContext(ctx, `
		insert into users(username, email, display_name, password_hash, status, deleted, created_at, updated_at)
		values ($1, $2, nullif($3, ''), $4, $5, false, now(), now())
		returning id, created_at, updated_at
	`, u.Username, u.Email, u.DisplayName, u.PasswordHash, u.Status).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapPgError(err)
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $1, updated_at = now()
		where id = $2 and not deleted
	`, passwordHash, userID)
	if err != nil {
		return mapPgError(err)
	}
	return ensureAffected(res)
}

func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		update users set last_login_at = now() where id = $1 and not deleted
	`, userID)
	return err
}
