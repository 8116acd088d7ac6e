// Package pg implements the authz store interfaces on PostgreSQL via
// database/sql and the pgx stdlib driver.
package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"promanage.org/internal/authz"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store holds the shared connection pool and implements authz.Store.
type Store struct {
	db *sql.DB
}

var _ authz.Store = (*Store)(nil)

// Open dials PostgreSQL with pool settings suited for request traffic.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (tests use this with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// orgParam maps the in-memory system tenant (0) onto a NULL column value.
func orgParam(orgID int64) sql.NullInt64 {
	if orgID == authz.SystemTenant {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: orgID, Valid: true}
}

func orgValue(org sql.NullInt64) int64 {
	if !org.Valid {
		return authz.SystemTenant
	}
	return org.Int64
}

// mapPgError translates constraint violations into the engine's taxonomy.
// Anything else passes through untouched so callers log it as internal.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", authz.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", authz.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
