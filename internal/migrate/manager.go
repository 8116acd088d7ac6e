// Package migrate applies the engine's SQL schema and seed data. Migration
// files live under migrations/sql as NNNN_name.up.sql / NNNN_name.down.sql
// pairs and run in lexical order; idempotent seed files live under
// migrations/seeds. Applied names are recorded in bookkeeping tables so each
// file runs at most once.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Runner executes migration and seed scripts against an open database.
type Runner struct {
	db         *sql.DB
	sqlDir     string
	seedsDir   string
	table      string
	seedsTable string
}

// Option configures a Runner.
type Option func(*Runner)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.table = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.seedsTable = name
		}
	}
}

// NewRunner wires a Runner over db, reading migrations from sqlDir and seeds
// from seedsDir. Either directory may be empty to skip that kind.
func NewRunner(db *sql.DB, sqlDir, seedsDir string, opts ...Option) *Runner {
	r := &Runner{
		db:         db,
		sqlDir:     sqlDir,
		seedsDir:   seedsDir,
		table:      defaultMigrationsTable,
		seedsTable: defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Up applies every pending migration in order and returns the applied names.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	return r.apply(ctx, r.sqlDir, ".up.sql", r.table, "migration")
}

// Seed applies pending seed files and returns the applied names.
func (r *Runner) Seed(ctx context.Context) ([]string, error) {
	return r.apply(ctx, r.seedsDir, ".sql", r.seedsTable, "seed")
}

func (r *Runner) apply(ctx context.Context, dir, suffix, table, kind string) ([]string, error) {
	if err := r.ensureLedgers(ctx); err != nil {
		return nil, err
	}
	done, err := r.applied(ctx, table)
	if err != nil {
		return nil, err
	}
	scripts, err := listScripts(dir, suffix)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, sc := range scripts {
		if done[sc.name] {
			continue
		}
		if err := r.runScript(ctx, sc.path); err != nil {
			return ran, fmt.Errorf("apply %s %s: %w", kind, sc.name, err)
		}
		if err := r.record(ctx, table, sc.name); err != nil {
			return ran, err
		}
		ran = append(ran, sc.name)
	}
	return ran, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (r *Runner) Down(ctx context.Context) (string, error) {
	if err := r.ensureLedgers(ctx); err != nil {
		return "", err
	}
	history, err := r.appliedInOrder(ctx, r.table)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(filepath.Join(r.sqlDir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.runScript(ctx, down); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, r.table), last); err != nil {
		return "", err
	}
	return last, nil
}

// Status returns applied migrations in application order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureLedgers(ctx); err != nil {
		return nil, err
	}
	return r.appliedInOrder(ctx, r.table)
}

func (r *Runner) ensureLedgers(ctx context.Context) error {
	for _, table := range []string{r.table, r.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// runScript executes one file in a single transaction, statement by
// statement.
func (r *Runner) runScript(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitSQL(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name) values ($1)`, table), name)
	return err
}

func (r *Runner) applied(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

func (r *Runner) appliedInOrder(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		history = append(history, name)
	}
	return history, rows.Err()
}

type script struct {
	name string
	path string
}

// listScripts returns the directory's matching files in name order. A
// missing directory means nothing to run.
func listScripts(dir, suffix string) ([]script, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var scripts []script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		scripts = append(scripts, script{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	return scripts, nil
}

// splitSQL splits a script into statements on semicolons outside single
// quotes. Enough for the DDL under migrations/; dollar-quoted bodies are not
// handled.
func splitSQL(src string) []string {
	var out []string
	var buf strings.Builder
	quoted := false
	for _, r := range src {
		buf.WriteRune(r)
		switch r {
		case '\'':
			quoted = !quoted
		case ';':
			if !quoted {
				out = append(out, buf.String())
				buf.Reset()
			}
		}
	}
	if strings.TrimSpace(buf.String()) != "" {
		out = append(out, buf.String())
	}
	return out
}
