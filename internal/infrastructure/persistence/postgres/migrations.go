package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var embedded embed.FS

// migrationLockID serialises migrators from several replicas.
const migrationLockID int64 = 0x70726f67 // "prog"

var migrationFile = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema step.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus pairs a migration with the time it was applied.
type MigrationStatus struct {
	Migration
	AppliedAt time.Time
}

// Applied reports whether the migration is recorded in schema_migrations.
func (s MigrationStatus) Applied() bool { return !s.AppliedAt.IsZero() }

// LoadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs from dir.
// Every version needs an up file; down files are optional.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parts := migrationFile.FindStringSubmatch(e.Name())
		if parts == nil {
			return nil, fmt.Errorf("%w: unexpected file %q", ErrMigrationFailed, e.Name())
		}
		version, _ := strconv.Atoi(parts[1])
		if version == 0 {
			return nil, fmt.Errorf("%w: version must be positive in %q", ErrMigrationFailed, e.Name())
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		} else if m.Name != parts[2] {
			return nil, fmt.Errorf("%w: version %d has two names (%s, %s)", ErrMigrationFailed, version, m.Name, parts[2])
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("%w: version %d has no up file", ErrMigrationFailed, m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	loadErr    error
}

// NewMigrator returns a migrator over the migrations compiled into the binary.
func NewMigrator(conn *Connection) *Migrator {
	migrations, err := LoadMigrations(embedded, "migrations")
	return &Migrator{conn: conn, migrations: migrations, loadErr: err}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`

func (m *Migrator) prepare(ctx context.Context) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	if _, err := m.conn.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// step runs fn in a transaction holding the migration advisory lock.
// fn receives whether version is already recorded, as seen under the lock.
func (m *Migrator) step(ctx context.Context, version int, fn func(tx pgx.Tx, recorded bool) error) error {
	return m.conn.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		var recorded bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
		).Scan(&recorded)
		if err != nil {
			return err
		}
		return fn(tx, recorded)
	})
}

// Migrate applies pending migrations in version order and returns how many
// it applied. Each migration runs in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.prepare(ctx); err != nil {
		return 0, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}

		ran := false
		err := m.step(ctx, mig.Version, func(tx pgx.Tx, recorded bool) error {
			// Another replica applied it first.
			if recorded {
				return nil
			}
			if _, err := tx.Exec(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			ran = err == nil
			return err
		})
		if err != nil {
			return n, fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		if ran {
			n++
		}
	}
	return n, nil
}

// Rollback reverts the newest applied migration and returns its version,
// or 0 when nothing is applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if err := m.prepare(ctx); err != nil {
		return 0, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	if len(done) == 0 {
		return 0, nil
	}

	last := slices.Max(mapKeys(done))
	i := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == last })
	if i < 0 || m.migrations[i].Down == "" {
		return 0, fmt.Errorf("%w: no down migration for version %d", ErrMigrationFailed, last)
	}
	mig := m.migrations[i]

	err = m.step(ctx, last, func(tx pgx.Tx, recorded bool) error {
		if !recorded {
			return nil
		}
		if _, err := tx.Exec(ctx, mig.Down); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, last)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: rollback %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
	}
	return last, nil
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, len(m.migrations))
	for i, mig := range m.migrations {
		out[i] = MigrationStatus{Migration: mig, AppliedAt: done[mig.Version]}
	}
	return out, nil
}

func mapKeys(m map[int]time.Time) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
