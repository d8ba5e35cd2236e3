package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"CoverLedger/internal/observability"

	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedded embed.FS

// migrationLockID keys the advisory lock that serializes migrators started
// by several replicas at once.
const migrationLockID = 0x436f7665724c6467

// Migration is one versioned schema step.
type Migration struct {
	Version string
	Name    string
	up      string
	down    string
}

// Migrator applies {version}_{name}.up.sql / .down.sql pairs in version
// order and records them in public.schema_migrations.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	log    zerolog.Logger
}

// NewMigrator reads migrations from dir, or from the copy compiled into
// the binary when dir is empty.
func NewMigrator(db *sql.DB, dir string) *Migrator {
	var source fs.FS = os.DirFS(dir)
	if dir == "" {
		source, _ = fs.Sub(embedded, "migrations")
	}
	return &Migrator{db: db, source: source, log: observability.NewLogger("migrator")}
}

// Migrations lists every migration in the source, sorted by version.
func (m *Migrator) Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		base, dir, ok := cutDirection(name)
		if !ok {
			continue
		}
		version, label, _ := strings.Cut(base, "_")

		body, err := fs.ReadFile(m.source, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version, Name: label}
			byVersion[version] = mig
		}
		if dir == "up" {
			mig.up = string(body)
		} else {
			mig.down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.up == "" {
			return nil, fmt.Errorf("migration %s has no up file", mig.Version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func cutDirection(name string) (base, dir string, ok bool) {
	if base, ok = strings.CutSuffix(name, ".up.sql"); ok {
		return base, "up", true
	}
	if base, ok = strings.CutSuffix(name, ".down.sql"); ok {
		return base, "down", true
	}
	return "", "", false
}

// Pending lists the versions not yet recorded as applied.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx, m.db)
	if err != nil {
		return nil, err
	}
	all, err := m.Migrations()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, mig := range all {
		if !applied[mig.Version] {
			pending = append(pending, mig.Version+"_"+mig.Name)
		}
	}
	return pending, nil
}

// Up applies every pending migration, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) error {
	all, err := m.Migrations()
	if err != nil {
		return err
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := m.appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range all {
			if applied[mig.Version] {
				continue
			}
			m.log.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("applying migration")
			if err := m.exec(ctx, conn, mig.up,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				mig.Version, mig.Version+"_"+mig.Name,
			); err != nil {
				return fmt.Errorf("migration %s: %w", mig.Version, err)
			}
		}
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	all, err := m.Migrations()
	if err != nil {
		return err
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		i := sort.Search(len(all), func(i int) bool { return all[i].Version >= version })
		if i == len(all) || all[i].Version != version || all[i].down == "" {
			return fmt.Errorf("no down migration for version %s", version)
		}
		if err := m.exec(ctx, conn, all[i].down,
			`DELETE FROM public.schema_migrations WHERE version = $1`, version,
		); err != nil {
			return fmt.Errorf("roll back %s: %w", version, err)
		}
		m.log.Info().Str("version", version).Msg("rolled back migration")
		return nil
	})
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	return fn(conn)
}

// exec runs a migration body and its bookkeeping statement atomically.
func (m *Migrator) exec(ctx context.Context, conn *sql.Conn, body, record string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (m *Migrator) appliedVersions(ctx context.Context, q queryer) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
