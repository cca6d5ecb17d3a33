package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the schema migrations shipped with the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// New opens a PostgreSQL connection. When the first ping fails and the URL
// does not pin an sslmode, it retries once with sslmode=disable.
func New(ctx context.Context, connectionString string) (*DB, error) {
	if connectionString == "" {
		return nil, errors.New("database connection string is required")
	}

	sqlDB, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		if strings.Contains(strings.ToLower(connectionString), "sslmode") {
			sqlDB.Close()
			return nil, errors.Wrap(err, "failed to ping database")
		}
		log.Info().Msg("retrying database connection with SSL disabled")
		sqlDB.Close()
		sqlDB, err = sql.Open("postgres", withSSLDisabled(connectionString))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open database")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, errors.Wrap(err, "failed to ping database")
		}
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return &DB{DB: sqlDB}, nil
}

func withSSLDisabled(conn string) string {
	if strings.Contains(conn, "?") {
		return conn + "&sslmode=disable"
	}
	return conn + "?sslmode=disable"
}

// HealthCheck verifies the database connection is healthy
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const schemaTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT NOW()
	)
`

type migration struct {
	version int
	name    string
	sql     string
}

// Migrate applies the migrations in fsys that schema_migrations does not
// list yet, in version order, one transaction each.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	pending, err := readMigrations(fsys)
	if err != nil {
		return errors.Wrap(err, "failed to read migrations")
	}
	if _, err := db.ExecContext(ctx, schemaTable); err != nil {
		return errors.Wrap(err, "failed to create schema_migrations")
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return errors.Wrapf(err, "migration %d_%s", m.version, m.name)
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("migration applied")
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list applied migrations")
	}
	defer rows.Close()
	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to list applied migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

// readMigrations returns the NNN_name.sql files at the root of fsys ordered
// by version. Other files are ignored.
func readMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, p := range paths {
		prefix, rest, ok := strings.Cut(strings.TrimSuffix(p, ".sql"), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: version, name: rest, sql: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
