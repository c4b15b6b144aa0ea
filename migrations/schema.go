// Package migrations embeds the SQL schema for the durable pipeline
// substrate: buffers, queued batches, retry holds and the audit log.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath = "data/sql/migrations"
)

// Tables lists the pipeline tables in creation order.
var Tables = []string{
	"debounce_buffers",
	"debounce_queue_entries",
	"debounce_retry_holds",
	"debounce_audit_records",
}

// FS returns the embedded migration tree.
func FS() fs.FS {
	return migrationsFS
}

// Source is the migration directory for one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Sources returns the postgres schema at the root and the sqlite variant
// under sqlite/. Each must carry at least one up migration.
func Sources() ([]Source, error) {
	base, err := fs.Sub(migrationsFS, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite schema: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/sqlite", FS: sqliteFS},
	}
	for _, source := range sources {
		matches, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", source.Path)
		}
	}
	return sources, nil
}

// ForDriver picks the schema for a store driver. sqlite3 and pg are accepted
// as aliases.
func ForDriver(driver string) (Source, error) {
	dialect := strings.ToLower(strings.TrimSpace(driver))
	switch dialect {
	case "sqlite3":
		dialect = DialectSQLite
	case "pg", "postgresql":
		dialect = DialectPostgres
	}
	sources, err := Sources()
	if err != nil {
		return Source{}, err
	}
	for _, source := range sources {
		if source.Dialect == dialect {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: no schema for driver %q", driver)
}

// Register hands the driver's schema to register, usually a closure over a
// persistence client's RegisterSQLMigrations.
func Register(driver string, register func(fs.FS)) (Source, error) {
	if register == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	source, err := ForDriver(driver)
	if err != nil {
		return Source{}, err
	}
	register(source.FS)
	return source, nil
}
