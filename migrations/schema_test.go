package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestSources_ReturnsPostgresAndSQLite(t *testing.T) {
	sources, err := Sources()
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Dialect != DialectPostgres || sources[1].Dialect != DialectSQLite {
		t.Fatalf("unexpected dialect order: %s, %s", sources[0].Dialect, sources[1].Dialect)
	}
	if sources[1].Path != "data/sql/migrations/sqlite" {
		t.Fatalf("unexpected sqlite path %q", sources[1].Path)
	}
}

func TestForDriver_AcceptsAliases(t *testing.T) {
	cases := map[string]string{
		"sqlite3":  DialectSQLite,
		"sqlite":   DialectSQLite,
		"postgres": DialectPostgres,
		" PG ":     DialectPostgres,
	}
	for driver, want := range cases {
		source, err := ForDriver(driver)
		if err != nil {
			t.Fatalf("for driver %q: %v", driver, err)
		}
		if source.Dialect != want {
			t.Fatalf("driver %q: expected %s, got %s", driver, want, source.Dialect)
		}
	}
	if _, err := ForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestRegister_HandsOverDialectSchema(t *testing.T) {
	var registered []fs.FS
	source, err := Register("sqlite3", func(fsys fs.FS) {
		registered = append(registered, fsys)
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(registered) != 1 || source.Dialect != DialectSQLite {
		t.Fatalf("expected one sqlite registration, got %d (%s)", len(registered), source.Dialect)
	}
	if _, err := fs.ReadFile(registered[0], "00001_debouncer_schema.up.sql"); err != nil {
		t.Fatalf("expected sqlite schema in registered fs: %v", err)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register("sqlite3", nil); err == nil {
		t.Fatalf("expected missing register function error")
	}
}

func TestSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := FS()
	paths := []string{
		"data/sql/migrations/00001_debouncer_schema.up.sql",
		"data/sql/migrations/00001_debouncer_schema.down.sql",
		"data/sql/migrations/sqlite/00001_debouncer_schema.up.sql",
		"data/sql/migrations/sqlite/00001_debouncer_schema.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-debouncer-schema?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	sqliteMigrations, err := fs.Sub(FS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_debouncer_schema.up.sql"); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	for _, table := range Tables {
		var name string
		if err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name); err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO debounce_audit_records (id, conversation_id, attempt, status, payload, recorded_at, expires_at)
		 VALUES ('a1', 'u1', 1, 'bogus', '{}', '2026-01-01T00:00:00Z', '2026-02-01T00:00:00Z')`,
	)
	if err == nil {
		t.Fatalf("expected status check constraint to reject unknown status")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_debouncer_schema.down.sql"); err != nil {
		t.Fatalf("rollback schema: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'debounce_%'",
	).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to drop all tables, got %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, name string) error {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
