package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-debouncer/core"
	"github.com/goliatone/go-debouncer/migrations"
)

type persistenceConfig struct {
	driver      string
	server      string
	pingTimeout time.Duration
	debug       bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return c.pingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-debouncer"
}

// Open connects to the configured SQL substrate and applies the embedded
// schema migrations for its dialect.
func Open(ctx context.Context, cfg core.StoreConfig) (*persistence.Client, error) {
	driver := core.NormalizeStoreDriver(cfg.Driver)
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, core.ConfigError("sqlstore: store dsn is required", map[string]any{
			"driver": driver,
		})
	}

	var dialect schema.Dialect
	switch driver {
	case core.StoreDriverSQLite:
		dialect = sqlitedialect.New()
	case core.StoreDriverPostgres:
		dialect = pgdialect.New()
	default:
		return nil, core.ConfigError("sqlstore: unsupported store driver", map[string]any{
			"driver": cfg.Driver,
		})
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, core.StoreUnavailableError(err, "sqlstore: open database", map[string]any{
			"driver": driver,
		})
	}
	if driver == core.StoreDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	client, err := persistence.New(persistenceConfig{
		driver:      driver,
		server:      dsn,
		pingTimeout: pingTimeout,
		debug:       cfg.Debug,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, core.StoreUnavailableError(err, "sqlstore: new persistence client", map[string]any{
			"driver": driver,
		})
	}

	_, err = migrations.Register(driver, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, core.StoreUnavailableError(err, "sqlstore: migrate", map[string]any{
			"driver": driver,
		})
	}
	return client, nil
}
