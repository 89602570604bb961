// Package persistence opens the bun handle backing the identity store.
package persistence

import (
	"context"
	"database/sql"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/goliatone/go-identity/migrations"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds persistence options
type Config interface {
	GetDriver() string
	GetDSN() string
}

// sqlitePragmas run on the single sqlite connection after it opens
var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Handle pairs the bun DB with the goose dialect matching its engine
type Handle struct {
	DB      *bun.DB
	Dialect string
}

// Open connects to the configured engine and checks the connection
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.GetDriver()))
	dsn := cfg.GetDSN()

	switch driver {
	case "", DriverSQLite, "sqlite3":
		if dsn == "" {
			dsn = "file:identity.db?cache=shared"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, openError(driver, err)
		}
		// single writer keeps in-memory databases on one connection
		sqldb.SetMaxOpenConns(1)
		db := bun.NewDB(sqldb, sqlitedialect.New())
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, openError(driver, err)
			}
		}
		return &Handle{DB: db, Dialect: migrations.DialectSQLite}, nil

	case DriverPostgres, "pgx":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, openError(driver, err)
		}
		db := bun.NewDB(sqldb, pgdialect.New())
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, openError(driver, err)
		}
		return &Handle{DB: db, Dialect: migrations.DialectPostgres}, nil
	}

	return nil, goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"driver": driver})
}

// Migrate applies the identity schema to the handle
func (h *Handle) Migrate(ctx context.Context, opts ...MigrateOption) error {
	o := migrateOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return migrations.Run(ctx, h.DB.DB, h.Dialect, o.logger)
}

// Close releases the underlying pool
func (h *Handle) Close() error {
	if h == nil || h.DB == nil {
		return nil
	}
	return h.DB.Close()
}

func openError(driver string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open identity store").
		WithMetadata(map[string]any{"driver": driver})
}
