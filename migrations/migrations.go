// Package migrations holds the identity store schema history and the
// table rebuild primitive used where the engine cannot alter a column in
// place.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed *.sql
var Migrations embed.FS

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// gooseUpToContext is a seam for testing goose.UpToContext.
var gooseUpToContext = func(ctx context.Context, db *sql.DB, dir string, version int64, opts ...goose.OptionsFunc) error {
	return goose.UpToContext(ctx, db, dir, version, opts...)
}

// Run applies every pending migration.
func Run(ctx context.Context, db *sql.DB, dialect string, logger *zap.SugaredLogger) error {
	if err := setup(dialect, logger); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run identity migrations")
	}
	return nil
}

// RunTo applies pending migrations up to and including version.
func RunTo(ctx context.Context, db *sql.DB, dialect string, version int64, logger *zap.SugaredLogger) error {
	if err := setup(dialect, logger); err != nil {
		return err
	}
	if err := gooseUpToContext(ctx, db, ".", version); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run identity migrations").
			WithMetadata(map[string]any{"version": version})
	}
	return nil
}

// Version reports the current schema version
func Version(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	if err := setup(dialect, nil); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

func setup(dialect string, logger *zap.SugaredLogger) error {
	goose.SetBaseFS(Migrations)
	goose.SetLogger(gooseLogger{sugar: logger})
	if err := goose.SetDialect(dialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "unsupported migration dialect").
			WithMetadata(map[string]any{"dialect": dialect})
	}
	return nil
}

type gooseLogger struct {
	sugar *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	if l.sugar == nil {
		zap.S().Fatalf(format, v...)
		return
	}
	l.sugar.Fatalf(format, v...)
}
