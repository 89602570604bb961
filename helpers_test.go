package identity_test

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/migrations"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const testBcryptCost = 4

func setupStore(t *testing.T) (*bun.DB, identity.RepositoryManager) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Run(context.Background(), sqldb, migrations.DialectSQLite, nil))
	return db, identity.NewRepositoryManager(db)
}

func setupResolver(t *testing.T) (*bun.DB, *identity.Resolver) {
	t.Helper()
	db, repos := setupStore(t)
	return db, identity.NewResolver(repos, identity.NewBcryptVerifier(testBcryptCost))
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := identity.HashPassword(password, testBcryptCost)
	require.NoError(t, err)
	return h
}

func countRows(t *testing.T, db *bun.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// queryCounter counts statements issued through bun
type queryCounter struct {
	n int64
}

func (q *queryCounter) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	atomic.AddInt64(&q.n, 1)
	return ctx
}

func (q *queryCounter) AfterQuery(context.Context, *bun.QueryEvent) {}

func (q *queryCounter) count() int64 {
	return atomic.LoadInt64(&q.n)
}
