package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Execer is satisfied by *sql.Tx and *sql.DB
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ColumnCopy names a destination column and the expression that reads it
// from the old table. An empty Expr copies the column by name.
type ColumnCopy struct {
	Name string
	Expr string
}

// TableRebuild describes a table whose shape cannot be altered in place.
type TableRebuild struct {
	Table string
	// Create returns the CREATE TABLE statement for the new shape using
	// the given table name.
	Create  func(name string) string
	Columns []ColumnCopy
	// Indexes run after the swap, so they may reference the final name.
	Indexes []string
}

func (t TableRebuild) tempName() string {
	return t.Table + "__rebuild"
}

func (t TableRebuild) statements() []string {
	names := make([]string, len(t.Columns))
	exprs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
		exprs[i] = c.Name
		if c.Expr != "" {
			exprs[i] = c.Expr
		}
	}

	tmp := t.tempName()
	stmts := []string{
		t.Create(tmp),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			tmp, strings.Join(names, ", "), strings.Join(exprs, ", "), t.Table),
		fmt.Sprintf("DROP TABLE %s", t.Table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, t.Table),
	}
	return append(stmts, t.Indexes...)
}

// RebuildTable creates the new shape under a temporary name, copies every
// row, drops the old table and renames the copy into place. Run it inside
// the migration transaction so a failed step leaves the old table intact.
func RebuildTable(ctx context.Context, tx Execer, rb TableRebuild) error {
	if rb.Table == "" || rb.Create == nil || len(rb.Columns) == 0 {
		return goerrors.New("table rebuild requires a table, a create statement and columns", goerrors.CategoryBadInput)
	}

	for i, stmt := range rb.statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("rebuild %s failed at step %d", rb.Table, i+1)).
				WithMetadata(map[string]any{
					"table":     rb.Table,
					"statement": stmt,
				})
		}
	}
	return nil
}
