package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ReplaceConfig describes a scoped delete-then-copy replacement.
type ReplaceConfig struct {
	Table   string   // target table, e.g. "provider_sync.canonical_records"
	Columns []string // columns written by COPY
	Scope   []string // columns that select the rows being replaced
}

// Replace deletes every row matching scopeArgs and copies rows in, inside one
// transaction. Nothing is visible until all rows are staged; any failure rolls
// the whole replacement back.
func Replace(ctx context.Context, pool Pool, cfg ReplaceConfig, scopeArgs []any, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.Scope) != len(scopeArgs) {
		return 0, eris.Errorf("db: replace: %d scope columns but %d values", len(cfg.Scope), len(scopeArgs))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, deleteSQL(cfg), scopeArgs...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", cfg.Table)
	}

	n, err := CopyFrom(ctx, tx, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit")
	}
	return n, nil
}

func deleteSQL(cfg ReplaceConfig) string {
	if len(cfg.Scope) == 0 {
		return "DELETE FROM " + cfg.Table
	}
	conds := make([]string, len(cfg.Scope))
	for i, c := range cfg.Scope {
		conds[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	return "DELETE FROM " + cfg.Table + " WHERE " + strings.Join(conds, " AND ")
}
