// Package store persists canonical records per provider and reads the
// branch directory with its stored credentials.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/model"
)

// RecordStore holds the persisted record set of each provider. The latest
// record date in it is the provider's watermark.
type RecordStore interface {
	// ReplaceAll swaps the provider's stored set for records in one
	// transaction and returns the number of rows written.
	ReplaceAll(ctx context.Context, provider string, records []model.Record) (int64, error)
	ListAll(ctx context.Context, provider string) ([]model.Record, error)
}

// BranchDirectory lists the branches enabled for a provider.
type BranchDirectory interface {
	// ListEnabledBranches returns normalized branch codes in natural order.
	// A positive limit caps the result.
	ListEnabledBranches(ctx context.Context, provider string, limit int) ([]string, error)
}

// Store is everything the sync engine reads and writes.
type Store interface {
	RecordStore
	BranchDirectory
	credential.BranchStore
	// PutBranch upserts the credentials row of a branch.
	PutBranch(ctx context.Context, branch string, fields map[string]string) error
	Migrate(ctx context.Context) error
	Close() error
}

// BranchTable is the table holding one credentials row per branch.
const BranchTable = "credenciales_droguerias"

// BranchColumn is the branch code column of BranchTable.
const BranchColumn = "sucursal_codigo"

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// EnabledColumns maps each provider to the column that marks a branch as
// enabled for it.
func EnabledColumns(schemas map[string]credential.Schema) map[string]string {
	out := make(map[string]string, len(schemas))
	for name, s := range schemas {
		if s.EnabledColumn != "" {
			out[name] = s.EnabledColumn
		}
	}
	return out
}

// ErrUnknownProvider is returned by ListEnabledBranches for a provider with
// no enabled column.
var ErrUnknownProvider = eris.New("store: provider has no branch column")

func enabledColumn(columns map[string]string, provider string) (string, error) {
	col, ok := columns[provider]
	if !ok {
		return "", eris.Wrapf(ErrUnknownProvider, "store: list branches for %q", provider)
	}
	if !columnName.MatchString(col) {
		return "", eris.Errorf("store: invalid column name %q", col)
	}
	return col, nil
}

// finishBranches normalizes, dedupes, sorts and caps raw branch codes.
func finishBranches(raw []string, limit int) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		code := model.NormalizeBranchCode(c)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	model.SortBranchCodes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func enabledBranchesSQL(col string) string {
	return "SELECT " + BranchColumn + " FROM " + BranchTable +
		" WHERE TRIM(COALESCE(CAST(" + col + " AS TEXT), '')) <> ''"
}

func branchRowSQL(placeholder string) string {
	return "SELECT * FROM " + BranchTable +
		" WHERE REPLACE(UPPER(" + BranchColumn + "), ' ', '') = " + placeholder + " LIMIT 1"
}

func rowValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// upsertBranchSQL builds the upsert of a branch row. ph renders the i-th
// (1-based) placeholder.
func upsertBranchSQL(branch string, fields map[string]string, ph func(i int) string) (string, []any, error) {
	code := model.NormalizeBranchCode(branch)
	if code == "" {
		return "", nil, credential.ErrBranchRequired
	}
	cols := []string{BranchColumn}
	marks := []string{ph(1)}
	args := []any{code}
	var updates []string
	for _, c := range sortedKeys(fields) {
		if !columnName.MatchString(c) || c == BranchColumn {
			return "", nil, eris.Errorf("store: invalid branch column %q", c)
		}
		cols = append(cols, c)
		args = append(args, strings.TrimSpace(fields[c]))
		marks = append(marks, ph(len(args)))
		updates = append(updates, c+" = excluded."+c)
	}

	q := "INSERT INTO " + BranchTable + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")" +
		" ON CONFLICT (" + BranchColumn + ") DO "
	if len(updates) == 0 {
		return q + "NOTHING", args, nil
	}
	return q + "UPDATE SET " + strings.Join(updates, ", "), args, nil
}
