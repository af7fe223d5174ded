package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for running
// without a Postgres server.
type SQLiteStore struct {
	db      *sql.DB
	columns map[string]string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, columns map[string]string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, columns: columns}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS canonical_records (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	provider           TEXT NOT NULL,
	branch             TEXT NOT NULL DEFAULT '',
	customer_reference TEXT NOT NULL DEFAULT '',
	fecha              TEXT,
	codigo_busqueda    TEXT NOT NULL DEFAULT '',
	stored_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_canonical_records_provider ON canonical_records(provider, fecha);

CREATE TABLE IF NOT EXISTS credenciales_droguerias (
	sucursal_codigo      TEXT PRIMARY KEY,
	monroe_software_key  TEXT,
	monroe_ecommerce_key TEXT,
	monroe_cuenta        TEXT,
	suizo_usuario        TEXT,
	suizo_clave          TEXT,
	suizo_cliente        TEXT,
	cofarsur_usuario     TEXT,
	cofarsur_clave       TEXT,
	cofarsur_token       TEXT,
	kellerhof_usuario    TEXT,
	kellerhof_clave      TEXT,
	kellerhof_cliente    TEXT
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplaceAll deletes the provider's rows and inserts records in one
// transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, provider string, records []model.Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM canonical_records WHERE provider = ?`, provider); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete records for %s", provider)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO canonical_records (provider, branch, customer_reference, fecha, codigo_busqueda) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	var n int64
	for _, r := range records {
		var fecha any
		if !r.Date.IsZero() {
			fecha = r.Date.UTC().Format(model.RecordTimeLayout)
		}
		if _, err := stmt.ExecContext(ctx, provider, r.Branch, r.CustomerReference, fecha, r.SearchCode); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", r.Key())
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context, provider string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT branch, customer_reference, fecha, codigo_busqueda FROM canonical_records
		 WHERE provider = ? ORDER BY fecha, customer_reference, codigo_busqueda`,
		provider,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records for %s", provider)
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		r := model.Record{Provider: provider}
		var fecha sql.NullString
		if err := rows.Scan(&r.Branch, &r.CustomerReference, &fecha, &r.SearchCode); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if fecha.Valid && fecha.String != "" {
			t, err := time.Parse(model.RecordTimeLayout, fecha.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse fecha %q", fecha.String)
			}
			r.Date = t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) ListEnabledBranches(ctx context.Context, provider string, limit int) ([]string, error) {
	col, err := enabledColumn(s.columns, provider)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, enabledBranchesSQL(col))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list branches for %s", provider)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan branch")
		}
		raw = append(raw, code)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate branches")
	}
	return finishBranches(raw, limit), nil
}

// BranchCredentials returns the branch's credentials row keyed by column.
func (s *SQLiteStore) BranchCredentials(ctx context.Context, branch string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, branchRowSQL("?"), model.NormalizeBranchCode(branch))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load credentials for %s", branch)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: credentials columns")
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, eris.Wrapf(err, "sqlite: load credentials for %s", branch)
		}
		return nil, credential.ErrBranchNotFound
	}

	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan credentials row")
	}
	out := make(map[string]string, len(cols))
	for i, c := range cols {
		out[c] = strings.TrimSpace(vals[i].String)
	}
	return out, nil
}

// PutBranch upserts a branch credentials row.
func (s *SQLiteStore) PutBranch(ctx context.Context, branch string, fields map[string]string) error {
	q, args, err := upsertBranchSQL(branch, fields, func(int) string { return "?" })
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return eris.Wrapf(err, "sqlite: put branch %s", args[0])
}

var _ Store = (*SQLiteStore)(nil)
