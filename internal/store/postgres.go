package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/db"
	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/resilience"
)

// RecordsTable holds every provider's canonical records.
const RecordsTable = "provider_sync.canonical_records"

var recordsReplace = db.ReplaceConfig{
	Table:   RecordsTable,
	Columns: []string{"provider", "branch", "customer_reference", "fecha", "codigo_busqueda"},
	Scope:   []string{"provider"},
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	columns map[string]string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects to Postgres. The first ping is retried while the
// failure looks transient. columns maps provider to its enabled column.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, columns map[string]string) (*PostgresStore, error) {
	opts := db.PoolOptions{MaxConns: 10, MinConns: 2}
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			opts.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			opts.MinConns = poolCfg.MinConns
		}
	}

	pool, err := db.Open(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	err = resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		Operation:      "postgres ping",
	}, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool, columns, pool.Close), nil
}

// NewPostgresFromPool wraps an existing pool. closeFn may be nil.
func NewPostgresFromPool(pool db.Pool, columns map[string]string, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, columns: columns, closeFn: closeFn}
}

// Pool exposes the underlying pool for collaborators sharing it.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ReplaceAll deletes the provider's rows and copies records in within one
// transaction. Any staging failure rolls the delete back.
func (s *PostgresStore) ReplaceAll(ctx context.Context, provider string, records []model.Record) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		var fecha any
		if !r.Date.IsZero() {
			fecha = r.Date.UTC()
		}
		rows = append(rows, []any{provider, r.Branch, r.CustomerReference, fecha, r.SearchCode})
	}

	n, err := db.Replace(ctx, s.pool, recordsReplace, []any{provider}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: replace records for %s", provider)
	}
	return n, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, provider string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT branch, customer_reference, fecha, codigo_busqueda FROM `+RecordsTable+`
		 WHERE provider = $1 ORDER BY fecha, customer_reference, codigo_busqueda`,
		provider,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records for %s", provider)
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		r := model.Record{Provider: provider}
		var fecha *time.Time
		if err := rows.Scan(&r.Branch, &r.CustomerReference, &fecha, &r.SearchCode); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if fecha != nil {
			r.Date = fecha.UTC()
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) ListEnabledBranches(ctx context.Context, provider string, limit int) ([]string, error) {
	col, err := enabledColumn(s.columns, provider)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, enabledBranchesSQL(col))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list branches for %s", provider)
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "postgres: scan branch")
		}
		raw = append(raw, code)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate branches")
	}
	return finishBranches(raw, limit), nil
}

// BranchCredentials returns the branch's credentials row keyed by column.
func (s *PostgresStore) BranchCredentials(ctx context.Context, branch string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, branchRowSQL("$1"), model.NormalizeBranchCode(branch))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load credentials for %s", branch)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, eris.Wrapf(err, "postgres: load credentials for %s", branch)
		}
		return nil, credential.ErrBranchNotFound
	}
	vals, err := rows.Values()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read credentials row")
	}
	out := make(map[string]string, len(vals))
	for i, fd := range rows.FieldDescriptions() {
		if i < len(vals) {
			out[fd.Name] = rowValue(vals[i])
		}
	}
	return out, nil
}

// PutBranch upserts a branch credentials row.
func (s *PostgresStore) PutBranch(ctx context.Context, branch string, fields map[string]string) error {
	q, args, err := upsertBranchSQL(branch, fields, func(i int) string { return fmt.Sprintf("$%d", i) })
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, q, args...)
	return eris.Wrapf(err, "postgres: put branch %s", args[0])
}

var _ Store = (*PostgresStore)(nil)
