package provsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/db"
	"github.com/pharmalink/provider-sync/internal/model"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// RunEntry is a row in provider_sync.sync_runs.
type RunEntry struct {
	ID          string       `json:"id"`
	Provider    string       `json:"provider"`
	Mode        string       `json:"mode"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Branches    int          `json:"branches"`
	Records     int64        `json:"records"`
	Skipped     []model.Skip `json:"skipped,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// SyncLog keeps fleet run history in Postgres.
type SyncLog struct {
	pool db.Pool
}

// NewSyncLog creates a SyncLog backed by pool.
func NewSyncLog(pool db.Pool) *SyncLog {
	return &SyncLog{pool: pool}
}

// Start records the beginning of a run and returns its ID.
func (s *SyncLog) Start(ctx context.Context, provider, mode string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_sync.sync_runs (id, provider, mode, status, started_at)
		 VALUES ($1, $2, $3, 'running', now())`,
		id, provider, mode,
	)
	if err != nil {
		return "", eris.Wrapf(err, "synclog: start run for %s", provider)
	}
	return id, nil
}

// Complete marks a run as finished.
func (s *SyncLog) Complete(ctx context.Context, id string, res RunSummary) error {
	var skipped []byte
	if len(res.Skipped) > 0 {
		var err error
		if skipped, err = json.Marshal(res.Skipped); err != nil {
			return eris.Wrap(err, "synclog: marshal skipped branches")
		}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE provider_sync.sync_runs
		 SET status = 'complete', completed_at = now(), branches = $1, records = $2, skipped = $3
		 WHERE id = $4`,
		res.Branches, res.Records, skipped, id,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: complete run %s", id)
	}
	return nil
}

// Fail marks a run as failed.
func (s *SyncLog) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE provider_sync.sync_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: fail run %s", id)
	}
	return nil
}

// LastSuccess returns when the latest complete run of provider started, or
// nil if there is none.
func (s *SyncLog) LastSuccess(ctx context.Context, provider string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM provider_sync.sync_runs
		 WHERE provider = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		provider,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "synclog: last success for %s", provider)
	}
	return &t, nil
}

// List returns the most recent runs, newest first. A blank provider lists
// every provider.
func (s *SyncLog) List(ctx context.Context, provider string, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, mode, status, started_at, completed_at, branches, records, skipped, error
		 FROM provider_sync.sync_runs
		 WHERE $1 = '' OR provider = $1
		 ORDER BY started_at DESC LIMIT $2`,
		provider, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "synclog: list runs")
	}
	defer rows.Close()

	entries := []RunEntry{}
	for rows.Next() {
		var (
			e       RunEntry
			done    *time.Time
			skipped []byte
			errStr  *string
		)
		if err := rows.Scan(&e.ID, &e.Provider, &e.Mode, &e.Status, &e.StartedAt, &done, &e.Branches, &e.Records, &skipped, &errStr); err != nil {
			return nil, eris.Wrap(err, "synclog: scan run")
		}
		e.CompletedAt = done
		if errStr != nil {
			e.Error = *errStr
		}
		if skipped != nil {
			_ = json.Unmarshal(skipped, &e.Skipped)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ RunLog = (*SyncLog)(nil)
