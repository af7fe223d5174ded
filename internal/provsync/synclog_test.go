package provsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/provider-sync/internal/model"
)

func newMockSyncLog(t *testing.T) (*SyncLog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewSyncLog(mock), mock
}

func TestSyncLog_Start(t *testing.T) {
	sl, mock := newMockSyncLog(t)

	mock.ExpectExec("INSERT INTO provider_sync.sync_runs").
		WithArgs(pgxmock.AnyArg(), "monroe", ModeIncremental).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := sl.Start(context.Background(), "monroe", ModeIncremental)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_StartError(t *testing.T) {
	sl, mock := newMockSyncLog(t)

	mock.ExpectExec("INSERT INTO provider_sync.sync_runs").
		WillReturnError(errors.New("relation does not exist"))

	_, err := sl.Start(context.Background(), "monroe", ModeIncremental)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synclog: start run for monroe")
}

func TestSyncLog_Complete(t *testing.T) {
	sl, mock := newMockSyncLog(t)

	mock.ExpectExec("UPDATE provider_sync.sync_runs").
		WithArgs(3, int64(42), []byte(`[{"branch":"SA2","reason":"denied"}]`), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := sl.Complete(context.Background(), "run-1", RunSummary{
		Branches: 3,
		Records:  42,
		Skipped:  []model.Skip{{Branch: "SA2", Reason: "denied"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_CompleteWithoutSkips(t *testing.T) {
	sl, mock := newMockSyncLog(t)

	mock.ExpectExec("UPDATE provider_sync.sync_runs").
		WithArgs(1, int64(0), []byte(nil), "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, sl.Complete(context.Background(), "run-2", RunSummary{Branches: 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_Fail(t *testing.T) {
	sl, mock := newMockSyncLog(t)

	mock.ExpectExec("UPDATE provider_sync.sync_runs").
		WithArgs("upstream unavailable", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, sl.Fail(context.Background(), "run-1", "upstream unavailable"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_LastSuccess(t *testing.T) {
	sl, mock := newMockSyncLog(t)
	started := time.Date(2024, 6, 15, 6, 30, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT started_at FROM provider_sync.sync_runs").
		WithArgs("monroe").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(started))

	got, err := sl.LastSuccess(context.Background(), "monroe")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, started, *got)
}

func TestSyncLog_LastSuccessNever(t *testing.T) {
	sl, mock := newMockSyncLog(t)

	mock.ExpectQuery("SELECT started_at FROM provider_sync.sync_runs").
		WithArgs("suizo").
		WillReturnError(pgx.ErrNoRows)

	got, err := sl.LastSuccess(context.Background(), "suizo")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncLog_List(t *testing.T) {
	sl, mock := newMockSyncLog(t)
	started := time.Date(2024, 6, 15, 6, 30, 0, 0, time.UTC)
	done := started.Add(2 * time.Minute)
	errMsg := "boom"

	cols := []string{"id", "provider", "mode", "status", "started_at", "completed_at", "branches", "records", "skipped", "error"}
	mock.ExpectQuery("SELECT id, provider, mode, status").
		WithArgs("", 20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("run-2", "monroe", ModeIncremental, StatusComplete, started, &done, 3, int64(10), []byte(`[{"branch":"SA2","reason":"denied"}]`), nil).
			AddRow("run-1", "suizo", ModeExplicit, StatusFailed, started.Add(-time.Hour), nil, 0, int64(0), nil, &errMsg))

	entries, err := sl.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "run-2", entries[0].ID)
	require.NotNil(t, entries[0].CompletedAt)
	assert.Equal(t, done, *entries[0].CompletedAt)
	assert.Equal(t, []model.Skip{{Branch: "SA2", Reason: "denied"}}, entries[0].Skipped)
	assert.Empty(t, entries[0].Error)

	assert.Equal(t, StatusFailed, entries[1].Status)
	assert.Nil(t, entries[1].CompletedAt)
	assert.Equal(t, "boom", entries[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
