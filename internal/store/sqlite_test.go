package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sync.db"), EnabledColumns(credential.DefaultSchemas()))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_ReplaceAndList(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	d1 := time.Date(2025, 1, 2, 10, 15, 0, 0, time.UTC)
	d2 := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

	n, err := s.ReplaceAll(ctx, "monroe", []model.Record{
		{Branch: "SA2", CustomerReference: "4502", Date: d2, SearchCode: "B"},
		{Branch: "SA1", CustomerReference: "4501", Date: d1, SearchCode: "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.ReplaceAll(ctx, "suizo", []model.Record{{Branch: "SA1", SearchCode: "S"}})
	require.NoError(t, err)

	got, err := s.ListAll(ctx, "monroe")
	require.NoError(t, err)
	assert.Equal(t, []model.Record{
		{Provider: "monroe", Branch: "SA1", CustomerReference: "4501", Date: d1, SearchCode: "A"},
		{Provider: "monroe", Branch: "SA2", CustomerReference: "4502", Date: d2, SearchCode: "B"},
	}, got)

	suizo, err := s.ListAll(ctx, "suizo")
	require.NoError(t, err)
	require.Len(t, suizo, 1)
	assert.True(t, suizo[0].Date.IsZero())
}

func TestSQLiteStore_ReplaceIsDestructivePerProvider(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.ReplaceAll(ctx, "monroe", []model.Record{{SearchCode: "old-1"}, {SearchCode: "old-2"}})
	require.NoError(t, err)
	_, err = s.ReplaceAll(ctx, "cofarsur", []model.Record{{SearchCode: "keep"}})
	require.NoError(t, err)

	_, err = s.ReplaceAll(ctx, "monroe", []model.Record{{SearchCode: "new"}})
	require.NoError(t, err)

	got, err := s.ListAll(ctx, "monroe")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].SearchCode)

	other, err := s.ListAll(ctx, "cofarsur")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	_, err = s.ReplaceAll(ctx, "monroe", nil)
	require.NoError(t, err)
	got, err = s.ListAll(ctx, "monroe")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_ReplaceAll_CancelledContextKeepsOldRows(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.ReplaceAll(context.Background(), "monroe", []model.Record{{SearchCode: "kept"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReplaceAll(ctx, "monroe", []model.Record{{SearchCode: "lost"}})
	require.Error(t, err)

	got, err := s.ListAll(context.Background(), "monroe")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].SearchCode)
}

func TestSQLiteStore_Branches(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBranch(ctx, "SA10", map[string]string{"monroe_cuenta": "10", "suizo_usuario": "u10"}))
	require.NoError(t, s.PutBranch(ctx, "sa2", map[string]string{"monroe_cuenta": "2"}))
	require.NoError(t, s.PutBranch(ctx, "SB1", map[string]string{"monroe_cuenta": "  "}))
	require.NoError(t, s.PutBranch(ctx, "SA1", map[string]string{"monroe_cuenta": "1", "monroe_software_key": "sw"}))
	require.NoError(t, s.PutBranch(ctx, "SA1", map[string]string{"monroe_ecommerce_key": "ck"}))

	got, err := s.ListEnabledBranches(ctx, "monroe", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"SA1", "SA2", "SA10"}, got)

	capped, err := s.ListEnabledBranches(ctx, "monroe", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"SA1", "SA2"}, capped)

	suizo, err := s.ListEnabledBranches(ctx, "suizo", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"SA10"}, suizo)

	row, err := s.BranchCredentials(ctx, " sa 1 ")
	require.NoError(t, err)
	assert.Equal(t, "1", row["monroe_cuenta"])
	assert.Equal(t, "sw", row["monroe_software_key"])
	assert.Equal(t, "ck", row["monroe_ecommerce_key"])
	assert.Equal(t, "", row["suizo_clave"])

	_, err = s.BranchCredentials(ctx, "SZ9")
	assert.ErrorIs(t, err, credential.ErrBranchNotFound)
}

func TestSQLiteStore_FeedsResolver(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutBranch(ctx, "SA3", map[string]string{
		"cofarsur_usuario": "farm3",
		"cofarsur_clave":   "pw",
		"cofarsur_token":   "tk",
	}))

	r := credential.NewResolver(credential.DefaultSchemas(), nil, s)
	tup, err := r.Resolve(ctx, "cofarsur", "sa3", nil)
	require.NoError(t, err)
	assert.Equal(t, "farm3", tup.Get(credential.Username))
	assert.Equal(t, "tk", tup.Get(credential.StaticToken))
}

func TestFinishBranches(t *testing.T) {
	got := finishBranches([]string{"sb 1", "SA2", "", "SA2", "sa10", "CENTRAL"}, 0)
	assert.Equal(t, []string{"CENTRAL", "SA2", "SA10", "SB1"}, got)
	assert.Equal(t, []string{"CENTRAL"}, finishBranches([]string{"SA1", "CENTRAL"}, 1))
}
