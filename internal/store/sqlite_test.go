package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Ingests ---

func TestSQLite_CreateIngestAndLoadRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	header := []string{"과정명", "훈련기관", "수강신청인원"}
	rows := []map[string]string{
		{"과정명": "자바 웹개발", "훈련기관": "이젠컴퓨터학원", "수강신청인원": "20"},
		{"과정명": "파이썬 기초", "훈련기관": "멀티캠퍼스", "수강신청인원": "1,200"},
	}

	in, err := st.CreateIngest(ctx, "2024.csv", header, rows)
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, 2, in.RowCount)

	loaded, err := st.LoadRows(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, rows, loaded)

	latest, err := st.LatestIngest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, in.ID, latest.ID)
	assert.Equal(t, header, latest.Header)
	assert.Equal(t, "2024.csv", latest.Source)
}

func TestSQLite_LatestIngest_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	latest, err := st.LatestIngest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLite_ListIngests_NewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateIngest(ctx, "a.csv", []string{"과정명"}, nil)
	require.NoError(t, err)
	second, err := st.CreateIngest(ctx, "b.csv", []string{"과정명"}, []map[string]string{{"과정명": "x"}})
	require.NoError(t, err)

	list, err := st.ListIngests(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	list, err = st.ListIngests(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLite_LoadRows_UnknownIngest(t *testing.T) {
	st := newTestSQLiteStore(t)

	rows, err := st.LoadRows(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// --- Stats cache ---

func TestSQLite_StatsCache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedStats(ctx, "stats:course:all:current:all", []byte(`[1]`), time.Hour))

	data, err := st.GetCachedStats(ctx, "stats:course:all:current:all")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(data))
}

func TestSQLite_StatsCache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	data, err := st.GetCachedStats(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLite_StatsCache_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedStats(ctx, "old", []byte(`{}`), -time.Hour))

	data, err := st.GetCachedStats(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, data)

	n, err := st.DeleteExpiredStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_StatsCache_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedStats(ctx, "k", []byte(`"original"`), time.Hour))
	require.NoError(t, st.SetCachedStats(ctx, "k", []byte(`"updated"`), time.Hour))

	data, err := st.GetCachedStats(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"updated"`, string(data))
}

func TestSQLite_StatsCache_DeletePrefix(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, k := range []string{
		"stats:course:all:current:all",
		"stats:course:2024:max:all",
		"stats:institution:all:current:all",
		"stats:course_x:all:current:all",
	} {
		require.NoError(t, st.SetCachedStats(ctx, k, []byte(`1`), time.Hour))
	}

	n, err := st.DeleteCachedStats(ctx, "stats:course:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := st.GetCachedStats(ctx, "stats:institution:all:current:all")
	require.NoError(t, err)
	assert.NotNil(t, data)

	n, err = st.DeleteCachedStats(ctx, "stats:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `stats:%`, likePrefix("stats:"))
	assert.Equal(t, `stats:leading\_company:%`, likePrefix("stats:leading_company:"))
	assert.Equal(t, `a\%b\\%`, likePrefix(`a%b\`))
}
