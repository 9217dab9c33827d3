package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apigw/internal/constants"
)

// openTempStore opens a SQLite store in a temporary directory.
func openTempStore(t *testing.T, retention int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), DbFileName)
	st, err := Open(context.Background(), Config{
		Driver:       DriverSqlite,
		DriverConfig: &SqliteConfig{Path: path},
		Retention:    retention,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleRun(entity string, status int) Run {
	return Run{
		EntityID:   entity,
		State:      "succeeded",
		StatusCode: status,
		Primary:    "success",
		Related:    "transient/connection",
		Stats:      "success",
		DurationMS: 12,
	}
}

func TestOpen_EnsureIsIdempotent(t *testing.T) {
	st := openTempStore(t, 0)
	require.NoError(t, st.Ensure(context.Background()))

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, DriverSqlite, st.Driver())
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	st := openTempStore(t, 0)

	for i := 1; i <= 3; i++ {
		run := sampleRun(fmt.Sprint(i), 200)
		if i == 2 {
			run.RequestID = "req-2"
			run.Cached = true
		}
		require.NoError(t, st.Record(ctx, run))
	}

	runs, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "3", runs[0].EntityID, "newest first")
	assert.Equal(t, "1", runs[2].EntityID)

	second := runs[1]
	assert.Equal(t, "req-2", second.RequestID)
	assert.True(t, second.Cached)
	assert.Equal(t, "transient/connection", second.Related)
	assert.Len(t, second.ID, 36)
	_, err = time.Parse(time.RFC3339Nano, second.RanAt)
	assert.NoError(t, err)

	assert.Empty(t, runs[0].RequestID)
	assert.False(t, runs[0].Cached)

	limited, err := st.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRecord_KeepsProvidedIDAndTime(t *testing.T) {
	ctx := context.Background()
	st := openTempStore(t, 0)

	run := sampleRun("7", 404)
	run.ID = "6f1c2a0e-0000-4000-8000-000000000001"
	run.RanAt = "2024-05-01T10:00:00.5Z"
	require.NoError(t, st.Record(ctx, run))

	runs, err := st.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, run.RanAt, runs[0].RanAt)
	assert.Equal(t, 404, runs[0].StatusCode)

	// duplicate ids are rejected
	assert.Error(t, st.Record(ctx, run))
}

func TestRecord_InvalidTime(t *testing.T) {
	st := openTempStore(t, 0)
	run := sampleRun("1", 200)
	run.RanAt = "yesterday"
	assert.Error(t, st.Record(context.Background(), run))
}

func TestRetentionPrunes(t *testing.T) {
	ctx := context.Background()
	st := openTempStore(t, 10)

	for i := 0; i < pruneEvery+5; i++ {
		require.NoError(t, st.Record(ctx, sampleRun(fmt.Sprint(i), 200)))
	}
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	deleted, err := st.Prune(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)

	runs, err := st.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, fmt.Sprint(pruneEvery+4), runs[0].EntityID)
}

func TestNilStoreIsDisabled(t *testing.T) {
	var st *Store
	ctx := context.Background()

	assert.True(t, errors.Is(st.Record(ctx, Run{}), ErrDisabled))
	_, err := st.List(ctx, 1)
	assert.True(t, errors.Is(err, ErrDisabled))
	_, err = st.Count(ctx)
	assert.True(t, errors.Is(err, ErrDisabled))
	assert.NoError(t, st.Close())
	assert.Empty(t, st.Driver())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: DriverPostgresql, DriverConfig: &PostgresConfig{}})
	assert.Error(t, err, "postgres without dsn must fail validation")

	_, err = Open(context.Background(), Config{
		Driver:       DriverSqlite,
		DriverConfig: &SqliteConfig{Path: filepath.Join(t.TempDir(), "x.db")},
		TableNames:   TableNames{Runs: "runs; DROP TABLE x"},
	})
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, constants.DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, constants.DefaultHistoryLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, constants.MaxHistoryLimit, ClampLimit(constants.MaxHistoryLimit+1))
}
