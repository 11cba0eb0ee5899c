//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestOpenMemoryStore(t *testing.T) {
	s := openMemoryStore(t)
	require.Equal(t, "libsql", s.Driver())
	require.NoError(t, s.CheckHealth(context.Background()))
	require.NoError(t, s.Migrate(context.Background()), "migrations are idempotent")
}

func TestOpenLocalStore_ConfiguresSQLite(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{
		Driver: "libsql",
		Path:   "file:" + t.TempDir() + "/ratekeeper.db",
	})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Equal(t, 1, s.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.GreaterOrEqual(t, busyTimeout, 1000)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestDenialLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openMemoryStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	denials := []ratelimit.Denial{
		{Bucket: "upload", Key: "10.0.0.1", At: base, RetryAfter: 9997 * time.Millisecond},
		{Bucket: "upload", Key: "10.0.0.1", At: base.Add(time.Second), RetryAfter: 8 * time.Second},
		{Bucket: "upload", Key: "10.0.0.2", At: base.Add(2 * time.Second), RetryAfter: time.Second},
		{Bucket: "classify", Key: "user-9", At: base.Add(3 * time.Second), RetryAfter: 30 * time.Second},
	}
	for _, d := range denials {
		require.NoError(t, s.RecordDenial(ctx, d))
	}

	t.Run("list newest first", func(t *testing.T) {
		records, err := s.ListDenials(ctx, DenialQuery{All: true})
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, "classify", records[0].Bucket)
		assert.Equal(t, base, records[3].DeniedAt)
		assert.Equal(t, 9997*time.Millisecond, records[3].RetryAfter)
	})

	t.Run("filters", func(t *testing.T) {
		records, err := s.ListDenials(ctx, DenialQuery{Bucket: "upload", Limit: 2})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "10.0.0.2", records[0].Key)

		count, err := s.CountDenials(ctx, DenialQuery{Prefix: "10.0.0."})
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		count, err = s.CountDenials(ctx, DenialQuery{All: true, Since: base.Add(2 * time.Second)})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("summary", func(t *testing.T) {
		summaries, err := s.SummarizeDenials(ctx, DenialQuery{All: true})
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, DenialSummary{
			Bucket:       "upload",
			Denials:      3,
			DistinctKeys: 2,
			LastDeniedAt: base.Add(2 * time.Second),
		}, summaries[1])
	})

	t.Run("prune and reset", func(t *testing.T) {
		pruned, err := s.PruneDenials(ctx, base.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		removed, err := s.ResetDenials(ctx, DenialQuery{Bucket: "upload"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		_, err = s.ResetDenials(ctx, DenialQuery{})
		require.Error(t, err, "unscoped reset must be rejected")

		count, err := s.CountDenials(ctx, DenialQuery{All: true})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestAuditRecorderWritesToStore(t *testing.T) {
	ctx := context.Background()
	s := openMemoryStore(t)

	recorder := NewAuditRecorder(s, 8)
	recorder.Record(ratelimit.Denial{Bucket: "share", Key: "link-1", At: time.Now(), RetryAfter: time.Second})
	require.NoError(t, recorder.Close(ctx))

	count, err := s.CountDenials(ctx, DenialQuery{Bucket: "share"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
