package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	since, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, since.IsZero())

	since, err = parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), since)

	since, err = parseSince("2025-05-30T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC), since)

	_, err = parseSince("-1h", now)
	require.Error(t, err)

	_, err = parseSince("yesterday", now)
	require.ErrorContains(t, err, "RFC3339")
}

func TestDenialFilterQuery(t *testing.T) {
	now := time.Now()

	t.Run("read commands default to all", func(t *testing.T) {
		q, err := (&denialFilter{}).query(now, true)
		require.NoError(t, err)
		assert.True(t, q.All)
	})

	t.Run("bucket scope is not widened", func(t *testing.T) {
		q, err := (&denialFilter{bucket: " upload ", limit: 10}).query(now, true)
		require.NoError(t, err)
		assert.False(t, q.All)
		assert.Equal(t, "upload", q.Bucket)
		assert.Equal(t, 10, q.Limit)
	})

	t.Run("destructive commands require a scope", func(t *testing.T) {
		_, err := (&denialFilter{}).query(now, false)
		require.Error(t, err)
	})

	t.Run("since is applied", func(t *testing.T) {
		q, err := (&denialFilter{prefix: "tenant-", since: "1h"}).query(now, false)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-time.Hour), q.Since)
	})

	t.Run("negative limit rejected", func(t *testing.T) {
		_, err := (&denialFilter{all: true, limit: -1}).query(now, false)
		require.Error(t, err)
	})
}
