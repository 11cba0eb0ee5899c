package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/output"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

func TestSimulateSlidingWindow(t *testing.T) {
	sim := simulate("upload", "x", ratelimit.Options{Limit: 3, Window: 10 * time.Second}, 4, time.Millisecond)

	require.Len(t, sim.Steps, 4)
	assert.Equal(t, 3, sim.Allowed())
	for i, want := range []int{2, 1, 0} {
		assert.True(t, sim.Steps[i].Allowed)
		assert.Equal(t, want, sim.Steps[i].Remaining)
		assert.Zero(t, sim.Steps[i].RetryAfterMs)
	}
	last := sim.Steps[3]
	assert.False(t, last.Allowed)
	assert.Equal(t, int64(3), last.OffsetMs)
	assert.Equal(t, int64(9997), last.RetryAfterMs)
}

func TestSimulateWindowRecovers(t *testing.T) {
	sim := simulate("share", "k", ratelimit.Options{Limit: 1, Window: time.Second}, 3, 600*time.Millisecond)

	require.Len(t, sim.Steps, 3)
	assert.True(t, sim.Steps[0].Allowed)
	assert.False(t, sim.Steps[1].Allowed)
	assert.Equal(t, int64(1000), sim.Steps[1].RetryAfterMs, "400ms backoff is raised to the floor")
	assert.True(t, sim.Steps[2].Allowed)
}

func TestSimulateNormalizesOptions(t *testing.T) {
	sim := simulate("odd", "k", ratelimit.Options{}, 1, 0)
	assert.Equal(t, 1, sim.Limit)
	assert.Equal(t, time.Minute.Milliseconds(), sim.WindowMs)
}

func TestSimulateStepsBounded(t *testing.T) {
	count, err := simulateSteps(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, count, "default is limit+2")

	count, err = simulateSteps(maxSimulateCount, 3)
	require.NoError(t, err)
	assert.Equal(t, maxSimulateCount, count)

	_, err = simulateSteps(maxSimulateCount+1, 3)
	require.ErrorContains(t, err, "--count must be at most")

	_, err = simulateSteps(1_000_000_000, 3)
	require.Error(t, err, "huge counts are rejected before anything is allocated")

	count, err = simulateSteps(0, 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, maxSimulateCount, count, "a huge configured limit is capped")
}

func TestBuildLimitersAndBucketList(t *testing.T) {
	cfg := &config.Config{Buckets: map[string]config.BucketConfig{
		"upload":   {Limit: 20, Window: time.Minute},
		"classify": {Limit: 10, Window: time.Minute},
	}}

	registry := ratelimit.NewRegistry()
	limiters := buildLimiters(registry, cfg)
	require.Len(t, limiters, 2)
	assert.Equal(t, ratelimit.Options{Limit: 20, Window: time.Minute}, limiters["upload"].Options())
	assert.Equal(t, []string{"classify", "upload"}, registry.Buckets())

	list := bucketList(cfg)
	require.Len(t, list, 2)
	assert.Equal(t, "classify", list[0].Name)

	rendered, err := output.Render(output.FormatJSON, list)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	assert.EqualValues(t, 60000, decoded[1]["window_ms"])
}

func TestBucketsHealthChecker(t *testing.T) {
	registry := ratelimit.NewRegistry()
	registry.Limiter("upload", ratelimit.Options{Limit: 1, Window: time.Second})

	ok := bucketsHealthChecker{registry: registry, expected: []string{"upload"}}
	require.NoError(t, ok.CheckHealth(context.Background()))

	missing := bucketsHealthChecker{registry: registry, expected: []string{"upload", "share"}}
	require.Error(t, missing.CheckHealth(context.Background()))
}

func TestChangedBuckets(t *testing.T) {
	before := &config.Config{Buckets: map[string]config.BucketConfig{
		"upload": {Limit: 20, Window: time.Minute},
		"share":  {Limit: 60, Window: time.Minute},
		"old":    {Limit: 1, Window: time.Second},
	}}
	after := &config.Config{Buckets: map[string]config.BucketConfig{
		"upload": {Limit: 20, Window: time.Minute},
		"share":  {Limit: 30, Window: time.Minute},
		"new":    {Limit: 5, Window: time.Hour},
	}}

	assert.ElementsMatch(t, []string{"share", "new", "old"}, changedBuckets(before, after))
	assert.Empty(t, changedBuckets(before, before))
}

func TestLimiterSelfTest(t *testing.T) {
	require.NoError(t, limiterSelfTest())
}

func TestWriteDenialReset(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDenialReset(output.FormatJSON, &buf, denialResetResult{Matched: 4, Deleted: 4}))

	var decoded denialResetResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, denialResetResult{Matched: 4, Deleted: 4}, decoded)

	buf.Reset()
	require.NoError(t, writeDenialReset(output.FormatTable, &buf, denialResetResult{Matched: 2, DryRun: true}))
	assert.Contains(t, buf.String(), "Would delete 2 denial record(s)")

	buf.Reset()
	require.NoError(t, writeDenialReset(output.FormatYAML, &buf, denialResetResult{Matched: 1, Deleted: 1}))
	assert.Contains(t, buf.String(), "deleted: 1")
}
