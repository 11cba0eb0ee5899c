package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/store"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)

	require.Equal(t, ".md", FormatMarkdown.Extension())
	require.Equal(t, ".txt", FormatTable.Extension())
}

func TestRenderBuckets(t *testing.T) {
	buckets := BucketList{
		{Name: "classify", Limit: 10, Window: time.Minute},
		{Name: "export", Limit: 1, Window: 3 * time.Minute},
	}

	rendered, err := Render(FormatTable, buckets)
	require.NoError(t, err)
	require.Contains(t, rendered, "BUCKET")
	require.Contains(t, rendered, "classify")
	require.Contains(t, rendered, "10/min")
	require.Contains(t, rendered, "0.33/min")

	rendered, err = Render(FormatJSON, buckets)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.EqualValues(t, 60000, decoded[0]["window_ms"])

	rendered, err = Render(FormatYAML, buckets)
	require.NoError(t, err)
	require.Contains(t, rendered, "window_ms: 180000")
}

func TestRenderSimulation(t *testing.T) {
	sim := &Simulation{
		Bucket:   "upload",
		Key:      "x",
		Limit:    3,
		WindowMs: 10000,
		Steps: []SimulationStep{
			{Index: 1, OffsetMs: 0, Allowed: true, Remaining: 2},
			{Index: 2, OffsetMs: 1, Allowed: true, Remaining: 1},
			{Index: 3, OffsetMs: 2, Allowed: true, Remaining: 0},
			{Index: 4, OffsetMs: 3, Allowed: false, RetryAfterMs: 9997},
		},
	}
	require.Equal(t, 3, sim.Allowed())

	rendered, err := Render(FormatTable, sim)
	require.NoError(t, err)
	require.Contains(t, rendered, "9997ms")
	require.Contains(t, strings.ToLower(rendered), "3/4 allowed")

	rendered, err = Render(FormatMarkdown, sim)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "## upload"))
	require.Contains(t, rendered, "| denied |")
}

func TestRenderDenials(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	denials := DenialList{
		{ID: 7, Bucket: "share", Key: "203.0.113.5", DeniedAt: at, RetryAfter: 1500 * time.Millisecond},
	}

	rendered, err := Render(FormatTable, denials)
	require.NoError(t, err)
	require.Contains(t, rendered, "203.0.113.5")
	require.Contains(t, rendered, "1500ms")
	require.Contains(t, strings.ToLower(rendered), "1 denials")

	summary := DenialSummaryList{
		{Bucket: "share", Denials: 4, DistinctKeys: 2, LastDeniedAt: at},
		{Bucket: "upload", Denials: 1, DistinctKeys: 1},
	}
	rendered, err = Render(FormatTable, summary)
	require.NoError(t, err)
	require.Contains(t, rendered, "2025-06-01T12:00:00Z")
	require.Contains(t, rendered, "TOTAL")

	rendered, err = Render(FormatJSON, summary)
	require.NoError(t, err)
	var decoded []store.DenialSummary
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, 4, decoded[0].Denials)
}
