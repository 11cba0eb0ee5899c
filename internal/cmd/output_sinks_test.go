package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/output"
)

func newReportCommand(t *testing.T, flags map[string]string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	c := &cobra.Command{Use: "report"}
	addOutputFlags(c)
	for name, value := range flags {
		require.NoError(t, c.Flags().Set(name, value))
	}
	var buf bytes.Buffer
	c.SetOut(&buf)
	return c, &buf
}

func sampleBuckets() output.BucketList {
	return output.BucketList{{Name: "upload", Limit: 20, Window: time.Minute}}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "rate-limit.denials", sanitizeFilename(" Rate-Limit.Denials "))
	assert.Equal(t, "a-b", sanitizeFilename("a / b"))
	assert.Equal(t, "output", sanitizeFilename("///"))
}

func TestResolveOutputTargetsExclusive(t *testing.T) {
	c, _ := newReportCommand(t, map[string]string{"out": "a.json", "out-dir": "reports"})
	_, _, err := resolveOutputTargets(c)
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestWriteReportStdout(t *testing.T) {
	c, buf := newReportCommand(t, map[string]string{"output-format": "json"})
	require.NoError(t, writeReport(c, "rate-limit.buckets", sampleBuckets()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "upload", decoded[0]["name"])
}

func TestWriteReportOutDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	c, buf := newReportCommand(t, map[string]string{"output-format": "markdown", "out-dir": dir})
	require.NoError(t, writeReport(c, "rate-limit.buckets", sampleBuckets()))
	assert.Empty(t, buf.String())

	data, err := os.ReadFile(filepath.Join(dir, "rate-limit.buckets.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Buckets")
	assert.Contains(t, string(data), "| upload |")
}

func TestWriteReportOutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "buckets.yaml")
	c, _ := newReportCommand(t, map[string]string{"output-format": "yaml", "out": path})
	require.NoError(t, writeReport(c, "ignored", sampleBuckets()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "window_ms: 60000")
}

func TestWriteReportRejectsUnknownFormat(t *testing.T) {
	c, _ := newReportCommand(t, map[string]string{"output-format": "xml"})
	require.Error(t, writeReport(c, "x", sampleBuckets()))
}
