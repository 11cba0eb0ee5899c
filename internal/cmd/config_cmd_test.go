package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/output"
)

func TestBuildInitConfigRoundTrips(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	content, err := buildInitConfig(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# ratekeeper config"))
	assert.NotContains(t, string(content), "auth_token")

	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(content)))

	cfg, err := config.Load(context.Background(), v)
	require.NoError(t, err)
	for name, want := range config.DefaultBuckets {
		assert.Equal(t, want, cfg.Buckets[name], "bucket %s", name)
	}
}

func TestRenderConfigRedactsSecrets(t *testing.T) {
	cfg := config.Config{
		Store:   config.StoreConfig{Driver: "libsql", URL: "libsql://audit.example.turso.io", AuthToken: "tok-123"},
		Buckets: map[string]config.BucketConfig{"upload": config.DefaultBuckets["upload"]},
	}

	rendered, err := renderConfig(redactConfig(cfg), output.FormatYAML)
	require.NoError(t, err)
	assert.NotContains(t, rendered, "tok-123")
	assert.Contains(t, rendered, "window: 1m0s")
	assert.Equal(t, "tok-123", cfg.Store.AuthToken, "redaction must not mutate the caller's config")

	rendered, err = renderConfig(cfg, output.FormatJSON)
	require.NoError(t, err)
	assert.NotContains(t, rendered, "tok-123")

	_, err = renderConfig(cfg, output.FormatTable)
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-01-01")
	t.Cleanup(func() { SetVersionInfo("", "", "") })

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	extended = false
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "ratekeeper 1.2.3\n", buf.String())

	buf.Reset()
	extended = true
	t.Cleanup(func() { extended = false })
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, buf.String(), "Commit: abc123")
	assert.Contains(t, buf.String(), "Gofulmen:")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512 bytes", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "never", formatTimeAgo(time.Time{}))
	assert.Equal(t, "2 hours", plural(2, "hour"))
	assert.Equal(t, "1 day", plural(1, "day"))
}
