package appid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appidentityassets "github.com/auditdeck/ratekeeper/internal/assets/appidentity"
)

func prepareIdentityForTest(t *testing.T) {
	t.Helper()

	// Reset clears both the process cache and the embedded registration.
	appidentity.Reset()
	require.NoError(t, appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML))
	t.Cleanup(func() {
		appidentity.Reset()
		_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
	})
}

func chdirOutsideRepo(t *testing.T) {
	t.Helper()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	require.NoError(t, os.Chdir(t.TempDir()))
}

func TestGet_EmbeddedIdentityFallbackOutsideRepo(t *testing.T) {
	prepareIdentityForTest(t)
	t.Setenv(appidentity.EnvIdentityPath, "")
	chdirOutsideRepo(t)

	identity, err := Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ratekeeper", identity.BinaryName)
	assert.Equal(t, "RATEKEEPER_", identity.EnvPrefix)
	assert.Equal(t, "ratekeeper", identity.ConfigName)
	assert.Equal(t, "ratekeeper", identity.TelemetryNamespace())
	assert.NotEmpty(t, identity.Description)
}

func TestGet_EnvVarRemainsAuthoritative(t *testing.T) {
	prepareIdentityForTest(t)

	missing := filepath.Join(t.TempDir(), "missing-app.yaml")
	t.Setenv(appidentity.EnvIdentityPath, missing)

	_, err := Get(context.Background())
	require.Error(t, err)

	var notFound *appidentity.NotFoundError
	require.True(t, errors.As(err, &notFound), "expected NotFoundError, got %T: %v", err, err)
}

func TestGet_IdentityFileOverridesEmbedded(t *testing.T) {
	prepareIdentityForTest(t)

	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`app:
  binary_name: ratekeeper-edge
  vendor: auditdeck
  env_prefix: EDGE_
  config_name: ratekeeper-edge
  description: Edge deployment of the rate limiter
`), 0o600))
	t.Setenv(appidentity.EnvIdentityPath, path)

	identity, err := Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EDGE_", identity.EnvPrefix)

	configName, binaryName := Names(context.Background())
	assert.Equal(t, "ratekeeper-edge", configName)
	assert.Equal(t, "ratekeeper-edge", binaryName)
	assert.Equal(t, "EDGE_", EnvPrefix(context.Background()))
}

func TestNamesFallBackWhenDiscoveryFails(t *testing.T) {
	prepareIdentityForTest(t)
	t.Setenv(appidentity.EnvIdentityPath, filepath.Join(t.TempDir(), "missing.yaml"))

	configName, binaryName := Names(context.Background())
	assert.Equal(t, FallbackName, configName)
	assert.Equal(t, FallbackName, binaryName)
	assert.Equal(t, "RATEKEEPER_", EnvPrefix(context.Background()))
}

func TestEnv(t *testing.T) {
	identity := appidentity.NewFixture(func(id *appidentity.Identity) {
		id.EnvPrefix = "RATEKEEPER_"
	})
	t.Setenv("RATEKEEPER_ADMIN_TOKEN", "  secret ")

	assert.Equal(t, "secret", Env(identity, "ADMIN_TOKEN"))
	assert.Equal(t, "secret", Env(nil, "ADMIN_TOKEN"))
}
