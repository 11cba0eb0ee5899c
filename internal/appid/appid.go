// Package appid resolves the ratekeeper application identity through
// gofulmen/appidentity, backed by the compiled-in copy in internal/assets.
package appid

import (
	"context"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/auditdeck/ratekeeper/internal/assets/appidentity"
)

// FallbackName is used for paths and help text when identity discovery fails.
const FallbackName = "ratekeeper"

func init() {
	// Installed binaries have no .fulmen/app.yaml next to them.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the application identity. FULMEN_APP_IDENTITY_PATH and a
// .fulmen/app.yaml found above the working directory take precedence over the
// embedded identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// Names returns the config and binary names, falling back to FallbackName.
func Names(ctx context.Context) (configName string, binaryName string) {
	configName, binaryName = FallbackName, FallbackName
	identity, err := Get(ctx)
	if err != nil || identity == nil {
		return configName, binaryName
	}
	if strings.TrimSpace(identity.ConfigName) != "" {
		configName = identity.ConfigName
	}
	if strings.TrimSpace(identity.BinaryName) != "" {
		binaryName = identity.BinaryName
	}
	return configName, binaryName
}

// EnvPrefix returns the identity's environment prefix, e.g. "RATEKEEPER_".
func EnvPrefix(ctx context.Context) string {
	if identity, err := Get(ctx); err == nil && identity != nil && identity.EnvPrefix != "" {
		return identity.EnvPrefix
	}
	return strings.ToUpper(FallbackName) + "_"
}

// Env reads name under the identity's environment prefix.
func Env(identity *appidentity.Identity, name string) string {
	key := strings.ToUpper(FallbackName) + "_" + name
	if identity != nil && identity.EnvPrefix != "" {
		key = identity.EnvVar(name)
	}
	return strings.TrimSpace(os.Getenv(key))
}
