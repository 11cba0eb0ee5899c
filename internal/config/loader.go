// Package config provides centralized configuration management for ratekeeper.
//
// Layer 1: built-in defaults (config/ratekeeper/v0/ratekeeper-defaults.yaml)
// Layer 2: user config file, RATEKEEPER_* environment variables and bound flags (viper)
// Layer 3: runtime overrides passed to Load
//
// gofulmen/config merges the layers and validates the result against the
// ratekeeper/v0/config schema before it is decoded into Config.
package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/pathfinder"
	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/auditdeck/ratekeeper/internal/appid"
	"github.com/auditdeck/ratekeeper/internal/assets/configfiles"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// DefaultBuckets are the buckets the SaaS routes rely on out of the box, as
// declared in the defaults file.
var DefaultBuckets = mustDefaultBuckets()

// SetDefaults registers every leaf of the defaults file on v so environment
// variables resolve for each key.
func SetDefaults(v *viper.Viper) {
	defaults, err := embeddedDefaults()
	if err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	setDefaultLeaves(v, "", defaults)
	v.SetDefault("store.path", DefaultStorePath())
}

func setDefaultLeaves(v *viper.Viper, prefix string, node map[string]any) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setDefaultLeaves(v, path, nested)
			continue
		}
		v.SetDefault(path, value)
	}
}

// BindEnv wires environment variables under the app identity prefix into v.
// Nested keys map with "_" separators: RATEKEEPER_BUCKETS_UPLOAD_LIMIT.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(strings.TrimSuffix(appid.EnvPrefix(context.Background()), "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load layers the settings held by v and any runtime overrides over the
// built-in defaults, validates the merged document against the config schema
// and decodes it into a typed Config. The result becomes the current config
// returned by GetConfig.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	root, err := assetRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to locate config defaults: %w", err)
	}

	layers := make([]map[string]any, 0, len(runtimeOverrides)+1)
	layers = append(layers, v.AllSettings())
	for _, overrides := range runtimeOverrides {
		if overrides == nil {
			continue
		}
		// viper lowercases keys; route overrides through it so they line up.
		layer := viper.New()
		if err := layer.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
		layers = append(layers, layer.AllSettings())
	}

	merged, diags, err := gfconfig.LoadLayeredConfig(gfconfig.LayeredConfigOptions{
		Category:     configfiles.Category,
		Version:      configfiles.Version,
		DefaultsFile: configfiles.DefaultsFile,
		SchemaID:     configfiles.SchemaID,
		DefaultsRoot: filepath.Join(root, "config"),
		Catalog:      schema.NewCatalog(filepath.Join(root, "schemas")),
	}, layers...)
	if err != nil {
		return nil, err
	}
	if len(diags) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(schema.DiagnosticsToStringSlice(diags), "; "))
	}

	cfg := &Config{}
	if err := decode(merged, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = 256
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	setConfig(cfg)

	return cfg, nil
}

func decode(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// assetRoot returns a directory holding config/ and schemas/ in the layout
// gofulmen/config reads. Inside a checkout that is the source tree, so edits
// apply without a rebuild; elsewhere the embedded copy is written to the
// user cache directory.
func assetRoot() (string, error) {
	if root, err := findProjectRoot(); err == nil {
		dir := filepath.Join(root, "internal", "assets", "configfiles")
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(configfiles.DefaultsPath))); err == nil {
			return dir, nil
		}
	}
	return materializeAssets()
}

// findProjectRoot walks up from the working directory to the nearest go.mod
// or .git, bounded by pathfinder's home-directory ceiling.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	opts := []pathfinder.FindOption{pathfinder.WithMaxDepth(10)}
	if isCI() {
		for _, key := range []string{"GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
			boundary := strings.TrimSpace(os.Getenv(key))
			if boundary != "" && filepath.IsAbs(boundary) {
				opts = append(opts, pathfinder.WithBoundary(filepath.Clean(boundary)))
				break
			}
		}
	}
	return pathfinder.FindRepositoryRoot(cwd, []string{"go.mod", ".git"}, opts...)
}

func isCI() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true") ||
		strings.EqualFold(strings.TrimSpace(os.Getenv("CI")), "true")
}

// materializeAssets writes the embedded config/ and schemas/ trees under the
// app cache directory and returns it. Files are rewritten on every call so an
// upgraded binary never validates against a stale schema.
func materializeAssets() (string, error) {
	configName, _ := appid.Names(context.Background())
	dir := filepath.Join(gfconfig.GetAppCacheDir(configName), "config-assets")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(os.TempDir(), configName+"-config-assets")
	}

	err := fs.WalkDir(configfiles.FS, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		data, err := configfiles.FS.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o600)
	})
	if err != nil {
		return "", fmt.Errorf("write config assets to %s: %w", dir, err)
	}
	return dir, nil
}

func embeddedDefaults() (map[string]any, error) {
	raw, err := configfiles.FS.ReadFile(configfiles.DefaultsPath)
	if err != nil {
		return nil, err
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}

func mustDefaultBuckets() map[string]BucketConfig {
	defaults, err := embeddedDefaults()
	if err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	buckets := map[string]BucketConfig{}
	if err := decode(defaults["buckets"], &buckets); err != nil {
		panic(fmt.Sprintf("embedded default buckets: %v", err))
	}
	return buckets
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	configName, _ := appid.Names(context.Background())
	return gfconfig.GetAppConfigDir(configName)
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appid.Names(context.Background())
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	_, binaryName := appid.Names(context.Background())
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}
