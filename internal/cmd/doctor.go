package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/auditdeck/ratekeeper/internal/appid"
	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/store"
)

var (
	doctorInitForce   bool
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation, configuration and audit store.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		identity := GetAppIdentity()
		logger.Info("=== " + identity.BinaryName + " doctor ===")
		logger.Info("")

		allChecks := true
		const totalChecks = 6
		step := func(n int, label string) string {
			return fmt.Sprintf("[%d/%d] Checking %s...", n, totalChecks, label)
		}

		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			logger.Info(step(1, "Go version")+" ✅ "+goVersion, zap.String("go_version", goVersion))
		} else {
			logger.Warn(step(1, "Go version")+" ⚠️  "+goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
			allChecks = false
		}

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			logger.Info(fmt.Sprintf("%s ✅ gofulmen v%s, crucible v%s", step(2, "Fulmen libraries"), version.Gofulmen, version.Crucible))
		} else {
			logger.Warn(step(2, "Fulmen libraries") + " ⚠️  version metadata unavailable")
			allChecks = false
		}

		if dir := config.DefaultConfigDir(); dir != "" {
			logger.Info(fmt.Sprintf("%s ✅ %s (%s)", step(3, "config directory"), dir, existenceStatus(fileExists(dir))),
				zap.String("config_dir", dir))
		} else {
			logger.Error(step(3, "config directory") + " ❌ cannot resolve config directory")
			allChecks = false
		}

		cfg, cfgErr := loadConfig(cmd)
		if cfgErr != nil {
			logger.Error(step(4, "configuration")+" ❌ invalid", zap.Error(cfgErr))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("%s ✅ %d buckets", step(4, "configuration"), len(cfg.Buckets)),
				zap.Strings("buckets", cfg.BucketNames()))
		}

		switch {
		case cfgErr != nil:
			logger.Warn(step(5, "audit store") + " ⚠️  skipped (config not loaded)")
		case !cfg.Audit.Enabled:
			logger.Info(step(5, "audit store") + " ✅ disabled")
		default:
			if err := checkAuditStore(cmd.Context(), cfg, func(line string) { logger.Info(line) }); err != nil {
				logger.Warn(step(5, "audit store")+" ⚠️  unavailable", zap.Error(err))
				allChecks = false
			} else {
				logger.Info(step(5, "audit store") + " ✅ reachable")
			}
		}

		if appid.Env(identity, "ADMIN_TOKEN") != "" {
			logger.Info(step(6, "admin endpoints") + " ✅ enabled")
		} else {
			logger.Info(step(6, "admin endpoints") + " ✅ disabled (" + identity.EnvVar("ADMIN_TOKEN") + " not set)")
		}

		logger.Info("")
		if allChecks {
			logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", identity.BinaryName))
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		logger.Info("")
		logger.Info("=== End Diagnostics ===")
	},
}

// checkAuditStore opens the configured store and reports its size and contents.
func checkAuditStore(ctx context.Context, cfg *config.Config, report func(string)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.Store.URL) == "" {
		absPath, _ := filepath.Abs(cfg.Store.Path)
		if info, err := os.Stat(absPath); err == nil {
			report(fmt.Sprintf("       database: %s (%s)", absPath, formatFileSize(info.Size())))
		} else if os.IsNotExist(err) {
			report(fmt.Sprintf("       database: %s (not created yet)", absPath))
		}
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	summaries, err := db.SummarizeDenials(ctx, store.DenialQuery{All: true})
	if err != nil {
		return err
	}
	var total int
	var last time.Time
	for _, s := range summaries {
		total += s.Denials
		if s.LastDeniedAt.After(last) {
			last = s.LastDeniedAt
		}
	}
	report(fmt.Sprintf("       denials: %d recorded, last %s", total, formatTimeAgo(last)))
	return nil
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		content, err := buildInitConfig(cmd.Context())
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, content, 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or the local audit database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			if err := removeIfExists("Config", config.DefaultConfigPath()); err != nil {
				return err
			}
		}

		if doctorResetData {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}
			absPath, _ := filepath.Abs(cfg.Store.Path)
			if err := removeIfExists("Database", absPath); err != nil {
				return err
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			return fmt.Errorf("no config file found (expected %s)", config.DefaultConfigPath())
		}

		if _, err := loadConfig(cmd); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local audit database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// buildInitConfig renders the built-in defaults as a starter config file.
func buildInitConfig(ctx context.Context) ([]byte, error) {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(ctx, v)
	if err != nil {
		return nil, err
	}

	starter := struct {
		Server  config.ServerConfig            `yaml:"server"`
		Logging config.LoggingConfig           `yaml:"logging"`
		Metrics config.MetricsConfig           `yaml:"metrics"`
		Audit   config.AuditConfig             `yaml:"audit"`
		Buckets map[string]config.BucketConfig `yaml:"buckets"`
	}{cfg.Server, cfg.Logging, cfg.Metrics, cfg.Audit, cfg.Buckets}

	body, err := yaml.Marshal(starter)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	_, binaryName := appid.Names(ctx)
	header := fmt.Sprintf("# %s config - created by '%s doctor init'\n", binaryName, binaryName)
	return append([]byte(header), body...), nil
}

func removeIfExists(label, path string) error {
	logger := observability.CLILogger
	if path == "" {
		logger.Warn(label + " path not resolved; skipping")
		return nil
	}
	err := os.Remove(path)
	switch {
	case err == nil:
		logger.Info(label+" removed", zap.String("path", path))
	case os.IsNotExist(err):
		logger.Info(label+" already removed", zap.String("path", path))
	default:
		return fmt.Errorf("remove %s: %w", strings.ToLower(label), err)
	}
	return nil
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	default:
		return plural(int(d.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}
