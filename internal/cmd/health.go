package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/auditdeck/ratekeeper/internal/errors"
	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the binary can load its configuration and enforce a bucket limit.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info(fmt.Sprintf("✅ Configuration valid (%d buckets)", len(cfg.Buckets)),
			zap.Strings("buckets", cfg.BucketNames()))

		if err := limiterSelfTest(); err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Limiter self-test failed", err)
			return
		}
		logger.Info("✅ Limiter self-test passed")

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// limiterSelfTest runs one admit/deny cycle on a private registry.
func limiterSelfTest() error {
	now := time.Unix(0, 0)
	registry := ratelimit.NewRegistry(ratelimit.WithClock(func() time.Time { return now }))
	limiter := registry.Limiter("self-test", ratelimit.Options{Limit: 1, Window: time.Second})

	if res := limiter.Check("probe"); !res.Allowed || res.Remaining != 0 {
		return errwrap.NewInternalError(fmt.Sprintf("first check: allowed=%t remaining=%d", res.Allowed, res.Remaining))
	}
	res := limiter.Check("probe")
	if res.Allowed || res.RetryAfter < ratelimit.MinRetryAfter {
		return errwrap.NewInternalError(fmt.Sprintf("second check: allowed=%t retry_after=%s", res.Allowed, res.RetryAfter))
	}
	return nil
}
