package cmd

import (
	"github.com/spf13/cobra"

	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/output"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect buckets and audited denials",
}

var rateLimitBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List configured buckets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return writeReport(cmd, "rate-limit.buckets", bucketList(cfg))
	},
}

func init() {
	addOutputFlags(rateLimitBucketsCmd)

	rateLimitCmd.AddCommand(rateLimitBucketsCmd)
	rateLimitCmd.AddCommand(rateLimitSimulateCmd)
	rateLimitCmd.AddCommand(rateLimitDenialsCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// buildLimiters registers one limiter per configured bucket.
func buildLimiters(registry *ratelimit.Registry, cfg *config.Config) map[string]*ratelimit.Limiter {
	opts := cfg.BucketOptions()
	limiters := make(map[string]*ratelimit.Limiter, len(opts))
	for _, name := range cfg.BucketNames() {
		limiter := registry.Limiter(name, opts[name])
		limiters[limiter.Name()] = limiter
	}
	return limiters
}

func bucketList(cfg *config.Config) output.BucketList {
	rows := make(output.BucketList, 0, len(cfg.Buckets))
	for _, name := range cfg.BucketNames() {
		bucket := cfg.Buckets[name]
		rows = append(rows, output.BucketRow{Name: name, Limit: bucket.Limit, Window: bucket.Window})
	}
	return rows
}
