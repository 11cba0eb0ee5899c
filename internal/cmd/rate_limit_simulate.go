package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditdeck/ratekeeper/internal/output"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

// maxSimulateCount bounds --count; every step is held in memory for the report.
const maxSimulateCount = 100000

var (
	simulateBucket   string
	simulateKey      string
	simulateCount    int
	simulateInterval time.Duration
	simulateLimit    int
	simulateWindow   time.Duration
)

var rateLimitSimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a burst of checks against a bucket",
	Long: `Replay checks for one key against a bucket on a simulated clock.

The bucket comes from the configuration unless --limit and --window are
given. Nothing is shared with a running server.

Examples:
  ratekeeper rate-limit simulate --bucket upload --count 25
  ratekeeper rate-limit simulate --bucket trial --limit 3 --window 10s --interval 1ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket := strings.ToLower(strings.TrimSpace(simulateBucket))
		if bucket == "" {
			return fmt.Errorf("--bucket is required")
		}

		opts := ratelimit.Options{Limit: simulateLimit, Window: simulateWindow}
		if opts.Limit == 0 || opts.Window == 0 {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			configured, ok := cfg.Buckets[bucket]
			if !ok {
				return fmt.Errorf("unknown bucket %q (configured: %s)", bucket, strings.Join(cfg.BucketNames(), ", "))
			}
			if opts.Limit == 0 {
				opts.Limit = configured.Limit
			}
			if opts.Window == 0 {
				opts.Window = configured.Window
			}
		}
		if opts.Limit < 0 || opts.Window < 0 {
			return fmt.Errorf("--limit and --window must not be negative")
		}

		count, err := simulateSteps(simulateCount, opts.Limit)
		if err != nil {
			return err
		}
		if simulateInterval < 0 {
			return fmt.Errorf("--interval must not be negative")
		}

		result := simulate(bucket, simulateKey, opts, count, simulateInterval)
		return writeReport(cmd, "rate-limit.simulate."+bucket, result)
	},
}

func init() {
	addOutputFlags(rateLimitSimulateCmd)
	rateLimitSimulateCmd.Flags().StringVar(&simulateBucket, "bucket", "", "Bucket to simulate")
	rateLimitSimulateCmd.Flags().StringVar(&simulateKey, "key", "simulated-client", "Client key used for every check")
	rateLimitSimulateCmd.Flags().IntVar(&simulateCount, "count", 0, fmt.Sprintf("Number of checks (default limit+2, max %d)", maxSimulateCount))
	rateLimitSimulateCmd.Flags().DurationVar(&simulateInterval, "interval", 100*time.Millisecond, "Simulated time between checks")
	rateLimitSimulateCmd.Flags().IntVar(&simulateLimit, "limit", 0, "Override the bucket limit")
	rateLimitSimulateCmd.Flags().DurationVar(&simulateWindow, "window", 0, "Override the bucket window")
}

// simulateSteps resolves --count. Zero or negative means limit+2; the result
// never exceeds maxSimulateCount.
func simulateSteps(requested, limit int) (int, error) {
	if requested > maxSimulateCount {
		return 0, fmt.Errorf("--count must be at most %d, got %d", maxSimulateCount, requested)
	}
	if requested > 0 {
		return requested, nil
	}
	count := limit + 2
	if count > maxSimulateCount || count < 1 {
		count = maxSimulateCount
	}
	return count, nil
}

// simulate runs count checks on a private registry whose clock advances by
// interval between calls.
func simulate(bucket, key string, opts ratelimit.Options, count int, interval time.Duration) *output.Simulation {
	start := time.Unix(0, 0).UTC()
	now := start
	registry := ratelimit.NewRegistry(ratelimit.WithClock(func() time.Time { return now }))
	limiter := registry.Limiter(bucket, opts)
	effective := limiter.Options()

	sim := &output.Simulation{
		Bucket:   bucket,
		Key:      key,
		Limit:    effective.Limit,
		WindowMs: effective.Window.Milliseconds(),
		Steps:    make([]output.SimulationStep, 0, count),
	}
	for i := 0; i < count; i++ {
		res := limiter.Check(key)
		sim.Steps = append(sim.Steps, output.SimulationStep{
			Index:        i + 1,
			OffsetMs:     now.Sub(start).Milliseconds(),
			Allowed:      res.Allowed,
			Remaining:    res.Remaining,
			RetryAfterMs: res.RetryAfterMs(),
		})
		now = now.Add(interval)
	}
	return sim
}
