package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auditdeck/ratekeeper/internal/metrics"
	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

const maintenanceInterval = time.Minute

// denialPruner deletes audit records older than a cutoff.
type denialPruner interface {
	PruneDenials(ctx context.Context, before time.Time) (int64, error)
}

// maintenance publishes per-bucket gauges and enforces audit retention.
type maintenance struct {
	registry  *ratelimit.Registry
	pruner    denialPruner
	retention time.Duration
	now       func() time.Time
}

func (m *maintenance) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick performs one maintenance pass.
func (m *maintenance) tick(ctx context.Context) {
	for _, name := range m.registry.Buckets() {
		if stats, ok := m.registry.Stats(name); ok {
			metrics.SetTrackedKeys(name, stats.TrackedKeys)
		}
	}

	if m.pruner == nil || m.retention <= 0 {
		return
	}

	now := time.Now
	if m.now != nil {
		now = m.now
	}
	cutoff := now().Add(-m.retention)
	pruned, err := m.pruner.PruneDenials(ctx, cutoff)
	if err != nil {
		if logger := observability.Logger(); logger != nil {
			logger.Warn("Denial retention prune failed", zap.Error(err))
		}
		return
	}
	metrics.SetDenialsPruned(pruned)
	if pruned > 0 {
		if logger := observability.Logger(); logger != nil {
			logger.Info("Pruned expired denials",
				zap.Int64("count", pruned),
				zap.Time("cutoff", cutoff))
		}
	}
}
