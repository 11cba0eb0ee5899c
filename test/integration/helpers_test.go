package integration

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
	"github.com/auditdeck/ratekeeper/internal/server"
	"github.com/auditdeck/ratekeeper/internal/server/handlers"
	servermw "github.com/auditdeck/ratekeeper/internal/server/middleware"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip starts the exporter on a random port, skipping when the
// environment forbids network binds.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics(config.MetricsConfig{Enabled: true, Port: 0}, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

func initLoggers() {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", config.LoggingConfig{Level: "info"}, "test")
}

// testBuckets mirrors what serve builds from config.
func testBuckets(buckets map[string]ratelimit.Options) (*ratelimit.Registry, map[string]*ratelimit.Limiter) {
	registry := ratelimit.NewRegistry()
	limiters := make(map[string]*ratelimit.Limiter, len(buckets))
	for name, opts := range buckets {
		limiters[name] = registry.Limiter(name, opts)
	}
	return registry, limiters
}

// newTestServer binds to IPv4 loopback explicitly (avoiding IPv6-only defaults)
// and skips when the sandbox refuses to open sockets.
func newTestServer(t *testing.T, cfg config.ServerConfig, opts server.Options) (*httptest.Server, *http.Client) {
	t.Helper()
	if opts.Health == nil {
		opts.Health = handlers.NewHealthManager("test")
	}
	srv := server.New(cfg, opts)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

// recorderFunc adapts a function to the denial recorder interface.
type recorderFunc func(ratelimit.Denial)

func (f recorderFunc) Record(d ratelimit.Denial) { f(d) }

var _ servermw.DenialRecorder = recorderFunc(nil)
