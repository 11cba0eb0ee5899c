// Package metrics names the counters and gauges the service emits and records
// them through the shared telemetry system. Every recorder is a no-op until
// observability.InitMetrics has installed a system.
package metrics

import (
	"strconv"
	"time"

	"github.com/auditdeck/ratekeeper/internal/observability"
)

const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
)

type labels = map[string]string

func count(name string, l labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, l)
	}
}

func gauge(name string, value float64, l labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, l)
	}
}

// RecordError counts an error response by code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotalName, labels{"error_code": errorCode, "http_status": strconv.Itoa(httpStatus)})
}

// RecordErrorByEndpoint counts an error response by route pattern.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpointName, labels{"endpoint": endpoint, "error_code": errorCode})
}

func RecordPanic() {
	count(PanicsTotalName, nil)
}

// RecordHealthCheck records one checker run and its latency.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	count(HealthCheckTotal, labels{"check": checkName, "status": status})
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(HealthCheckDuration, duration, labels{"check": checkName})
	}
}

// SetServerStartTime records the server start as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp), nil)
}
