package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/auditdeck/ratekeeper/internal/errors"
	"github.com/auditdeck/ratekeeper/internal/observability"
)

const scrapeTimeout = 5 * time.Second

var scrapeClient = &http.Client{Timeout: scrapeTimeout}

// skipScrapeHeaders are connection-scoped and never copied to the caller.
var skipScrapeHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = observability.DefaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

// MetricsHandler serves GET /metrics by scraping the local Prometheus exporter,
// so the ratelimit_* series are reachable on the API port.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
		return
	}

	target := exporterURL()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to build scrape request"))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := scrapeClient.Do(req)
	if err != nil {
		env := apperrors.NewServiceUnavailableError("Prometheus exporter unavailable")
		if withCtx, ctxErr := env.WithContext(map[string]interface{}{
			"metrics_url":    target,
			"original_error": err.Error(),
		}); ctxErr == nil {
			env = withCtx
		}
		apperrors.RespondWithError(w, r, env)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	for key, values := range resp.Header {
		if _, skip := skipScrapeHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Metrics scrape copy failed",
			zap.String("metrics_url", target),
			zap.Error(err))
	}
}
