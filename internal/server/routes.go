package server

import (
	"strings"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
	"github.com/auditdeck/ratekeeper/internal/server/handlers"
	servermw "github.com/auditdeck/ratekeeper/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Prometheus scrape proxy
	s.router.Get("/metrics", MetricsHandler)

	buckets := handlers.NewBucketHandler(s.opts.Registry, s.opts.Limiters, s.opts.Recorder)

	s.router.Route("/api/v1", func(r chi.Router) {
		if limiter := s.apiLimiter(); limiter != nil {
			r.Use(servermw.RateLimit(limiter, s.apiKeyFunc(), s.opts.Recorder))
		}
		r.Get("/buckets", buckets.List)
		r.Post("/buckets/{bucket}/check", buckets.Check)
	})

	s.registerAdminRoutes(buckets)
}

// apiLimiter returns the limiter guarding the /api/v1 group, if configured.
func (s *Server) apiLimiter() *ratelimit.Limiter {
	name := strings.TrimSpace(s.cfg.APIBucket)
	if name == "" {
		return nil
	}
	if limiter, ok := s.opts.Limiters[name]; ok {
		return limiter
	}
	return s.opts.Limiters[ratelimit.NormalizeBucketName(name)]
}

// apiKeyFunc keys the /api/v1 group by KeyHeader when configured, else by IP.
func (s *Server) apiKeyFunc() servermw.KeyFunc {
	if header := strings.TrimSpace(s.cfg.KeyHeader); header != "" {
		return servermw.HeaderKey(header, servermw.ClientIPKey)
	}
	return servermw.ClientIPKey
}

// registerAdminRoutes mounts operator endpoints behind bearer auth when an
// admin token is configured.
func (s *Server) registerAdminRoutes(buckets *handlers.BucketHandler) {
	logger := observability.ServerLogger
	token := s.opts.AdminToken

	if token == "" {
		if logger != nil {
			logger.Debug("Admin endpoints disabled (no admin token set)")
		}
		return
	}

	signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: 10, // requests per minute
		RateBurst: 5,
		Manager:   nil, // default global manager
	})

	s.router.Route("/admin", func(r chi.Router) {
		// signals does its own token check
		r.Post("/signal", signalHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(servermw.BearerAuth(token))
			r.Delete("/buckets/{bucket}", buckets.ResetBucket)
			r.Delete("/buckets/{bucket}/keys/{key}", buckets.ResetKey)
		})
	})

	if logger != nil {
		logger.Info("Admin endpoints enabled",
			zap.Strings("paths", []string{"/admin/signal", "/admin/buckets/{bucket}", "/admin/buckets/{bucket}/keys/{key}"}),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoints enabled - ensure this server is not exposed to public internet")
	}
}
