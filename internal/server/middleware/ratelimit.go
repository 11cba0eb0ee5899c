package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/auditdeck/ratekeeper/internal/metrics"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

// Rate limit response headers
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
)

// KeyFunc derives the client key a request is counted against.
type KeyFunc func(r *http.Request) string

// DenialRecorder receives denied checks for auditing. Record must not block.
type DenialRecorder interface {
	Record(denial ratelimit.Denial)
}

// ClientIPKey keys requests by client address. It is the TCP peer unless the
// server trusts a proxy and runs chi's RealIP first.
func ClientIPKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// HeaderKey keys requests by the named header, such as an authenticated user
// id set by an upstream gateway. Requests without it use fallback.
func HeaderKey(name string, fallback KeyFunc) KeyFunc {
	if fallback == nil {
		fallback = ClientIPKey
	}
	return func(r *http.Request) string {
		if value := strings.TrimSpace(r.Header.Get(name)); value != "" {
			return value
		}
		return fallback(r)
	}
}

// RetryAfterSeconds rounds a backoff up to whole seconds for the Retry-After header.
func RetryAfterSeconds(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}

// SetRateLimitHeaders writes the limit headers for result.
func SetRateLimitHeaders(w http.ResponseWriter, opts ratelimit.Options, result ratelimit.Result) {
	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(opts.Limit))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	if !result.Allowed {
		w.Header().Set(HeaderRetryAfter, strconv.FormatInt(RetryAfterSeconds(result.RetryAfter), 10))
	}
}

// RateLimit throttles requests through limiter. Denied requests get a 429
// RATE_LIMITED envelope and are handed to recorder when it is non-nil.
func RateLimit(limiter *ratelimit.Limiter, keyFunc KeyFunc, recorder DenialRecorder) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			result := limiter.Check(key)
			metrics.RecordRateLimitCheck(limiter.Name(), result.Allowed)
			SetRateLimitHeaders(w, limiter.Options(), result)

			if result.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if recorder != nil {
				recorder.Record(limiter.Deny(key, result))
			}

			envelope := errors.NewErrorEnvelope("RATE_LIMITED", "rate limit exceeded").
				WithCorrelationID(GetRequestID(r.Context()))
			details := map[string]interface{}{
				"bucket":         limiter.Name(),
				"retry_after_ms": result.RetryAfterMs(),
			}
			metrics.RecordError(envelope.Code, http.StatusTooManyRequests)
			writeErrorResponse(w, envelope, details, http.StatusTooManyRequests)
		})
	}
}
