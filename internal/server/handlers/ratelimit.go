package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/auditdeck/ratekeeper/internal/errors"
	"github.com/auditdeck/ratekeeper/internal/metrics"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
	"github.com/auditdeck/ratekeeper/internal/server/middleware"
)

const maxCheckBodyBytes = 4 << 10

// BucketInfo describes one configured bucket and its live counters.
type BucketInfo struct {
	Name        string    `json:"name"`
	Limit       int       `json:"limit"`
	WindowMs    int64     `json:"window_ms"`
	TrackedKeys int       `json:"tracked_keys"`
	Timestamps  int       `json:"timestamps"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// BucketListResponse is the body of GET /api/v1/buckets.
type BucketListResponse struct {
	Buckets []BucketInfo `json:"buckets"`
}

// CheckRequest is the body of POST /api/v1/buckets/{bucket}/check.
// Key is used verbatim: "", " alice" and "alice" are distinct keys.
type CheckRequest struct {
	Key *string `json:"key"`
}

// CheckResponse reports an admitted check.
type CheckResponse struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	Allowed      bool   `json:"allowed"`
	Remaining    int    `json:"remaining"`
	RetryAfterMs int64  `json:"retry_after_ms"`
}

// ResetResponse reports an operator reset.
type ResetResponse struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key,omitempty"`
	KeysCleared int    `json:"keys_cleared"`
}

// BucketHandler exposes the configured limiters over HTTP.
type BucketHandler struct {
	registry *ratelimit.Registry
	limiters map[string]*ratelimit.Limiter
	recorder middleware.DenialRecorder
}

// NewBucketHandler serves the given limiters, addressed by their normalized
// bucket names. recorder may be nil.
func NewBucketHandler(registry *ratelimit.Registry, limiters map[string]*ratelimit.Limiter, recorder middleware.DenialRecorder) *BucketHandler {
	byName := make(map[string]*ratelimit.Limiter, len(limiters))
	for _, limiter := range limiters {
		if limiter != nil {
			byName[limiter.Name()] = limiter
		}
	}
	return &BucketHandler{
		registry: registry,
		limiters: byName,
		recorder: recorder,
	}
}

// List handles GET /api/v1/buckets.
func (h *BucketHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := BucketListResponse{Buckets: make([]BucketInfo, 0, len(h.limiters))}
	for _, name := range h.registry.Buckets() {
		limiter, ok := h.limiters[name]
		if !ok {
			continue
		}
		opts := limiter.Options()
		info := BucketInfo{
			Name:     name,
			Limit:    opts.Limit,
			WindowMs: opts.Window.Milliseconds(),
		}
		if stats, ok := h.registry.Stats(name); ok {
			info.TrackedKeys = stats.TrackedKeys
			info.Timestamps = stats.Timestamps
			info.LastCleanup = stats.LastCleanup
			metrics.SetTrackedKeys(name, stats.TrackedKeys)
		}
		resp.Buckets = append(resp.Buckets, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Check handles POST /api/v1/buckets/{bucket}/check.
func (h *BucketHandler) Check(w http.ResponseWriter, r *http.Request) {
	limiter, ok := h.limiter(w, r)
	if !ok {
		return
	}

	var req CheckRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxCheckBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object with a key"))
		return
	}
	if req.Key == nil {
		respondWithError(w, r, apperrors.NewValidationError("key is required"))
		return
	}
	key := *req.Key

	result := limiter.Check(key)
	metrics.RecordRateLimitCheck(limiter.Name(), result.Allowed)
	middleware.SetRateLimitHeaders(w, limiter.Options(), result)

	if !result.Allowed {
		if h.recorder != nil {
			h.recorder.Record(limiter.Deny(key, result))
		}
		respondWithError(w, r, apperrors.NewRateLimitedError(limiter.Name(), result.RetryAfterMs()))
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{
		Bucket:       limiter.Name(),
		Key:          key,
		Allowed:      true,
		Remaining:    result.Remaining,
		RetryAfterMs: result.RetryAfterMs(),
	})
}

// ResetKey handles DELETE /admin/buckets/{bucket}/keys/{key}.
func (h *BucketHandler) ResetKey(w http.ResponseWriter, r *http.Request) {
	limiter, ok := h.limiter(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	cleared := 0
	if h.registry.Reset(limiter.Name(), key) {
		cleared = 1
	}
	writeJSON(w, http.StatusOK, ResetResponse{Bucket: limiter.Name(), Key: key, KeysCleared: cleared})
}

// ResetBucket handles DELETE /admin/buckets/{bucket}.
func (h *BucketHandler) ResetBucket(w http.ResponseWriter, r *http.Request) {
	limiter, ok := h.limiter(w, r)
	if !ok {
		return
	}
	cleared := h.registry.ResetBucket(limiter.Name())
	writeJSON(w, http.StatusOK, ResetResponse{Bucket: limiter.Name(), KeysCleared: cleared})
}

func (h *BucketHandler) limiter(w http.ResponseWriter, r *http.Request) (*ratelimit.Limiter, bool) {
	name := ratelimit.NormalizeBucketName(chi.URLParam(r, "bucket"))
	limiter, ok := h.limiters[name]
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("unknown bucket: "+name))
		return nil, false
	}
	return limiter, true
}
