package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdeck/ratekeeper/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodeValidationFailed:   http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeDatabase:           http.StatusInternalServerError,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, env.Code)

	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))

	wrapped := EnsureEnvelope(stderrors.New("disk full"))
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Equal(t, "disk full", wrapped.Context["wrapped_error"])
}

func TestWrapUsesRequestID(t *testing.T) {
	var ctx context.Context
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	env := WrapDatabaseError(ctx, stderrors.New("locked"), "record denial")
	assert.Equal(t, CodeDatabase, env.Code)
	assert.Equal(t, "req-123", env.CorrelationID)
	assert.Equal(t, "locked", env.Context["wrapped_error"])

	env = WrapInternal(context.Background(), stderrors.New("boom"), "failed")
	assert.NotEmpty(t, env.CorrelationID, "a fresh id is generated without a request")
}

func TestRespondWithRateLimitedEnvelope(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Post("/api/v1/buckets/{bucket}/check", func(w http.ResponseWriter, req *http.Request) {
		RespondWithError(w, req, NewRateLimitedError("upload", 9997))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/buckets/upload/check", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Equal(t, "upload", body.Error.Details["bucket"])
	assert.EqualValues(t, 9997, body.Error.Details["retry_after_ms"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestResponseDetailsPrefersDetails(t *testing.T) {
	env := NewRateLimitedError("share", 1000)
	env, err := env.WithContext(map[string]interface{}{"bucket": "shadowed", "probe": "check"})
	require.NoError(t, err)

	details := ResponseDetails(env)
	assert.Equal(t, "share", details["bucket"])
	assert.Equal(t, "check", details["probe"])

	assert.Nil(t, ResponseDetails(NewInternalError("plain")))
	assert.Nil(t, ResponseDetails(nil))
}
