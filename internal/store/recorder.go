package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auditdeck/ratekeeper/internal/metrics"
	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

const (
	// DefaultRecorderBuffer is the queue size used when none is configured.
	DefaultRecorderBuffer = 256

	recordTimeout = 5 * time.Second
)

// DenialWriter persists a single denial. *Store implements it.
type DenialWriter interface {
	RecordDenial(ctx context.Context, denial ratelimit.Denial) error
}

// AuditRecorder queues denials and writes them from one background goroutine.
// Record never blocks; when the queue is full the denial is dropped and counted.
type AuditRecorder struct {
	writer DenialWriter
	queue  chan ratelimit.Denial
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditRecorder starts a recorder writing to writer.
func NewAuditRecorder(writer DenialWriter, bufferSize int) *AuditRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultRecorderBuffer
	}
	r := &AuditRecorder{
		writer: writer,
		queue:  make(chan ratelimit.Denial, bufferSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues denial for storage.
func (r *AuditRecorder) Record(denial ratelimit.Denial) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.RecordDenialRecorded(denial.Bucket, metrics.DenialStatusDropped)
		return
	}

	select {
	case r.queue <- denial:
	default:
		metrics.RecordDenialRecorded(denial.Bucket, metrics.DenialStatusDropped)
		if logger := observability.Logger(); logger != nil {
			logger.Debug("Audit queue full, dropping denial",
				zap.String("bucket", denial.Bucket))
		}
	}
}

// Close stops accepting denials and waits for queued ones to be written,
// or for ctx to expire.
func (r *AuditRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AuditRecorder) run() {
	defer close(r.done)

	for denial := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := r.writer.RecordDenial(ctx, denial)
		cancel()

		if err != nil {
			metrics.RecordDenialRecorded(denial.Bucket, metrics.DenialStatusWriteError)
			if logger := observability.Logger(); logger != nil {
				logger.Warn("Failed to record denial",
					zap.String("bucket", denial.Bucket),
					zap.Error(err))
			}
			continue
		}
		metrics.RecordDenialRecorded(denial.Bucket, metrics.DenialStatusStored)
	}
}
