package ratelimit

import (
	"sync"
	"time"
)

// MinRetryAfter is the smallest backoff advised to a denied caller.
const MinRetryAfter = time.Second

// Options configures a bucket.
type Options struct {
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

func (o Options) normalize() Options {
	if o.Limit < 1 {
		o.Limit = 1
	}
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	return o
}

// Result is the outcome of a single check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration

	// CheckedAt is the clock reading the decision was made at.
	CheckedAt time.Time
}

// RetryAfterMs returns the advised backoff in milliseconds.
func (r Result) RetryAfterMs() int64 {
	return r.RetryAfter.Milliseconds()
}

// Denial describes a rejected check, for callers that audit rejections.
type Denial struct {
	Bucket     string
	Key        string
	At         time.Time
	RetryAfter time.Duration
}

// Limiter enforces one bucket's limit against its shared store.
type Limiter struct {
	name            string
	opts            Options
	store           *store
	clock           func() time.Time
	cleanupInterval time.Duration
}

// Name returns the bucket name.
func (l *Limiter) Name() string {
	return l.name
}

// Options returns the normalized limit and window.
func (l *Limiter) Options() Options {
	return l.opts
}

// Check records a request for key if it fits in the trailing window.
// A denial is a normal result, never an error.
func (l *Limiter) Check(key string) Result {
	now := l.clock()
	cutoff := now.Add(-l.opts.Window)

	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCleanup) >= l.cleanupInterval {
		s.sweep(cutoff)
		s.lastCleanup = now
	}

	kept := prune(s.hits[key], cutoff)
	if len(kept) >= l.opts.Limit {
		s.hits[key] = kept
		retryAfter := kept[0].Add(l.opts.Window).Sub(now)
		if retryAfter < MinRetryAfter {
			retryAfter = MinRetryAfter
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter, CheckedAt: now}
	}

	kept = append(kept, now)
	s.hits[key] = kept
	return Result{Allowed: true, Remaining: l.opts.Limit - len(kept), CheckedAt: now}
}

// Deny builds the audit record for a denied result, stamped with the time the
// check was decided rather than when Deny runs.
func (l *Limiter) Deny(key string, result Result) Denial {
	at := result.CheckedAt
	if at.IsZero() {
		at = l.clock()
	}
	return Denial{
		Bucket:     l.name,
		Key:        key,
		At:         at,
		RetryAfter: result.RetryAfter,
	}
}

type store struct {
	mu          sync.Mutex
	hits        map[string][]time.Time
	lastCleanup time.Time
}

func newStore(now time.Time) *store {
	return &store{
		hits:        make(map[string][]time.Time),
		lastCleanup: now,
	}
}

// sweep drops expired timestamps across all keys. Caller holds s.mu.
func (s *store) sweep(cutoff time.Time) {
	for key, hits := range s.hits {
		kept := prune(hits, cutoff)
		if len(kept) == 0 {
			delete(s.hits, key)
		} else {
			s.hits[key] = kept
		}
	}
}

// prune keeps timestamps strictly after cutoff, reusing the backing array.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
