// Package ratelimit implements process-local sliding-window rate limiting.
//
// A Registry owns one timestamp store per named bucket. Limiters obtained
// from the same Registry with the same bucket name share that store, so a
// logical bucket is never split in two within a process. Counters live in
// memory only and are not coordinated across instances.
package ratelimit

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCleanupInterval gates how often a store sweeps expired keys.
const DefaultCleanupInterval = time.Minute

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (used by tests and simulations).
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithCleanupInterval overrides the minimum time between store sweeps.
func WithCleanupInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.cleanupInterval = interval
		}
	}
}

// Registry maps bucket names to their timestamp stores.
type Registry struct {
	mu              sync.Mutex
	stores          map[string]*store
	clock           func() time.Time
	cleanupInterval time.Duration
}

// BucketStats is a point-in-time view of a bucket's store.
type BucketStats struct {
	Name        string    `json:"name"`
	TrackedKeys int       `json:"tracked_keys"`
	Timestamps  int       `json:"timestamps"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		stores:          make(map[string]*store),
		clock:           time.Now,
		cleanupInterval: DefaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeBucketName folds a bucket name to its registry form: trimmed and
// lowercased, so "Upload" and " upload" share one store.
func NormalizeBucketName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Limiter returns a limiter for the named bucket. The first call for a name
// creates its store; later calls reuse it and only carry their own options.
// Names are normalized with NormalizeBucketName.
func (r *Registry) Limiter(name string, opts Options) *Limiter {
	name = NormalizeBucketName(name)
	return &Limiter{
		name:            name,
		opts:            opts.normalize(),
		store:           r.storeFor(name),
		clock:           r.clock,
		cleanupInterval: r.cleanupInterval,
	}
}

// Buckets returns the names of all buckets with a store, sorted.
func (r *Registry) Buckets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats reports the current size of a bucket's store.
func (r *Registry) Stats(name string) (BucketStats, bool) {
	s, ok := r.lookup(name)
	if !ok {
		return BucketStats{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := BucketStats{
		Name:        NormalizeBucketName(name),
		TrackedKeys: len(s.hits),
		LastCleanup: s.lastCleanup,
	}
	for _, hits := range s.hits {
		stats.Timestamps += len(hits)
	}
	return stats, true
}

// Reset forgets every timestamp recorded for key in the named bucket.
// It reports whether the key was tracked.
func (r *Registry) Reset(name, key string) bool {
	s, ok := r.lookup(name)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, tracked := s.hits[key]; !tracked {
		return false
	}
	delete(s.hits, key)
	return true
}

// ResetBucket clears the named bucket and returns how many keys were dropped.
func (r *Registry) ResetBucket(name string) int {
	s, ok := r.lookup(name)
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.hits)
	s.hits = make(map[string][]time.Time)
	return dropped
}

func (r *Registry) storeFor(name string) *store {
	name = NormalizeBucketName(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s
	}
	s := newStore(r.clock())
	r.stores[name] = s
	return s
}

func (r *Registry) lookup(name string) (*store, bool) {
	name = NormalizeBucketName(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[name]
	return s, ok
}
