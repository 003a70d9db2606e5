package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corterra/answerd/internal/merge"
	"github.com/corterra/answerd/internal/metrics"
)

// entry pairs a stored result with its creation time.
type entry struct {
	result    merge.Result
	createdAt time.Time
}

// Store is the in-memory answer cache. Reads are concurrent; writes are
// serialized; expired entries are dropped lazily on access and eagerly by
// a periodic sweep.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	sweep   time.Duration
	stopCh  chan struct{}
	stopped sync.Once
	logger  *zap.Logger
	// l2 is an optional shared Redis layer behind the local map
	l2 *RedisLayer
	// now is swappable for expiry tests
	now func() time.Time
}

func NewStore(ttl, sweepInterval time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		sweep:   sweepInterval,
		stopCh:  make(chan struct{}),
		logger:  logger,
		now:     time.Now,
	}
	go s.sweepLoop()
	return s
}

// Get returns the cached result for fingerprint, or false on miss.
// An expired entry counts as a miss and is evicted in place.
func (s *Store) Get(fingerprint string) (merge.Result, bool) {
	s.mu.RLock()
	e, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok {
		if s.l2 != nil {
			if result, hit := s.l2.get(fingerprint); hit {
				// Hydrate the local map so repeats stay in-process
				s.mu.Lock()
				s.entries[fingerprint] = entry{result: result, createdAt: s.now()}
				metrics.CacheSize.Set(float64(len(s.entries)))
				s.mu.Unlock()
				metrics.CacheHits.Inc()
				return result, true
			}
		}
		metrics.CacheMisses.Inc()
		return merge.Result{}, false
	}
	if s.now().Sub(e.createdAt) > s.ttl {
		s.mu.Lock()
		// Re-check under the write lock; another request may have
		// refreshed the entry in between.
		if cur, still := s.entries[fingerprint]; still && s.now().Sub(cur.createdAt) > s.ttl {
			delete(s.entries, fingerprint)
			metrics.CacheEvictions.Inc()
			metrics.CacheSize.Set(float64(len(s.entries)))
		}
		s.mu.Unlock()
		metrics.CacheMisses.Inc()
		return merge.Result{}, false
	}

	metrics.CacheHits.Inc()
	return e.result, true
}

// Put stores a result under fingerprint, replacing any previous entry.
func (s *Store) Put(fingerprint string, result merge.Result) {
	s.mu.Lock()
	s.entries[fingerprint] = entry{result: result, createdAt: s.now()}
	metrics.CacheSize.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if s.l2 != nil {
		s.l2.set(fingerprint, result)
	}
}

// AttachRedis adds a shared second-level cache behind the local map.
func (s *Store) AttachRedis(l2 *RedisLayer) {
	s.l2 = l2
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.stopped.Do(func() { close(s.stopCh) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	now := s.now()
	s.mu.Lock()
	evicted := 0
	for k, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.CacheSize.Set(float64(len(s.entries)))
	}
	s.mu.Unlock()

	if evicted > 0 {
		metrics.CacheEvictions.Add(float64(evicted))
		s.logger.Debug("cache sweep evicted expired entries", zap.Int("count", evicted))
	}
}
