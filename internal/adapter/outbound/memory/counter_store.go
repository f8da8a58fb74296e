// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
)

// CounterStore implements quota.CounterStore with a mutex-protected map.
// The mutex linearizes concurrent increments for the same key, so it is safe
// under unbounded concurrent callers. State is process-local: use the sqlite
// store when multiple API processes must share one view of quota.
// Includes background sweeping to prevent unbounded memory growth.
type CounterStore struct {
	mu            sync.Mutex
	entries       map[string]*counterEntry
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
	sweepInterval time.Duration

	// now is the clock; overridable in tests.
	now func() time.Time
}

type counterEntry struct {
	count     int64
	windowEnd time.Time
}

// NewCounterStore creates an in-memory counter store with the default sweep
// interval of 5 minutes.
func NewCounterStore() *CounterStore {
	return NewCounterStoreWithSweep(5 * time.Minute)
}

// NewCounterStoreWithSweep creates an in-memory counter store with a custom
// sweep interval.
func NewCounterStoreWithSweep(sweepInterval time.Duration) *CounterStore {
	return &CounterStore{
		entries:       make(map[string]*counterEntry),
		stopChan:      make(chan struct{}),
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// IncrementOrReset atomically advances the counter for key. A key with no
// live window, or whose window has expired, starts a fresh window at delta.
// Expired entries are never consulted for their stale count.
func (s *CounterStore) IncrementOrReset(_ context.Context, key string, window time.Duration, delta int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.After(e.windowEnd) {
		e = &counterEntry{count: delta, windowEnd: now.Add(window)}
		s.entries[key] = e
		return e.count, e.windowEnd, nil
	}

	e.count += delta
	return e.count, e.windowEnd, nil
}

// Usage returns the live counter for key without incrementing it.
func (s *CounterStore) Usage(_ context.Context, key string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.now().After(e.windowEnd) {
		return 0, time.Time{}, nil
	}
	return e.count, e.windowEnd, nil
}

// StartSweep starts the background goroutine that reclaims expired entries.
// It stops when ctx is cancelled or Close() is called.
func (s *CounterStore) StartSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes entries whose window has ended. Correctness does not depend
// on it: IncrementOrReset and Usage already ignore expired entries.
func (s *CounterStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	swept := 0
	for key, e := range s.entries {
		if now.After(e.windowEnd) {
			delete(s.entries, key)
			swept++
		}
	}

	if swept > 0 {
		slog.Debug("counter store sweep completed",
			"swept_keys", swept,
			"remaining_keys", len(s.entries))
	}
}

// Close stops the sweep goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Close() error {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}

// Size returns the current number of tracked keys.
// Useful for testing and monitoring memory usage.
func (s *CounterStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Compile-time interface verification.
var _ quota.CounterStore = (*CounterStore)(nil)
