package counter

import (
	"context"
	"sync"
	"time"
)

const memoryCompactThreshold = 10000

// MemoryStore is an in-process Store. Increment-and-read is serialized
// under one mutex, which is the atomicity the rate limiter depends on.
// Counts are not shared across instances; multi-instance deployments need
// the redis backend for limits to hold globally.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memEntry
	now   func() time.Time
}

type memEntry struct {
	window Window
	// fixed windows
	bucketStart time.Time
	total       int64
	// sliding windows
	stamps []stamp
	head   int
}

type stamp struct {
	at time.Time
	n  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memEntry),
		now:   time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Incr(ctx context.Context, key string, w Window) (int64, error) {
	return s.Add(ctx, key, 1, w)
}

func (s *MemoryStore) Add(_ context.Context, key string, delta int64, w Window) (int64, error) {
	now := s.nowUTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key, w, now)
	if w.Mode == ModeFixed {
		e.total += delta
		return e.total, nil
	}
	e.stamps = append(e.stamps, stamp{at: now, n: delta})
	e.total += delta
	return e.total, nil
}

func (s *MemoryStore) Get(_ context.Context, key string, w Window) (int64, error) {
	now := s.nowUTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return 0, nil
	}
	s.roll(e, now)
	return e.total, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) nowUTC() time.Time {
	return s.now().UTC()
}

func (s *MemoryStore) entry(key string, w Window, now time.Time) *memEntry {
	e, ok := s.items[key]
	if !ok {
		e = &memEntry{window: w}
		if w.Mode == ModeFixed {
			e.bucketStart = w.BucketStart(now)
		}
		s.items[key] = e
		if len(s.items) > memoryCompactThreshold {
			s.compact(now)
		}
		return e
	}
	s.roll(e, now)
	return e
}

// roll expires stale state: fixed windows reset when the bucket boundary
// has passed, sliding windows evict entries older than the lookback.
func (s *MemoryStore) roll(e *memEntry, now time.Time) {
	if e.window.Mode == ModeFixed {
		start := e.window.BucketStart(now)
		if !start.Equal(e.bucketStart) {
			e.bucketStart = start
			e.total = 0
		}
		return
	}
	cutoff := now.Add(-e.window.Size)
	for e.head < len(e.stamps) {
		st := e.stamps[e.head]
		if !st.at.Before(cutoff) {
			break
		}
		e.total -= st.n
		e.head++
	}
	if e.head > 0 && e.head*2 >= len(e.stamps) {
		e.stamps = append([]stamp{}, e.stamps[e.head:]...)
		e.head = 0
	}
}

// compact drops keys whose windows have fully expired. Called lazily when
// the map grows past the threshold to bound memory.
func (s *MemoryStore) compact(now time.Time) {
	for key, e := range s.items {
		s.roll(e, now)
		if e.total == 0 && len(e.stamps)-e.head == 0 {
			delete(s.items, key)
		}
	}
}
