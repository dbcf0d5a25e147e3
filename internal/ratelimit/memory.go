package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	hits      []time.Time
	expiresAt time.Time
}

// MemoryStore keeps a sliding log per key. It only limits a single
// instance; use RedisStore when several instances share the limit.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}

	cutoff := now.Add(-window)
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	b.hits = append(b.hits[i:], now)
	b.expiresAt = now.Add(window)

	return int64(len(b.hits)), nil
}

// Evict drops keys whose window has fully elapsed at now.
func (s *MemoryStore) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, b := range s.buckets {
		if !now.Before(b.expiresAt) {
			delete(s.buckets, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RunJanitor evicts idle keys every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration, now func() time.Time) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Evict(now())
		}
	}
}
