package ratelimit

import (
	"context"
	"sync"
	"time"
)

// NewMemoryStrategy is the single process counterpart of the redis strategy.
func NewMemoryStrategy(now func() time.Time) Strategy {
	if now == nil {
		now = time.Now
	}
	return &memoryStrategy{
		now:  now,
		hits: map[string]*window{},
	}
}

type window struct {
	hits     []time.Time // ascending
	duration time.Duration
}

// prune drops hits older than now-duration.
func (w *window) prune(now time.Time) {
	minimum := now.Add(-w.duration)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(minimum) {
		i++
	}
	w.hits = w.hits[i:]
}

type memoryStrategy struct {
	now func() time.Time

	mx        sync.Mutex
	hits      map[string]*window
	lastSweep time.Time
}

func (s *memoryStrategy) Run(_ context.Context, r *Request) (*Result, error) {
	now := s.now()
	expiresAt := now.Add(r.Duration)

	s.mx.Lock()
	defer s.mx.Unlock()

	s.sweep(now, r.Duration)

	w, ok := s.hits[r.Key]
	if !ok {
		w = &window{}
		s.hits[r.Key] = w
	}
	w.duration = r.Duration
	w.prune(now)

	if uint64(len(w.hits)) >= r.Limit {
		return &Result{
			State:         Deny,
			TotalRequests: uint64(len(w.hits)),
			ExpiresAt:     expiresAt,
		}, nil
	}
	w.hits = append(w.hits, now)
	return &Result{
		State:         Allow,
		TotalRequests: uint64(len(w.hits)),
		ExpiresAt:     expiresAt,
	}, nil
}

// sweep forgets keys without hits in their window, at most once per every interval.
func (s *memoryStrategy) sweep(now time.Time, every time.Duration) {
	if now.Sub(s.lastSweep) < every {
		return
	}
	s.lastSweep = now
	for key, w := range s.hits {
		w.prune(now)
		if len(w.hits) == 0 {
			delete(s.hits, key)
		}
	}
}
