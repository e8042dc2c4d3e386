package ratelimit

import (
	"context"
	"sync"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"golang.org/x/time/rate"
)

// localStore is a token bucket per key that refills limit tokens every
// window, with a burst of limit.
type localStore struct {
	mu      sync.Mutex
	limit   int
	every   rate.Limit
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func newLocalStore(limit int, window time.Duration) *localStore {
	return &localStore{
		limit:   limit,
		every:   rate.Limit(float64(limit) / window.Seconds()),
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func (s *localStore) bucket(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = rate.NewLimiter(s.every, s.limit)
		s.buckets[key] = b
	}
	return b
}

func (s *localStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &extratelimit.Result{Allowed: s.bucket(key).AllowN(s.now(), n)}, nil
}

func (s *localStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return s.AllowN(ctx, key, 1)
}

func (s *localStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: s.bucket(key).TokensAt(s.now()) >= 1}, nil
}
