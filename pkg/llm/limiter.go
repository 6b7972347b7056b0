package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketPolicy is a token-bucket shape: sustained requests per minute and
// a burst ceiling.
type BucketPolicy struct {
	RPM   int
	Burst int
}

// LimiterStore answers whether an actor may spend cost tokens right now.
// Stores never block; callers decide how to react to denial.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, policy BucketPolicy, cost int) (bool, error)
}

// LocalLimiterStore keeps one in-process bucket per actor. Suitable for a
// single-node deployment; use the Redis store when replicas share quota.
type LocalLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiterStore returns an empty in-process store.
func NewLocalLimiterStore() *LocalLimiterStore {
	return &LocalLimiterStore{buckets: make(map[string]*rate.Limiter)}
}

func (s *LocalLimiterStore) Allow(_ context.Context, actorID string, policy BucketPolicy, cost int) (bool, error) {
	s.mu.Lock()
	lim, ok := s.buckets[actorID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(policy.RPM)/60.0), policy.Burst)
		s.buckets[actorID] = lim
	}
	s.mu.Unlock()
	return lim.AllowN(time.Now(), cost), nil
}
