package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalPulse/internal/domain/repository"
	"SignalPulse/pkg/cache"
)

// CacheStateStore keeps scheduler job memory in a cache.Service, Redis in
// production so heartbeat windows survive restarts.
type CacheStateStore struct {
	cache cache.Service
	ttl   time.Duration
}

// NewCacheStateStore stores entries for ttl; zero keeps them for a week.
func NewCacheStateStore(c cache.Service, ttl time.Duration) *CacheStateStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CacheStateStore{cache: c, ttl: ttl}
}

var _ repository.StateStore = (*CacheStateStore)(nil)

func stateKey(jobKey string) string { return cache.GenerateKey("job-state", jobKey) }

func (s *CacheStateStore) Load(ctx context.Context, jobKey string) (repository.JobMemory, bool, error) {
	var mem repository.JobMemory
	if err := s.cache.Get(ctx, stateKey(jobKey), &mem); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return repository.JobMemory{}, false, nil
		}
		return repository.JobMemory{}, false, fmt.Errorf("load state %s: %w", jobKey, err)
	}
	return mem, true, nil
}

func (s *CacheStateStore) Save(ctx context.Context, jobKey string, mem repository.JobMemory) error {
	if err := s.cache.Set(ctx, stateKey(jobKey), mem, s.ttl); err != nil {
		return fmt.Errorf("save state %s: %w", jobKey, err)
	}
	return nil
}
