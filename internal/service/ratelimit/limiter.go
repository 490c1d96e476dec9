package ratelimit

import (
    "context"
    "sync"

    "golang.org/x/time/rate"
)

// Limit is a token bucket setting.
type Limit struct {
    RPS   float64
    Burst int
}

// Limiter keeps one token bucket per key.
type Limiter struct {
    mu       sync.Mutex
    m        map[string]*rate.Limiter
    limits   map[string]Limit
    fallback Limit
}

// New returns a limiter whose unknown keys use fallback.
func New(fallback Limit) *Limiter {
    return &Limiter{
        m:        make(map[string]*rate.Limiter),
        limits:   make(map[string]Limit),
        fallback: fallback,
    }
}

// Configure sets the bucket for key. Existing buckets are rebuilt.
func (l *Limiter) Configure(key string, lim Limit) {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.limits[key] = lim
    delete(l.m, key)
}

func (l *Limiter) get(key string) *rate.Limiter {
    l.mu.Lock()
    defer l.mu.Unlock()
    if b, ok := l.m[key]; ok {
        return b
    }
    lim, ok := l.limits[key]
    if !ok {
        lim = l.fallback
    }
    limit := rate.Limit(lim.RPS)
    if lim.RPS <= 0 {
        limit = rate.Inf
    }
    burst := lim.Burst
    if burst < 1 {
        burst = 1
    }
    b := rate.NewLimiter(limit, burst)
    l.m[key] = b
    return b
}

// Allow returns true if one token can be consumed for key now.
func (l *Limiter) Allow(key string) bool {
    return l.get(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
    return l.get(key).Wait(ctx)
}
