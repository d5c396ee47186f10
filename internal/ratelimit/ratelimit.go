// Package ratelimit applies a token bucket per client. The set of tracked
// clients is bounded by an LRU so high-cardinality traffic cannot grow it.
package ratelimit

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a client has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config controls the per-client bucket.
type Config struct {
	PerSecond  float64 // refill rate; <= 0 disables limiting
	Burst      int
	MaxClients int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		PerSecond:  10,
		Burst:      20,
		MaxClients: 10000,
	}
}

// Limiter hands out one rate.Limiter per client id. An evicted client
// starts again with a full bucket.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	limiters *lru.Cache[string, *rate.Limiter]
}

// New creates a limiter. MaxClients must be positive when limiting is on.
func New(cfg Config) (*Limiter, error) {
	l := &Limiter{cfg: cfg}
	if !l.Enabled() {
		return l, nil
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
		l.cfg.Burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](cfg.MaxClients)
	if err != nil {
		return nil, err
	}
	l.limiters = cache
	return l, nil
}

// Enabled reports whether requests are limited at all.
func (l *Limiter) Enabled() bool {
	return l.cfg.PerSecond > 0
}

// Allow consumes one token from clientID's bucket.
func (l *Limiter) Allow(clientID string) bool {
	if !l.Enabled() {
		return true
	}
	return l.get(clientID).Allow()
}

// Check is Allow returning ErrRateLimited on rejection.
func (l *Limiter) Check(clientID string) error {
	if !l.Allow(clientID) {
		return ErrRateLimited
	}
	return nil
}

// Tracked returns the number of clients currently holding a bucket.
func (l *Limiter) Tracked() int {
	if l.limiters == nil {
		return 0
	}
	return l.limiters.Len()
}

func (l *Limiter) get(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(clientID); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)
	l.limiters.Add(clientID, lim)
	return lim
}
