// Package ratelimiter holds token buckets keyed by client address, used by
// the HTTP API and by the realtime gateway for per-socket broadcast limits.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerTimeFrame int           `koanf:"requests_per_time_frame"`
	TimeFrame            time.Duration `koanf:"time_frame"`
	Enabled              bool          `koanf:"enabled"`
}

// Limit converts "n requests per frame" into a refill rate.
func (c Config) Limit() rate.Limit {
	if c.RequestsPerTimeFrame <= 0 || c.TimeFrame <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerTimeFrame) / c.TimeFrame.Seconds())
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key. Buckets idle for longer than
// the frame are dropped by a background sweep.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time

	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

func NewKeyedLimiter(cfg Config) *KeyedLimiter {
	return newKeyedLimiter(cfg, time.Now)
}

func newKeyedLimiter(cfg Config, now func() time.Time) *KeyedLimiter {
	idle := cfg.TimeFrame
	if idle <= 0 {
		idle = time.Minute
	}
	burst := cfg.RequestsPerTimeFrame
	if burst <= 0 {
		burst = 1
	}

	rl := &KeyedLimiter{
		buckets:     make(map[string]*bucket),
		limit:       cfg.Limit(),
		burst:       burst,
		idle:        idle,
		now:         now,
		cleanupTick: time.NewTicker(idle),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// Allow takes one token for key. When the bucket is empty it reports how
// long until the next token.
func (rl *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, rl.idle
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *KeyedLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *KeyedLimiter) cleanup() {
	cutoff := rl.now().Add(-rl.idle)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *KeyedLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}

// NewSocketLimiter returns the bucket a single websocket uses for its
// broadcast frames.
func NewSocketLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
