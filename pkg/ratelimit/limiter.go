// Package ratelimit throttles clients with one token bucket per key, usually
// the client IP. It guards the account endpoints against credential stuffing
// and OTP guessing.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultCleanupInterval = time.Minute
	DefaultEntryTTL        = 10 * time.Minute
)

// Config configures a Limiter.
type Config struct {
	Rate            float64 // tokens per second
	Burst           int
	CleanupInterval time.Duration
	EntryTTL        time.Duration // idle buckets older than this are dropped
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time until a token frees up when denied, or until the
	// bucket is full again when allowed.
	RetryAfter time.Duration
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

// Limiter keeps a token bucket per key and drops idle buckets in the background.
type Limiter struct {
	rate     float64
	burst    int
	entryTTL time.Duration
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// New creates a Limiter and starts its cleanup goroutine. Call Stop when done.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.Rate*2) + 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = DefaultEntryTTL
	}
	l := &Limiter{
		rate:      cfg.Rate,
		burst:     cfg.Burst,
		entryTTL:  cfg.EntryTTL,
		interval:  cfg.CleanupInterval,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Burst() int {
	return l.burst
}

// Allow consumes a token for key if one is available.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()
	b := l.bucketFor(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastSeen = now

	d := Decision{Limit: l.burst}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		d.RetryAfter = l.secondsFor(float64(l.burst) - b.tokens)
		return d
	}
	d.RetryAfter = l.secondsFor(1 - b.tokens)
	if d.RetryAfter < time.Second {
		d.RetryAfter = time.Second
	}
	return d
}

func (l *Limiter) secondsFor(tokens float64) time.Duration {
	if tokens <= 0 {
		return 0
	}
	return time.Duration(tokens / l.rate * float64(time.Second)).Round(time.Second)
}

func (l *Limiter) bucketFor(key string, now time.Time) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; !ok {
		b = &bucket{tokens: float64(l.burst), lastSeen: now}
		l.buckets[key] = b
	}
	return b
}

// Len reports how many keys are being tracked.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.stoppedCh
}

func (l *Limiter) cleanupLoop() {
	defer close(l.stoppedCh)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.removeIdle()
		}
	}
}

func (l *Limiter) removeIdle() {
	cutoff := l.now().Add(-l.entryTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}
