package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a thread-safe in-process token bucket. It backs the local
// fallback path: while the counter store is unreachable the engine keeps
// advertising a credible remaining count from these buckets instead of a
// constant.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and refill
// rate per second.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// Take consumes one token if available and reports the tokens left.
func (b *TokenBucket) Take() (bool, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens
	}
	return false, b.tokens
}

func (b *TokenBucket) refill() {
	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TokenBucketPool manages per-key buckets with idle cleanup.
type TokenBucketPool struct {
	mu       sync.RWMutex
	buckets  map[string]*poolEntry
	capacity float64
	rate     float64
}

type poolEntry struct {
	bucket   *TokenBucket
	lastUsed time.Time
}

// NewTokenBucketPool creates a pool whose buckets share one capacity and
// refill rate.
func NewTokenBucketPool(capacity, rate float64) *TokenBucketPool {
	return &TokenBucketPool{
		buckets:  make(map[string]*poolEntry),
		capacity: capacity,
		rate:     rate,
	}
}

// Take consumes a token from the bucket for key, creating it on first use.
func (p *TokenBucketPool) Take(key string) (bool, float64) {
	p.mu.RLock()
	entry, ok := p.buckets[key]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		if entry, ok = p.buckets[key]; !ok {
			entry = &poolEntry{bucket: NewTokenBucket(p.capacity, p.rate)}
			p.buckets[key] = entry
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	entry.lastUsed = time.Now()
	p.mu.Unlock()

	return entry.bucket.Take()
}

// Cleanup removes buckets idle longer than maxIdle and reports how many
// were removed.
func (p *TokenBucketPool) Cleanup(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range p.buckets {
		if now.Sub(entry.lastUsed) > maxIdle {
			delete(p.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live buckets.
func (p *TokenBucketPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buckets)
}
