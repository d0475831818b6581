package budget

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateGuard enforces a per-scope request-rate ceiling on top of the cost
// ceilings. One token bucket per accounting scope, created on first use and
// dropped again after an hour idle.
type rateGuard struct {
	limit rate.Limit
	burst int

	mu          sync.Mutex
	buckets     map[string]*scopeBucket
	lastCleanup time.Time
}

type scopeBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	bucketIdleTTL   = time.Hour
	cleanupInterval = 10 * time.Minute
)

func newRateGuard(requestsPerMinute int) *rateGuard {
	return &rateGuard{
		limit:       rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:       requestsPerMinute,
		buckets:     make(map[string]*scopeBucket),
		lastCleanup: time.Now(),
	}
}

func (g *rateGuard) allow(scope string, now time.Time) bool {
	g.mu.Lock()
	bucket, ok := g.buckets[scope]
	if !ok {
		bucket = &scopeBucket{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.buckets[scope] = bucket
	}
	bucket.lastSeen = now

	if now.Sub(g.lastCleanup) > cleanupInterval {
		g.cleanupLocked(now)
	}
	g.mu.Unlock()

	return bucket.limiter.AllowN(now, 1)
}

// cleanupLocked drops buckets idle past the TTL so scope churn cannot grow
// the map without bound.
func (g *rateGuard) cleanupLocked(now time.Time) {
	cutoff := now.Add(-bucketIdleTTL)
	for scope, bucket := range g.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(g.buckets, scope)
		}
	}
	g.lastCleanup = now
}
