package jobxapi

import (
	"math"
	"sync"
	"time"

	"github.com/Abraxas-365/repohub/pkg/kernel"
	"golang.org/x/time/rate"
)

// OwnerLimiter is a token bucket per owner. A bucket left alone for a full
// refill period is back at burst and indistinguishable from a new one, so it
// is dropped; the map only holds owners seen within the last refill period.
type OwnerLimiter struct {
	limit  rate.Limit
	burst  int
	refill time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[kernel.OwnerID]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewOwnerLimiter allows each owner perSecond submissions with bursts of
// burst. perSecond <= 0 disables limiting.
func NewOwnerLimiter(perSecond float64, burst int) *OwnerLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &OwnerLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[kernel.OwnerID]*bucket),
	}
	if perSecond > 0 {
		l.refill = time.Duration(math.Ceil(float64(burst) / perSecond * float64(time.Second)))
	}
	return l
}

// Allow reports whether owner may submit now. When it may not, it returns
// how long to wait.
func (l *OwnerLimiter) Allow(owner kernel.OwnerID) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}

	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.refill {
		l.sweep(now)
	}
	b, ok := l.buckets[owner]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[owner] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if allowed {
		return true, 0
	}
	return false, time.Duration(math.Ceil(float64(time.Second) / float64(l.limit)))
}

// sweep drops buckets idle for at least a refill period. Callers hold l.mu.
func (l *OwnerLimiter) sweep(now time.Time) {
	for owner, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.refill {
			delete(l.buckets, owner)
		}
	}
	l.lastSweep = now
}

// Len returns how many owners currently hold a bucket.
func (l *OwnerLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
