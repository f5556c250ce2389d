package alerts

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedIdentities bounds the per-identity limiter map. Idle entries are
// evicted once it is exceeded.
const maxTrackedIdentities = 4096

// Throttler paces deliveries through one shared limiter and, when
// identityPerMinute is positive, drops alerts for identities that exceed
// their own allowance.
type Throttler struct {
	global *rate.Limiter

	identityLimit rate.Limit
	identityBurst int

	mu         sync.Mutex
	identities map[string]*identityLimiter
	now        func() time.Time
}

type identityLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottler allows perMinute deliveries per minute overall (default 30)
// and identityPerMinute per identity (0 disables the per-identity limit).
func NewThrottler(perMinute, identityPerMinute int) *Throttler {
	return newThrottlerWithClock(perMinute, identityPerMinute, time.Now)
}

func newThrottlerWithClock(perMinute, identityPerMinute int, now func() time.Time) *Throttler {
	if perMinute <= 0 {
		perMinute = 30
	}
	t := &Throttler{
		global:        rate.NewLimiter(perMinuteLimit(perMinute), perMinute),
		identityLimit: rate.Inf,
		identities:    make(map[string]*identityLimiter),
		now:           now,
	}
	if identityPerMinute > 0 {
		t.identityLimit = perMinuteLimit(identityPerMinute)
		t.identityBurst = identityPerMinute
	}
	return t
}

func perMinuteLimit(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}

// Wait blocks until the shared limiter admits one delivery or ctx is done.
func (t *Throttler) Wait(ctx context.Context) error {
	return t.global.Wait(ctx)
}

// Allow reports whether the shared limiter admits one delivery now.
func (t *Throttler) Allow() bool {
	return t.global.AllowN(t.now(), 1)
}

// AllowIdentity consumes one unit of identity's allowance.
func (t *Throttler) AllowIdentity(identity string) bool {
	if t.identityLimit == rate.Inf {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	il, ok := t.identities[identity]
	if !ok {
		if len(t.identities) >= maxTrackedIdentities {
			t.evictIdle(now)
		}
		il = &identityLimiter{limiter: rate.NewLimiter(t.identityLimit, t.identityBurst)}
		t.identities[identity] = il
	}
	il.lastSeen = now
	return il.limiter.AllowN(now, 1)
}

// evictIdle drops identities whose bucket has fully refilled. Caller holds mu.
func (t *Throttler) evictIdle(now time.Time) {
	refill := time.Duration(float64(t.identityBurst) / float64(t.identityLimit) * float64(time.Second))
	for id, il := range t.identities {
		if now.Sub(il.lastSeen) >= refill {
			delete(t.identities, id)
		}
	}
}

func (t *Throttler) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.identities)
}
