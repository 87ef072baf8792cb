// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the edge throttle: an in-memory token bucket per
// caller (golang.org/x/time/rate) with opportunistic eviction of idle
// buckets. It protects the service itself and is independent of the
// per-user admission limiter, which bans; this one only sheds load with 429.
//
// The limiter is process-local.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// rateGCEvery is the number of lookups between idle-bucket sweeps.
	rateGCEvery = 5000
	// maxUserKeyLen bounds header-derived keys held in the bucket map.
	maxUserKeyLen = 128
)

// KeyFunc selects the identity used to key a bucket.
type KeyFunc func(*gin.Context) string

// UserIDHeader carries the end user on whose behalf the transport calls.
// Every end user of a bot shares the bot's IP, so buckets key on it first.
const UserIDHeader = "X-User-ID"

// KeyByUserOrIP prefers the authenticated subject, then the X-User-ID
// header, and falls back to the client IP. Keys are prefixed so the
// namespaces cannot collide.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if s := asString(c.Value(UserIDKey)); s != "" {
			return "user:" + s
		}
		if s := strings.TrimSpace(c.GetHeader(UserIDHeader)); s != "" {
			return "user:" + truncate(s, maxUserKeyLen)
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. It is safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	// Now is the clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	lookups uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to at least 1), keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		Now:     time.Now,
		buckets: make(map[string]*bucket),
		idleTTL: 10 * time.Minute,
	}
}

// bucketFor returns the limiter for key, creating it on first use. Idle
// buckets are swept before the lookup so a stale entry can be evicted even
// when it is the one requested.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups%rateGCEvery == 0 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Handler returns the Gin middleware. A denied request gets 429 with the
// standard envelope and a Retry-After of whole seconds until the next token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := rl.Now()
		lim := rl.bucketFor(rl.keyFn(c), now)

		res := lim.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		retry := 1
		if res.OK() {
			retry = max(1, int(math.Ceil(delay.Seconds())))
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
