package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Route scopes with their own request budgets.
const (
	ScopeSSO   = "sso"
	ScopePrefs = "prefs"
)

const idleBucketTTL = 10 * time.Minute

var scopeMessages = map[string]string{
	ScopeSSO:   "Too many login attempts. Please try again later.",
	ScopePrefs: "Too many preference requests. Please slow down.",
}

// KeyFunc names the bucket a request is charged against.
type KeyFunc func(c *gin.Context) string

// ClientIPKey charges requests to the caller's address.
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimiter keeps one token bucket per (scope, key). The login flow and the
// preferences API are budgeted separately, since external sites call the latter
// from a shared server address.
type RateLimiter struct {
	mu      sync.Mutex
	budgets map[string]budget
	buckets map[string]*bucket
	now     func() time.Time
}

type budget struct {
	limit rate.Limit
	burst int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter from requests-per-minute budgets keyed by scope.
// A scope with a budget of zero or less is not throttled.
func NewRateLimiter(perMinute map[string]int) *RateLimiter {
	budgets := make(map[string]budget, len(perMinute))
	for scope, rpm := range perMinute {
		if rpm <= 0 {
			continue
		}
		budgets[scope] = budget{
			limit: rate.Limit(float64(rpm) / 60.0),
			burst: max(rpm/10, 1),
		}
	}
	return &RateLimiter{
		budgets: budgets,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Limit throttles the routes it is mounted on under the given scope.
func (r *RateLimiter) Limit(scope string, key KeyFunc) gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}
	b, ok := r.budgets[scope]
	if !ok {
		return func(c *gin.Context) { c.Next() }
	}
	if key == nil {
		key = ClientIPKey
	}
	message := scopeMessages[scope]
	if message == "" {
		message = "Too many requests. Please slow down."
	}

	return func(c *gin.Context) {
		limiter := r.bucketFor(scope+"|"+key(c), b)
		if !limiter.Allow() {
			retry := math.Ceil(1 / float64(b.limit))
			c.Header("Retry-After", strconv.Itoa(int(retry)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"isError": true, "message": message})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) bucketFor(id string, b budget) *rate.Limiter {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.buckets[id]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	for k, entry := range r.buckets {
		if now.Sub(entry.lastSeen) > idleBucketTTL {
			delete(r.buckets, k)
		}
	}
	entry := &bucket{limiter: rate.NewLimiter(b.limit, b.burst), lastSeen: now}
	r.buckets[id] = entry
	return entry.limiter
}
