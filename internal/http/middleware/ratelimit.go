// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-caller token-bucket rate limiter guarding the
// deliberation API. Ballot casting, comment posting, and upvoting are cheap
// to spam and expensive to untangle afterwards, so abuse control sits at the
// edge: each caller gets a bucket, refilled at a fixed rate, and requests
// beyond it are rejected with 429 before they reach a service.
//
// The limiter is process-local. Buckets live in a map keyed by caller
// identity and idle entries are swept opportunistically, so memory stays
// bounded without a background goroutine. A horizontally scaled deployment
// needs a shared limiter instead; this one only bounds a single process.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// bucketTTL is how long an idle caller's bucket survives before the
	// sweep may drop it.
	bucketTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between idle-bucket sweeps.
	sweepEvery = 5000
)

// keyFunc maps a request to the identity its bucket is keyed by. The key
// must be stable for the duration of a request.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP returns a keyFunc that buckets by the authenticated user
// when one is present and by client IP otherwise. The prefixes keep the two
// namespaces from colliding, so "user:203.0.113.7" and "ip:203.0.113.7" are
// distinct buckets.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket pairs one caller's limiter with the last time it was used.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-key token-bucket limits. Buckets are created on
// demand under a mutex; safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	lookups int
}

// NewRateLimiter constructs a RateLimiter replenishing rps tokens per second
// with the given burst capacity. A burst below 1 is coerced to 1; an rps of
// 0 admits nothing beyond the initial burst.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
	}
}

// getBucket returns the limiter for key, creating it if absent, and stamps
// its last use. Every sweepEvery lookups it first drops buckets idle for
// bucketTTL or longer; the sweep runs before the fetch so a stale entry for
// the requested key is evicted rather than refreshed.
func (rl *RateLimiter) getBucket(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	rl.lookups++
	if rl.lookups >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= bucketTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		lim := b.limiter
		rl.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	rl.mu.Unlock()
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of already-completed work. Replays are served without consuming
// tokens; re-sending a stored result costs nothing worth limiting.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the Gin middleware enforcing the limit. Rejected requests
// get a 429 with the standard error envelope fields and a minimal
// Retry-After header; idempotent replays pass through unlimited.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		if rl.getBucket(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
