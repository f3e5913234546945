package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused keyed limiter is kept.
const idleLimiterTTL = 10 * time.Minute

// RateLimitConfig configures token bucket limiting. With KeyHeader set each
// distinct header value gets its own bucket; requests without the header
// share the global one.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	KeyHeader string
	// OnLimited is called for every rejected request.
	OnLimited func(r *http.Request)
}

// RateLimitMiddleware rejects requests over the configured rate with 429.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiters := newLimiterSet(rate.Limit(cfg.RPS), cfg.Burst)
	keyHeader := strings.TrimSpace(cfg.KeyHeader)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyHeader != "" {
				key = strings.TrimSpace(r.Header.Get(keyHeader))
			}
			if !limiters.get(key).Allow() {
				if cfg.OnLimited != nil {
					cfg.OnLimited(r)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":{"kind":"RateLimited","message":"rate limit exceeded"}}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	global    *rate.Limiter
	keyed     map[string]*keyedLimiter
	lastSweep time.Time
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:     limit,
		burst:     burst,
		global:    rate.NewLimiter(limit, burst),
		keyed:     make(map[string]*keyedLimiter),
		lastSweep: time.Now(),
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	if key == "" {
		return s.global
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > idleLimiterTTL {
		for k, l := range s.keyed {
			if now.Sub(l.lastSeen) > idleLimiterTTL {
				delete(s.keyed, k)
			}
		}
		s.lastSweep = now
	}

	l, ok := s.keyed[key]
	if !ok {
		l = &keyedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.keyed[key] = l
	}
	l.lastSeen = now
	return l.limiter
}
