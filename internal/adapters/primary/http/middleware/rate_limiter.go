package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per key and forgets keys idle for ttl.
type limiterSet struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(rps float64, burst int, sweepEvery, ttl time.Duration) *limiterSet {
	s := &limiterSet{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepEvery)
	return s
}

func (s *limiterSet) allow(key string) bool {
	now := time.Now()
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()
	return b.AllowN(now, 1)
}

func (s *limiterSet) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.sweep(now)
		}
	}
}

func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > s.ttl {
			delete(s.buckets, key)
		}
	}
}

func (s *limiterSet) close() { s.once.Do(func() { close(s.stop) }) }

// retryAfter is the whole number of seconds until one token refills.
func (s *limiterSet) retryAfter() string {
	if s.limit <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(s.limit)))))
}

// RateLimiterConfig configures a per-IP limiter.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
	TTL               time.Duration // idle time before an IP is forgotten
}

// DefaultRateLimiterConfig is the general API budget.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerSecond: 10, BurstSize: 20, CleanupInterval: time.Minute, TTL: 3 * time.Minute}
}

// AuthRateLimiterConfig is the stricter budget for login and register.
func AuthRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 5, CleanupInterval: time.Minute, TTL: 5 * time.Minute}
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	set *limiterSet
}

// NewRateLimiter starts a limiter; call Stop to end its sweeper.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &RateLimiter{set: newLimiterSet(cfg.RequestsPerSecond, cfg.BurstSize, cfg.CleanupInterval, cfg.TTL)}
}

// Allow spends a token for ip.
func (rl *RateLimiter) Allow(ip string) bool { return rl.set.allow(ip) }

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() { rl.set.close() }

// Middleware answers 429 with the standard error body once an IP runs dry.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.Allow(getClientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", rl.set.retryAfter())
		WriteError(w, r, http.StatusTooManyRequests, ErrorBody{
			Code:    "RATE_LIMITED",
			Message: "Too many requests. Please try again later.",
		})
	})
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return stripPort(strings.TrimSpace(first))
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// RateLimitByKey limits arbitrary keys, such as the user id of a socket
// sending chat messages.
type RateLimitByKey struct {
	set *limiterSet
}

// NewRateLimitByKey starts a keyed limiter; idle keys are dropped after five minutes.
func NewRateLimitByKey(requestsPerSecond float64, burst int) *RateLimitByKey {
	return &RateLimitByKey{set: newLimiterSet(requestsPerSecond, burst, time.Minute, 5*time.Minute)}
}

// Allow spends a token for key.
func (rl *RateLimitByKey) Allow(key string) bool { return rl.set.allow(key) }

// Stop ends the background sweep.
func (rl *RateLimitByKey) Stop() { rl.set.close() }
