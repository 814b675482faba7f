package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/sso"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// LoginRateLimitConfig returns the password login limits: attempts per
// window with no burst
func LoginRateLimitConfig(attempts int, window time.Duration) *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: attempts,
		WindowDuration:    window,
	}
}

// Limiter decides whether a keyed request may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// RateLimiter implements in-process rate limiting using a token bucket
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Window returns the refill window
func (rl *RateLimiter) Window() time.Duration {
	return rl.config.WindowDuration
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	capacity := rl.config.RequestsPerWindow + rl.config.BurstSize

	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: capacity, lastUpdate: rl.now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)

	// Refill tokens based on elapsed time
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.config.RequestsPerWindow + rl.config.BurstSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Cleanup removes buckets idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// LoginThrottle limits password login attempts per client IP. Other
// requests are not counted.
type LoginThrottle struct {
	limiter Limiter
	logger  logrus.FieldLogger
}

// NewLoginThrottle creates a new login throttle
func NewLoginThrottle(limiter Limiter, logger logrus.FieldLogger) *LoginThrottle {
	return &LoginThrottle{limiter: limiter, logger: logger}
}

// Handler wraps an HTTP handler with login throttling
func (m *LoginThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != sso.PathLogin {
			next.ServeHTTP(w, r)
			return
		}

		ip := httputil.ClientIP(r)
		allowed, err := m.limiter.Allow(r.Context(), "login:"+ip)
		if err != nil {
			// Fail open so a store outage does not lock everyone out
			httputil.LoggerFromContext(r, m.logger).WithError(err).Warn("Login throttle unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			httputil.LoggerFromContext(r, m.logger).WithField("client_ip", ip).Warn("Login attempts throttled")
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", m.limiter.Window().Seconds()))
			httputil.WriteTooManyRequests(w, "Too many login attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}
