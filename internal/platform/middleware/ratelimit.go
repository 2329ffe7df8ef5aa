package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

const (
	rateLimitSweepPeriod = time.Minute
	rateLimitMinIdle     = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// rateLimiterStore holds per-key limiters. Keys idle long enough for their
// bucket to refill are dropped on the next sweep, since a fresh limiter
// would behave identically.
type rateLimiterStore struct {
	limiters  map[string]*limiterEntry
	mu        sync.RWMutex
	config    RateLimitConfig
	idleAfter time.Duration
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	idle := rateLimitMinIdle
	if cfg.RequestsPerSecond > 0 {
		refill := time.Duration(float64(cfg.BurstSize) / cfg.RequestsPerSecond * float64(time.Second))
		if refill > idle {
			idle = refill
		}
	}
	return &rateLimiterStore{
		limiters:  make(map[string]*limiterEntry),
		config:    cfg,
		idleAfter: idle,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) getLimiter(key string, now time.Time) *rate.Limiter {
	s.mu.RLock()
	e, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		e.lastSeen.Store(now.UnixNano())
		return e.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) >= rateLimitSweepPeriod {
		s.sweepLocked(now)
	}
	// Double-check after acquiring write lock
	if e, ok := s.limiters[key]; ok {
		e.lastSeen.Store(now.UnixNano())
		return e.limiter
	}
	e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
	e.lastSeen.Store(now.UnixNano())
	s.limiters[key] = e
	return e.limiter
}

func (s *rateLimiterStore) sweepLocked(now time.Time) {
	cutoff := now.Add(-s.idleAfter).UnixNano()
	for key, e := range s.limiters {
		if e.lastSeen.Load() < cutoff {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

func (s *rateLimiterStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// retryAfter returns the whole number of seconds until l grants a token,
// at least 1.
func retryAfter(l *rate.Limiter, now time.Time) int {
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if secs := int(math.Ceil(delay.Seconds())); secs > 1 {
		return secs
	}
	return 1
}

// RateLimit returns a per client IP rate limiting middleware. The client IP
// comes from echo's IPExtractor, see ClientIPExtractor.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			l := store.getLimiter(c.RealIP(), now)
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !l.AllowN(now, 1) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter(l, now)))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// ClientIPExtractor decides which address identifies the client. With no
// trusted proxies the socket peer is used and forwarding headers are
// ignored. Otherwise X-Forwarded-For is honored only through hops inside
// the given CIDR ranges.
func ClientIPExtractor(trustedProxies []string) (echo.IPExtractor, error) {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
