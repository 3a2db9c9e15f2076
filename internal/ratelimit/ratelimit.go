// Package ratelimit bounds request and scan frequency for the Guardian API.
//
// Two limiters live here: a token-bucket per client (gin middleware, the
// outer ceiling) and a per-wallet scan counter (the inner ceiling the
// orchestrator consults before dispatching probes). Excess is rejected
// with a retryable error, never queued silently.
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meghal86/smart-stake-sub001/internal/metrics"
)

// ErrRateLimited is the sentinel for all rate-limit rejections.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError reports a rejection with a retry hint. Wraps ErrRateLimited.
type LimitError struct {
	Scope      string // "client" or "scan"
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Scope, e.RetryAfter)
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per client per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// ScansPerHour is the max scans per wallet address per hour
	ScansPerHour int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		ScansPerHour:      12,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*clientState
	scans   map[string][]time.Time // wallet address → scan start times
	stop    chan struct{}
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		scans:   make(map[string][]time.Time),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			scanCutoff := time.Now().Add(-time.Hour)
			for addr, times := range l.scans {
				kept := pruneBefore(times, scanCutoff)
				if len(kept) == 0 {
					delete(l.scans, addr)
				} else {
					l.scans[addr] = kept
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks if a request from the given client should be allowed
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	state, exists := l.clients[key]

	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return true
	}

	// Token bucket algorithm
	elapsed := now.Sub(state.lastCheck).Seconds()
	tokensPerSecond := float64(l.cfg.RequestsPerMinute) / 60.0
	state.tokens += elapsed * tokensPerSecond

	// Cap at burst size
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}

	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}

	return false
}

// AllowScan checks whether a new scan of the given wallet is within the
// per-address frequency ceiling. The counter is incremented under the lock
// so concurrent requests cannot double-spend the budget.
func (l *Limiter) AllowScan(walletAddress string) error {
	if l.cfg.ScansPerHour <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)
	recent := pruneBefore(l.scans[walletAddress], cutoff)

	if len(recent) >= l.cfg.ScansPerHour {
		metrics.RateLimitRejections.WithLabelValues("scan").Inc()
		oldest := recent[0]
		return &LimitError{
			Scope:      "scan",
			RetryAfter: oldest.Add(time.Hour).Sub(now),
		}
	}

	l.scans[walletAddress] = append(recent, now)
	return nil
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	return times[idx:]
}

// Middleware returns a Gin middleware that rate limits by client IP
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		// Authenticated clients get their own bucket
		if apiKey := c.GetHeader("Authorization"); apiKey != "" {
			key = "auth:" + apiKey[:min(20, len(apiKey))]
		}

		if !l.Allow(key) {
			metrics.RateLimitRejections.WithLabelValues("client").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
