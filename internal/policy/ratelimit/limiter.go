// Package ratelimit spaces out requests: a global inter-request delay shared
// by every item a worker processes, plus an optional per-domain token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the minimum gap between two requests. Zero disables it.
	Delay time.Duration
	// DomainRPS caps requests per second to one host. Zero disables it.
	DomainRPS   float64
	DomainBurst int
}

// Limiter manages the global and per-domain limits.
type Limiter struct {
	global *rate.Limiter

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	domainRate  rate.Limit
	domainBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	global := rate.NewLimiter(rate.Inf, 1)
	if cfg.Delay > 0 {
		global = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	r := rate.Limit(cfg.DomainRPS)
	if cfg.DomainRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DomainBurst
	if burst <= 0 {
		burst = 1
	}
	metrics.Init()
	return &Limiter{
		global:      global,
		limiters:    make(map[string]*rate.Limiter),
		domainRate:  r,
		domainBurst: burst,
	}
}

// Wait blocks until both the global and the host's limiter allow a request.
// The first call never blocks.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	start := time.Now()
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := l.domainLimiter(host(rawURL)).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

func (l *Limiter) domainLimiter(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.domainRate, l.domainBurst)
		l.limiters[domain] = limiter
	}
	return limiter
}

func host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
