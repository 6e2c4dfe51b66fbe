// Package ratelimit implements the adaptive politeness delay applied before
// each outbound fetch.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seolens/crawler/internal/telemetry"
)

// Config holds the adaptive limiter knobs. Given a fixed sequence of
// success/failure reports the resulting delay sequence is fully determined
// by these four values.
type Config struct {
	MinDelay            time.Duration
	MaxDelay            time.Duration
	BackoffMultiplier   float64
	ResetAfterSuccesses int
}

// Stats is a snapshot of the limiter's session counters.
type Stats struct {
	CurrentDelay         time.Duration
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	TotalRequests        int64
	TotalWaitTime        time.Duration
}

// Limiter spaces outbound requests and adapts the spacing to observed
// server behavior. State is process-local and scoped to one crawl session;
// it is never shared across concurrent jobs.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	current time.Duration
	limiter *rate.Limiter

	consecutiveSuccesses int
	consecutiveFailures  int
	totalRequests        int64
	totalWaitTime        time.Duration
}

// New creates a Limiter starting at MinDelay.
func New(cfg Config) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.ResetAfterSuccesses <= 0 {
		cfg.ResetAfterSuccesses = 3
	}
	l := &Limiter{cfg: cfg, current: cfg.MinDelay}
	l.limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	return l
}

// Wait blocks until the current delay has elapsed since the last request.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	lim := l.limiter
	l.totalRequests++
	l.mu.Unlock()

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	waited := time.Since(start)

	l.mu.Lock()
	l.totalWaitTime += waited
	l.mu.Unlock()

	if waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(waited)
	}
	return nil
}

// ReportSuccess counts a successful fetch. Once the configured streak is
// reached the delay is divided by the backoff multiplier, floored at the
// minimum delay.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveFailures = 0
	l.consecutiveSuccesses++
	if l.consecutiveSuccesses < l.cfg.ResetAfterSuccesses {
		return
	}
	l.consecutiveSuccesses = 0
	l.setDelayLocked(time.Duration(float64(l.current) / l.cfg.BackoffMultiplier))
}

// ReportFailure counts a failed fetch and backs off. A 429 applies an extra
// x2 penalty and a 5xx an extra x1.5 penalty on top of the base multiplier,
// always capped at the maximum delay. Pass 0 when no HTTP status is known.
func (l *Limiter) ReportFailure(statusCode int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveSuccesses = 0
	l.consecutiveFailures++

	factor := l.cfg.BackoffMultiplier
	switch {
	case statusCode == http.StatusTooManyRequests:
		factor *= 2
	case statusCode >= 500 && statusCode < 600:
		factor *= 1.5
	}
	l.setDelayLocked(time.Duration(float64(l.current) * factor))
}

// SetMinDelayFromRobots raises the minimum delay (and the current delay if
// it is lower) when robots.txt specifies a larger crawl-delay. It never
// lowers an existing minimum.
func (l *Limiter) SetMinDelayFromRobots(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if delay <= l.cfg.MinDelay {
		return
	}
	l.cfg.MinDelay = delay
	if l.cfg.MaxDelay < delay {
		l.cfg.MaxDelay = delay
	}
	if l.current < delay {
		l.setDelayLocked(delay)
	}
}

// Reset restores the limiter to its initial state for a new crawl session.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveSuccesses = 0
	l.consecutiveFailures = 0
	l.totalRequests = 0
	l.totalWaitTime = 0
	l.setDelayLocked(l.cfg.MinDelay)
}

// Stats returns a snapshot of the session counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		CurrentDelay:         l.current,
		ConsecutiveSuccesses: l.consecutiveSuccesses,
		ConsecutiveFailures:  l.consecutiveFailures,
		TotalRequests:        l.totalRequests,
		TotalWaitTime:        l.totalWaitTime,
	}
}

// CurrentDelay returns the spacing currently applied between requests.
func (l *Limiter) CurrentDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Limiter) setDelayLocked(d time.Duration) {
	if d < l.cfg.MinDelay {
		d = l.cfg.MinDelay
	}
	if d > l.cfg.MaxDelay {
		d = l.cfg.MaxDelay
	}
	if d == l.current {
		return
	}
	l.current = d
	l.limiter.SetLimit(rate.Every(d))
}
