// Package ratelimit paces outbound fetches per remote host.
//
// Badge services are free community endpoints that throttle aggressively, and
// a profile mapping tends to point many entries at the same few hosts. Each
// host gets its own token bucket so a long mapping spreads its requests out
// instead of arriving as one burst of parallel workers.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter holds one token bucket per host.
type HostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter

	perSecond rate.Limit
	burst     int

	// OnThrottled is called when a caller has to wait for a token
	OnThrottled func(host string, wait time.Duration)
}

type Option func(*HostLimiter)

// WithRate sets the bucket size and refill rate. perSecond <= 0 disables
// pacing entirely.
func WithRate(perSecond float64, burst int) Option {
	return func(l *HostLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithOnThrottled sets a callback for every wait, used for logging and metrics.
func WithOnThrottled(fn func(host string, wait time.Duration)) Option {
	return func(l *HostLimiter) {
		l.OnThrottled = fn
	}
}

// New creates a HostLimiter. Defaults to 4 requests per second with a burst of 4.
func New(opts ...Option) *HostLimiter {
	l := &HostLimiter{
		hosts:     make(map[string]*rate.Limiter),
		perSecond: 4,
		burst:     4,
	}
	for _, o := range opts {
		o(l)
	}
	if l.burst < 1 {
		l.burst = 1
	}
	return l
}

// Enabled reports whether the limiter paces at all.
func (l *HostLimiter) Enabled() bool {
	return l != nil && l.perSecond > 0
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.hosts[host]
	if !ok {
		lim = rate.NewLimiter(l.perSecond, l.burst)
		l.hosts[host] = lim
	}
	return lim
}

// Wait blocks until host has a token or ctx is done. On cancellation the
// reserved token is handed back.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil || !l.Enabled() {
		return err
	}
	r := l.limiter(host).Reserve()
	d := r.Delay()
	if d == 0 {
		return nil
	}
	if l.OnThrottled != nil {
		l.OnThrottled(host, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Hosts returns how many distinct hosts have been seen.
func (l *HostLimiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}
