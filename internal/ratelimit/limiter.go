// Package ratelimit provides a shared per-service call-spacing gate.
//
// Every outbound call to an external AI service passes through one process-wide
// Limiter so that concurrent workers hitting the same provider stay globally
// spaced, not just locally. The limiter never fails; it only delays.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between granted acquisitions per service.
type Limiter struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	last      map[string]time.Time
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes the limiter.
type Option func(*Limiter)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper overrides how waits are performed (used in tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New constructs a limiter from per-service minimum intervals. Services
// without a configured interval pass through immediately.
func New(intervals map[string]time.Duration, opts ...Option) *Limiter {
	copied := make(map[string]time.Duration, len(intervals))
	for service, interval := range intervals {
		if interval > 0 {
			copied[service] = interval
		}
	}
	l := &Limiter{
		intervals: copied,
		last:      make(map[string]time.Time, len(copied)),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetInterval registers or replaces the minimum interval for a service.
func (l *Limiter) SetInterval(service string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if interval <= 0 {
		delete(l.intervals, service)
		return
	}
	l.intervals[service] = interval
}

// Acquire blocks until at least the configured interval has elapsed since the
// last granted acquisition for the service, then records the grant. Context
// cancellation aborts the wait with ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, service string) error {
	_, err := l.acquire(ctx, service)
	return err
}

// AcquireWait behaves like Acquire and additionally reports the delay that was
// imposed before the grant.
func (l *Limiter) AcquireWait(ctx context.Context, service string) (time.Duration, error) {
	return l.acquire(ctx, service)
}

func (l *Limiter) acquire(ctx context.Context, service string) (time.Duration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return waited, err
		}

		l.mu.Lock()
		interval, limited := l.intervals[service]
		if !limited {
			l.mu.Unlock()
			return waited, nil
		}
		now := l.now()
		wait := interval - now.Sub(l.last[service])
		if wait <= 0 {
			l.last[service] = now
			l.mu.Unlock()
			return waited, nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
