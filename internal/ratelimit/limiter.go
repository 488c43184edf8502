package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/ss75710541/marathon/internal/clock"
)

// Listener receives a delayUpdate notification: appID's backoff is now in
// effect until until. A zero until means the app is no longer backed off.
type Listener func(appID string, until time.Time)

// RateLimiter tracks one exponential backoff timer per application.
// getDelay/Subscribe answer synchronously with the app's current
// backoffUntil; Increase and Reset additionally push a delayUpdate to
// whichever listener last subscribed for that app, matching the "Rate
// Limiter... pushes delayUpdate(app, until) notifications" contract in
// SPEC_FULL.md §2.3.
type RateLimiter interface {
	// Subscribe registers listener for appID's future delayUpdate
	// notifications and returns the current backoffUntil (the zero Time if
	// the app is not currently backed off). A launcher calls this once on
	// start (and again after every upgrade) to obtain its initial delay.
	Subscribe(appID string, listener Listener) time.Time
	// GetDelay returns appID's current backoffUntil without subscribing.
	GetDelay(appID string) time.Time
	// Increase pushes appID's backoff further out exponentially and
	// notifies its subscribed listener, if any.
	Increase(appID string)
	// Reset clears appID's backoff immediately and notifies its subscribed
	// listener with the zero Time.
	Reset(appID string)
}

// appBackoff's current delay is stored atomically so it can be read for
// metrics/diagnostics after the map lock guarding the backoff map itself
// has already been released, without a second acquisition.
type appBackoff struct {
	current atomic.Duration
	until   time.Time
}

type rateLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	policy    Policy
	backoff   map[string]*appBackoff
	listeners map[string]Listener
	metrics   *Metrics
}

// New returns a RateLimiter driven by clk and growing backoffs per policy.
func New(clk clock.Clock, policy Policy, metrics *Metrics) RateLimiter {
	return &rateLimiter{
		clock:     clk,
		policy:    policy,
		backoff:   make(map[string]*appBackoff),
		listeners: make(map[string]Listener),
		metrics:   metrics,
	}
}

func (r *rateLimiter) Subscribe(appID string, listener Listener) time.Time {
	r.mu.Lock()
	r.listeners[appID] = listener
	until := r.currentUntilLocked(appID)
	r.mu.Unlock()

	return until
}

func (r *rateLimiter) GetDelay(appID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentUntilLocked(appID)
}

func (r *rateLimiter) currentUntilLocked(appID string) time.Time {
	b, ok := r.backoff[appID]
	if !ok {
		return time.Time{}
	}
	if !b.until.After(r.clock.Now()) {
		return time.Time{}
	}
	return b.until
}

func (r *rateLimiter) Increase(appID string) {
	r.mu.Lock()
	b, ok := r.backoff[appID]
	if !ok {
		b = &appBackoff{}
		r.backoff[appID] = b
	}
	next := r.policy.NextDelay(b.current.Load())
	b.current.Store(next)
	b.until = r.clock.Now().Add(next)
	until := b.until
	listener := r.listeners[appID]
	r.metrics.appsInBackoff.Update(float64(len(r.backoff)))
	r.mu.Unlock()

	r.metrics.increased.Inc(1)
	r.metrics.lastDelayMillis.Update(float64(b.current.Load().Milliseconds()))
	if listener != nil {
		listener(appID, until)
	}
}

func (r *rateLimiter) Reset(appID string) {
	r.mu.Lock()
	delete(r.backoff, appID)
	listener := r.listeners[appID]
	r.metrics.appsInBackoff.Update(float64(len(r.backoff)))
	r.mu.Unlock()

	r.metrics.reset.Inc(1)
	if listener != nil {
		listener(appID, time.Time{})
	}
}
