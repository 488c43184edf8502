package ratelimit

import "github.com/uber-go/tally"

// Metrics tracks rate limiter activity.
type Metrics struct {
	increased       tally.Counter
	reset           tally.Counter
	appsInBackoff   tally.Gauge
	lastDelayMillis tally.Gauge
}

// NewMetrics builds rate limiter metrics under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("ratelimiter")
	return &Metrics{
		increased:       s.Counter("increased"),
		reset:           s.Counter("reset"),
		appsInBackoff:   s.Gauge("apps_in_backoff"),
		lastDelayMillis: s.Gauge("last_delay_millis"),
	}
}
