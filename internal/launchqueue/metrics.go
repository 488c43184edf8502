package launchqueue

import "github.com/uber-go/tally"

// Metrics tracks administrative API activity.
type Metrics struct {
	activeLaunchers  tally.Gauge
	addTotal         tally.Counter
	purgeTotal       tally.Counter
	unknownAppErrors tally.Counter
}

// NewMetrics builds launch queue metrics under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("launchqueue")
	return &Metrics{
		activeLaunchers:  s.Gauge("active_launchers"),
		addTotal:         s.Counter("add_total"),
		purgeTotal:       s.Counter("purge_total"),
		unknownAppErrors: s.Counter("unknown_app_errors"),
	}
}
