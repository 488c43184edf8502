package offermatcher

import "github.com/uber-go/tally"

// Metrics tracks offer matcher manager activity.
type Metrics struct {
	subscribers tally.Gauge
	roundTasks  tally.Histogram
	lateReplies tally.Counter
}

// NewMetrics builds offer matcher metrics under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("offermatcher")
	return &Metrics{
		subscribers: s.Gauge("subscribers"),
		roundTasks:  s.Histogram("round_tasks", tally.DefaultBuckets),
		lateReplies: s.Counter("late_replies"),
	}
}
