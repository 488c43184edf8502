package scheduler

import "github.com/uber-go/tally"

// QueueMetrics tracks the health of the deadline queue.
type QueueMetrics struct {
	queueLength   tally.Gauge
	queuePopDelay tally.Timer
	fired         tally.Counter
	cancelled     tally.Counter
}

// NewQueueMetrics builds queue metrics under the given scope.
func NewQueueMetrics(scope tally.Scope) *QueueMetrics {
	s := scope.SubScope("scheduler")
	return &QueueMetrics{
		queueLength:   s.Gauge("length"),
		queuePopDelay: s.Timer("pop_delay"),
		fired:         s.Counter("fired"),
		cancelled:     s.Counter("cancelled"),
	}
}
