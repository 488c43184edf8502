package tracker

import "github.com/uber-go/tally"

// Metrics tracks task-tracker activity.
type Metrics struct {
	created         tally.Counter
	stored          tally.Counter
	storeFail       tally.Counter
	terminated      tally.Counter
	terminatedFail  tally.Counter
	liveTasksByApp  tally.Gauge
}

// NewMetrics builds tracker metrics under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("tracker")
	return &Metrics{
		created:        s.Counter("created"),
		stored:         s.Counter("stored"),
		storeFail:      s.Counter("store_fail"),
		terminated:     s.Counter("terminated"),
		terminatedFail: s.Counter("terminated_fail"),
		liveTasksByApp: s.Gauge("live_tasks"),
	}
}
