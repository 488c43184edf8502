package tasklauncher

import "github.com/uber-go/tally"

// Metrics tracks driver call outcomes.
type Metrics struct {
	launched     tally.Counter
	launchFailed tally.Counter
	declined     tally.Counter
	revived      tally.Counter
}

// NewMetrics builds task launcher metrics under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("tasklauncher")
	return &Metrics{
		launched:     s.Counter("launched"),
		launchFailed: s.Counter("launch_failed"),
		declined:     s.Counter("declined"),
		revived:      s.Counter("revived"),
	}
}
