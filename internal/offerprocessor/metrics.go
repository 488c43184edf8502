package offerprocessor

import "github.com/uber-go/tally"

// Metrics tracks offer processor pipeline outcomes.
type Metrics struct {
	matchErrors   tally.Counter
	storeErrors   tally.Counter
	invalidOffers tally.Counter
}

// NewMetrics builds offer processor metrics under the given scope.
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("offerprocessor")
	return &Metrics{
		matchErrors:   s.Counter("match_errors"),
		storeErrors:   s.Counter("store_errors"),
		invalidOffers: s.Counter("invalid_offers"),
	}
}
