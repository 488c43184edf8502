package launcher

import (
	"time"

	"github.com/ss75710541/marathon/internal/models"
)

// Matchable is the subset of a Launcher's public surface the offer matcher
// manager depends on. Defining it here, rather than in the manager's own
// package, lets the manager depend on this interface without the launcher
// package importing the manager back.
type Matchable interface {
	AppID() string
	MatchOffer(deadline time.Time, offer models.Offer) []models.TaskWithSource
}

// SubscriptionManager is the offer matcher manager's subscribe/unsubscribe
// surface, as seen by a launcher deciding whether it wants offers.
type SubscriptionManager interface {
	Subscribe(l Matchable)
	Unsubscribe(appID string)
}

// OfferReviver asks the resource master to re-offer resources sooner than
// it otherwise would, used when a constraint that previously failed may now
// be satisfiable (e.g. a host freed up by a terminated task).
type OfferReviver interface {
	ReviveOffers()
}
