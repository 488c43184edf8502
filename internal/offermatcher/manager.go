// Package offermatcher implements the Offer Matcher Manager: it multiplexes
// one inbound offer across every currently-subscribed launcher within a
// bounded deadline.
//
// It is grounded on common/goalstate/engine.go's entityMap-guarded-by-mutex
// registry (subscribe/unsubscribe mutating a map, a scheduling pass reading
// a snapshot of it) generalized from goal-state actions to per-round offer
// dispatch, and on the sequential-dispatch contract SPEC_FULL.md §4.2 calls
// out explicitly: a round polls a snapshot of subscribers one at a time,
// carving each matched task's resources out of a running remainder before
// polling the next launcher, so that launcher's Task Factory call sees the
// resources already consumed by launchers polled earlier in the same round.
package offermatcher

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/ss75710541/marathon/internal/launcher"
	"github.com/ss75710541/marathon/internal/models"
)

// Manager routes offers to subscribed launchers. It implements
// launcher.SubscriptionManager.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]launcher.Matchable
	metrics     *Metrics
	generation  atomic.Uint64
}

// New returns an empty Manager.
func New(metrics *Metrics) *Manager {
	return &Manager{
		subscribers: make(map[string]launcher.Matchable),
		metrics:     metrics,
	}
}

// Subscribe registers l to receive offers. Idempotent: subscribing an
// already-subscribed app ID replaces its handle.
func (m *Manager) Subscribe(l launcher.Matchable) {
	m.mu.Lock()
	m.subscribers[l.AppID()] = l
	m.metrics.subscribers.Update(float64(len(m.subscribers)))
	m.mu.Unlock()
}

// Unsubscribe removes appID from the subscriber set. Idempotent.
func (m *Manager) Unsubscribe(appID string) {
	m.mu.Lock()
	delete(m.subscribers, appID)
	m.metrics.subscribers.Update(float64(len(m.subscribers)))
	m.mu.Unlock()
}

// snapshot returns the subscriber set as it stood at the moment of the
// call. Subscribe/Unsubscribe calls arriving after this point are only
// observed by the *next* round, per SPEC_FULL.md §4.2's "observable only
// at round boundaries" contract.
func (m *Manager) snapshot() []launcher.Matchable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]launcher.Matchable, 0, len(m.subscribers))
	for _, l := range m.subscribers {
		out = append(out, l)
	}
	return out
}

// MatchOffer polls every launcher subscribed at the start of this round,
// sequentially, stopping early once deadline passes or the offer's
// resources are exhausted. A launcher's reply is only accepted if it
// arrived before deadline; a launcher that has not replied by then is
// treated as having produced nothing for this round.
//
// Each launcher sees a running remainder of the offer rather than the
// original: every task a launcher matches has its resources carved out of
// that remainder before the next launcher is polled, per SPEC_FULL.md §4.2's
// "must never exceed the offer's resources" contract.
func (m *Manager) MatchOffer(deadline time.Time, offer models.Offer) models.MatchedTasks {
	subscribers := m.snapshot()
	round := m.generation.Inc()

	result := models.MatchedTasks{OfferID: offer.ID}
	remaining := offer
	for _, l := range subscribers {
		if remaining.Resources.Exhausted() {
			break
		}

		timeLeft := time.Until(deadline)
		if timeLeft <= 0 {
			result.ResendThisOffer = true
			break
		}

		tasks := m.pollOne(round, l, deadline, timeLeft, remaining)
		for _, t := range tasks {
			remaining.Resources = remaining.Resources.Subtract(t.LaunchSpec.Resources)
		}
		result.Tasks = append(result.Tasks, tasks...)
	}

	m.metrics.roundTasks.RecordValue(float64(len(result.Tasks)))
	return result
}

// pollOne calls l.MatchOffer and bounds the wait by timeLeft, in case the
// launcher's mailbox is backed up and it cannot answer in time. offer
// carries whatever resources remain in the round so far, not necessarily
// the original offer. round identifies this call's MatchOffer round, so a
// late reply can be correlated with the round it was too slow for even when
// other rounds are running concurrently against other offers.
func (m *Manager) pollOne(round uint64, l launcher.Matchable, deadline time.Time, timeLeft time.Duration, offer models.Offer) []models.TaskWithSource {
	type reply struct {
		tasks []models.TaskWithSource
	}
	ch := make(chan reply, 1)
	go func() {
		ch <- reply{tasks: l.MatchOffer(deadline, offer)}
	}()

	timer := time.NewTimer(timeLeft)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.tasks
	case <-timer.C:
		log.WithFields(log.Fields{
			"app_id":   l.AppID(),
			"offer_id": offer.ID,
			"round":    round,
		}).Warn("offermatcher: launcher did not reply before round deadline")
		m.metrics.lateReplies.Inc(1)
		return nil
	}
}
