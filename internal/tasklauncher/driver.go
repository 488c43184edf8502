// Package tasklauncher implements the Task Launcher: a thin adapter over
// the outbound driver that actually talks to the resource master.
//
// It is grounded on master/task/manager.go's driver-call wrappers, which
// add logging and metrics around a raw driver method without touching its
// semantics — the same shape applies here around launchTasks/declineOffer.
package tasklauncher

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ss75710541/marathon/internal/models"
)

// Driver is the outbound collaborator that actually talks to the resource
// master, out of scope per SPEC_FULL.md §1: assumed to accept
// launchTasks/declineOffer and report launchTasks success or failure.
type Driver interface {
	LaunchTasks(offerID string, specs []models.LaunchSpec) bool
	DeclineOffer(offerID string, refuseMillis *int64)
	ReviveOffers()
}

// TaskLauncher wraps Driver with a metric on every call to the resource
// master and a warning log when the driver rejects a launch.
type TaskLauncher struct {
	driver  Driver
	metrics *Metrics
}

// New returns a TaskLauncher wrapping driver.
func New(driver Driver, metrics *Metrics) *TaskLauncher {
	return &TaskLauncher{driver: driver, metrics: metrics}
}

// LaunchTasks hands specs to the driver for offerID. Returns true iff the
// driver accepted the launch.
func (t *TaskLauncher) LaunchTasks(offerID string, specs []models.LaunchSpec) bool {
	ok := t.driver.LaunchTasks(offerID, specs)
	if !ok {
		t.metrics.launchFailed.Inc(1)
		log.WithFields(log.Fields{
			"offer_id":   offerID,
			"task_count": len(specs),
		}).Warn("tasklauncher: driver rejected launchTasks")
		return false
	}
	t.metrics.launched.Inc(int64(len(specs)))
	return true
}

// DeclineOffer returns offerID unused. refuseMillis, if non-nil, asks the
// resource master to withhold this offer's host for that long before
// re-offering it.
func (t *TaskLauncher) DeclineOffer(offerID string, refuseMillis *time.Duration) {
	var millis *int64
	if refuseMillis != nil {
		m := refuseMillis.Milliseconds()
		millis = &m
	}
	t.driver.DeclineOffer(offerID, millis)
	t.metrics.declined.Inc(1)
}

// ReviveOffers implements launcher.OfferReviver: it asks the resource
// master to re-offer resources sooner, used after a constraint that
// previously blocked placement may have become satisfiable again.
func (t *TaskLauncher) ReviveOffers() {
	t.driver.ReviveOffers()
	t.metrics.revived.Inc(1)
}
