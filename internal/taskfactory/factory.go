// Package taskfactory implements the Task Factory: the pure function that
// decides, for one App and one Offer, whether a new task can be carved out
// of the offer's resources given the set of tasks already running.
//
// It is grounded on pkg/hostmgr/factory/task/task_builder.go's split
// between resource carving (scalars/ports) and constraint evaluation,
// generalized from Peloton's Mesos-resource/protobuf inputs to the plain
// Offer/App structs of SPEC_FULL.md §3, and on
// common/constraints/label_values.go's host-attribute-to-label-count
// approach for evaluating placement constraints.
package taskfactory

import (
	"time"

	"github.com/pborman/uuid"

	"github.com/ss75710541/marathon/internal/models"
)

// HostNameKey is the pseudo-attribute label always available for
// hostname-based constraints, regardless of what the offer advertises.
const HostNameKey = "hostname"

// Result is what a successful match produces: the wire-level spec to hand
// the driver plus the task record to persist.
type Result struct {
	LaunchSpec models.LaunchSpec
	Task       models.Task
}

// Factory carves a launchable task out of an offer for an app, taking into
// account the tasks already running for that app (for constraints like
// UNIQUE that must see current placement).
type Factory interface {
	// NewTask attempts to match app against offer given runningTasks. ok is
	// false if no task could be carved out (insufficient resources or an
	// unsatisfied constraint) — a Task Factory failure is never an error,
	// only "no match this round".
	NewTask(app models.App, offer models.Offer, runningTasks []models.Task) (Result, bool)
}

// factory is the default constraint-matching Task Factory.
type factory struct {
	now func() time.Time
}

// New returns the default Task Factory. now defaults to time.Now if nil.
func New(now func() time.Time) Factory {
	if now == nil {
		now = time.Now
	}
	return &factory{now: now}
}

func (f *factory) NewTask(app models.App, offer models.Offer, runningTasks []models.Task) (Result, bool) {
	if !offer.Resources.CanSatisfy(app.Resources) {
		return Result{}, false
	}

	if !satisfiesConstraints(app, offer, runningTasks) {
		return Result{}, false
	}

	taskID := app.ID + "." + uuid.New()
	now := f.now()

	spec := models.LaunchSpec{
		TaskID:    taskID,
		AppID:     app.ID,
		Command:   app.Command,
		Resources: app.Resources,
		Hostname:  offer.Hostname,
		SlaveID:   offer.SlaveID,
	}

	stagedAt := now.UnixNano() / int64(time.Millisecond)
	record := models.Task{
		TaskID:   taskID,
		AppID:    app.ID,
		Version:  app.Version,
		StagedAt: &stagedAt,
		State:    models.TaskStaging,
		Hostname: offer.Hostname,
	}

	return Result{LaunchSpec: spec, Task: record}, true
}

// hostLabelValues mirrors GetHostLabelValues: hostname is always present,
// plus every attribute the offer advertises.
func hostLabelValues(offer models.Offer) map[string]map[string]struct{} {
	values := map[string]map[string]struct{}{
		HostNameKey: {offer.Hostname: {}},
	}
	for k, v := range offer.Attributes {
		if _, ok := values[k]; !ok {
			values[k] = make(map[string]struct{})
		}
		values[k][v] = struct{}{}
	}
	return values
}

// satisfiesConstraints evaluates every constraint on app against offer and
// the set of tasks already running for it. Two operators are supported,
// mirroring the pair Marathon-style schedulers lean on most:
//
//   - CLUSTER: the offer's attribute value for Field must equal Value.
//   - UNIQUE: no running task may already be on the offer's host. Tasks
//     are compared by hostname only; the constraint's Field is not
//     consulted.
func satisfiesConstraints(app models.App, offer models.Offer, runningTasks []models.Task) bool {
	labels := hostLabelValues(offer)
	for _, c := range app.Constraints {
		switch c.Operator {
		case "CLUSTER":
			vals, ok := labels[c.Field]
			if !ok {
				return false
			}
			if _, present := vals[c.Value]; !present {
				return false
			}
		case "UNIQUE":
			if hostAlreadyUsed(runningTasks, offer.Hostname) {
				return false
			}
		}
	}
	return true
}

func hostAlreadyUsed(runningTasks []models.Task, hostname string) bool {
	for _, t := range runningTasks {
		if t.Hostname == hostname {
			return true
		}
	}
	return false
}
