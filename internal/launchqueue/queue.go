// Package launchqueue implements the Administrative API: the surface the
// (out-of-scope) REST layer uses to enqueue launches, stop an app's
// launcher, and query launch progress.
//
// It is grounded on master/task/manager.go's registry of per-job handlers
// and common/goalstate/engine.go's entityMap (a mutex-guarded map from ID
// to live actor, mutated by add/delete, read by a snapshot for fan-out
// operations like List) — generalized here from goal-state engines to
// per-app Launcher actors.
package launchqueue

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/ss75710541/marathon/internal/launcher"
	"github.com/ss75710541/marathon/internal/models"
	"github.com/ss75710541/marathon/internal/workerpool"
)

// errUnknownApp is the sentinel UnknownAppError wraps. Callers that only
// care whether an app was known at all, not which operation asked, can
// compare against it with errors.Cause.
var errUnknownApp = errors.New("launchqueue: unknown app")

// UnknownAppError is returned by operations that need an existing
// launcher's state but found none, per SPEC_FULL.md §7.
type UnknownAppError struct {
	AppID string
	cause error
}

func (e *UnknownAppError) Error() string {
	return fmt.Sprintf("%s %q", e.cause, e.AppID)
}

// Cause exposes the sentinel underneath, for github.com/pkg/errors.Cause.
func (e *UnknownAppError) Cause() error { return e.cause }

// Queue is the live registry of per-app launchers backing the
// administrative API's add/purge/count/list operations.
type Queue struct {
	mu        sync.Mutex
	launchers map[string]*launcher.Launcher
	newDeps   func(app models.App) launcher.Deps
	metrics   *Metrics
	pool      *workerpool.Pool
}

// New returns an empty Queue. newDeps builds the Deps for a freshly
// created launcher; it is called once per Add that creates a new app
// launcher. An upgrade of an app that already has a launcher is handled
// inside that launcher and does not call newDeps again.
func New(newDeps func(app models.App) launcher.Deps, metrics *Metrics) *Queue {
	return &Queue{
		launchers: make(map[string]*launcher.Launcher),
		newDeps:   newDeps,
		metrics:   metrics,
		pool:      workerpool.New(workerpool.DefaultMaxWorkers),
	}
}

// Add enqueues count launches for app. If no launcher exists yet for
// app.ID, one is created and started; otherwise the existing launcher's
// AddTasks handles upgrade/scale/same-app semantics per SPEC_FULL.md §4.1.
func (q *Queue) Add(app models.App, count int) models.QueuedTaskCount {
	q.mu.Lock()
	l, ok := q.launchers[app.ID]
	if !ok {
		l = launcher.New(app, count, q.newDeps(app))
		q.launchers[app.ID] = l
		q.metrics.activeLaunchers.Update(float64(len(q.launchers)))
	}
	q.mu.Unlock()

	q.metrics.addTotal.Inc(1)
	if !ok {
		l.Start()
		return l.QueuedTaskCount()
	}
	return l.AddTasks(app, count)
}

// Purge stops any launcher for appID. Purging an app with no launcher is a
// no-op, which is what makes repeated Purge calls idempotent per
// SPEC_FULL.md §8 property 5: the second call finds nothing left to do.
func (q *Queue) Purge(appID string) {
	q.mu.Lock()
	l, ok := q.launchers[appID]
	if ok {
		delete(q.launchers, appID)
		q.metrics.activeLaunchers.Update(float64(len(q.launchers)))
	}
	q.mu.Unlock()

	q.metrics.purgeTotal.Inc(1)
	if ok {
		l.Stop()
	}
}

// PurgeAll purges every app in appIDs concurrently, fanning the stop
// requests out across the queue's worker pool instead of stopping
// launchers one at a time. It aggregates any panic recovered while
// stopping an individual launcher into a single error rather than letting
// one bad launcher abort the rest of the batch; per-app Purge itself
// never errors (unknown apps are a no-op), so a nil return is the common
// case.
func (q *Queue) PurgeAll(appIDs []string) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)

	for _, appID := range appIDs {
		appID := appID
		wg.Add(1)
		q.pool.Enqueue(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					result = multierror.Append(result, fmt.Errorf("launchqueue: panic purging app %q: %v", appID, r))
					mu.Unlock()
				}
			}()
			q.Purge(appID)
		})
	}

	wg.Wait()
	return result.ErrorOrNil()
}

// Close stops the queue's internal worker pool. Existing launchers are
// left running; callers that also want those stopped should PurgeAll
// their IDs first.
func (q *Queue) Close() {
	q.pool.Stop()
}

// Count returns appID's current tasksLeftToLaunch.
func (q *Queue) Count(appID string) (int, error) {
	q.mu.Lock()
	l, ok := q.launchers[appID]
	q.mu.Unlock()

	if !ok {
		q.metrics.unknownAppErrors.Inc(1)
		return 0, &UnknownAppError{AppID: appID, cause: errUnknownApp}
	}
	return l.QueuedTaskCount().TasksLeftToLaunch, nil
}

// List returns a snapshot of every active launcher's QueuedTaskCount.
func (q *Queue) List() []models.QueuedTaskCount {
	q.mu.Lock()
	launchers := make([]*launcher.Launcher, 0, len(q.launchers))
	for _, l := range q.launchers {
		launchers = append(launchers, l)
	}
	q.mu.Unlock()

	out := make([]models.QueuedTaskCount, 0, len(launchers))
	for _, l := range launchers {
		out = append(out, l.QueuedTaskCount())
	}
	return out
}
