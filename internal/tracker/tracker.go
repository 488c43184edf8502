// Package tracker implements the Task Tracker: the authoritative in-memory
// map of live tasks per application, backed by a pluggable durable Storage.
// It is grounded on master/task/manager.go's registry-over-a-store shape,
// generalized from Peloton's job/task RPC handlers to the plain
// created/store/terminated/contains/getTasks contract SPEC_FULL.md §4.5
// requires.
package tracker

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/ss75710541/marathon/internal/models"
)

// Tracker is the authoritative view of live tasks per application.
// getTasks/created/contains are synchronous; store/terminated perform
// durable I/O and are safe to call concurrently for distinct task IDs. For
// the same task ID, callers must serialize (the offer processor does, since
// each task ID belongs to exactly one in-flight pipeline at a time).
type Tracker interface {
	// GetTasks returns a snapshot of the current in-memory tasks for appID.
	GetTasks(appID string) []models.Task
	// Created adds task to the in-memory map. Synchronous.
	Created(appID string, task models.Task)
	// Store durably persists task. Returns an error if the write failed.
	Store(ctx context.Context, appID string, task models.Task) error
	// Terminated durably deletes taskID and removes it from the in-memory
	// map.
	Terminated(ctx context.Context, appID string, taskID string) error
	// Contains reports whether any task is currently tracked for appID.
	Contains(appID string) bool
	// Size returns the total number of tasks tracked across every app,
	// read off a cached counter rather than the in-memory map, so callers
	// on a hot path (metrics scrapes, admin listings) never contend with
	// GetTasks/Created/Terminated for the map lock.
	Size() int
}

type tracker struct {
	mu         sync.RWMutex
	tasks      map[string]map[string]models.Task // appID -> taskID -> Task
	storage    Storage
	metrics    *Metrics
	totalTasks atomic.Int64
}

// New returns a Tracker backed by storage.
func New(storage Storage, metrics *Metrics) Tracker {
	return &tracker{
		tasks:   make(map[string]map[string]models.Task),
		storage: storage,
		metrics: metrics,
	}
}

func (t *tracker) GetTasks(appID string) []models.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byTask := t.tasks[appID]
	out := make([]models.Task, 0, len(byTask))
	for _, task := range byTask {
		out = append(out, task)
	}
	return out
}

func (t *tracker) Created(appID string, task models.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byTask, ok := t.tasks[appID]
	if !ok {
		byTask = make(map[string]models.Task)
		t.tasks[appID] = byTask
	}
	if _, exists := byTask[task.TaskID]; !exists {
		t.totalTasks.Inc()
	}
	byTask[task.TaskID] = task
	t.metrics.created.Inc(1)
	t.metrics.liveTasksByApp.Update(float64(len(byTask)))
}

func (t *tracker) Store(ctx context.Context, appID string, task models.Task) error {
	if err := t.storage.Store(ctx, appID, task); err != nil {
		t.metrics.storeFail.Inc(1)
		log.WithError(err).WithFields(log.Fields{
			"app_id":  appID,
			"task_id": task.TaskID,
		}).Warn("tracker: failed to durably store task")
		return err
	}
	t.metrics.stored.Inc(1)
	return nil
}

func (t *tracker) Terminated(ctx context.Context, appID string, taskID string) error {
	err := t.storage.Delete(ctx, appID, taskID)
	if err != nil {
		t.metrics.terminatedFail.Inc(1)
		log.WithError(err).WithFields(log.Fields{
			"app_id":  appID,
			"task_id": taskID,
		}).Warn("tracker: failed to durably delete task")
	} else {
		t.metrics.terminated.Inc(1)
	}

	t.mu.Lock()
	if byTask, ok := t.tasks[appID]; ok {
		if _, existed := byTask[taskID]; existed {
			t.totalTasks.Dec()
		}
		delete(byTask, taskID)
		if len(byTask) == 0 {
			delete(t.tasks, appID)
		} else {
			t.metrics.liveTasksByApp.Update(float64(len(byTask)))
		}
	}
	t.mu.Unlock()

	return err
}

func (t *tracker) Contains(appID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byTask, ok := t.tasks[appID]
	return ok && len(byTask) > 0
}

// Size reads the cached total task count. It never blocks on the map lock,
// so a concurrent Created/Terminated in flight for another app cannot
// delay it.
func (t *tracker) Size() int {
	return int(t.totalTasks.Load())
}
