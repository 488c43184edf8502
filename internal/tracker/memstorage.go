package tracker

import (
	"context"
	"sync"

	"github.com/ss75710541/marathon/internal/models"
)

// memStorage is the default in-process Storage backend, used by tests and
// small deployments that have not wired a real persistent store. It mirrors
// the in-memory task queue peloton's older master/task/queue.go falls back
// to before a durable backend is registered.
type memStorage struct {
	mu    sync.RWMutex
	tasks map[string]map[string]models.Task // appID -> taskID -> Task
}

// NewInMemoryStorage returns a Storage backed by a process-local map.
func NewInMemoryStorage() Storage {
	return &memStorage{tasks: make(map[string]map[string]models.Task)}
}

func (m *memStorage) Store(_ context.Context, appID string, task models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTask, ok := m.tasks[appID]
	if !ok {
		byTask = make(map[string]models.Task)
		m.tasks[appID] = byTask
	}
	byTask[task.TaskID] = task
	return nil
}

func (m *memStorage) Delete(_ context.Context, appID string, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTask, ok := m.tasks[appID]
	if !ok {
		return nil
	}
	delete(byTask, taskID)
	if len(byTask) == 0 {
		delete(m.tasks, appID)
	}
	return nil
}
