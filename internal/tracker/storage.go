package tracker

import (
	"context"

	"github.com/ss75710541/marathon/internal/models"
)

// Storage is the persistent backend the Task Tracker durably writes
// through. SPEC_FULL.md §6 assumes only "asynchronous key-value semantics"
// of it; the REST API, auth, and the actual storage engine are out of
// scope. Store and Delete are ordinary blocking calls — the offer
// processor's own goroutine (drawn from the workerpool) is what makes them
// non-blocking with respect to the rest of the system, per SPEC_FULL.md §5.
type Storage interface {
	// Store durably persists task under appID/task.TaskID.
	Store(ctx context.Context, appID string, task models.Task) error
	// Delete durably removes appID/taskID. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, appID string, taskID string) error
}
