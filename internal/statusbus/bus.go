// Package statusbus implements the Status Event Bus: a per-application
// broadcast of task-state updates that launchers consume to keep their
// in-memory task views current.
//
// It is grounded on common/eventstream/handler.go's per-client subscriber
// bookkeeping, simplified from that package's circular-buffer replay log
// (built for cross-process consumers that must resume from an offset) to a
// plain in-process fan-out: SPEC_FULL.md's launch pipeline only ever
// consumes status updates in-process, from the launcher whose app the
// update belongs to.
package statusbus

import (
	"sync"

	"github.com/ss75710541/marathon/internal/models"
)

// Update is one task-status delivery from the driver's task-status stream.
type Update struct {
	AppID  string
	TaskID string
	State  models.TaskState
	Status models.Status
}

// Handler receives updates for the app it subscribed to. Handlers must not
// block: a launcher's handler enqueues the update onto its own mailbox and
// returns immediately, preserving the "processed in arrival order" ordering
// guarantee SPEC_FULL.md §5 requires without letting a slow launcher stall
// the bus.
type Handler func(Update)

// Bus is the publish side the (out-of-scope) task-status telemetry
// collaborator writes to, and the subscribe side launchers read from.
type Bus interface {
	// Subscribe registers handler for appID's updates. Returns a function
	// that removes the subscription.
	Subscribe(appID string, handler Handler) (unsubscribe func())
	// Publish delivers update to every handler currently subscribed to
	// update.AppID.
	Publish(update Update)
}

type bus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

// New returns an empty Bus.
func New() Bus {
	return &bus{handlers: make(map[string]map[int]Handler)}
}

func (b *bus) Subscribe(appID string, handler Handler) func() {
	b.mu.Lock()
	byID, ok := b.handlers[appID]
	if !ok {
		byID = make(map[int]Handler)
		b.handlers[appID] = byID
	}
	id := b.nextID
	b.nextID++
	byID[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if byID, ok := b.handlers[appID]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(b.handlers, appID)
			}
		}
	}
}

func (b *bus) Publish(update Update) {
	b.mu.RLock()
	byID := b.handlers[update.AppID]
	handlers := make([]Handler, 0, len(byID))
	for _, h := range byID {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}
