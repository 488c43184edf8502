// Package offerqueue provides the channel-backed inbound offer feed the
// composition root drains into the Offer Processor.
//
// It is grounded on util/queue.go's memLocalQueue (a buffered Go channel
// wrapped with a GetRec(timeout)/PutRec pair), generalized from the
// teacher's interface{}-typed record and manual type assertion to a
// directly-typed models.Offer channel.
package offerqueue

import (
	"time"

	"github.com/ss75710541/marathon/internal/models"
)

// DefaultBufferSize is used when a non-positive buffer size is requested.
const DefaultBufferSize = 1024

// Queue is a process-local, channel-backed buffer of inbound offers,
// standing in for whatever inbound transport actually receives them from
// the resource master (out of scope per SPEC_FULL.md §1).
type Queue struct {
	ch chan models.Offer
}

// New returns an empty Queue buffering up to size offers.
func New(size int) *Queue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Queue{ch: make(chan models.Offer, size)}
}

// Put enqueues offer. Blocks if the queue is full.
func (q *Queue) Put(offer models.Offer) {
	q.ch <- offer
}

// Get waits up to d for an offer, returning ok=false on timeout.
func (q *Queue) Get(d time.Duration) (models.Offer, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case offer := <-q.ch:
		return offer, true
	case <-timer.C:
		return models.Offer{}, false
	}
}
