package scheduler

import (
	"time"

	"github.com/ss75710541/marathon/internal/lifecycle"
)

// timerItem is a single one-shot timer entry in the deadline queue.
type timerItem struct {
	index    int
	deadline time.Time
	fire     func()
}

func (t *timerItem) Index() int             { return t.index }
func (t *timerItem) SetIndex(i int)         { t.index = i }
func (t *timerItem) Deadline() time.Time    { return t.deadline }
func (t *timerItem) SetDeadline(d time.Time) { t.deadline = d }

// Handle references a scheduled one-shot timer so it can be cancelled.
type Handle struct {
	item *timerItem
	s    *Scheduler
}

// Cancel prevents the timer from firing if it has not already fired.
// Cancelling an already-fired or already-cancelled timer is a no-op.
func (h *Handle) Cancel() {
	if h == nil || h.item == nil {
		return
	}
	h.s.queue.Cancel(h.item)
	h.s.metrics.cancelled.Inc(1)
}

// Scheduler is the Clock-independent Timer capability described in
// SPEC_FULL.md §9: components schedule one-shot, cancellable callbacks
// against it instead of calling time.AfterFunc directly, which keeps timer
// bookkeeping deterministic under test and centralizes it in one
// container/heap instead of N goroutines.
type Scheduler struct {
	queue     *deadlineQueue
	metrics   *QueueMetrics
	lifecycle lifecycle.Signal
}

// New returns a Scheduler. Call Start before scheduling any timers.
func New(metrics *QueueMetrics) *Scheduler {
	return &Scheduler{
		queue:     newDeadlineQueue(metrics),
		metrics:   metrics,
		lifecycle: lifecycle.New(),
	}
}

// Start begins the dequeue loop. Idempotent.
func (s *Scheduler) Start() {
	if !s.lifecycle.Start() {
		return
	}
	go s.run()
}

// Stop halts the dequeue loop. Pending timers are discarded without firing.
// Idempotent.
func (s *Scheduler) Stop() {
	s.lifecycle.Stop()
}

func (s *Scheduler) run() {
	stopCh := s.lifecycle.StopCh()
	for {
		item := s.queue.Dequeue(stopCh)
		if item == nil {
			return
		}
		ti := item.(*timerItem)
		s.metrics.fired.Inc(1)
		go ti.fire()
	}
}

// After schedules fire to be called once at deadline. The returned Handle
// can be used to cancel the timer before it fires. fire runs on its own
// goroutine, never on the scheduler's dequeue loop, so a slow callback never
// delays other timers.
func (s *Scheduler) After(deadline time.Time, fire func()) *Handle {
	item := &timerItem{index: -1, fire: fire}
	s.queue.Enqueue(item, deadline)
	return &Handle{item: item, s: s}
}
