// Package scheduler implements a deadline-ordered timer wheel: entries are
// enqueued with an absolute deadline and a single dequeueing goroutine wakes
// exactly when the earliest deadline expires. It backs every self-scheduled,
// cancellable timer named in SPEC_FULL.md §5 — a launcher's
// launch-notification timeout and its backoff-recheck timer — instead of a
// bare time.AfterFunc per timer, so cancellation and rescheduling share one
// container/heap instead of leaking goroutines per timer.
package scheduler
