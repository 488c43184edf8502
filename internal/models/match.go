package models

import "time"

// Source is the callback pair a matched task carries back to the launcher
// that produced it. Exactly one of Accept/Reject is invoked, exactly once,
// per SPEC_FULL.md §8 property 2.
type Source interface {
	Accept()
	Reject(reason string)
}

// TaskWithSource is one task produced by a single launcher's match attempt,
// paired with the callback needed to notify that launcher of the eventual
// outcome.
type TaskWithSource struct {
	LaunchSpec LaunchSpec
	TaskRecord Task
	Source     Source
}

// MatchedTasks is the offer matcher manager's reply for one offer: every
// task any subscribed launcher matched against it, in the order the
// launchers were polled, plus whether the offer should be resent if the
// round did not complete cleanly (e.g. it hit its deadline).
type MatchedTasks struct {
	OfferID         string
	Tasks           []TaskWithSource
	ResendThisOffer bool
}

// QueuedTaskCount is the snapshot reply for one app's launcher, exposed
// through the administrative API's Count/List operations.
type QueuedTaskCount struct {
	App                    App
	TasksLeftToLaunch      int
	TaskLaunchesInFlight   int
	TasksLaunchedOrRunning int
	BackOffUntil           time.Time
}
