package launcher

// launchSource is the models.Source a launcher hands out with every
// TaskWithSource it produces from matchOffer. It carries only the task ID
// and a reference back to the launcher's mailbox: Accept/Reject may be
// called from the offer processor's goroutine, long after matchOffer
// returned, so they must not touch launcher state directly.
type launchSource struct {
	l      *Launcher
	taskID string
}

func (s *launchSource) Accept() {
	s.l.send(taskLaunchAcceptedMsg{taskID: s.taskID})
}

func (s *launchSource) Reject(reason string) {
	s.l.send(taskLaunchRejectedMsg{taskID: s.taskID, reason: reason})
}
