package launcher

import (
	"time"

	"github.com/ss75710541/marathon/internal/models"
	"github.com/ss75710541/marathon/internal/statusbus"
)

// msg is anything a launcher's actor loop can process. All state mutation
// happens inside handle/dispatch, on the actor's own goroutine — this is
// the only synchronization the launcher needs.
type msg interface {
	isLauncherMsg()
}

type matchOfferMsg struct {
	deadline time.Time
	offer    models.Offer
	reply    chan []models.TaskWithSource
}

func (matchOfferMsg) isLauncherMsg() {}

type addTasksMsg struct {
	app   models.App
	count int
	reply chan models.QueuedTaskCount
}

func (addTasksMsg) isLauncherMsg() {}

type taskLaunchAcceptedMsg struct {
	taskID string
}

func (taskLaunchAcceptedMsg) isLauncherMsg() {}

type taskLaunchRejectedMsg struct {
	taskID string
	reason string
}

func (taskLaunchRejectedMsg) isLauncherMsg() {}

type statusUpdateMsg struct {
	update statusbus.Update
}

func (statusUpdateMsg) isLauncherMsg() {}

type delayUpdateMsg struct {
	appID string
	until time.Time
}

func (delayUpdateMsg) isLauncherMsg() {}

type recheckBackOffMsg struct{}

func (recheckBackOffMsg) isLauncherMsg() {}

type launchNotificationTimeoutMsg struct {
	taskID string
}

func (launchNotificationTimeoutMsg) isLauncherMsg() {}

type stopMsg struct{}

func (stopMsg) isLauncherMsg() {}

type queryCountMsg struct {
	reply chan models.QueuedTaskCount
}

func (queryCountMsg) isLauncherMsg() {}
