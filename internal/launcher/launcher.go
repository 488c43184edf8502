// Package launcher implements the per-application Launcher: the
// actor-like entity that owns one app's launch intent, matches offers
// forwarded to it, maintains its live task view, and honors rate-limiter
// backoff.
//
// It is grounded on the run-to-completion actor style used throughout
// common/goalstate/engine.go and pkg/jobmgr/task/launcher's per-task state
// machines, adapted from an executor-dispatched actor system to a single
// goroutine per launcher reading from a buffered mailbox channel — Go's
// idiomatic equivalent of "each actor processes messages one at a time, no
// internal locks required."
package launcher

import (
	"reflect"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ss75710541/marathon/internal/models"
	"github.com/ss75710541/marathon/internal/ratelimit"
	"github.com/ss75710541/marathon/internal/scheduler"
	"github.com/ss75710541/marathon/internal/statusbus"
	"github.com/ss75710541/marathon/internal/taskfactory"
)

// reasonLaunchNotificationTimeout is the sentinel rejection reason a
// launcher synthesizes when a matched task's launch is never acknowledged
// within taskLaunchNotificationTimeout.
const reasonLaunchNotificationTimeout = "launch-notification-timeout"

const inboxCapacity = 32

type phase int

const (
	phaseWaitingForInitialDelay phase = iota
	phaseActive
	phaseWaitingForInFlight
	phaseTerminated
)

// Deps groups a launcher's collaborators, all of which are shared across
// every launcher in the process.
type Deps struct {
	Clock                         Clock
	Factory                       taskfactory.Factory
	Scheduler                     *scheduler.Scheduler
	RateLimiter                   ratelimit.RateLimiter
	Manager                       SubscriptionManager
	OfferReviver                  OfferReviver
	StatusBus                     statusbus.Bus
	TaskLaunchNotificationTimeout time.Duration
}

// Clock is the time source a launcher checks match deadlines against. It
// is the same interface as internal/clock.Clock, redeclared here so this
// package does not need to import internal/clock just to name the type
// used in Deps — any clock.Clock value satisfies it.
type Clock interface {
	Now() time.Time
}

// Launcher owns one application's launch intent. All exported methods are
// safe to call from any goroutine: they hand a message to the launcher's
// mailbox and wait for the corresponding reply, so all actual state
// mutation happens on the launcher's own goroutine.
type Launcher struct {
	inbox  chan msg
	doneCh chan struct{}

	clock        Clock
	factory      taskfactory.Factory
	scheduler    *scheduler.Scheduler
	rateLimiter  ratelimit.RateLimiter
	manager      SubscriptionManager
	offerReviver OfferReviver

	unsubscribeStatusBus func()

	taskLaunchNotificationTimeout time.Duration

	phase                phase
	stash                []msg
	app                  models.App
	tasksToLaunch        int
	tasksMap             map[string]models.Task
	inFlightTaskLaunches map[string]*scheduler.Handle
	backOffUntil         time.Time
	recheckBackOff       *scheduler.Handle
	registeredAsMatcher  bool
}

// New constructs a Launcher for app with count initial instances to
// launch. Call Start to begin processing.
func New(app models.App, count int, deps Deps) *Launcher {
	l := &Launcher{
		inbox:                         make(chan msg, inboxCapacity),
		doneCh:                        make(chan struct{}),
		clock:                         deps.Clock,
		factory:                       deps.Factory,
		scheduler:                     deps.Scheduler,
		rateLimiter:                   deps.RateLimiter,
		manager:                       deps.Manager,
		offerReviver:                  deps.OfferReviver,
		taskLaunchNotificationTimeout: deps.TaskLaunchNotificationTimeout,
		phase:                         phaseWaitingForInitialDelay,
		app:                           app,
		tasksToLaunch:                 count,
		tasksMap:                      make(map[string]models.Task),
		inFlightTaskLaunches:          make(map[string]*scheduler.Handle),
	}
	if deps.StatusBus != nil {
		l.unsubscribeStatusBus = deps.StatusBus.Subscribe(app.ID, l.deliverStatusUpdate)
	}
	return l
}

// AppID identifies the application this launcher owns.
func (l *Launcher) AppID() string { return l.app.ID }

// Done is closed once the launcher has finished draining in-flight
// launches after Stop and its actor loop has exited.
func (l *Launcher) Done() <-chan struct{} { return l.doneCh }

// Start begins the actor loop and asks the rate limiter for this app's
// current backoff.
func (l *Launcher) Start() {
	go l.run()
	go l.requestDelay()
}

func (l *Launcher) requestDelay() {
	until := l.rateLimiter.Subscribe(l.app.ID, l.deliverDelayUpdate)
	l.send(delayUpdateMsg{appID: l.app.ID, until: until})
}

func (l *Launcher) deliverStatusUpdate(u statusbus.Update) {
	l.send(statusUpdateMsg{update: u})
}

func (l *Launcher) deliverDelayUpdate(appID string, until time.Time) {
	l.send(delayUpdateMsg{appID: appID, until: until})
}

// send hands m to the actor loop, or drops it silently if the launcher has
// already terminated.
func (l *Launcher) send(m msg) {
	select {
	case l.inbox <- m:
	case <-l.doneCh:
	}
}

// MatchOffer implements Matchable: it is called by the offer matcher
// manager, from a goroutine the manager starts for each poll, once per round
// this launcher is subscribed.
func (l *Launcher) MatchOffer(deadline time.Time, offer models.Offer) []models.TaskWithSource {
	reply := make(chan []models.TaskWithSource, 1)
	select {
	case l.inbox <- matchOfferMsg{deadline: deadline, offer: offer, reply: reply}:
	case <-l.doneCh:
		return nil
	}
	select {
	case tasks := <-reply:
		return tasks
	case <-l.doneCh:
		return nil
	}
}

// AddTasks enqueues count launches for app, replacing this launcher's
// current App definition. Returns the resulting QueuedTaskCount snapshot.
func (l *Launcher) AddTasks(app models.App, count int) models.QueuedTaskCount {
	reply := make(chan models.QueuedTaskCount, 1)
	select {
	case l.inbox <- addTasksMsg{app: app, count: count, reply: reply}:
	case <-l.doneCh:
		return models.QueuedTaskCount{App: app}
	}
	select {
	case qc := <-reply:
		return qc
	case <-l.doneCh:
		return models.QueuedTaskCount{App: app}
	}
}

// QueuedTaskCount returns a snapshot of this launcher's current state.
func (l *Launcher) QueuedTaskCount() models.QueuedTaskCount {
	reply := make(chan models.QueuedTaskCount, 1)
	select {
	case l.inbox <- queryCountMsg{reply: reply}:
	case <-l.doneCh:
		return models.QueuedTaskCount{}
	}
	select {
	case qc := <-reply:
		return qc
	case <-l.doneCh:
		return models.QueuedTaskCount{}
	}
}

// Stop begins graceful shutdown: no further matches are accepted, but
// in-flight launches are drained before the actor loop exits.
func (l *Launcher) Stop() {
	l.send(stopMsg{})
}

func (l *Launcher) run() {
	for m := range l.inbox {
		l.handle(m)
		if l.phase == phaseTerminated {
			close(l.doneCh)
			return
		}
	}
}

// handle routes m according to the launcher's current lifecycle phase, per
// SPEC_FULL.md §4.1's waitingForInitialDelay / active / waitingForInFlight
// state machine.
func (l *Launcher) handle(m msg) {
	switch l.phase {
	case phaseWaitingForInitialDelay:
		l.handleWaitingForInitialDelay(m)
	case phaseWaitingForInFlight:
		l.handleWaitingForInFlight(m)
	default:
		l.dispatch(m)
	}
}

func (l *Launcher) handleWaitingForInitialDelay(m msg) {
	if du, ok := m.(delayUpdateMsg); ok && du.appID == l.app.ID {
		l.onDelayUpdate(du)
		l.phase = phaseActive
		// onDelayUpdate skips re-evaluation when the delay is unchanged (e.g.
		// a zero delay against the zero backOffUntil), so evaluate here.
		l.manageOfferMatcherStatus()
		l.replayStash()
		return
	}
	l.stash = append(l.stash, m)
}

func (l *Launcher) replayStash() {
	stashed := l.stash
	l.stash = nil
	for _, m := range stashed {
		l.handle(m)
	}
}

// handleWaitingForInFlight accepts only launch-notification traffic; every
// other message is answered with the launcher's frozen state (so callers
// waiting on a reply channel never block forever) but does not mutate it.
func (l *Launcher) handleWaitingForInFlight(m msg) {
	switch v := m.(type) {
	case taskLaunchAcceptedMsg:
		l.onTaskLaunchAccepted(v)
	case taskLaunchRejectedMsg:
		l.onTaskLaunchRejected(v)
	case launchNotificationTimeoutMsg:
		l.onTaskLaunchRejected(taskLaunchRejectedMsg{taskID: v.taskID, reason: reasonLaunchNotificationTimeout})
	case matchOfferMsg:
		v.reply <- nil
	case addTasksMsg:
		v.reply <- l.queuedTaskCount()
	case queryCountMsg:
		v.reply <- l.queuedTaskCount()
	}
	if len(l.inFlightTaskLaunches) == 0 {
		l.phase = phaseTerminated
	}
}

func (l *Launcher) dispatch(m msg) {
	switch v := m.(type) {
	case matchOfferMsg:
		l.onMatchOffer(v)
	case addTasksMsg:
		l.onAddTasks(v)
	case taskLaunchAcceptedMsg:
		l.onTaskLaunchAccepted(v)
	case taskLaunchRejectedMsg:
		l.onTaskLaunchRejected(v)
	case launchNotificationTimeoutMsg:
		l.onTaskLaunchRejected(taskLaunchRejectedMsg{taskID: v.taskID, reason: reasonLaunchNotificationTimeout})
	case statusUpdateMsg:
		l.onStatusUpdate(v)
	case delayUpdateMsg:
		l.onDelayUpdate(v)
	case recheckBackOffMsg:
		l.manageOfferMatcherStatus()
	case stopMsg:
		l.onStop()
	case queryCountMsg:
		v.reply <- l.queuedTaskCount()
	}
}

func (l *Launcher) onMatchOffer(m matchOfferMsg) {
	if !l.clock.Now().Before(m.deadline) || !l.shouldLaunchTasks() {
		m.reply <- nil
		return
	}

	result, ok := l.factory.NewTask(l.app, m.offer, l.runningTasksSnapshot())
	if !ok {
		m.reply <- nil
		return
	}

	taskID := result.Task.TaskID
	l.tasksMap[taskID] = result.Task
	l.inFlightTaskLaunches[taskID] = nil
	l.tasksToLaunch--
	l.manageOfferMatcherStatus()

	fireAt := l.clock.Now().Add(l.taskLaunchNotificationTimeout)
	l.inFlightTaskLaunches[taskID] = l.scheduler.After(fireAt, func() {
		l.send(launchNotificationTimeoutMsg{taskID: taskID})
	})

	m.reply <- []models.TaskWithSource{{
		LaunchSpec: result.LaunchSpec,
		TaskRecord: result.Task,
		Source:     &launchSource{l: l, taskID: taskID},
	}}
}

func (l *Launcher) runningTasksSnapshot() []models.Task {
	out := make([]models.Task, 0, len(l.tasksMap))
	for _, t := range l.tasksMap {
		out = append(out, t)
	}
	return out
}

func (l *Launcher) onAddTasks(m addTasksMsg) {
	switch {
	case l.app.IsUpgrade(m.app):
		l.app = m.app
		l.tasksToLaunch = m.count
		if l.registeredAsMatcher {
			l.manager.Unsubscribe(l.app.ID)
			l.registeredAsMatcher = false
		}
		l.enterWaitingForInitialDelay()
	case !appsEqual(l.app, m.app):
		l.app = m.app
		l.tasksToLaunch = m.count
		l.manageOfferMatcherStatus()
	default:
		l.tasksToLaunch += m.count
		l.manageOfferMatcherStatus()
	}
	m.reply <- l.queuedTaskCount()
}

func (l *Launcher) enterWaitingForInitialDelay() {
	l.phase = phaseWaitingForInitialDelay
	l.backOffUntil = time.Time{}
	l.requestDelay()
}

func (l *Launcher) onTaskLaunchAccepted(m taskLaunchAcceptedMsg) {
	if handle, ok := l.inFlightTaskLaunches[m.taskID]; ok {
		if handle != nil {
			handle.Cancel()
		}
		delete(l.inFlightTaskLaunches, m.taskID)
	}
}

func (l *Launcher) onTaskLaunchRejected(m taskLaunchRejectedMsg) {
	handle, inFlight := l.inFlightTaskLaunches[m.taskID]
	if !inFlight {
		// Stale launch-notification timer fire, or a duplicate reject for a
		// task already accepted/rejected. Nothing to compensate.
		return
	}
	if handle != nil {
		handle.Cancel()
	}
	delete(l.inFlightTaskLaunches, m.taskID)
	delete(l.tasksMap, m.taskID)
	l.tasksToLaunch++
	l.manageOfferMatcherStatus()

	log.WithFields(log.Fields{
		"app_id":  l.app.ID,
		"task_id": m.taskID,
		"reason":  m.reason,
	}).Debug("launcher: task launch rejected")
}

func (l *Launcher) onStatusUpdate(m statusUpdateMsg) {
	task, ok := l.tasksMap[m.update.TaskID]
	if !ok {
		log.WithFields(log.Fields{
			"app_id":  l.app.ID,
			"task_id": m.update.TaskID,
		}).Debug("launcher: status update for task not in tasksMap")
		return
	}

	if !models.MarathonTaskStatus(m.update.State) {
		task.State = m.update.State
		task.Status = m.update.Status
		l.tasksMap[m.update.TaskID] = task
		return
	}

	delete(l.tasksMap, m.update.TaskID)
	if handle, inFlight := l.inFlightTaskLaunches[m.update.TaskID]; inFlight {
		if handle != nil {
			handle.Cancel()
		}
		delete(l.inFlightTaskLaunches, m.update.TaskID)
	}
	if len(l.app.Constraints) > 0 && l.offerReviver != nil {
		l.offerReviver.ReviveOffers()
	}
}

func (l *Launcher) onDelayUpdate(m delayUpdateMsg) {
	if m.appID != l.app.ID || m.until.Equal(l.backOffUntil) {
		return
	}

	l.backOffUntil = m.until
	if l.recheckBackOff != nil {
		l.recheckBackOff.Cancel()
		l.recheckBackOff = nil
	}
	if m.until.After(l.clock.Now()) {
		l.recheckBackOff = l.scheduler.After(m.until, func() {
			l.send(recheckBackOffMsg{})
		})
	}
	l.manageOfferMatcherStatus()
}

func (l *Launcher) onStop() {
	if l.recheckBackOff != nil {
		l.recheckBackOff.Cancel()
		l.recheckBackOff = nil
	}
	if l.registeredAsMatcher {
		l.manager.Unsubscribe(l.app.ID)
		l.registeredAsMatcher = false
	}
	if l.unsubscribeStatusBus != nil {
		l.unsubscribeStatusBus()
	}
	l.phase = phaseWaitingForInFlight
	if len(l.inFlightTaskLaunches) == 0 {
		l.phase = phaseTerminated
	}
}

func (l *Launcher) shouldLaunchTasks() bool {
	return l.tasksToLaunch > 0 && !l.clock.Now().Before(l.backOffUntil)
}

func (l *Launcher) manageOfferMatcherStatus() {
	should := l.shouldLaunchTasks()
	switch {
	case should && !l.registeredAsMatcher:
		l.manager.Subscribe(l)
		l.registeredAsMatcher = true
	case !should && l.registeredAsMatcher:
		l.manager.Unsubscribe(l.app.ID)
		l.registeredAsMatcher = false
	}
}

func (l *Launcher) queuedTaskCount() models.QueuedTaskCount {
	return models.QueuedTaskCount{
		App:                    l.app,
		TasksLeftToLaunch:      l.tasksToLaunch,
		TaskLaunchesInFlight:   len(l.inFlightTaskLaunches),
		TasksLaunchedOrRunning: len(l.tasksMap) - len(l.inFlightTaskLaunches),
		BackOffUntil:           l.backOffUntil,
	}
}

func appsEqual(a, b models.App) bool {
	return reflect.DeepEqual(a, b)
}
