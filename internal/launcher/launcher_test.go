package launcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/ss75710541/marathon/internal/clock"
	"github.com/ss75710541/marathon/internal/models"
	"github.com/ss75710541/marathon/internal/ratelimit"
	"github.com/ss75710541/marathon/internal/scheduler"
	"github.com/ss75710541/marathon/internal/statusbus"
	"github.com/ss75710541/marathon/internal/taskfactory"
)

// fakeRateLimiter is a hand-written double controlling exactly when
// Subscribe returns, so tests can force the launcher to sit in
// waitingForInitialDelay and observe the stash/replay behavior.
type fakeRateLimiter struct {
	mu           sync.Mutex
	listener     ratelimit.Listener
	subscribed   chan struct{}
	proceedWith  chan time.Time
	subscribeCnt int32
}

func newFakeRateLimiter() *fakeRateLimiter {
	return &fakeRateLimiter{}
}

func (f *fakeRateLimiter) Subscribe(appID string, listener ratelimit.Listener) time.Time {
	f.mu.Lock()
	f.listener = listener
	f.mu.Unlock()
	atomic.AddInt32(&f.subscribeCnt, 1)

	if f.subscribed != nil {
		f.subscribed <- struct{}{}
	}
	if f.proceedWith != nil {
		return <-f.proceedWith
	}
	return time.Time{}
}

func (f *fakeRateLimiter) GetDelay(string) time.Time { return time.Time{} }
func (f *fakeRateLimiter) Increase(string)           {}
func (f *fakeRateLimiter) Reset(string)              {}

func (f *fakeRateLimiter) trigger(appID string, until time.Time) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(appID, until)
	}
}

func (f *fakeRateLimiter) subscribeCalls() int32 { return atomic.LoadInt32(&f.subscribeCnt) }

// fakeManager is a hand-written SubscriptionManager double.
type fakeManager struct {
	mu               sync.Mutex
	subscribed       map[string]Matchable
	subscribeCount   int
	unsubscribeCount int
}

func newFakeManager() *fakeManager {
	return &fakeManager{subscribed: make(map[string]Matchable)}
}

func (f *fakeManager) Subscribe(l Matchable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[l.AppID()] = l
	f.subscribeCount++
}

func (f *fakeManager) Unsubscribe(appID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, appID)
	f.unsubscribeCount++
}

func (f *fakeManager) isSubscribed(appID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subscribed[appID]
	return ok
}

// fakeReviver is a hand-written OfferReviver double.
type fakeReviver struct {
	calls int32
}

func (f *fakeReviver) ReviveOffers() { atomic.AddInt32(&f.calls, 1) }
func (f *fakeReviver) callCount() int32 { return atomic.LoadInt32(&f.calls) }

// fakeFactory is a hand-written taskfactory.Factory double.
type fakeFactory struct {
	fn func(app models.App, offer models.Offer, running []models.Task) (taskfactory.Result, bool)
}

func (f *fakeFactory) NewTask(app models.App, offer models.Offer, running []models.Task) (taskfactory.Result, bool) {
	return f.fn(app, offer, running)
}

func matchingFactory(taskID string) *fakeFactory {
	return &fakeFactory{fn: func(app models.App, offer models.Offer, _ []models.Task) (taskfactory.Result, bool) {
		return taskfactory.Result{
			LaunchSpec: models.LaunchSpec{TaskID: taskID, AppID: app.ID, Hostname: offer.Hostname},
			Task:       models.Task{TaskID: taskID, AppID: app.ID, State: models.TaskStaging},
		}, true
	}}
}

func newTestScheduler() *scheduler.Scheduler {
	s := scheduler.New(scheduler.NewQueueMetrics(tally.NoopScope))
	s.Start()
	return s
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestLauncherSubscribesOnceActiveAndMatchesOffer(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock:                         clk,
		Factory:                       factory,
		Scheduler:                     sched,
		RateLimiter:                   rl,
		Manager:                       mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()

	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{Hostname: "host-a"})
	require.Len(t, tasks, 1)
	assert.Equal(t, "app1.task1", tasks[0].LaunchSpec.TaskID)

	qc := l.QueuedTaskCount()
	assert.Equal(t, 0, qc.TasksLeftToLaunch)
	assert.Equal(t, 1, qc.TaskLaunchesInFlight)
}

func TestMatchOfferPastDeadlineReturnsNil(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(-time.Second), models.Offer{})
	assert.Nil(t, tasks)
}

func TestMatchOfferDuringBackoffReturnsNil(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	rl.proceedWith = make(chan time.Time, 1)
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	until := clk.Now().Add(time.Hour)
	rl.proceedWith <- until

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()

	eventually(t, time.Second, func() bool { return l.QueuedTaskCount().BackOffUntil.Equal(until) })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	assert.Nil(t, tasks, "backed-off launcher must not match")
	assert.False(t, mgr.isSubscribed("app1"), "backed-off launcher must not stay subscribed")
}

func TestStashedMessagesReplayAfterInitialDelayResolves(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	rl.subscribed = make(chan struct{}, 1)
	rl.proceedWith = make(chan time.Time)
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()

	<-rl.subscribed // Subscribe has been entered but has not returned yet.

	result := make(chan []models.TaskWithSource, 1)
	go func() {
		result <- l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{Hostname: "host-a"})
	}()

	// Give MatchOffer's message a chance to land in the mailbox ahead of the
	// delayUpdate that resolves the initial delay.
	time.Sleep(20 * time.Millisecond)
	rl.proceedWith <- time.Time{}

	select {
	case tasks := <-result:
		require.Len(t, tasks, 1)
		assert.Equal(t, "app1.task1", tasks[0].LaunchSpec.TaskID)
	case <-time.After(time.Second):
		t.Fatal("stashed matchOffer was never replayed")
	}
}

func TestAcceptClearsInFlightLaunch(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	require.Len(t, tasks, 1)

	tasks[0].Source.Accept()

	eventually(t, time.Second, func() bool {
		return l.QueuedTaskCount().TaskLaunchesInFlight == 0
	})
	assert.Equal(t, 1, l.QueuedTaskCount().TasksLaunchedOrRunning)
}

func TestRejectReturnsTaskToQueueAndResubscribes(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	require.Len(t, tasks, 1)
	assert.False(t, mgr.isSubscribed("app1"), "no tasks left to launch: should have unsubscribed")

	tasks[0].Source.Reject("driver unavailable")

	eventually(t, time.Second, func() bool {
		qc := l.QueuedTaskCount()
		return qc.TasksLeftToLaunch == 1 && qc.TaskLaunchesInFlight == 0
	})
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })
}

func TestLaunchNotificationTimeoutRejectsTask(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: 10 * time.Millisecond,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	require.Len(t, tasks, 1)

	eventually(t, time.Second, func() bool {
		qc := l.QueuedTaskCount()
		return qc.TasksLeftToLaunch == 1 && qc.TaskLaunchesInFlight == 0
	})
}

func TestUpgradeRerequestsInitialDelay(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	app := models.App{ID: "app1", Command: "v1"}
	l := New(app, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })
	assert.EqualValues(t, 1, rl.subscribeCalls())

	upgraded := models.App{ID: "app1", Command: "v2"}
	l.AddTasks(upgraded, 3)

	eventually(t, time.Second, func() bool { return rl.subscribeCalls() == 2 })
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })
	assert.Equal(t, 3, l.QueuedTaskCount().TasksLeftToLaunch)
}

func TestScaleOnlyChangeDoesNotRerequestDelay(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	app := models.App{ID: "app1", Command: "v1"}
	l := New(app, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	scaled := models.App{ID: "app1", Command: "v1", Instances: 5}
	qc := l.AddTasks(scaled, 4)

	assert.Equal(t, 4, qc.TasksLeftToLaunch)
	assert.EqualValues(t, 1, rl.subscribeCalls(), "a scale-only change must not re-request the initial delay")
}

func TestStatusUpdateTerminalRevivesOffersWhenConstrained(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())
	reviver := &fakeReviver{}
	bus := statusbus.New()

	app := models.App{ID: "app1", Constraints: []models.Constraint{{Field: "rack", Operator: "CLUSTER", Value: "a"}}}
	l := New(app, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr, OfferReviver: reviver,
		StatusBus:                     bus,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	require.Len(t, tasks, 1)
	tasks[0].Source.Accept()
	eventually(t, time.Second, func() bool { return l.QueuedTaskCount().TaskLaunchesInFlight == 0 })

	bus.Publish(statusbus.Update{AppID: "app1", TaskID: "app1.task1", State: models.TaskFinished})

	eventually(t, time.Second, func() bool { return reviver.callCount() == 1 })
	assert.Equal(t, 0, l.QueuedTaskCount().TasksLaunchedOrRunning)
}

func TestStatusUpdateNonTerminalUpdatesTaskInPlace(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())
	bus := statusbus.New()

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		StatusBus:                     bus,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	require.Len(t, tasks, 1)
	tasks[0].Source.Accept()
	eventually(t, time.Second, func() bool { return l.QueuedTaskCount().TaskLaunchesInFlight == 0 })

	bus.Publish(statusbus.Update{AppID: "app1", TaskID: "app1.task1", State: models.TaskRunning})

	eventually(t, time.Second, func() bool { return l.QueuedTaskCount().TasksLaunchedOrRunning == 1 })
}

func TestStopWaitsForInFlightLaunchesBeforeTerminating(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	tasks := l.MatchOffer(clk.Now().Add(time.Minute), models.Offer{})
	require.Len(t, tasks, 1)

	l.Stop()

	select {
	case <-l.Done():
		t.Fatal("launcher terminated with an in-flight launch still outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	tasks[0].Source.Accept()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("launcher never terminated after its in-flight launch was accepted")
	}
}

func TestStopTerminatesImmediatelyWithNoInFlightLaunches(t *testing.T) {
	sched := newTestScheduler()
	defer sched.Stop()

	mgr := newFakeManager()
	rl := newFakeRateLimiter()
	factory := matchingFactory("app1.task1")
	clk := clock.NewMock(time.Now())

	l := New(models.App{ID: "app1"}, 1, Deps{
		Clock: clk, Factory: factory, Scheduler: sched, RateLimiter: rl, Manager: mgr,
		TaskLaunchNotificationTimeout: time.Minute,
	})
	l.Start()
	eventually(t, time.Second, func() bool { return mgr.isSubscribed("app1") })

	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("launcher never terminated")
	}
	assert.False(t, mgr.isSubscribed("app1"))
}
