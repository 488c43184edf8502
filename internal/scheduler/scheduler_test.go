package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

func newTestScheduler() *Scheduler {
	return New(NewQueueMetrics(tally.NoopScope))
}

func TestSchedulerFiresInDeadlineOrder(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Stop()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)

	now := time.Now()
	s.After(now.Add(30*time.Millisecond), func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	})
	s.After(now.Add(10*time.Millisecond), func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	s.After(now.Add(20*time.Millisecond), func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSchedulerCancel(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	h := s.After(time.Now().Add(20*time.Millisecond), func() {
		fired <- struct{}{}
	})
	h.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestHandleCancelIsIdempotent(t *testing.T) {
	s := newTestScheduler()
	s.Start()
	defer s.Stop()

	h := s.After(time.Now().Add(time.Hour), func() {})
	require.NotPanics(t, func() {
		h.Cancel()
		h.Cancel()
	})
}

func TestSchedulerStopDiscardsPendingTimers(t *testing.T) {
	s := newTestScheduler()
	s.Start()

	fired := make(chan struct{}, 1)
	s.After(time.Now().Add(20*time.Millisecond), func() {
		fired <- struct{}{}
	})
	s.Stop()

	select {
	case <-fired:
		t.Fatal("timer fired after scheduler stopped")
	case <-time.After(60 * time.Millisecond):
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for goroutines")
	}
}
