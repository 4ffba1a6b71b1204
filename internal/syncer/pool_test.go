package syncer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(2, 4)
	var ran atomic.Int32
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		ok := pool.TrySubmit(func() {
			if ran.Add(1) == 4 {
				close(done)
			}
		})
		if !ok {
			t.Fatalf("submission %d rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("tasks did not run")
	}
	pool.Stop()
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	pool := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	// Occupy the worker, then the single queue slot.
	if !pool.TrySubmit(func() { close(started); <-release }) {
		t.Fatalf("expected first submission to be accepted")
	}
	<-started
	if !pool.TrySubmit(func() { <-release }) {
		t.Fatalf("expected queued submission to be accepted")
	}
	if pool.TrySubmit(func() {}) {
		t.Fatalf("expected a saturated pool to reject")
	}

	close(release)
	pool.Stop()
}

func TestPoolStopWaitsForQueuedWork(t *testing.T) {
	pool := NewPool(1, 4)
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		pool.TrySubmit(func() { ran.Add(1) })
	}

	pool.Stop()
	if got := ran.Load(); got != 3 {
		t.Fatalf("expected queued work to finish before Stop returns, got %d", got)
	}
}
