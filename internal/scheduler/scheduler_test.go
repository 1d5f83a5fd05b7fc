package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddIntervalRunsTask(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var runs int64
	s.AddInterval(50*time.Millisecond, func() {
		atomic.AddInt64(&runs, 1)
	})

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("interval task never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAddJobRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("invalid cron expression accepted")
	}
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("valid cron expression rejected: %v", err)
	}
}

func TestStopPreventsFurtherRuns(t *testing.T) {
	s := NewScheduler()

	var runs int64
	s.AddInterval(20*time.Millisecond, func() {
		atomic.AddInt64(&runs, 1)
	})
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt64(&runs)
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt64(&runs); got != after {
		t.Errorf("task ran after Stop: %d -> %d", after, got)
	}
}
