package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(within)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("condition not met within %s", within)
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}

func TestSchedulerEveryFires(t *testing.T) {
	sched := New()
	var fires atomic.Int32
	if err := sched.Every("tick", time.Second, func() { fires.Add(1) }); err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 })
}

func TestSchedulerCronExpressionFires(t *testing.T) {
	sched := New()
	var fires atomic.Int32
	if err := sched.Schedule("secondly", "* * * * * *", func() { fires.Add(1) }); err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return fires.Load() > 0 })
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	sched := New()
	if err := sched.Schedule("bad", "not a cron", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := sched.Every("bad", 0, func() {}); err == nil {
		t.Error("expected error for zero interval")
	}
	if sched.Has("bad") {
		t.Error("invalid job should not be registered")
	}
}

func TestSchedulerRemoveStopsFiring(t *testing.T) {
	sched := New()
	var fires atomic.Int32
	if err := sched.Every("tick", time.Second, func() { fires.Add(1) }); err != nil {
		t.Fatal(err)
	}
	sched.Remove("tick")
	sched.Remove("unknown")
	if sched.Has("tick") {
		t.Fatal("job still registered after Remove")
	}
	sched.Start()
	defer sched.Stop()

	time.Sleep(1500 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Errorf("removed job fired %d times", n)
	}
}

func TestSchedulerReplaceByName(t *testing.T) {
	sched := New()
	var first, second atomic.Int32
	sched.Every("job", time.Second, func() { first.Add(1) })
	sched.Every("job", time.Second, func() { second.Add(1) })
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return second.Load() > 0 })
	if n := first.Load(); n != 0 {
		t.Errorf("replaced job fired %d times", n)
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	sched := New()
	sched.Stop()
	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()
}
