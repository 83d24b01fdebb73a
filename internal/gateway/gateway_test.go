package gateway

import (
	"context"
	"testing"
	"time"
)

func TestThrottle_FirstCallReady(t *testing.T) {
	th := NewThrottle(time.Second)
	if !th.Ready() {
		t.Error("Ready() = false before any Mark")
	}
}

func TestThrottle_CoalescesWithinInterval(t *testing.T) {
	th := NewThrottle(time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	th.now = func() time.Time { return now }

	th.Mark()
	if th.Ready() {
		t.Error("Ready() = true immediately after Mark")
	}

	now = base.Add(30 * time.Second)
	if th.Ready() {
		t.Error("Ready() = true halfway through the interval")
	}

	now = base.Add(time.Minute)
	if !th.Ready() {
		t.Error("Ready() = false after the interval elapsed")
	}
}

func TestThrottle_DefaultInterval(t *testing.T) {
	th := NewThrottle(0)
	if th.interval != DefaultEditInterval {
		t.Errorf("interval = %v, want %v", th.interval, DefaultEditInterval)
	}
}

func TestThrottle_WaitRespectsContext(t *testing.T) {
	th := NewThrottle(time.Hour)
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := th.Wait(ctx); err == nil {
		t.Error("second Wait() inside the interval did not honor ctx")
	}
}

func TestThrottle_WaitMarksOnReturn(t *testing.T) {
	th := NewThrottle(10 * time.Millisecond)
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if th.Ready() {
		t.Error("Ready() = true right after Wait returned")
	}
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() after interval error = %v", err)
	}
}
