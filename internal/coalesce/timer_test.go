package coalesce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresOnceAfterBurst(t *testing.T) {
	var calls atomic.Int32
	timer := NewTimer(40*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		timer.Reset()
		time.Sleep(10 * time.Millisecond)
	}
	if !timer.Pending() {
		t.Fatalf("expected timer to be armed during burst")
	}
	if calls.Load() != 0 {
		t.Fatalf("fired during burst")
	}

	time.Sleep(120 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
	if timer.Pending() {
		t.Fatalf("timer still armed after firing")
	}
}

func TestTimerStop(t *testing.T) {
	var calls atomic.Int32
	timer := NewTimer(20*time.Millisecond, func() { calls.Add(1) })

	if timer.Stop() {
		t.Fatalf("stop on disarmed timer reported armed")
	}
	timer.Reset()
	if !timer.Stop() {
		t.Fatalf("stop on armed timer reported disarmed")
	}
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("stopped timer fired")
	}

	timer.Reset()
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected re-armed timer to fire once, got %d", calls.Load())
	}
}
