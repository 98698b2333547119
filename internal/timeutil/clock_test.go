package timeutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestMockClock_AdvanceFiresTimer(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	timer := clock.NewTimer(time.Second)

	if got := clock.PendingTimers(); got != 1 {
		t.Fatalf("PendingTimers() = %d, want 1", got)
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case fired := <-timer.C():
		if !fired.Equal(start.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", fired, start.Add(time.Second))
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}

	if got := clock.PendingTimers(); got != 0 {
		t.Errorf("PendingTimers() = %d after firing, want 0", got)
	}
}

func TestMockTimer_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on active timer should return true")
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestSleep(t *testing.T) {
	t.Run("returns after timer fires", func(t *testing.T) {
		clock := NewMockClock(time.Unix(0, 0))
		done := make(chan error, 1)
		go func() { done <- Sleep(context.Background(), clock, time.Second) }()

		for clock.PendingTimers() == 0 {
			time.Sleep(time.Millisecond)
		}
		clock.Advance(time.Second)

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Sleep() = %v, want nil", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Sleep did not return after Advance")
		}
	})

	t.Run("interrupted by context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		clock := NewMockClock(time.Unix(0, 0))
		done := make(chan error, 1)
		go func() { done <- Sleep(ctx, clock, time.Hour) }()

		for clock.PendingTimers() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Sleep() = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Sleep did not observe cancellation")
		}
	})

	t.Run("zero duration", func(t *testing.T) {
		if err := Sleep(context.Background(), RealClock{}, 0); err != nil {
			t.Errorf("Sleep(0) = %v, want nil", err)
		}
	})
}
