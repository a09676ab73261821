package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

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

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	clock := NewMockClock(epoch)
	clock.Advance(time.Hour)

	if got, want := clock.Now(), epoch.Add(time.Hour); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMockTimer_FiresAtDeadline(t *testing.T) {
	clock := NewMockClock(epoch)
	timer := clock.NewTimer(500 * time.Millisecond)

	clock.Advance(499 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case got := <-timer.C():
		if !got.Equal(epoch.Add(500 * time.Millisecond)) {
			t.Errorf("fired with %v", got)
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}

	clock.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Error("timer fired twice")
	default:
	}
}

func TestMockTimer_ResetMovesDeadline(t *testing.T) {
	clock := NewMockClock(epoch)
	timer := clock.NewTimer(time.Second)
	clock.Advance(time.Second)
	<-timer.C()

	if timer.Reset(10 * time.Millisecond) {
		t.Error("Reset on a fired timer reported active")
	}
	clock.Advance(5 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("reset timer fired early")
	default:
	}
	clock.Advance(5 * time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestMockTimer_Stop(t *testing.T) {
	clock := NewMockClock(epoch)
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop on a pending timer should report active")
	}
	clock.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestMockTicker(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		select {
		case got := <-ticker.C():
			if want := epoch.Add(time.Duration(i) * time.Second); !got.Equal(want) {
				t.Errorf("tick %d at %v, want %v", i, got, want)
			}
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}

	ticker.Reset(2 * time.Second)
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Error("reset ticker fired early")
	default:
	}
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Error("reset ticker did not fire")
	}
}

func TestMockClock_Armed(t *testing.T) {
	clock := NewMockClock(epoch)
	if n := clock.Armed(); n != 0 {
		t.Fatalf("Armed() = %d on a fresh clock", n)
	}

	timer := clock.NewTimer(time.Second)
	ticker := clock.NewTicker(time.Second)
	if n := clock.Armed(); n != 2 {
		t.Errorf("Armed() = %d, want 2", n)
	}

	clock.Advance(time.Second)
	if n := clock.Armed(); n != 1 {
		t.Errorf("Armed() = %d after timer fired, want 1", n)
	}

	ticker.Stop()
	timer.Reset(time.Second)
	if n := clock.Armed(); n != 1 {
		t.Errorf("Armed() = %d, want 1", n)
	}
}

func TestMockClock_After(t *testing.T) {
	clock := NewMockClock(epoch)
	ch := clock.After(time.Minute)
	clock.Advance(time.Minute)

	select {
	case <-ch:
	default:
		t.Error("After channel did not receive")
	}
}
