package watch

import (
	"context"
	"testing"
	"time"
)

func TestRefreshWakeupsOneTimerPerFarEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.subscribe(t, 100, subFarOff)
	h.subscribe(t, 200, subOngoing)
	h.subscribe(t, 300, subUpcoming)

	if err := h.w.RefreshWakeups(context.Background()); err != nil {
		t.Fatalf("RefreshWakeups: %v", err)
	}

	keys := h.jobs.OnceKeys()
	if len(keys) != 1 || keys[0] != wakeupKey(subFarOff.EventID) {
		t.Fatalf("expected exactly one wake timer for the far event, got %v", keys)
	}

	tm, _ := h.jobs.timer(wakeupKey(subFarOff.EventID))
	wantFire := time.Date(2025, 7, 9, 0, 0, 0, 0, time.UTC) // start 07-10 minus the 24h window
	if !tm.at.Equal(wantFire) {
		t.Fatalf("fire time %v, want %v", tm.at, wantFire)
	}
}

func TestRefreshWakeupsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.subscribe(t, 100, subFarOff)

	for i := 0; i < 3; i++ {
		if err := h.w.RefreshWakeups(context.Background()); err != nil {
			t.Fatalf("RefreshWakeups: %v", err)
		}
	}
	if keys := h.jobs.OnceKeys(); len(keys) != 1 {
		t.Fatalf("repeated refresh must keep a single timer, got %v", keys)
	}
}

func TestRefreshWakeupsDropsStaleTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.subscribe(t, 100, subFarOff)
	// Timer left over from an event nobody tracks anymore.
	h.jobs.ScheduleOnce(wakeupKey("ev-gone"), testNow.Add(time.Hour), func() {})

	if err := h.w.RefreshWakeups(context.Background()); err != nil {
		t.Fatalf("RefreshWakeups: %v", err)
	}
	if _, ok := h.jobs.timer(wakeupKey("ev-gone")); ok {
		t.Fatal("stale timer must be cancelled")
	}
	if _, ok := h.jobs.timer(wakeupKey(subFarOff.EventID)); !ok {
		t.Fatal("live timer must survive the refresh")
	}
}

func TestRefreshWakeupsSkipsPastFireTimes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Drive the planner directly with a clock already past the fire time
	// (start 07-10 minus the 24h window = 07-09 00:00).
	late := time.Date(2025, 7, 9, 12, 0, 0, 0, time.UTC)
	subs := map[string]Subscription{subFarOff.EventID: subFarOff}
	phases := map[string]Phase{subFarOff.EventID: PhaseNotOngoing}
	h.w.refreshWakeups(late, subs, phases)

	if keys := h.jobs.OnceKeys(); len(keys) != 0 {
		t.Fatalf("past fire time must not arm a timer, got %v", keys)
	}
}

func TestWakeupFiringRunsTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.subscribe(t, 100, subFarOff)
	if err := h.w.RefreshWakeups(context.Background()); err != nil {
		t.Fatalf("RefreshWakeups: %v", err)
	}

	tm, ok := h.jobs.timer(wakeupKey(subFarOff.EventID))
	if !ok {
		t.Fatal("expected an armed timer")
	}

	// Move the clock to the fire instant so the event is now in window.
	h.w.now = func() time.Time { return tm.at }
	tm.fn()

	if h.jobs.paused {
		t.Fatal("wakeup must resume the recurring job")
	}
	if h.source.matchCalls == 0 {
		t.Fatal("wakeup must run a tick immediately")
	}
}
