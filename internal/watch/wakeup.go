package watch

import (
	"context"
	"strings"
	"time"

	logx "matchwatch/pkg/logx"
)

const wakeupKeyPrefix = "wakeup:"

func wakeupKey(eventID string) string { return wakeupKeyPrefix + eventID }

// RefreshWakeups rebuilds the one-shot wake timers from subscription
// state. Idempotent; run after every tick, after every subscribe or
// unsubscribe, and once at startup (timer state does not survive a
// restart, only subscription state does).
func (w *Watcher) RefreshWakeups(ctx context.Context) error {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		return err
	}
	now := w.now()
	opts := w.options()
	phases := make(map[string]Phase, len(subs))
	for id, sub := range subs {
		phases[id] = EvalPhase(now, opts.Location, sub, opts.UpcomingWindow, opts.EndGrace)
	}
	w.refreshWakeups(now, subs, phases)
	return nil
}

func (w *Watcher) refreshWakeups(now time.Time, subs map[string]Subscription, phases map[string]Phase) {
	opts := w.options()

	// Clear timers left behind by replaced or cancelled subscriptions.
	for _, key := range w.jobs.OnceKeys() {
		if !strings.HasPrefix(key, wakeupKeyPrefix) {
			continue
		}
		id := strings.TrimPrefix(key, wakeupKeyPrefix)
		if _, ok := subs[id]; !ok {
			w.jobs.CancelOnce(key)
			w.log.Debug("stale wake timer removed", logx.String("event", id))
		}
	}

	// Only NOT_ONGOING subscriptions carry a wake timer; any other phase
	// is either already polled or never will be.
	for id, sub := range subs {
		if phases[id] != PhaseNotOngoing {
			w.jobs.CancelOnce(wakeupKey(id))
			continue
		}
		start, ok := ParseMonthDay(now, opts.Location, sub.StartDate, false)
		if !ok {
			w.jobs.CancelOnce(wakeupKey(id))
			continue
		}
		fireAt := start.Add(-opts.UpcomingWindow)
		if !fireAt.After(now) {
			// Already inside the window (clock skew, late creation); the
			// next periodic tick picks it up.
			w.jobs.CancelOnce(wakeupKey(id))
			continue
		}
		id := id
		w.jobs.ScheduleOnce(wakeupKey(id), fireAt, func() { w.onWakeup(id) })
		w.log.Info("wake timer set",
			logx.String("event", id), logx.Time("fire_at", fireAt))
	}
}

// onWakeup is the one-shot timer callback: resume the recurring trigger
// and run one tick immediately so the adaptive interval takes effect
// right away (costs a single extra request).
func (w *Watcher) onWakeup(eventID string) {
	ctx := context.Background()
	w.log.Info("wake timer fired", logx.String("event", eventID))
	w.EnsureJobState(ctx)
	if err := w.Tick(ctx); err != nil {
		w.log.Warn("post-wakeup tick failed", logx.String("event", eventID), logx.Err(err))
	}
}
