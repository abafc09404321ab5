package watch

import (
	"context"
	"sort"
	"time"

	logx "matchwatch/pkg/logx"
)

// Init prepares the orchestrator after a restart: existing results are
// baselined as already-notified (a restart must never replay history),
// the recurring trigger is paused or resumed from subscription state,
// and wake timers are rebuilt.
func (w *Watcher) Init(ctx context.Context) error {
	marked, err := w.baselineAll(ctx)
	if err != nil {
		return err
	}
	if marked > 0 {
		w.log.Info("startup baseline complete", logx.Int("marked", marked))
	}
	w.EnsureJobState(ctx)
	return w.RefreshWakeups(ctx)
}

// Subscribe installs sub as groupID's subscription, replacing whatever
// the group tracked before. Replacement intentionally resets the
// replaced events' notified history ("re-track from scratch").
func (w *Watcher) Subscribe(ctx context.Context, groupID int64, sub Subscription) error {
	replaced, err := w.store.ReplaceSubscription(ctx, groupID, sub)
	if err != nil {
		return err
	}
	for _, id := range replaced {
		if err := w.store.ClearEventNotified(ctx, id); err != nil {
			w.log.Error("notified reset failed", logx.String("event", id), logx.Err(err))
		}
	}

	// Subscribing to an event already in progress must not flood the
	// group with its past results.
	now := w.now()
	opts := w.options()
	if EvalPhase(now, opts.Location, sub, opts.UpcomingWindow, opts.EndGrace) == PhaseOngoing {
		if n := w.baselineEvent(ctx, sub.EventID); n > 0 {
			w.log.Info("subscribe baseline complete",
				logx.String("event", sub.EventID), logx.Int("marked", n))
		}
	}

	w.EnsureJobState(ctx)
	return w.RefreshWakeups(ctx)
}

// Unsubscribe removes groupID's subscription to eventID. The event's
// wake timer is cancelled synchronously; if another group still tracks
// the event, the wakeup refresh below restores it.
func (w *Watcher) Unsubscribe(ctx context.Context, groupID int64, eventID string) (bool, error) {
	removed, err := w.store.RemoveSubscription(ctx, groupID, eventID)
	if err != nil {
		return false, err
	}
	w.jobs.CancelOnce(wakeupKey(eventID))
	w.EnsureJobState(ctx)
	if err := w.RefreshWakeups(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// baselineAll marks every currently published result of every
// subscribed event as result-notified.
func (w *Watcher) baselineAll(ctx context.Context) (int, error) {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for id := range subs {
		total += w.baselineEvent(ctx, id)
	}
	return total, nil
}

// baselineEvent is best-effort: a failed fetch here just means the next
// tick may see a result it should have skipped, which the notified set
// absorbs on the marking path.
func (w *Watcher) baselineEvent(ctx context.Context, eventID string) int {
	results, ok := w.fetchResults(ctx, eventID)
	if !ok {
		w.log.Warn("baseline fetch failed", logx.String("event", eventID))
		return 0
	}
	marked := 0
	for _, r := range results {
		notified, err := w.store.IsNotified(ctx, NotifyResult, r.ID)
		if err != nil || notified {
			continue
		}
		if err := w.store.MarkNotified(ctx, NotifyResult, r.ID, eventID); err != nil {
			w.log.Error("baseline mark failed", logx.String("match", r.ID), logx.Err(err))
			continue
		}
		marked++
	}
	return marked
}

// UpcomingSummary is a read-only projection of future matches across
// all non-ended subscriptions, sorted by start time. It mutates neither
// poll state nor the notified sets.
func (w *Watcher) UpcomingSummary(ctx context.Context) ([]UpcomingMatch, error) {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	now := w.now()
	opts := w.options()

	var upcoming []UpcomingMatch
	for id, sub := range subs {
		phase := EvalPhase(now, opts.Location, sub, opts.UpcomingWindow, opts.EndGrace)
		if phase == PhaseEnded {
			continue
		}
		matches, err := w.source.FetchMatches(ctx, id)
		if err != nil {
			w.log.Warn("summary fetch failed", logx.String("event", id), logx.Err(err))
			continue
		}
		for _, m := range matches {
			if m.IsLive || m.Scheduled.IsZero() {
				continue
			}
			until := m.Scheduled.Sub(now)
			if until <= 0 {
				continue
			}
			upcoming = append(upcoming, UpcomingMatch{
				MatchID:      m.ID,
				TeamA:        m.TeamA,
				TeamB:        m.TeamB,
				EventID:      id,
				EventTitle:   sub.Title,
				StartTime:    m.Scheduled,
				MinutesUntil: int(until / time.Minute),
				MapsFormat:   m.MapsFormat,
			})
		}
	}

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].StartTime.Before(upcoming[j].StartTime)
	})
	return upcoming, nil
}

// CleanupNotified drops notified-set entries for matches no longer
// reachable from any subscription. Intended for a low-frequency
// maintenance schedule.
func (w *Watcher) CleanupNotified(ctx context.Context) (int, error) {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		return 0, err
	}
	valid := map[string]struct{}{}
	for id := range subs {
		if matches, ok := w.fetchMatches(ctx, id); ok {
			for _, m := range matches {
				valid[m.ID] = struct{}{}
			}
		}
		if results, ok := w.fetchResults(ctx, id); ok {
			for _, r := range results {
				valid[r.ID] = struct{}{}
			}
		}
	}
	return w.store.CleanNotified(ctx, valid)
}
