package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logx "matchwatch/pkg/logx"
)

const (
	defaultMinInterval      = 5 * time.Minute
	defaultUpcomingWindow   = 24 * time.Hour
	defaultEndGrace         = 24 * time.Hour
	defaultOverdueThreshold = 15 * time.Minute
	defaultPostLiveGrace    = 30 * time.Minute

	// longestInterval is the idle ceiling when the next match is more
	// than a day out (or unknown).
	longestInterval = 180 * time.Minute
)

// intervalSteps maps "minutes until the next match" to a polling
// interval. Monotonic: closer matches always poll at least as often.
// The bias toward over-polling near matches is deliberate; missing a
// live window costs more than a few idle requests.
var intervalSteps = []struct {
	upTo     time.Duration
	interval time.Duration
}{
	{time.Hour, 5 * time.Minute},
	{6 * time.Hour, 15 * time.Minute},
	{24 * time.Hour, time.Hour},
}

// Options tunes the orchestrator. Zero fields fall back to defaults.
type Options struct {
	Location *time.Location

	MinInterval      time.Duration
	UpcomingWindow   time.Duration
	EndGrace         time.Duration
	OverdueThreshold time.Duration
	PostLiveGrace    time.Duration

	FetchRetries int
	FetchBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.MinInterval <= 0 {
		o.MinInterval = defaultMinInterval
	}
	if o.UpcomingWindow <= 0 {
		o.UpcomingWindow = defaultUpcomingWindow
	}
	if o.EndGrace <= 0 {
		o.EndGrace = defaultEndGrace
	}
	if o.OverdueThreshold <= 0 {
		o.OverdueThreshold = defaultOverdueThreshold
	}
	if o.PostLiveGrace <= 0 {
		o.PostLiveGrace = defaultPostLiveGrace
	}
	if o.FetchRetries <= 0 {
		o.FetchRetries = defaultFetchRetries
	}
	if o.FetchBackoff <= 0 {
		o.FetchBackoff = defaultFetchBackoff
	}
	return o
}

var errNoStore = errors.New("watch: store is required")

// Watcher is the polling orchestrator. Construct once at startup and
// share the handle with whatever triggers ticks.
type Watcher struct {
	optsMu sync.RWMutex
	opts   Options

	log    logx.Logger
	source DataSource
	store  Store
	jobs   JobControl
	sinks  []Sink

	// now is swapped in tests.
	now func() time.Time

	// ticking is the single active-tick guard: a tick that fires while
	// another runs is skipped, not queued (the in-flight tick will
	// reconsider the same state anyway).
	ticking atomic.Bool

	mu    sync.Mutex
	state PollState
}

func New(opts Options, source DataSource, store Store, jobs JobControl, sinks []Sink, log logx.Logger) (*Watcher, error) {
	if store == nil {
		return nil, errNoStore
	}
	if source == nil {
		return nil, errors.New("watch: data source is required")
	}
	if jobs == nil {
		return nil, errors.New("watch: job control is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.withDefaults()
	return &Watcher{
		opts:   opts,
		log:    log,
		source: source,
		store:  store,
		jobs:   jobs,
		sinks:  sinks,
		now:    time.Now,
		state:  PollState{CurrentInterval: opts.MinInterval, NextMinutesHint: -1},
	}, nil
}

func (w *Watcher) options() Options {
	w.optsMu.RLock()
	defer w.optsMu.RUnlock()
	return w.opts
}

// Reconfigure swaps the tuning knobs at runtime. Zero fields fall back
// to defaults; the change is picked up by the next tick.
func (w *Watcher) Reconfigure(opts Options) {
	w.optsMu.Lock()
	w.opts = opts.withDefaults()
	w.optsMu.Unlock()
}

// State returns a copy of the last tick's poll state (diagnostics only).
func (w *Watcher) State() PollState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(st PollState) {
	w.mu.Lock()
	w.state = st
	w.mu.Unlock()
}

// Tick runs one full check pass. It is idempotent and safe to call from
// both the recurring trigger and a fired wake timer; overlapping calls
// are skipped.
func (w *Watcher) Tick(ctx context.Context) error {
	if !w.ticking.CompareAndSwap(false, true) {
		w.log.Debug("tick already in flight, skipping")
		return nil
	}
	defer w.ticking.Store(false)
	return w.tick(ctx)
}

func (w *Watcher) tick(ctx context.Context) error {
	now := w.now()
	opts := w.options()

	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		w.log.Error("subscription load failed", logx.Err(err))
		return err
	}

	phases := make(map[string]Phase, len(subs))
	active := false
	for id, sub := range subs {
		p := EvalPhase(now, opts.Location, sub, opts.UpcomingWindow, opts.EndGrace)
		phases[id] = p
		if p.Active() {
			active = true
		}
	}

	// Zero-cost idling: nothing ongoing or upcoming means no fetches at
	// all and no recurring trigger until a wake timer or subscribe
	// brings us back.
	if !active {
		w.log.Info("no active events, pausing recurring checks")
		w.jobs.PauseRecurring()
		w.refreshWakeups(now, subs, phases)
		return nil
	}

	prev := w.State()
	st := PollState{
		CurrentInterval: prev.CurrentInterval,
		LastLiveSeenAt:  prev.LastLiveSeenAt,
		NextMinutesHint: -1,
	}

	starts, results := 0, 0
	for id, sub := range subs {
		p := phases[id]
		if !p.Active() {
			w.log.Debug("skipping event", logx.String("event", id), logx.String("phase", p.String()))
			continue
		}

		matches, ok := w.fetchMatches(ctx, id)
		if !ok {
			st.HasFetchError = true
		} else {
			starts += w.scanMatches(ctx, now, id, sub.Title, matches, &st)
		}

		// Results are only expected while the event runs.
		if p != PhaseOngoing {
			continue
		}
		rs, ok := w.fetchResults(ctx, id)
		if !ok {
			st.HasFetchError = true
			continue
		}
		results += w.pushResults(ctx, id, sub.Title, rs)
	}

	target := w.targetInterval(&st, now)
	if target != st.CurrentInterval {
		w.log.Info("adaptive interval change",
			logx.Duration("from", st.CurrentInterval), logx.Duration("to", target),
			logx.Int("next_minutes", st.NextMinutesHint),
			logx.Bool("live", st.HasLiveMatch), logx.Bool("fetch_error", st.HasFetchError))
		w.jobs.RescheduleRecurring(target)
		st.CurrentInterval = target
	}
	w.setState(st)

	w.refreshWakeups(now, subs, phases)

	w.log.Info("tick complete",
		logx.Int("starts", starts), logx.Int("results", results),
		logx.Int("next_minutes", st.NextMinutesHint),
		logx.Duration("interval", st.CurrentInterval))
	return nil
}

// scanMatches feeds live/hint signals into st and emits start
// notifications. Returns how many start notifications were sent.
func (w *Watcher) scanMatches(ctx context.Context, now time.Time, eventID, title string, matches []Match, st *PollState) int {
	sent := 0
	overdue := w.options().OverdueThreshold
	for _, m := range matches {
		if m.IsLive {
			st.HasLiveMatch = true
			st.LastLiveSeenAt = now
		}

		if mins, ok := hintMinutes(now, m, overdue); ok {
			if st.NextMinutesHint < 0 || mins < st.NextMinutesHint {
				st.NextMinutesHint = mins
			}
		}

		stage := classifyStart(now, m, overdue)
		if stage == stageNone {
			continue
		}
		notified, err := w.store.IsNotified(ctx, NotifyStart, m.ID)
		if err != nil {
			w.log.Error("notified lookup failed", logx.String("match", m.ID), logx.Err(err))
			continue
		}
		if notified {
			continue
		}

		// Mark before delivering: a lost start notice is accepted, a
		// duplicated one is not.
		if err := w.store.MarkNotified(ctx, NotifyStart, m.ID, eventID); err != nil {
			w.log.Error("mark start-notified failed", logx.String("match", m.ID), logx.Err(err))
			continue
		}

		mins := 0
		if !m.Scheduled.IsZero() {
			if until := m.Scheduled.Sub(now); until > 0 {
				mins = int(until / time.Minute)
			}
		}
		w.log.Info("match start detected",
			logx.String("match", m.ID), logx.String("stage", stage.String()),
			logx.String("teams", m.TeamA+" vs "+m.TeamB))
		w.deliver(ctx, eventID, Notification{
			Kind:         NotifyStart,
			EventID:      eventID,
			EventTitle:   title,
			Match:        m,
			MinutesUntil: mins,
		})
		sent++
	}
	return sent
}

// pushResults emits result notifications for finished matches that pass
// the completeness gate. Returns how many were sent and marked.
func (w *Watcher) pushResults(ctx context.Context, eventID, title string, results []Result) int {
	sent := 0
	for _, r := range results {
		notified, err := w.store.IsNotified(ctx, NotifyResult, r.ID)
		if err != nil {
			w.log.Error("notified lookup failed", logx.String("match", r.ID), logx.Err(err))
			continue
		}
		if notified {
			continue
		}

		// Incomplete is not an error: the upstream publishes results
		// incrementally, so we leave the match unmarked and re-check on
		// the next tick.
		if !r.Complete() {
			w.log.Debug("result incomplete, waiting",
				logx.String("match", r.ID),
				logx.Int("score_a", r.ScoreA), logx.Int("score_b", r.ScoreB),
				logx.Int("maps", len(r.Maps)), logx.Int("details", len(r.Detail)))
			continue
		}

		delivered, attempted := w.deliver(ctx, eventID, Notification{
			Kind:       NotifyResult,
			EventID:    eventID,
			EventTitle: title,
			Result:     r,
		})
		if delivered < attempted {
			// Any failed delivery keeps the match unmarked so the next
			// tick retries. Sinks are expected to dedup on their side.
			w.log.Warn("result delivery incomplete, will retry",
				logx.String("match", r.ID),
				logx.Int("delivered", delivered), logx.Int("attempted", attempted))
			continue
		}
		if err := w.store.MarkNotified(ctx, NotifyResult, r.ID, eventID); err != nil {
			w.log.Error("mark result-notified failed", logx.String("match", r.ID), logx.Err(err))
			continue
		}
		w.log.Info("match result notified",
			logx.String("match", r.ID),
			logx.String("teams", r.TeamA+" vs "+r.TeamB))
		sent++
	}
	return sent
}

// deliver fans one notification out to every group subscribed to the
// event, on every configured sink. Returns (succeeded, attempted).
func (w *Watcher) deliver(ctx context.Context, eventID string, n Notification) (int, int) {
	groups, err := w.store.GroupsByEvent(ctx, eventID)
	if err != nil {
		w.log.Error("group lookup failed", logx.String("event", eventID), logx.Err(err))
		return 0, 0
	}
	succeeded, attempted := 0, 0
	for _, g := range groups {
		for _, s := range w.sinks {
			attempted++
			if err := s.Deliver(ctx, g, n); err != nil {
				w.log.Error("delivery failed",
					logx.Int64("group", g), logx.String("kind", n.Kind.String()),
					logx.String("match", n.MatchID()), logx.Err(err))
				continue
			}
			succeeded++
		}
	}
	return succeeded, attempted
}

// targetInterval computes the next recurring interval from this tick's
// signals. Priority order, first match wins:
//
//	fetch failure -> minimum
//	live match    -> minimum
//	recently live -> minimum (final results may post after the live flag drops)
//	otherwise     -> step table on minutes-until-next-match
func (w *Watcher) targetInterval(st *PollState, now time.Time) time.Duration {
	opts := w.options()
	min := opts.MinInterval
	switch {
	case st.HasFetchError:
		return min
	case st.HasLiveMatch:
		return min
	case !st.LastLiveSeenAt.IsZero() && now.Sub(st.LastLiveSeenAt) <= opts.PostLiveGrace:
		return min
	}

	if st.NextMinutesHint < 0 {
		return maxDuration(longestInterval, min)
	}
	until := time.Duration(st.NextMinutesHint) * time.Minute
	for _, step := range intervalSteps {
		if until <= step.upTo {
			return maxDuration(step.interval, min)
		}
	}
	return maxDuration(longestInterval, min)
}

// hintMinutes converts one match into a "minutes until next match"
// candidate for the adaptive controller. Live matches contribute
// nothing (they are handled by the live override). An unresolvable time
// without a TBD flag counts as imminent; a time overdue by no more than
// the threshold is presumed late rather than wrong and also counts as
// imminent.
func hintMinutes(now time.Time, m Match, overdue time.Duration) (int, bool) {
	if m.IsLive {
		return 0, false
	}
	if m.Scheduled.IsZero() {
		if m.TBD {
			return 0, false
		}
		return 0, true
	}
	until := m.Scheduled.Sub(now)
	if until <= 0 {
		if -until <= overdue {
			return 0, true
		}
		return 0, false
	}
	return int(until / time.Minute), true
}

// EnsureJobState resumes or pauses the recurring trigger from current
// subscription state. Called after subscribe/unsubscribe and at startup.
func (w *Watcher) EnsureJobState(ctx context.Context) {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		w.log.Error("subscription load failed", logx.Err(err))
		return
	}
	now := w.now()
	opts := w.options()
	for _, sub := range subs {
		if EvalPhase(now, opts.Location, sub, opts.UpcomingWindow, opts.EndGrace).Active() {
			w.jobs.ResumeRecurring()
			// Reset the interval so a previously stretched idle interval
			// doesn't linger into the active window.
			w.jobs.RescheduleRecurring(opts.MinInterval)
			w.mu.Lock()
			w.state.CurrentInterval = opts.MinInterval
			w.mu.Unlock()
			return
		}
	}
	w.jobs.PauseRecurring()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
