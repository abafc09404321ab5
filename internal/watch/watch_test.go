package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "matchwatch/pkg/logx"
)

// testNow is the fixed clock for orchestrator tests. Event date fixtures
// below are chosen relative to it.
var testNow = time.Date(2025, 6, 20, 15, 0, 0, 0, time.UTC)

// Fixtures (window/grace are the 24h defaults):
//
//	subOngoing    started yesterday, ends in five days
//	subUpcoming   starts tomorrow at midnight (inside the window)
//	subFarOff     starts next month (NOT_ONGOING)
//	subEnded      ended well past the grace period
var (
	subOngoing  = Subscription{EventID: "ev-on", Title: "Ongoing Cup", StartDate: "06-19", EndDate: "06-25"}
	subUpcoming = Subscription{EventID: "ev-up", Title: "Soon Open", StartDate: "06-21", EndDate: "06-23"}
	subFarOff   = Subscription{EventID: "ev-far", Title: "Next Month Major", StartDate: "07-10", EndDate: "07-12"}
	subEnded    = Subscription{EventID: "ev-end", Title: "Old Invitational", StartDate: "06-01", EndDate: "06-10"}
)

type fakeSource struct {
	mu      sync.Mutex
	matches map[string][]Match
	results map[string][]Result

	matchErr  map[string]error
	resultErr map[string]error

	matchCalls  int
	resultCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		matches:   map[string][]Match{},
		results:   map[string][]Result{},
		matchErr:  map[string]error{},
		resultErr: map[string]error{},
	}
}

func (s *fakeSource) FetchMatches(ctx context.Context, eventID string) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchCalls++
	if err := s.matchErr[eventID]; err != nil {
		return nil, err
	}
	return s.matches[eventID], nil
}

func (s *fakeSource) FetchResults(ctx context.Context, eventID string) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultCalls++
	if err := s.resultErr[eventID]; err != nil {
		return nil, err
	}
	return s.results[eventID], nil
}

type fakeStore struct {
	mu    sync.Mutex
	subs  map[int64]Subscription
	marks map[NotifyKind]map[string]string // matchID -> eventID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs: map[int64]Subscription{},
		marks: map[NotifyKind]map[string]string{
			NotifyStart:  {},
			NotifyResult: {},
		},
	}
}

func (s *fakeStore) ReplaceSubscription(ctx context.Context, groupID int64, sub Subscription) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var displaced []string
	if old, ok := s.subs[groupID]; ok {
		displaced = append(displaced, old.EventID)
	}
	s.subs[groupID] = sub
	return displaced, nil
}

func (s *fakeStore) RemoveSubscription(ctx context.Context, groupID int64, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.subs[groupID]; ok && old.EventID == eventID {
		delete(s.subs, groupID)
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) Subscriptions(ctx context.Context) (map[string]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]Subscription{}
	for _, sub := range s.subs {
		out[sub.EventID] = sub
	}
	return out, nil
}

func (s *fakeStore) GroupsByEvent(ctx context.Context, eventID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for g, sub := range s.subs {
		if sub.EventID == eventID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeStore) IsNotified(ctx context.Context, kind NotifyKind, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marks[kind][matchID]
	return ok, nil
}

func (s *fakeStore) MarkNotified(ctx context.Context, kind NotifyKind, matchID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[kind][matchID] = eventID
	return nil
}

func (s *fakeStore) ClearEventNotified(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.marks {
		for id, ev := range set {
			if ev == eventID {
				delete(set, id)
			}
		}
	}
	return nil
}

func (s *fakeStore) CleanNotified(ctx context.Context, valid map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, set := range s.marks {
		for id := range set {
			if _, ok := valid[id]; !ok {
				delete(set, id)
				removed++
			}
		}
	}
	return removed, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) marked(kind NotifyKind, matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marks[kind][matchID]
	return ok
}

type onceTimer struct {
	at time.Time
	fn func()
}

type fakeJobs struct {
	mu sync.Mutex

	paused      bool
	pauses      int
	resumes     int
	reschedules []time.Duration

	once map[string]onceTimer
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{once: map[string]onceTimer{}}
}

func (j *fakeJobs) PauseRecurring() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.paused = true
	j.pauses++
}

func (j *fakeJobs) ResumeRecurring() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.paused = false
	j.resumes++
}

func (j *fakeJobs) RescheduleRecurring(interval time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reschedules = append(j.reschedules, interval)
}

func (j *fakeJobs) ScheduleOnce(key string, at time.Time, fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.once[key] = onceTimer{at: at, fn: fn}
}

func (j *fakeJobs) CancelOnce(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.once, key)
}

func (j *fakeJobs) OnceKeys() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	keys := make([]string, 0, len(j.once))
	for k := range j.once {
		keys = append(keys, k)
	}
	return keys
}

func (j *fakeJobs) timer(key string) (onceTimer, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	tm, ok := j.once[key]
	return tm, ok
}

func (j *fakeJobs) lastReschedule() (time.Duration, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.reschedules) == 0 {
		return 0, false
	}
	return j.reschedules[len(j.reschedules)-1], true
}

type delivery struct {
	groupID int64
	n       Notification
}

type fakeSink struct {
	mu         sync.Mutex
	fail       bool
	failGroup  int64
	deliveries []delivery
}

func (s *fakeSink) Deliver(ctx context.Context, groupID int64, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || (s.failGroup != 0 && groupID == s.failGroup) {
		return errors.New("sink down")
	}
	s.deliveries = append(s.deliveries, delivery{groupID: groupID, n: n})
	return nil
}

func (s *fakeSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *fakeSink) setFailGroup(g int64) {
	s.mu.Lock()
	s.failGroup = g
	s.mu.Unlock()
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func (s *fakeSink) countFor(g int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deliveries {
		if d.groupID == g {
			n++
		}
	}
	return n
}

func (s *fakeSink) last() delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[len(s.deliveries)-1]
}

type harness struct {
	w      *Watcher
	source *fakeSource
	store  *fakeStore
	jobs   *fakeJobs
	sink   *fakeSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	source := newFakeSource()
	store := newFakeStore()
	jobs := newFakeJobs()
	sink := &fakeSink{}

	opts := Options{
		FetchRetries: 1,
		FetchBackoff: time.Millisecond,
	}
	w, err := New(opts, source, store, jobs, []Sink{sink}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.now = func() time.Time { return testNow }
	return &harness{w: w, source: source, store: store, jobs: jobs, sink: sink}
}

func (h *harness) subscribe(t *testing.T, groupID int64, sub Subscription) {
	t.Helper()
	h.store.mu.Lock()
	h.store.subs[groupID] = sub
	h.store.mu.Unlock()
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}
