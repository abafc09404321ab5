// Package jobs implements the timer facility behind the orchestrator:
// one recurring tick job on a cron runner plus keyed one-shot timers.
package jobs

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "matchwatch/pkg/logx"
)

// Service drives a single recurring job with a mutable interval and a
// set of keyed one-shot timers. One-shots are runtime-only; callers
// rebuild them from durable state at startup.
type Service struct {
	log logx.Logger

	mu       sync.Mutex
	c        *cron.Cron
	entry    cron.EntryID
	hasEntry bool
	interval time.Duration
	paused   bool
	run      func()
	started  bool

	// one-shot timers
	tmu    sync.Mutex
	timers map[string]*time.Timer
	onceAt map[string]time.Time
}

// New creates a stopped service. run is the recurring tick body;
// interval is the initial recurring interval.
func New(interval time.Duration, run func(), log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		c:        cron.New(),
		interval: interval,
		run:      run,
		timers:   map[string]*time.Timer{},
		onceAt:   map[string]time.Time{},
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if !s.paused {
		s.addEntryLocked()
	}
	s.c.Start()
	s.log.Info("job runner started", logx.Duration("interval", s.interval))
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	s.mu.Unlock()

	<-c.Stop().Done()

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.onceAt = map[string]time.Time{}
	s.tmu.Unlock()

	s.log.Info("job runner stopped")
}

// Interval returns the current recurring interval.
func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Paused reports whether the recurring job is currently paused.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Service) PauseRecurring() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.removeEntryLocked()
	s.log.Info("recurring job paused")
}

func (s *Service) ResumeRecurring() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.addEntryLocked()
	s.log.Info("recurring job resumed", logx.Duration("interval", s.interval))
}

// RescheduleRecurring swaps the recurring interval. A no-op when the
// interval is unchanged, so callers may invoke it every tick.
func (s *Service) RescheduleRecurring(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval == s.interval {
		return
	}
	old := s.interval
	s.interval = interval
	if !s.paused {
		s.removeEntryLocked()
		s.addEntryLocked()
	}
	s.log.Info("recurring interval changed",
		logx.Duration("from", old), logx.Duration("to", interval))
}

func (s *Service) addEntryLocked() {
	if s.hasEntry || s.run == nil {
		return
	}
	s.entry = s.c.Schedule(cron.Every(s.interval), cron.FuncJob(s.run))
	s.hasEntry = true
}

func (s *Service) removeEntryLocked() {
	if !s.hasEntry {
		return
	}
	s.c.Remove(s.entry)
	s.hasEntry = false
}

// ScheduleOnce arms (or re-arms) a keyed one-shot timer. Scheduling
// under an existing key replaces the prior timer.
func (s *Service) ScheduleOnce(key string, at time.Time, fn func()) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old, ok := s.timers[key]; ok {
		_ = old.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.tmu.Lock()
		delete(s.timers, key)
		delete(s.onceAt, key)
		s.tmu.Unlock()
		fn()
	})
	s.onceAt[key] = at
}

func (s *Service) CancelOnce(key string) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[key]; ok {
		_ = t.Stop()
		delete(s.timers, key)
		delete(s.onceAt, key)
	}
}

// OnceKeys lists the keys of currently armed one-shot timers.
func (s *Service) OnceKeys() []string {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	keys := make([]string, 0, len(s.onceAt))
	for k := range s.onceAt {
		keys = append(keys, k)
	}
	return keys
}

// OnceAt returns the fire time of a one-shot timer, if armed.
func (s *Service) OnceAt(key string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	at, ok := s.onceAt[key]
	return at, ok
}
