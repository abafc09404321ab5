// Package app wires the daemon together: config, logging, storage, the
// upstream client, sinks, the job runner and the watcher.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"matchwatch/internal/config"
	"matchwatch/internal/jobs"
	"matchwatch/internal/sink/telegram"
	hltv "matchwatch/internal/source/hltv"
	"matchwatch/internal/storage"
	"matchwatch/internal/watch"
	logx "matchwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   watch.Store
	source  *hltv.Client
	tgSink  *telegram.Sink
	jobs    *jobs.Service
	watcher *watch.Watcher

	runMu   sync.Mutex
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgPath: cfgPath, cfgm: cfgm, logs: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	srcTimeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 0)
	if err != nil {
		return err
	}
	source, err := hltv.New(hltv.Config{
		BaseURL:    cfg.Source.BaseURL,
		Timeout:    srcTimeout,
		RatePerMin: cfg.Source.RatePerMin,
		UserAgent:  cfg.Source.UserAgent,
	}, a.log.With(logx.String("comp", "source")))
	if err != nil {
		return fmt.Errorf("source client: %w", err)
	}
	a.source = source

	var sinks []watch.Sink
	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		sink, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			RatePerSec:  cfg.Telegram.RatePerSec,
			PollTimeout: pollTimeout,
		}, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram sink: %w", err)
		}
		a.tgSink = sink
		sinks = append(sinks, sink)
	}

	opts, err := watchOptions(cfg)
	if err != nil {
		return err
	}

	// The recurring job body only exists after the watcher does, so the
	// closure goes through the field.
	a.jobs = jobs.New(opts.MinInterval, func() {
		if err := a.watcher.Tick(context.Background()); err != nil {
			a.log.Warn("scheduled tick failed", logx.Err(err))
		}
	}, a.log.With(logx.String("comp", "jobs")))

	w, err := watch.New(opts, source, store, a.jobs, sinks,
		a.log.With(logx.String("comp", "watch")))
	if err != nil {
		return err
	}
	a.watcher = w
	// The watcher resolves zero options to its defaults; align the job
	// runner's initial interval with whatever it settled on.
	a.jobs.RescheduleRecurring(w.State().CurrentInterval)
	return nil
}

func watchOptions(cfg *config.Config) (watch.Options, error) {
	var opts watch.Options
	if tz := cfg.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return opts, fmt.Errorf("timezone %q: %w", tz, err)
		}
		opts.Location = loc
	}

	var err error
	set := func(dst *time.Duration, path, raw string) {
		if err != nil {
			return
		}
		*dst, err = config.ParseDurationOrDefault(path, raw, 0)
	}
	set(&opts.MinInterval, "watch.min_interval", cfg.Watch.MinInterval)
	set(&opts.UpcomingWindow, "watch.upcoming_window", cfg.Watch.UpcomingWindow)
	set(&opts.EndGrace, "watch.end_grace", cfg.Watch.EndGrace)
	set(&opts.OverdueThreshold, "watch.overdue_threshold", cfg.Watch.OverdueThreshold)
	set(&opts.PostLiveGrace, "watch.post_live_grace", cfg.Watch.PostLiveGrace)
	set(&opts.FetchBackoff, "watch.fetch_backoff", cfg.Watch.FetchBackoff)
	if err != nil {
		return opts, err
	}
	opts.FetchRetries = cfg.Watch.FetchRetries
	return opts, nil
}

// Watcher exposes the orchestrator for callers embedding the app (e.g.
// an operator surface driving Subscribe/Unsubscribe).
func (a *App) Watcher() *watch.Watcher { return a.watcher }

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.jobs.Start()
	if err := a.watcher.Init(runCtx); err != nil {
		a.jobs.Stop()
		cancel()
		return fmt.Errorf("watcher init: %w", err)
	}

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	updates := a.cfgm.Subscribe(1)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.started = true
	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig picks up the hot-reloadable subset: log level/sinks and
// the watcher tuning knobs. Storage, source and sink wiring stay fixed
// until restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	opts, err := watchOptions(cfg)
	if err != nil {
		a.log.Warn("reload: watch options rejected", logx.Err(err))
		return
	}
	a.watcher.Reconfigure(opts)
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	a.cancel()
	a.jobs.Stop()

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("stop timed out waiting for background workers")
	}

	if a.tgSink != nil {
		a.tgSink.Stop()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
