// Package app wires the engine together: config, logging, storage, transport,
// the three batch pipelines, and the periodic triggers that drive them.
//
// The engine has no scheduler loop of its own; robfig/cron invokes the batch
// entry points on configured specs. Each trigger reads "now" once, applies a
// per-run deadline, and skips if the previous run is still executing.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/fanout"
	"remindd/internal/notify"
	"remindd/internal/realtime"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store  storage.Store
	writer *notify.Writer
	hub    *realtime.Hub
	sched  *scheduler.Service
	disp   *dispatch.Service
	fan    *fanout.Service

	cron       *cron.Cron
	runTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error { return Validate(c) })

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sender, publisher, err := buildTransport(cfg, log)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	writer := notify.NewWriter(store, log.With(logx.String("comp", "notify")))
	hub := realtime.NewHub()

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispCfg, err := dispatchConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    log,
		store:  store,
		writer: writer,
		hub:    hub,
		sched:  scheduler.New(schedCfg, store, writer, log.With(logx.String("comp", "scheduler"))),
		disp:   dispatch.New(dispCfg, store, sender, log.With(logx.String("comp", "dispatch"))),
		fan: fanout.New(fanout.Config{
			AnnouncerUserID: cfg.Fanout.AnnouncerUserID,
			RatePerSec:      cfg.Fanout.RatePerSec,
		}, store, publisher, hub, log.With(logx.String("comp", "fanout"))),
	}
	return a, nil
}

// Store exposes the persistence layer (used by the CRUD surface and ops tooling).
func (a *App) Store() storage.Store { return a.store }

// Realtime exposes the live-update hub for subscription surfaces.
func (a *App) Realtime() *realtime.Hub { return a.hub }

// Fanout exposes the gateway for explicit retraction requests.
func (a *App) Fanout() *fanout.Service { return a.fan }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	runTimeout, err := config.ParseDurationOrDefault("triggers.run_timeout", cfg.Triggers.RunTimeout, 2*time.Minute)
	if err != nil {
		return err
	}
	a.runTimeout = runTimeout

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	a.cron = cron.New(cron.WithParser(parser))

	entries := []struct {
		name string
		spec string
		def  string
		run  func(ctx context.Context, now time.Time) error
	}{
		{"scheduler", cfg.Triggers.SchedulerSpec, "@every 5m", a.sched.Run},
		{"dispatch", cfg.Triggers.DispatchSpec, "@every 1m", a.disp.Run},
		{"fanout", cfg.Triggers.FanoutSpec, "@every 1m", a.fan.ProcessDue},
	}
	for _, e := range entries {
		spec := e.spec
		if spec == "" {
			spec = e.def
		}
		job := a.trigger(runCtx, e.name, e.run)
		if _, err := a.cron.AddFunc(spec, job); err != nil {
			cancel()
			return fmt.Errorf("trigger %s: bad spec %q: %w", e.name, spec, err)
		}
	}
	a.cron.Start()

	// Config hot reload.
	sub := a.cfgm.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case c, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c)
			}
		}
	}()

	a.log.Info("remindd started",
		logx.String("storage", cfg.Storage.Path),
		logx.String("transport", transportDriver(cfg)))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("remindd stopped")
	return errors.Join(errs...)
}

// trigger wraps a batch entry point: single "now" per invocation, per-run
// deadline, overlap-skip, and failure logging. A failed run is retried by the
// trigger's next cycle, never by the engine itself.
func (a *App) trigger(ctx context.Context, name string, run func(ctx context.Context, now time.Time) error) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			a.log.Debug("trigger overlap; run skipped", logx.String("trigger", name))
			return
		}
		defer running.Store(false)

		rctx, cancel := context.WithTimeout(ctx, a.runTimeout)
		defer cancel()

		now := time.Now().UTC()
		if err := run(rctx, now); err != nil {
			a.log.Error("batch run failed", logx.String("trigger", name), logx.Err(err))
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if c, err := schedulerConfig(cfg); err == nil {
		a.sched.Apply(c)
	}
	if c, err := dispatchConfig(cfg); err == nil {
		a.disp.Apply(c)
	}
	a.fan.Apply(fanout.Config{
		AnnouncerUserID: cfg.Fanout.AnnouncerUserID,
		RatePerSec:      cfg.Fanout.RatePerSec,
	})
	a.log.Info("config applied")
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	window, err := config.ParseDurationOrDefault("scheduler.window", cfg.Scheduler.Window, 25*time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	slack, err := config.ParseDurationOrDefault("scheduler.slack", cfg.Scheduler.Slack, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Window:      window,
		Slack:       slack,
		Workers:     cfg.Scheduler.Workers,
		DefaultLead: cfg.Scheduler.DefaultLead,
	}, nil
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	cutoff, err := config.ParseDurationOrDefault("dispatch.reminder_cutoff", cfg.Dispatch.ReminderCutoff, time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		BatchSize:      cfg.Dispatch.BatchSize,
		RatePerSec:     cfg.Dispatch.RatePerSec,
		ReminderCutoff: cutoff,
		SkipDomains:    cfg.Dispatch.SkipDomains,
	}, nil
}
