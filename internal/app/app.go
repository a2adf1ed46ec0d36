// Package app assembles the daemon: config, logging, storage, directory,
// channel adapters, tracker, dispatcher, lifecycle, scheduler and the HTTP
// API, with hot config reload wired through the config manager.
package app

import (
	"context"
	"sync"
	"time"

	"tourcast/internal/api"
	"tourcast/internal/audience"
	"tourcast/internal/broadcast"
	"tourcast/internal/channel"
	"tourcast/internal/dispatch"
	"tourcast/internal/eventbus"
	"tourcast/internal/lifecycle"
	"tourcast/internal/model"
	"tourcast/internal/scheduler"
	"tourcast/internal/storage"
	"tourcast/internal/tracker"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

type App struct {
	cfgPath string
	cfgm    *ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	met  *metrics.Metrics

	store storage.Store
	dir   *audience.MemoryDirectory
	inbox *channel.InboxAdapter

	trk  *tracker.Tracker
	disp *dispatch.Service
	core *broadcast.Service

	sched  *scheduler.Service
	apiSrv *api.Server

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
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

	bus := eventbus.New()
	met := metrics.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	dir := audience.NewMemoryDirectory()
	if cfg.Audience != nil && cfg.Audience.SeedPath != "" {
		if err := dir.LoadSeed(cfg.Audience.SeedPath); err != nil {
			return nil, err
		}
		log.Info("recipient directory seeded", logx.String("path", cfg.Audience.SeedPath))
	}
	resolver := audience.NewResolver(dir, log.With(logx.String("comp", "audience")))

	trk := tracker.New(store, bus, log.With(logx.String("comp", "tracker")), met)

	inbox := channel.NewInbox()

	reg := channel.NewRegistry(
		channel.NewSim(model.ChannelPush),
		channel.NewSim(model.ChannelEmail),
		channel.NewSim(model.ChannelSMS),
		inbox,
	)

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dcfg, reg, trk, log.With(logx.String("comp", "dispatch")), bus, met)

	lc := lifecycle.New(store, bus, log.With(logx.String("comp", "lifecycle")))

	core := broadcast.New(store, lc, resolver, disp, trk, bus, log.With(logx.String("comp", "broadcast")), met)
	policy, err := mapRenotifyPolicy(cfg)
	if err != nil {
		return nil, err
	}
	core.SetRenotifyPolicy(policy)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, core, log.With(logx.String("comp", "scheduler")))

	apiSrv := api.New(mapAPIConfig(cfg), core, inbox, met, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		met:     met,
		store:   store,
		dir:     dir,
		inbox:   inbox,
		trk:     trk,
		disp:    disp,
		core:    core,
		sched:   sched,
		apiSrv:  apiSrv,
	}, nil
}

// Directory exposes the recipient directory for seeding and position updates.
func (a *App) Directory() *audience.MemoryDirectory { return a.dir }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	// The inbox adapter confirms delivery by definition: landing in the inbox
	// IS delivery, so it self-reports the receipt the tracker would otherwise
	// get from an external provider.
	a.inbox.OnDeliver(a.onInboxDeliver)

	a.disp.Start(ctx)
	if a.sched.Enabled() {
		a.sched.Start(ctx)
	}
	if cfg.API.Enabled {
		if err := a.apiSrv.Start(ctx); err != nil {
			return err
		}
	}

	a.startConfigWatch(ctx)

	a.log.Info("tourcast started",
		logx.Bool("api", cfg.API.Enabled),
		logx.Bool("scheduler", cfg.Scheduler.Enabled))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchWG.Wait()
		a.watchCancel = nil
	}

	a.apiSrv.Stop(ctx)
	a.sched.Stop(ctx)
	a.disp.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", logx.Err(err))
	}
	a.log.Info("tourcast stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) onInboxDeliver(broadcastID, recipientID string, ch model.Channel, state model.AttemptState, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.trk.ReportReceipt(ctx, broadcastID, recipientID, ch, state, at); err != nil {
		a.log.Warn("inbox receipt failed",
			logx.String("broadcast", broadcastID),
			logx.String("recipient", recipientID),
			logx.Err(err))
	}
}

// startConfigWatch validates and hot-applies config changes: log levels,
// dispatch retry/rate settings, scheduler intervals and the renotify policy.
// Structural settings (storage driver, api addr) need a restart.
func (a *App) startConfigWatch(ctx context.Context) {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRenotifyPolicy(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel

	a.watchWG.Add(1)
	go func() {
		defer a.watchWG.Done()
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	updates := a.cfgm.Subscribe(4)
	a.watchWG.Add(1)
	go func() {
		defer a.watchWG.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()
}

func (a *App) applyConfig(cfg *Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if dcfg, err := mapDispatchConfig(cfg); err == nil {
		a.disp.Apply(dcfg)
	}
	if scfg, err := mapSchedulerConfig(cfg); err == nil {
		a.sched.Apply(scfg)
	}
	if policy, err := mapRenotifyPolicy(cfg); err == nil {
		a.core.SetRenotifyPolicy(policy)
	}
	a.log.Info("config applied", logx.String("path", a.cfgPath))
}
