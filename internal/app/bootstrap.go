package app

import (
	"fmt"
	"time"

	"tourcast/internal/api"
	"tourcast/internal/broadcast"
	"tourcast/internal/config"
	"tourcast/internal/dispatch"
	"tourcast/internal/scheduler"
	"tourcast/internal/storage"
)

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewManager

// mapDispatchConfig translates the raw (string-duration) config section into
// the dispatcher's typed config.
func mapDispatchConfig(cfg *Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	if d.WorkersPerChannel < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.workers_per_channel must be >= 0")
	}
	if d.QueueSize < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if d.RatePerSec < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	if d.RetryMax < 0 {
		return dispatch.Config{}, fmt.Errorf("dispatch.retry_max must be >= 0")
	}
	base, err := config.ParseDurationField("dispatch.retry_base", d.RetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		WorkersPerChannel: d.WorkersPerChannel,
		QueueSize:         d.QueueSize,
		RatePerSec:        d.RatePerSec,
		RetryMax:          d.RetryMax,
		RetryBase:         base,
		RetryMaxDelay:     maxDelay,
		RetryJitter:       d.RetryJitter,
	}, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_interval", cfg.Scheduler.SweepInterval, 15*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	sc := scheduler.Config{
		Enabled:       cfg.Scheduler.Enabled,
		SweepInterval: sweep,
	}
	if cfg.Renotify != nil && cfg.Renotify.Enabled {
		iv, err := config.ParseDurationOrDefault("renotify.interval", cfg.Renotify.Interval, 5*time.Minute)
		if err != nil {
			return scheduler.Config{}, err
		}
		sc.RenotifyEnabled = true
		sc.RenotifyInterval = iv
	}
	return sc, nil
}

func mapRenotifyPolicy(cfg *Config) (broadcast.RenotifyPolicy, error) {
	if cfg.Renotify == nil || !cfg.Renotify.Enabled {
		return broadcast.RenotifyPolicy{}, nil
	}
	if cfg.Renotify.MaxRounds < 0 {
		return broadcast.RenotifyPolicy{}, fmt.Errorf("renotify.max_rounds must be >= 0")
	}
	iv, err := config.ParseDurationOrDefault("renotify.interval", cfg.Renotify.Interval, 5*time.Minute)
	if err != nil {
		return broadcast.RenotifyPolicy{}, err
	}
	return broadcast.RenotifyPolicy{Interval: iv, MaxRounds: cfg.Renotify.MaxRounds}, nil
}

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapAPIConfig(cfg *Config) api.Config {
	return api.Config{
		Enabled: cfg.API.Enabled,
		Addr:    cfg.API.Addr,
	}
}
