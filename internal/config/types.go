package config

// Config is the root configuration for the tourcast daemon.
//
// Files may be JSON or YAML; YAML is coerced to JSON and both are decoded
// strictly (unknown fields are rejected). All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	API       APIConfig        `json:"api"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Renotify  *RenotifyConfig  `json:"renotify,omitempty"`
	Audience  *AudienceConfig  `json:"audience,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
}

// StorageConfig selects the persistence backend.
//
// Driver values: "memory" (default), "file", "sqlite" (requires the sqlite
// build tag).
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DispatchConfig controls the fan-out worker pools.
//
// WorkersPerChannel and RatePerSec bound concurrency and throughput per
// channel, not per broadcast, so one large broadcast cannot starve another
// or overwhelm a provider.
//
// Defaults (when fields are omitted/zero):
//   - workers_per_channel: 4
//   - queue_size: 1024
//   - rate_per_sec: 25
//   - retry_max: 3
//   - retry_base: "500ms"
//   - retry_max_delay: "15s"
type DispatchConfig struct {
	WorkersPerChannel int     `json:"workers_per_channel,omitempty"`
	QueueSize         int     `json:"queue_size,omitempty"`
	RatePerSec        int     `json:"rate_per_sec,omitempty"`
	RetryMax          int     `json:"retry_max,omitempty"`
	RetryBase         string  `json:"retry_base,omitempty"`
	RetryMaxDelay     string  `json:"retry_max_delay,omitempty"`
	RetryJitter       float64 `json:"retry_jitter,omitempty"` // 0.2 = 20%
}

// SchedulerConfig controls the release/expiry sweeps.
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	SweepInterval string `json:"sweep_interval,omitempty"` // default "15s"
}

// RenotifyConfig controls re-notification of unacknowledged recipients on
// broadcasts that require acknowledgment. Disabled unless configured; there
// is deliberately no built-in default policy.
type RenotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	Interval  string `json:"interval,omitempty"`
	MaxRounds int    `json:"max_rounds,omitempty"`
}

// AudienceConfig seeds the in-memory recipient directory from a JSON file
// (dev/test convenience; production deployments plug a real directory).
type AudienceConfig struct {
	SeedPath string `json:"seed_path,omitempty"`
}
