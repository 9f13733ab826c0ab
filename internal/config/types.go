package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Status    StatusConfig    `json:"status,omitempty"`
	Tasks     []TaskConfig    `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - history_size: 200
//   - failure_log_every: "5s"
type SchedulerConfig struct {
	Workers     int `json:"workers,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
	// FailureLogEvery bounds how often failures of one task are logged.
	FailureLogEvery string `json:"failure_log_every,omitempty"`
}

// StorageConfig controls the sample sink. Nil or driver "none" disables it.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/periodic.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// StatusConfig controls the optional HTTP status server.
//
// Prefer binding to localhost; the server has no authentication.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Pprof   bool   `json:"pprof,omitempty"`
}

// TaskConfig declares one periodic probe task. Name is the reconciliation key
// across reloads.
type TaskConfig struct {
	Name  string `json:"name"`
	Probe string `json:"probe"`
	// Interval accepts "5s", "00:50" or "@every 5s".
	Interval string `json:"interval"`
	// StartDelay postpones the first firing (default: fire immediately).
	StartDelay string `json:"start_delay,omitempty"`
	// Timeout bounds one probe run (default: 1m).
	Timeout  string `json:"timeout,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}
