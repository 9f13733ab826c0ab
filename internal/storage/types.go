package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownMetric = errors.New("unknown metric")
)

// Metric names double as table names and aggregate categories.
const (
	MetricPhysicalMem       = "physical_mem"
	MetricVirtualMem        = "virtual_mem"
	MetricSpeedtestDownload = "speedtest_download"
)

var knownMetrics = map[string]struct{}{
	MetricPhysicalMem:       {},
	MetricVirtualMem:        {},
	MetricSpeedtestDownload: {},
}

// KnownMetric reports whether metric has a sample table.
func KnownMetric(metric string) bool {
	_, ok := knownMetrics[metric]
	return ok
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "file": dependency-free file backend (jsonl + snapshot)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Aggregate holds the running statistics of one category.
type Aggregate struct {
	Category  string    `json:"category"`
	Average   float64   `json:"average"`
	Minimum   float64   `json:"minimum"`
	Maximum   float64   `json:"maximum"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sample is one recorded value. RunID identifies the process that wrote it.
type Sample struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
}
