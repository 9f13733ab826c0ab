package app

import (
	"time"

	"periodic/internal/config"
	"periodic/internal/status"
	logx "periodic/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

type schedulerSettings struct {
	Workers         int
	HistorySize     int
	FailureLogEvery time.Duration
}

func mapSchedulerConfig(cfg *config.Config) (schedulerSettings, error) {
	s := schedulerSettings{
		Workers:     cfg.Scheduler.Workers,
		HistorySize: cfg.Scheduler.HistorySize,
	}
	if s.Workers <= 0 {
		s.Workers = 2
	}
	if s.HistorySize <= 0 {
		s.HistorySize = 200
	}
	every, err := config.DurationOr("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery, 5*time.Second)
	if err != nil {
		return schedulerSettings{}, err
	}
	s.FailureLogEvery = every
	return s, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Enabled:     cfg.Status.Enabled,
		Addr:        cfg.Status.Addr,
		Pprof:       cfg.Status.Pprof,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
	}
}
