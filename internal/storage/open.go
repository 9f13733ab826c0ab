package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	logx "periodic/pkg/logx"
)

// Store is the sample sink used by probe jobs and the status surfaces.
type Store interface {
	// RecordSample stores value for metric and returns the metric's updated
	// aggregate.
	RecordSample(ctx context.Context, metric string, value float64) (Aggregate, error)
	// Aggregates lists every category's aggregate ordered by category.
	Aggregates(ctx context.Context) ([]Aggregate, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))
	runID := uuid.NewString()

	switch driver {
	case "file":
		return openFile(cfg, runID, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, runID, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func checkMetric(metric string) error {
	if !KnownMetric(metric) {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	return nil
}
