package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "periodic/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	runID string
}

func openSQLite(cfg Config, runID string, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, runID: runID}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("storage opened", logx.String("path", path), logx.String("run_id", runID))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordSample(ctx context.Context, metric string, value float64) (Aggregate, error) {
	if s == nil || s.db == nil {
		return Aggregate{}, ErrDisabled
	}
	if err := checkMetric(metric); err != nil {
		return Aggregate{}, err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Aggregate{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// metric is whitelisted above, so it is safe as a table name.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+metric+`(val, run_id, at) VALUES(?,?,?)`,
		value, s.runID, now.Format(time.RFC3339Nano),
	); err != nil {
		return Aggregate{}, fmt.Errorf("insert %s: %w", metric, err)
	}

	agg := Aggregate{Category: metric, UpdatedAt: now}
	if err := tx.QueryRowContext(ctx,
		`SELECT AVG(val), MIN(val), MAX(val), COUNT(*) FROM `+metric,
	).Scan(&agg.Average, &agg.Minimum, &agg.Maximum, &agg.Count); err != nil {
		return Aggregate{}, fmt.Errorf("aggregate %s: %w", metric, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aggregates(category, average, minimum, maximum, count, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(category) DO UPDATE SET
		   average=excluded.average, minimum=excluded.minimum, maximum=excluded.maximum,
		   count=excluded.count, updated_at=excluded.updated_at`,
		agg.Category, agg.Average, agg.Minimum, agg.Maximum, agg.Count, now.Format(time.RFC3339Nano),
	); err != nil {
		return Aggregate{}, fmt.Errorf("upsert aggregate %s: %w", metric, err)
	}
	if err := tx.Commit(); err != nil {
		return Aggregate{}, err
	}
	return agg, nil
}

func (s *sqliteStore) Aggregates(ctx context.Context) ([]Aggregate, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, average, minimum, maximum, count, updated_at FROM aggregates ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		var at string
		if err := rows.Scan(&a.Category, &a.Average, &a.Minimum, &a.Maximum, &a.Count, &at); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			a.UpdatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
