package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "periodic/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.samples.jsonl    (append-only JSON Lines, one Sample per line)
//   - <prefix>.aggregates.json  (snapshot rewritten after every sample)
//
// Aggregates are rebuilt from the samples file on open; the snapshot exists
// for external readers.
type fileStore struct {
	log   logx.Logger
	runID string

	mu sync.Mutex

	samplesFile  *os.File
	snapshotPath string
	aggs         map[string]*runningAgg
}

type runningAgg struct {
	Aggregate
	sum float64
}

func (r *runningAgg) add(v float64, at time.Time) {
	if r.Count == 0 || v < r.Minimum {
		r.Minimum = v
	}
	if r.Count == 0 || v > r.Maximum {
		r.Maximum = v
	}
	r.Count++
	r.sum += v
	r.Average = r.sum / float64(r.Count)
	r.UpdatedAt = at
}

func openFile(cfg Config, runID string, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	samplesPath := prefix + ".samples.jsonl"
	aggs := map[string]*runningAgg{}
	if err := replaySamples(samplesPath, aggs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("sample replay incomplete", logx.String("path", samplesPath), logx.Err(err))
	}

	sf, err := os.OpenFile(samplesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("path", samplesPath), logx.String("run_id", runID), logx.Int("categories", len(aggs)))

	return &fileStore{
		log:          log,
		runID:        runID,
		samplesFile:  sf,
		snapshotPath: prefix + ".aggregates.json",
		aggs:         aggs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samplesFile == nil {
		return nil
	}
	err := s.samplesFile.Close()
	s.samplesFile = nil
	return err
}

func (s *fileStore) RecordSample(ctx context.Context, metric string, value float64) (Aggregate, error) {
	_ = ctx
	if err := checkMetric(metric); err != nil {
		return Aggregate{}, err
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samplesFile == nil {
		return Aggregate{}, errors.New("samples file closed")
	}
	if err := json.NewEncoder(s.samplesFile).Encode(Sample{Metric: metric, Value: value, RunID: s.runID, At: now}); err != nil {
		return Aggregate{}, err
	}

	ra := s.aggs[metric]
	if ra == nil {
		ra = &runningAgg{Aggregate: Aggregate{Category: metric}}
		s.aggs[metric] = ra
	}
	ra.add(value, now)

	if err := s.writeSnapshotLocked(); err != nil {
		s.log.Debug("aggregate snapshot failed", logx.Err(err))
	}
	return ra.Aggregate, nil
}

func (s *fileStore) Aggregates(ctx context.Context) ([]Aggregate, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(), nil
}

func (s *fileStore) listLocked() []Aggregate {
	out := make([]Aggregate, 0, len(s.aggs))
	for _, ra := range s.aggs {
		out = append(out, ra.Aggregate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func (s *fileStore) writeSnapshotLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.listLocked()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func replaySamples(path string, out map[string]*runningAgg) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var smp Sample
		if err := json.Unmarshal(sc.Bytes(), &smp); err != nil {
			continue
		}
		if !KnownMetric(smp.Metric) {
			continue
		}
		ra := out[smp.Metric]
		if ra == nil {
			ra = &runningAgg{Aggregate: Aggregate{Category: smp.Metric}}
			out[smp.Metric] = ra
		}
		ra.add(smp.Value, smp.At)
	}
	return sc.Err()
}
