package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "periodic/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// structured attrs for logging them.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
			logx.String("scheduler.failure_log_every", strings.TrimSpace(newCfg.Scheduler.FailureLogEvery)),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", strings.TrimSpace(newCfg.Status.Addr)),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
		)
	}

	if d := DiffTasks(oldCfg.Tasks, newCfg.Tasks); !d.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(d.Added)),
			logx.Int("tasks.removed", len(d.Removed)),
			logx.Int("tasks.changed", len(d.Changed)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// TaskChange is a task present in both configs with different settings.
// IntervalOnly means the running task can be kept and only its interval
// updated (the interval may also be unchanged).
type TaskChange struct {
	Old, New     TaskConfig
	IntervalOnly bool
}

// TaskDiff is the reconciliation plan between two task lists, keyed by name.
// Disabled tasks count as absent.
type TaskDiff struct {
	Added   []TaskConfig
	Removed []string
	Changed []TaskChange
}

func (d TaskDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func DiffTasks(oldTasks, newTasks []TaskConfig) TaskDiff {
	oldM := activeTasks(oldTasks)
	newM := activeTasks(newTasks)

	var d TaskDiff
	for name, n := range newM {
		o, ok := oldM[name]
		if !ok {
			d.Added = append(d.Added, n)
			continue
		}
		if reflect.DeepEqual(o, n) {
			continue
		}
		// start_delay only affects the first firing.
		o2 := o
		o2.Interval = n.Interval
		o2.StartDelay = n.StartDelay
		d.Changed = append(d.Changed, TaskChange{Old: o, New: n, IntervalOnly: reflect.DeepEqual(o2, n)})
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Name < d.Added[j].Name })
	sort.Strings(d.Removed)
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].New.Name < d.Changed[j].New.Name })
	return d
}

func activeTasks(ts []TaskConfig) map[string]TaskConfig {
	m := make(map[string]TaskConfig, len(ts))
	for _, t := range ts {
		if t.Disabled {
			continue
		}
		t.Name = strings.TrimSpace(t.Name)
		t.Probe = strings.TrimSpace(t.Probe)
		t.Interval = strings.TrimSpace(t.Interval)
		t.StartDelay = strings.TrimSpace(t.StartDelay)
		t.Timeout = strings.TrimSpace(t.Timeout)
		m[t.Name] = t
	}
	return m
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
