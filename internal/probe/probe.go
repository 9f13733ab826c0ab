// Package probe provides the sampling payloads scheduled as periodic tasks.
//
// A Probe measures one value; a Job binds a probe to the sample store and
// exposes it as a scheduler callback.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"periodic/internal/storage"
)

var ErrUnsupported = errors.New("probe not supported on this platform")

type Probe interface {
	// Name is the identifier used in config and console commands.
	Name() string
	// Metric is the storage category samples are recorded under.
	Metric() string
	Sample(ctx context.Context) (float64, error)
}

type funcProbe struct {
	name   string
	metric string
	fn     func(ctx context.Context) (float64, error)
}

func (p funcProbe) Name() string   { return p.name }
func (p funcProbe) Metric() string { return p.metric }
func (p funcProbe) Sample(ctx context.Context) (float64, error) {
	return p.fn(ctx)
}

// New wraps fn as a Probe.
func New(name, metric string, fn func(ctx context.Context) (float64, error)) Probe {
	return funcProbe{name: name, metric: metric, fn: fn}
}

var builtins = map[string]Probe{
	"physical_mem": New("physical_mem", storage.MetricPhysicalMem, func(context.Context) (float64, error) { return physicalMemUsed() }),
	"virtual_mem":  New("virtual_mem", storage.MetricVirtualMem, func(context.Context) (float64, error) { return virtualMemUsed() }),
	"speedtest":    New("speedtest", storage.MetricSpeedtestDownload, downloadMbps),
}

// Lookup returns the built-in probe called name.
func Lookup(name string) (Probe, bool) {
	p, ok := builtins[name]
	return p, ok
}

// Names lists the built-in probes.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for n := range builtins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Format renders a sample of metric for humans.
func Format(metric string, v float64) string {
	switch metric {
	case storage.MetricPhysicalMem, storage.MetricVirtualMem:
		if v < 0 {
			v = 0
		}
		return humanize.IBytes(uint64(v))
	case storage.MetricSpeedtestDownload:
		return fmt.Sprintf("%.2f Mbps", v)
	default:
		return humanize.FtoaWithDigits(v, 2)
	}
}
