package probe

import (
	"context"
	"fmt"
	"sort"

	st "github.com/showwin/speedtest-go/speedtest"
)

const (
	speedtestCandidates  = 3
	speedtestConnections = 4
)

// downloadMbps measures download throughput against the lowest-latency of the
// closest servers.
func downloadMbps(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Avoid the package-level client: speedtest-go keeps state there.
	stc := st.New(st.WithUserConfig(&st.UserConfig{MaxConnections: speedtestConnections}))
	stc.SetNThread(speedtestConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	servers, err := stc.FetchServerListContext(runCtx)
	if err != nil {
		return 0, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return 0, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := speedtestCandidates
	if n > len(servers) {
		n = len(servers)
	}

	var best *st.Server
	for _, s := range servers[:n] {
		if err := s.PingTestContext(runCtx, nil); err != nil || s.Latency <= 0 {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	if best == nil {
		return 0, fmt.Errorf("all latency tests failed")
	}

	if err := best.DownloadTestContext(runCtx); err != nil {
		return 0, fmt.Errorf("download test %s: %w", best.Sponsor, err)
	}
	return best.DLSpeed.Mbps(), nil
}
