package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"periodic/internal/app"
	"periodic/internal/storage"
	logx "periodic/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProbesCommand(t *testing.T) {
	out, err := execute(t, "probes")
	require.NoError(t, err)
	require.Equal(t, "physical_mem\nspeedtest\nvirtual_mem\n", out)
}

func TestAggregatesCommand(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "samples")
	cfgPath := filepath.Join(dir, "periodic.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("storage:\n  driver: file\n  path: %s\ntasks: []\n", prefix)), 0o600))

	out, err := execute(t, "--config", cfgPath, "aggregates")
	require.NoError(t, err)
	require.Contains(t, out, "no samples recorded yet")

	st, err := storage.Open(storage.Config{Driver: "file", Path: prefix}, logx.Nop())
	require.NoError(t, err)
	_, err = st.RecordSample(context.Background(), storage.MetricPhysicalMem, 1<<30)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err = execute(t, "--config", cfgPath, "aggregates")
	require.NoError(t, err)
	require.Contains(t, out, storage.MetricPhysicalMem)
	require.Contains(t, out, "1.0 GiB")
}

func TestAggregatesCommandStorageDisabled(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "periodic.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"tasks":[]}`), 0o600))

	_, err := execute(t, "-c", cfgPath, "aggregates")
	require.ErrorContains(t, err, "storage is disabled")
}

func TestSignalReason(t *testing.T) {
	require.Equal(t, app.StopSIGINT, signalReason(os.Interrupt))
	require.Equal(t, app.StopSIGTERM, signalReason(syscall.SIGTERM))
	require.Equal(t, app.StopUnknown, signalReason(syscall.SIGHUP))
}
