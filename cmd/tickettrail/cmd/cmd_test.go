package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/api"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/testutil"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{"127.0.0.1:8089", "http://127.0.0.1:8089"},
		{":8089", "http://127.0.0.1:8089"},
		{"0.0.0.0:8089", "http://127.0.0.1:8089"},
		{"[::]:8089", "http://127.0.0.1:8089"},
		{"desk.example.com:80", "http://desk.example.com:80"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, baseURL(tt.listen), tt.listen)
	}
}

func TestOutputYAML_BlockStyle(t *testing.T) {
	var buf bytes.Buffer
	err := outputYAML(&buf, map[string]interface{}{
		"sheet_id": "Support Q1",
		"queue":    []int{5, 6},
		"id":       "123",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "sheet_id: Support Q1")
	assert.Contains(t, out, "- 5")
	assert.Contains(t, out, `id: "123"`)
	assert.NotContains(t, out, "[")
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2024-01-15")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })
	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	assert.Contains(t, out, "tickettrail v1.2.3")
	assert.Contains(t, out, "commit: abc123def")
	assert.Contains(t, out, "built:  2024-01-15")
	assert.Equal(t, "v1.2.3", GetVersion())
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "enqueue", "start", "pause", "resume", "stop",
		"clear", "set-sheet", "set-type", "logs", "status", "sheets", "inspect", "doctor", "init", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestInit_WritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	oldCfg, oldForce := cfgFile, initForce
	cfgFile, initForce = path, false
	t.Cleanup(func() { cfgFile, initForce = oldCfg, oldForce })

	var buf bytes.Buffer
	initCmd.SetOut(&buf)
	t.Cleanup(func() { initCmd.SetOut(nil) })

	require.NoError(t, runInit(initCmd, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))
	assert.Contains(t, buf.String(), path)

	err = runInit(initCmd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigExists)

	initForce = true
	assert.NoError(t, runInit(initCmd, nil))
}

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		InstanceID: "desk-1",
		State: config.StateConfig{
			Backend:  "json",
			Path:     filepath.Join(dir, "state.json"),
			LockPath: filepath.Join(dir, "runner.lock"),
		},
	}
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestDispatch_FallsBackToLocalState(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = closedAddr(t)

	res, err := dispatch(ctx, cfg, control.Command{Action: control.ActionPause})
	require.NoError(t, err)
	assert.Equal(t, "paused; the row in flight will finish", res.Message)

	res, err = dispatch(ctx, cfg, control.Command{Action: control.ActionStatus})
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.True(t, res.Status.Paused, "pause persisted in the state file")
	assert.Equal(t, "desk-1", res.Status.InstanceID)
}

func TestDispatch_LocalWithoutSpreadsheet(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)

	res, err := dispatch(ctx, cfg, control.Command{Action: control.ActionStart, Payload: "Support Q1"})
	require.NoError(t, err)
	assert.Equal(t, "started on Support Q1", res.Message)

	_, err = dispatch(ctx, cfg, control.Command{Action: control.ActionProcessRows, Payload: "5"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
}

func TestDispatch_UsesRunnerAPI(t *testing.T) {
	ctx := context.Background()
	bus := events.New(10)
	t.Cleanup(bus.Close)

	queue := workflow.NewQueue(workflow.NewStateStore(testutil.NewMemoryStore()))
	cp := control.New(control.Deps{InstanceID: "runner-1", Queue: queue})
	ts := httptest.NewServer(api.NewServer(cp, bus).Handler())
	t.Cleanup(ts.Close)

	cfg := localConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = strings.TrimPrefix(ts.URL, "http://")

	res, err := dispatch(ctx, cfg, control.Command{Action: control.ActionPause})
	require.NoError(t, err)
	assert.Equal(t, "paused; the row in flight will finish", res.Message)

	state, err := queue.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsPaused)

	res, err = dispatch(ctx, cfg, control.Command{Action: control.ActionStop, Target: "desk-9"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	_, err = dispatch(ctx, cfg, control.Command{Action: "reboot"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner: ")
	assert.Contains(t, err.Error(), "unknown command")
}

func TestPrintResult(t *testing.T) {
	oldQuiet, oldColor := quiet, noColor
	quiet, noColor = false, true
	t.Cleanup(func() { quiet, noColor = oldQuiet, oldColor })

	var buf bytes.Buffer
	printResult(&buf, &control.Result{Message: "queued 2 of 2 rows"})
	assert.Equal(t, "✓ queued 2 of 2 rows\n", buf.String())

	buf.Reset()
	printResult(&buf, &control.Result{Ignored: true})
	assert.Contains(t, buf.String(), "another instance")
}

func TestFormatQueue(t *testing.T) {
	assert.Equal(t, "empty", formatQueue(nil))
	assert.Equal(t, "2 rows: 4, 9", formatQueue([]core.RowID{4, 9}))
}

func TestLockCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.lock")

	c := lockCheck(path)
	assert.Equal(t, diagnostics.StatusOK, c.Status)
	assert.Equal(t, "not running", c.Detail)

	held := flock.New(path)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = held.Unlock() })

	c = lockCheck(path)
	assert.Contains(t, c.Detail, "running (lock held")
}
