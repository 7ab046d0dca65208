package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProbe() *Probe {
	return &Probe{
		CPU: func(context.Context) (string, int, int) { return "Test CPU", 4, 8 },
		Memory: func(context.Context) (float64, float64, error) {
			return 16384, 8192, nil
		},
		Physical: func() (float64, error) { return 16384, nil },
		DiskFree: func(context.Context, string) (float64, error) { return 20480, nil },
		Load:     func(context.Context) (float64, error) { return 0.5, nil },
		Graphics: func() ([]string, error) { return nil, errors.New("no pci") },
		Processes: func(context.Context, string) ([]ProcessInfo, error) {
			return nil, nil
		},
	}
}

func checkByName(t *testing.T, checks []Check, name string) Check {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q missing", name)
	return Check{}
}

func TestProbeCollect(t *testing.T) {
	p := fakeProbe()
	var matched string
	p.Processes = func(_ context.Context, match string) ([]ProcessInfo, error) {
		matched = match
		return []ProcessInfo{{PID: 42, Name: "chrome", RSSMB: 300}}, nil
	}

	info := p.Collect(context.Background(), ".tickettrail/state", ".tickettrail/browser")
	assert.Equal(t, ".tickettrail/browser", matched)
	assert.Equal(t, "Test CPU", info.CPUModel)
	assert.Equal(t, 8192.0, info.MemAvailableMB)
	assert.Equal(t, 20480.0, info.DiskFreeMB)
	assert.Equal(t, ".tickettrail/state", info.DiskPath)
	assert.Empty(t, info.GraphicsCards)
	require.Len(t, info.BrowserProcesses, 1)
}

func TestProbeCollect_SkipsProcessesWithoutProfile(t *testing.T) {
	p := fakeProbe()
	p.Processes = func(context.Context, string) ([]ProcessInfo, error) {
		t.Fatal("processes should not be listed")
		return nil, nil
	}
	p.Collect(context.Background(), "/", "")
}

func TestEvaluate_Healthy(t *testing.T) {
	info := fakeProbe().Collect(context.Background(), "/", "")
	checks := Evaluate(info, DefaultLimits())

	assert.Equal(t, StatusOK, Worst(checks))
	assert.Contains(t, checkByName(t, checks, "memory").Detail, "8192 MB available")
	assert.Equal(t, "not in use", checkByName(t, checks, "browser profile").Detail)
}

func TestEvaluate_Problems(t *testing.T) {
	info := HostInfo{
		CPUThreads:     2,
		LoadAvg1:       9,
		MemTotalMB:     2048,
		MemAvailableMB: 300,
		DiskPath:       "/data",
		DiskFreeMB:     100,
		BrowserProcesses: []ProcessInfo{
			{PID: 11}, {PID: 12},
		},
		GraphicsCards: []string{"Intel UHD"},
	}
	checks := Evaluate(info, DefaultLimits())

	assert.Equal(t, StatusWarn, checkByName(t, checks, "cpu").Status)
	assert.Equal(t, StatusWarn, checkByName(t, checks, "memory").Status)
	disk := checkByName(t, checks, "disk")
	assert.Equal(t, StatusFail, disk.Status)
	assert.Equal(t, "only 100 MB free at /data", disk.Detail)
	profile := checkByName(t, checks, "browser profile")
	assert.Equal(t, StatusWarn, profile.Status)
	assert.Contains(t, profile.Detail, "pids 11, 12")
	assert.Equal(t, "Intel UHD", checkByName(t, checks, "graphics").Detail)
	assert.Equal(t, StatusFail, Worst(checks))
}

func TestEvaluate_Unavailable(t *testing.T) {
	checks := Evaluate(HostInfo{DiskPath: "/"}, DefaultLimits())

	for _, name := range []string{"cpu", "memory", "disk"} {
		assert.Equal(t, StatusWarn, checkByName(t, checks, name).Status, name)
	}
	assert.Equal(t, StatusWarn, Worst(checks))
}
