package diagnostics

import (
	"fmt"
	"strings"
)

// Status is the outcome of a check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one line of a doctor report.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Limits are the minimums a host needs to drive a browser comfortably.
type Limits struct {
	MinAvailableMemMB float64
	MinDiskFreeMB     float64
}

// DefaultLimits returns the limits used by doctor.
func DefaultLimits() Limits {
	return Limits{
		MinAvailableMemMB: 1024,
		MinDiskFreeMB:     500,
	}
}

// Evaluate turns host facts into checks.
func Evaluate(info HostInfo, limits Limits) []Check {
	checks := make([]Check, 0, 4)

	cpu := Check{Name: "cpu", Status: StatusOK}
	switch {
	case info.CPUThreads == 0:
		cpu.Status = StatusWarn
		cpu.Detail = "cpu count unavailable"
	default:
		cpu.Detail = fmt.Sprintf("%s (%d cores, %d threads, load %.2f)",
			orUnknown(info.CPUModel), info.CPUCores, info.CPUThreads, info.LoadAvg1)
		if info.LoadAvg1 > float64(info.CPUThreads)*2 {
			cpu.Status = StatusWarn
		}
	}
	checks = append(checks, cpu)

	memory := Check{Name: "memory", Status: StatusOK}
	switch {
	case info.MemTotalMB == 0:
		memory.Status = StatusWarn
		memory.Detail = "memory usage unavailable"
	default:
		memory.Detail = fmt.Sprintf("%.0f MB available of %.0f MB", info.MemAvailableMB, info.MemTotalMB)
		if info.PhysicalMemMB > 0 {
			memory.Detail += fmt.Sprintf(" (%.0f MB installed)", info.PhysicalMemMB)
		}
		if info.MemAvailableMB < limits.MinAvailableMemMB {
			memory.Status = StatusWarn
		}
	}
	checks = append(checks, memory)

	diskCheck := Check{Name: "disk", Status: StatusOK}
	switch {
	case info.DiskFreeMB == 0:
		diskCheck.Status = StatusWarn
		diskCheck.Detail = "free space unavailable for " + info.DiskPath
	case info.DiskFreeMB < limits.MinDiskFreeMB:
		diskCheck.Status = StatusFail
		diskCheck.Detail = fmt.Sprintf("only %.0f MB free at %s", info.DiskFreeMB, info.DiskPath)
	default:
		diskCheck.Detail = fmt.Sprintf("%.0f MB free at %s", info.DiskFreeMB, info.DiskPath)
	}
	checks = append(checks, diskCheck)

	profile := Check{Name: "browser profile", Status: StatusOK, Detail: "not in use"}
	if n := len(info.BrowserProcesses); n > 0 {
		pids := make([]string, 0, n)
		for _, p := range info.BrowserProcesses {
			pids = append(pids, fmt.Sprint(p.PID))
		}
		profile.Status = StatusWarn
		profile.Detail = fmt.Sprintf("%d browser processes hold the profile (pids %s)", n, strings.Join(pids, ", "))
	}
	checks = append(checks, profile)

	if len(info.GraphicsCards) > 0 {
		checks = append(checks, Check{
			Name:   "graphics",
			Status: StatusOK,
			Detail: strings.Join(info.GraphicsCards, "; "),
		})
	}
	return checks
}

// Worst returns the most severe status in checks.
func Worst(checks []Check) Status {
	worst := StatusOK
	for _, c := range checks {
		switch c.Status {
		case StatusFail:
			return StatusFail
		case StatusWarn:
			worst = StatusWarn
		}
	}
	return worst
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown cpu"
	}
	return s
}
