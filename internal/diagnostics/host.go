package diagnostics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo describes the machine a runner is about to use.
type HostInfo struct {
	CPUModel   string `json:"cpu_model"`
	CPUCores   int    `json:"cpu_cores"`
	CPUThreads int    `json:"cpu_threads"`

	MemTotalMB     float64 `json:"mem_total_mb"`
	MemAvailableMB float64 `json:"mem_available_mb"`
	PhysicalMemMB  float64 `json:"physical_mem_mb,omitempty"`

	DiskPath   string  `json:"disk_path"`
	DiskFreeMB float64 `json:"disk_free_mb"`

	LoadAvg1 float64 `json:"load_avg_1"`

	GraphicsCards []string `json:"graphics_cards,omitempty"`

	// BrowserProcesses are running processes whose command line names the
	// browser profile directory.
	BrowserProcesses []ProcessInfo `json:"browser_processes,omitempty"`
}

// ProcessInfo is one process seen on the host.
type ProcessInfo struct {
	PID   int32   `json:"pid"`
	Name  string  `json:"name"`
	RSSMB float64 `json:"rss_mb"`
}

// Probe collects HostInfo. The fields are replaceable so checks can be
// tested without touching the host.
type Probe struct {
	CPU       func(ctx context.Context) (model string, cores, threads int)
	Memory    func(ctx context.Context) (totalMB, availableMB float64, err error)
	Physical  func() (float64, error)
	DiskFree  func(ctx context.Context, path string) (float64, error)
	Load      func(ctx context.Context) (float64, error)
	Graphics  func() ([]string, error)
	Processes func(ctx context.Context, match string) ([]ProcessInfo, error)
}

// NewProbe returns a Probe backed by gopsutil and ghw.
func NewProbe() *Probe {
	return &Probe{
		CPU:       cpuInfo,
		Memory:    memoryInfo,
		Physical:  physicalMemory,
		DiskFree:  diskFree,
		Load:      loadAvg,
		Graphics:  graphicsCards,
		Processes: FindProcesses,
	}
}

// Collect gathers host facts. diskPath is the directory whose filesystem
// is checked; profileDir selects browser processes. Collection is
// best-effort: a probe that fails leaves its fields zero.
func (p *Probe) Collect(ctx context.Context, diskPath, profileDir string) HostInfo {
	info := HostInfo{DiskPath: diskPath}

	info.CPUModel, info.CPUCores, info.CPUThreads = p.CPU(ctx)
	if total, avail, err := p.Memory(ctx); err == nil {
		info.MemTotalMB = total
		info.MemAvailableMB = avail
	}
	if phys, err := p.Physical(); err == nil {
		info.PhysicalMemMB = phys
	}
	if free, err := p.DiskFree(ctx, diskPath); err == nil {
		info.DiskFreeMB = free
	}
	if l, err := p.Load(ctx); err == nil {
		info.LoadAvg1 = l
	}
	if cards, err := p.Graphics(); err == nil {
		info.GraphicsCards = cards
	}
	if profileDir != "" {
		if procs, err := p.Processes(ctx, profileDir); err == nil {
			info.BrowserProcesses = procs
		}
	}
	return info
}

func cpuInfo(ctx context.Context) (string, int, int) {
	var model string
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		model = strings.TrimSpace(infos[0].ModelName)
	}
	cores, _ := cpu.CountsWithContext(ctx, false)
	threads, _ := cpu.CountsWithContext(ctx, true)
	return model, cores, threads
}

func memoryInfo(ctx context.Context) (float64, float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return toMB(vm.Total), toMB(vm.Available), nil
}

func physicalMemory() (float64, error) {
	info, err := ghw.Memory()
	if err != nil {
		return 0, err
	}
	if info.TotalPhysicalBytes <= 0 {
		return 0, fmt.Errorf("physical memory unknown")
	}
	return float64(info.TotalPhysicalBytes) / 1024 / 1024, nil
}

func diskFree(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return toMB(usage.Free), nil
}

func loadAvg(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

func graphicsCards() ([]string, error) {
	info, err := ghw.GPU()
	if err != nil {
		return nil, err
	}
	cards := make([]string, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		name := fmt.Sprintf("GPU %d", card.Index)
		if d := card.DeviceInfo; d != nil {
			switch {
			case d.Vendor != nil && d.Product != nil:
				name = strings.TrimSpace(d.Vendor.Name + " " + d.Product.Name)
			case d.Product != nil:
				name = strings.TrimSpace(d.Product.Name)
			}
		}
		cards = append(cards, name)
	}
	return cards, nil
}

// FindProcesses lists processes whose command line contains match.
func FindProcesses(ctx context.Context, match string) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var found []ProcessInfo
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, match) {
			continue
		}
		info := ProcessInfo{PID: p.Pid}
		info.Name, _ = p.NameWithContext(ctx)
		if m, err := p.MemoryInfoWithContext(ctx); err == nil && m != nil {
			info.RSSMB = toMB(m.RSS)
		}
		found = append(found, info)
	}
	return found, nil
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
