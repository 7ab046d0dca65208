package diagnostics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

// Snapshot is the resource state of the runner at one instant.
type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Goroutines   int       `json:"goroutines"`
	HeapAllocMB  float64   `json:"heap_alloc_mb"`
	OpenFDs      int32     `json:"open_fds"`
	BrowserProcs int       `json:"browser_procs"`
	BrowserRSSMB float64   `json:"browser_rss_mb"`
}

// Trend is the growth rate of a snapshot history, per hour.
type Trend struct {
	GoroutinesPerHour float64
	HeapMBPerHour     float64
	BrowserMBPerHour  float64
	Healthy           bool
	Warnings          []string
}

// MonitorConfig sets sampling and warning thresholds. A zero threshold
// disables its warning.
type MonitorConfig struct {
	Interval           time.Duration
	HistorySize        int
	GoroutineThreshold int
	BrowserRSSMB       float64
}

// DefaultMonitorConfig samples every 30s for one hour and warns when the
// browser tree passes 2 GB.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:           30 * time.Second,
		HistorySize:        120,
		GoroutineThreshold: 1000,
		BrowserRSSMB:       2048,
	}
}

// Monitor samples the runner process and its browser subprocesses. Long
// sessions leak renderer memory, so the browser tree is tracked apart from
// the Go heap.
type Monitor struct {
	cfg    MonitorConfig
	logger *logging.Logger
	sample func(ctx context.Context) Snapshot

	mu      sync.RWMutex
	history []Snapshot
}

// NewMonitor creates a monitor for the current process.
func NewMonitor(cfg MonitorConfig, logger *logging.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		logger:  logger.With("component", "monitor"),
		sample:  sampleSelf,
		history: make([]Snapshot, 0, cfg.HistorySize),
	}
}

// Run samples until ctx is done, logging threshold and trend warnings.
func (m *Monitor) Run(ctx context.Context) {
	m.Record(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.Record(ctx)
			for _, w := range m.Check(s) {
				m.logger.Warn("resource warning", "detail", w)
			}
			if trend := m.Trend(); !trend.Healthy {
				for _, w := range trend.Warnings {
					m.logger.Warn("resource trend", "detail", w)
				}
			}
		}
	}
}

// Record takes a snapshot and appends it to the history.
func (m *Monitor) Record(ctx context.Context) Snapshot {
	s := m.sample(ctx)

	m.mu.Lock()
	m.history = append(m.history, s)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.mu.Unlock()
	return s
}

// History returns a copy of the recorded snapshots.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Check returns threshold warnings for s.
func (m *Monitor) Check(s Snapshot) []string {
	var warnings []string
	if m.cfg.GoroutineThreshold > 0 && s.Goroutines > m.cfg.GoroutineThreshold {
		warnings = append(warnings, fmt.Sprintf("%d goroutines (threshold %d)", s.Goroutines, m.cfg.GoroutineThreshold))
	}
	if m.cfg.BrowserRSSMB > 0 && s.BrowserRSSMB > m.cfg.BrowserRSSMB {
		warnings = append(warnings, fmt.Sprintf("browser using %.0f MB (threshold %.0f MB)", s.BrowserRSSMB, m.cfg.BrowserRSSMB))
	}
	return warnings
}

// Trend compares the oldest and newest snapshots.
func (m *Monitor) Trend() Trend {
	history := m.History()
	if len(history) < 2 {
		return Trend{Healthy: true}
	}
	first, last := history[0], history[len(history)-1]
	hours := last.Timestamp.Sub(first.Timestamp).Hours()
	if hours < 0.01 {
		return Trend{Healthy: true}
	}

	t := Trend{
		GoroutinesPerHour: float64(last.Goroutines-first.Goroutines) / hours,
		HeapMBPerHour:     (last.HeapAllocMB - first.HeapAllocMB) / hours,
		BrowserMBPerHour:  (last.BrowserRSSMB - first.BrowserRSSMB) / hours,
		Healthy:           true,
	}
	if t.GoroutinesPerHour > 100 {
		t.Healthy = false
		t.Warnings = append(t.Warnings, fmt.Sprintf("goroutines growing at %.1f/hour", t.GoroutinesPerHour))
	}
	if t.HeapMBPerHour > 100 {
		t.Healthy = false
		t.Warnings = append(t.Warnings, fmt.Sprintf("heap growing at %.1f MB/hour", t.HeapMBPerHour))
	}
	if t.BrowserMBPerHour > 500 {
		t.Healthy = false
		t.Warnings = append(t.Warnings, fmt.Sprintf("browser memory growing at %.1f MB/hour", t.BrowserMBPerHour))
	}
	return t
}

func sampleSelf(ctx context.Context) Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Snapshot{
		Timestamp:   time.Now(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
	}

	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return s
	}
	if fds, err := self.NumFDsWithContext(ctx); err == nil {
		s.OpenFDs = fds
	}
	s.BrowserProcs, s.BrowserRSSMB = descendantRSS(ctx, self)
	return s
}

// descendantRSS sums the resident memory of every process below p.
func descendantRSS(ctx context.Context, p *process.Process) (int, float64) {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return 0, 0
	}
	count, total := 0, 0.0
	for _, child := range children {
		count++
		if m, err := child.MemoryInfoWithContext(ctx); err == nil && m != nil {
			total += toMB(m.RSS)
		}
		n, rss := descendantRSS(ctx, child)
		count += n
		total += rss
	}
	return count, total
}
