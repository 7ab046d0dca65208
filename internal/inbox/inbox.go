// Package inbox watches a directory for dropped text files and queues the
// rows they name.
//
// A file holds row input in the same syntax as the process_rows command:
// row numbers, ranges and external ids separated by commas, spaces or
// newlines. A first line of the form "sheet: <name>" selects the sheet
// before the rows are queued. Handled files move to processed/, rejected
// ones to failed/.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/fsutil"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

const (
	processedDir = "processed"
	failedDir    = "failed"

	// DefaultSettle is how long a file must stay quiet before it is read.
	DefaultSettle = 500 * time.Millisecond

	maxFileSize = 1 << 20
)

// Executor runs control commands.
type Executor interface {
	ExecuteCommand(ctx context.Context, cmd control.Command) (*control.Result, error)
}

// Watcher feeds dropped files to an Executor.
type Watcher struct {
	dir    string
	exec   Executor
	logger *logging.Logger
	settle time.Duration
	now    func() time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets the quiet period before a file is read.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithLogger sets the watcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// New creates a watcher on dir.
func New(dir string, exec Executor, opts ...Option) *Watcher {
	w := &Watcher{
		dir:    dir,
		exec:   exec,
		logger: logging.NewNop(),
		settle: DefaultSettle,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "inbox")
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Run watches the directory until ctx is done. Files already present when
// Run starts are handled first.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating inbox: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating inbox watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching inbox", "dir", w.dir)

	pending := make(map[string]time.Time)
	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, e := range entries {
			if accept(e.Name()) && e.Type().IsRegular() {
				pending[filepath.Join(w.dir, e.Name())] = time.Time{}
			}
		}
	}

	tick := w.settle / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !accept(filepath.Base(event.Name)) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = w.now()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "error", err)

		case <-ticker.C:
			now := w.now()
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.Handle(ctx, path)
			}
		}
	}
}

// Handle processes one file and moves it out of the inbox.
func (w *Watcher) Handle(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	log := w.logger.With("file", filepath.Base(path))

	res, err := w.process(ctx, filepath.Base(path))
	dest := processedDir
	if err != nil {
		dest = failedDir
		log.Warn("inbox file rejected", "error", err)
	} else {
		log.Info("inbox file queued", "rows", len(res.Rows), "not_found", len(res.NotFound), "message", res.Message)
	}

	target := filepath.Join(w.dir, dest, w.now().Format("20060102-150405")+"-"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil && !os.IsNotExist(err) {
		log.Error("moving inbox file failed", "error", err)
	}
}

func (w *Watcher) process(ctx context.Context, name string) (*control.Result, error) {
	data, err := fsutil.ReadFileScoped(w.dir, name, maxFileSize)
	if err != nil {
		return nil, err
	}

	sheet, rows := parseFile(data)
	if rows == "" {
		return nil, fmt.Errorf("no rows in file")
	}
	if sheet != "" {
		if _, err := w.exec.ExecuteCommand(ctx, control.Command{Action: control.ActionSetSheet, Payload: sheet}); err != nil {
			return nil, err
		}
	}
	return w.exec.ExecuteCommand(ctx, control.Command{Action: control.ActionProcessRows, Payload: rows})
}

// parseFile splits file content into an optional sheet header and row input.
func parseFile(data []byte) (string, string) {
	var sheet string
	var rows []string
	first := true
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if first {
			first = false
			if name, ok := cutHeader(line); ok {
				sheet = name
				continue
			}
		}
		rows = append(rows, line)
	}
	return sheet, strings.Join(rows, "\n")
}

func cutHeader(line string) (string, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), "sheet") {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// accept reports whether name is an inbox file. Editors' temp and hidden
// files are skipped.
func accept(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".txt" || ext == ".csv" || ext == ""
}
