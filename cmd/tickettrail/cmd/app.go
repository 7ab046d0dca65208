package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/browser"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/sheets"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/timeline"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
)

// newLogger builds the process logger. The returned func closes the log
// file, if any.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: out,
	})
	return logger, closeFn, nil
}

// openState opens the durable store named by the config.
func openState(cfg *config.Config) (core.KVStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return state.NewStore(cfg.State.Path, state.StoreOptions{
		Backend:    cfg.State.Backend,
		BackupPath: cfg.State.BackupPath,
	})
}

func sheetsConfig(cfg *config.Config) sheets.Config {
	sc := sheets.DefaultConfig()
	sc.SpreadsheetID = cfg.Sheets.SpreadsheetID
	sc.CredentialsFile = cfg.Sheets.CredentialsFile
	sc.MaxRetries = cfg.Sheets.MaxRetries
	sc.SheetCacheTTL = cfg.Sheets.SheetCacheTTL
	sc.RateLimit = service.RateLimiterConfig{
		MaxTokens:  cfg.Sheets.RateLimit.MaxTokens,
		RefillRate: cfg.Sheets.RateLimit.RefillRate,
	}
	return sc
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.Headless = cfg.Browser.Headless
	bc.UserDataDir = cfg.Browser.UserDataDir
	bc.NavigationTimeout = cfg.Browser.NavigationTimeout
	bc.InstallBrowsers = cfg.Browser.InstallBrowsers
	return bc
}

func locatorConfig(cfg *config.Config) workflow.LocatorConfig {
	lc := workflow.DefaultLocatorConfig()
	lc.ListURLs = cfg.Ticketing.ListURLs.ByType()
	lc.SearchWait = cfg.Ticketing.SearchWait
	lc.ResultsWait = cfg.Ticketing.ResultsWait
	return lc
}

func extractorConfig(cfg *config.Config) (timeline.Config, error) {
	loc, err := cfg.Extractor.Location()
	if err != nil {
		return timeline.Config{}, err
	}
	ec := timeline.DefaultConfig()
	ec.MaxScanTime = cfg.Extractor.MaxScanTime
	ec.PollInterval = cfg.Extractor.PollInterval
	ec.StableChecks = cfg.Extractor.StableChecks
	ec.Location = loc
	return ec, nil
}

func writerConfig(cfg *config.Config) workflow.WriterConfig {
	wc := workflow.DefaultWriterConfig()
	wc.MaxAttempts = cfg.Writer.MaxAttempts
	wc.SettleDelay = cfg.Writer.SettleDelay
	wc.RetryDelay = cfg.Writer.RetryDelay
	return wc
}

// localControl is a control plane working directly on the state store,
// used when no runner API is reachable.
type localControl struct {
	*control.ControlPlane
	store core.KVStore
}

func (l *localControl) Close() error {
	return l.store.Close()
}

// newLocalControl opens the state store and, when a spreadsheet is
// configured, a Sheets client for sheet matching and id lookup.
func newLocalControl(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*localControl, error) {
	kv, err := openState(cfg)
	if err != nil {
		return nil, err
	}
	store := workflow.NewStateStore(kv)
	deps := control.Deps{
		InstanceID: cfg.InstanceID,
		Queue:      workflow.NewQueue(store),
		Store:      store,
		Logger:     logger,
	}
	if cfg.Sheets.SpreadsheetID != "" {
		client, err := sheets.New(ctx, sheetsConfig(cfg), logger)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		deps.Sheets = client
		deps.Rows = workflow.NewRowReader(client, cfg.Mapping.Mappings())
	}
	return &localControl{ControlPlane: control.New(deps), store: kv}, nil
}
