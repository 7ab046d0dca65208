package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/browser"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/sheets"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/api"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/clip"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/inbox"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/timeline"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/telemetry"
)

var (
	runSheet    string
	runHeadless bool
)

var runCmd = &cobra.Command{
	Use:   "run [rows or ids...]",
	Short: "Start a runner",
	Long: `Start a runner: open the browser profile, resume any interrupted row
and process the queue until interrupted. Rows given as arguments are
queued on the --sheet sheet (or the last sheet) before processing starts.

Only one runner may use a state directory at a time.`,
	RunE: runRunner,
}

func init() {
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "sheet to activate before processing")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "run the browser without a window")
	_ = viper.BindPFlag("browser.headless", runCmd.Flags().Lookup("headless"))
	rootCmd.AddCommand(runCmd)
}

func runRunner(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := os.MkdirAll(filepath.Dir(cfg.State.LockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}
	lock := flock.New(cfg.State.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring runner lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another runner holds %s", cfg.State.LockPath)
	}
	defer func() { _ = lock.Unlock() }()

	logStartup(logger, cfg)

	kv, err := openState(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	bus := events.New(100)
	defer bus.Close()
	logger.Forward(slog.LevelWarn, func(e logging.Entry) {
		sheet, _ := e.Attrs["sheet"].(string)
		bus.Publish(events.NewLogEvent(sheet, strings.ToLower(e.Level), e.Message, e.Attrs))
	})

	store := workflow.NewStateStore(kv)
	queue := workflow.NewQueue(store, workflow.WithQueuePublisher(bus))

	sheetsClient, err := sheets.New(ctx, sheetsConfig(cfg), logger)
	if err != nil {
		return err
	}

	session, err := browser.Open(ctx, browserConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("closing browser", "error", err)
		}
	}()

	mappings := cfg.Mapping.Mappings()
	ec, err := extractorConfig(cfg)
	if err != nil {
		return err
	}
	rows := workflow.NewRowReader(sheetsClient, mappings)

	orch, err := workflow.NewOrchestrator(workflow.OrchestratorDeps{
		Store:     store,
		Queue:     queue,
		Locator:   workflow.NewLocator(session, store, locatorConfig(cfg), workflow.WithLocatorLogger(logger)),
		Extractor: timeline.New(session, ec, timeline.WithLogger(logger), timeline.WithMappings(mappings)),
		Writer:    workflow.NewVerifiedWriter(sheetsClient, mappings, writerConfig(cfg), workflow.WithWriterLogger(logger)),
		Recovery:  workflow.NewRecoveryTracker(kv, recoveryConfig(cfg.Recovery.Threshold, cfg.Recovery.Window), time.Now),
		Rows:      rows,
		Scanner:   session,
		Mappings:  mappings,
		Publisher: bus,
		Logger:    logger,
		Config:    workflow.OrchestratorConfig{Debounce: cfg.Orchestrator.Debounce},
	})
	if err != nil {
		return err
	}
	runner := workflow.NewRunner(orch, workflow.RunnerConfig{
		IdlePoll:     cfg.Orchestrator.IdlePoll,
		ErrorBackoff: cfg.Orchestrator.ErrorBackoff,
	}, logger)

	cp := control.New(control.Deps{
		InstanceID: cfg.InstanceID,
		Queue:      queue,
		Store:      store,
		Sheets:     sheetsClient,
		Rows:       rows,
		Logger:     logger,
		Publisher:  bus,
		Phase:      orch.Phase,
		Wake:       runner.Wake,
	})
	logger.Info("runner ready", "instance_id", cp.InstanceID())

	if err := seedQueue(ctx, cp, runSheet, args); err != nil {
		return err
	}

	metrics, err := telemetry.New(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Interval: cfg.Telemetry.Interval,
		Output:   os.Stderr,
		Service:  "tickettrail",
		Version:  appVersion,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}()
	recorder, err := telemetry.NewRecorder(metrics.Meter())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runner.Run(gctx) })

	if cfg.API.Enabled {
		srv := api.NewServer(cp, bus,
			api.WithLogger(logger),
			api.WithAllowedOrigins(cfg.API.AllowedOrigins))
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Listen) })
	}

	if cfg.Inbox.Enabled {
		w := inbox.New(cfg.Inbox.Dir, cp, inbox.WithLogger(logger))
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.Clipboard.CopyExternalID {
		ch := bus.Subscribe(events.TypeRowStarted)
		copier := clip.New(clip.WithLogger(logger), clip.WithFallbackDir(filepath.Dir(cfg.State.Path)))
		g.Go(func() error {
			copier.Watch(gctx, ch)
			return nil
		})
	}

	if cfg.Telemetry.Enabled {
		ch := bus.Subscribe()
		g.Go(func() error {
			recorder.Consume(gctx, ch)
			return nil
		})
	}

	monitor := diagnostics.NewMonitor(diagnostics.DefaultMonitorConfig(), logger)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})

	if !quiet {
		ch := bus.Subscribe(events.TypeRowStarted, events.TypeRowWritten, events.TypeRowFailed, events.TypeRowSkipped)
		out := cmd.OutOrStdout()
		st := newStyles(noColor)
		g.Go(func() error {
			printProgress(gctx, out, st, ch)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("runner stopped")
	return err
}

// seedQueue applies the --sheet flag and row arguments before the runner
// starts.
func seedQueue(ctx context.Context, cp *control.ControlPlane, sheet string, args []string) error {
	if sheet != "" {
		if _, err := cp.ExecuteCommand(ctx, control.Command{Action: control.ActionStart, Payload: sheet}); err != nil {
			return err
		}
	}
	if len(args) == 0 {
		return nil
	}
	res, err := cp.ExecuteCommand(ctx, control.Command{
		Action:  control.ActionProcessRows,
		Payload: strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	if len(res.NotFound) > 0 {
		return fmt.Errorf("external ids not found: %s", strings.Join(res.NotFound, ", "))
	}
	return nil
}

func logStartup(logger *logging.Logger, cfg *config.Config) {
	attrs := []any{"version", appVersion, "state", cfg.State.Path, "backend", cfg.State.Backend}
	if used := viper.ConfigFileUsed(); used != "" {
		if data, err := os.ReadFile(used); err == nil {
			attrs = append(attrs, "config", used, "config_hash", config.Fingerprint(data))
		}
	}
	logger.Info("starting runner", attrs...)
}

// printProgress prints one line per finished or started row.
func printProgress(ctx context.Context, w io.Writer, st styles, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			ts := st.muted.Render(ev.Timestamp().Local().Format("15:04:05"))
			switch e := ev.(type) {
			case events.RowStartedEvent:
				fmt.Fprintf(w, "%s row %d %s %s\n", ts, e.Row, e.ExternalID, st.muted.Render(e.RecordType))
			case events.RowWrittenEvent:
				fmt.Fprintf(w, "%s row %d %s %s\n", ts, e.Row, st.ok.Render(e.Status),
					st.muted.Render(fmt.Sprintf("quality %d, %d attempts", e.QualityScore, e.Attempts)))
			case events.RowFailedEvent:
				fmt.Fprintf(w, "%s row %d %s %s\n", ts, e.Row, st.fail.Render(e.Label), e.Reason)
			case events.RowSkippedEvent:
				fmt.Fprintf(w, "%s row %d %s %s\n", ts, e.Row, st.warn.Render("skipped"), e.Reason)
			}
		}
	}
}
