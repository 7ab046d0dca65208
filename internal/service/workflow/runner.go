package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

// RunnerConfig holds configuration for the workflow runner loop.
type RunnerConfig struct {
	// IdlePoll is the wait between steps when no row is in flight.
	IdlePoll time.Duration
	// ErrorBackoff is the wait after a step returned an error.
	ErrorBackoff time.Duration
}

// DefaultRunnerConfig returns default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		IdlePoll:     2 * time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// Runner calls Orchestrator.Step in a loop until its context ends.
type Runner struct {
	orch   *Orchestrator
	cfg    RunnerConfig
	logger *logging.Logger
	wake   chan struct{}
}

// NewRunner creates a runner.
func NewRunner(orch *Orchestrator, cfg RunnerConfig, logger *logging.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = def.IdlePoll
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		orch:   orch,
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Wake interrupts an idle wait so new commands are picked up immediately.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run steps the orchestrator until ctx is cancelled. Busy phases are
// followed immediately by the next step; idle phases wait for IdlePoll or
// a Wake. Cancellation is not reported as an error.
func (r *Runner) Run(ctx context.Context) error {
	defer r.orch.Close()

	r.logger.Info("workflow runner started")
	for {
		phase, err := r.orch.Step(ctx)
		if ctx.Err() != nil {
			r.logger.Info("workflow runner stopped", "phase", phase)
			return nil
		}

		wait := time.Duration(0)
		switch {
		case err != nil:
			r.logger.Error("workflow step failed", "phase", phase, "error", err)
			wait = r.cfg.ErrorBackoff
		case !phase.Busy():
			wait = r.cfg.IdlePoll
		}
		if wait == 0 {
			continue
		}

		if err := r.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.logger.Info("workflow runner stopped", "phase", phase)
				return nil
			}
			return err
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.wake:
		return nil
	case <-timer.C:
		return nil
	}
}
