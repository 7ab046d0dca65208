package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/timeline"
)

// Extractor mines the open ticket page.
type Extractor interface {
	Extract(ctx context.Context, recordType core.RecordType, externalID string) (*core.ExtractionResult, error)
}

// OrchestratorConfig holds orchestrator timings.
type OrchestratorConfig struct {
	// Debounce skips a row dequeued again this soon after it finished.
	Debounce time.Duration
}

// DefaultOrchestratorConfig returns a 10s debounce.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{Debounce: 10 * time.Second}
}

// OrchestratorDeps holds the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Store     *StateStore
	Queue     *Queue
	Locator   *Locator
	Extractor Extractor
	Writer    *VerifiedWriter
	Recovery  *RecoveryTracker
	Rows      *RowReader
	Scanner   core.ContentScanner
	Mappings  core.Mappings
	Publisher EventPublisher
	Logger    *logging.Logger
	Now       func() time.Time
	Config    OrchestratorConfig
}

// Orchestrator re-derives the workflow phase from durable state on every
// Step and performs that phase's work. It holds no row state in memory.
type Orchestrator struct {
	store     *StateStore
	queue     *Queue
	locator   *Locator
	extractor Extractor
	writer    *VerifiedWriter
	recovery  *RecoveryTracker
	rows      *RowReader
	scanner   core.ContentScanner
	mappings  core.Mappings
	bus       EventPublisher
	logger    *logging.Logger
	now       func() time.Time
	cfg       OrchestratorConfig

	mu    sync.RWMutex
	phase core.Phase
}

// NewOrchestrator validates deps and builds an orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("state store is required")
	case deps.Queue == nil:
		return nil, errors.New("queue is required")
	case deps.Locator == nil:
		return nil, errors.New("locator is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Writer == nil:
		return nil, errors.New("writer is required")
	case deps.Recovery == nil:
		return nil, errors.New("recovery tracker is required")
	case deps.Rows == nil:
		return nil, errors.New("row reader is required")
	case deps.Scanner == nil:
		return nil, errors.New("content scanner is required")
	}

	o := &Orchestrator{
		store:     deps.Store,
		queue:     deps.Queue,
		locator:   deps.Locator,
		extractor: deps.Extractor,
		writer:    deps.Writer,
		recovery:  deps.Recovery,
		rows:      deps.Rows,
		scanner:   deps.Scanner,
		mappings:  deps.Mappings,
		bus:       deps.Publisher,
		logger:    deps.Logger,
		now:       deps.Now,
		cfg:       deps.Config,
		phase:     core.PhaseIdle,
	}
	if o.mappings == nil {
		o.mappings = core.DefaultMappings()
	}
	if o.bus == nil {
		o.bus = nopPublisher{}
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.cfg.Debounce <= 0 {
		o.cfg.Debounce = DefaultOrchestratorConfig().Debounce
	}
	return o, nil
}

// Phase returns the phase derived by the latest Step.
func (o *Orchestrator) Phase() core.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

func (o *Orchestrator) setPhase(sheet string, phase core.Phase) {
	o.mu.Lock()
	prev := o.phase
	o.phase = phase
	o.mu.Unlock()

	if prev != phase {
		o.logger.Debug("phase changed", "from", prev, "to", phase)
		o.bus.Publish(events.NewPhaseChangedEvent(sheet, string(prev), string(phase)))
	}
}

// Close waits for background work started by the writer.
func (o *Orchestrator) Close() {
	o.writer.Wait()
}

// DerivePhase computes the phase from the page kind and durable state.
// An in-flight row always wins over the pause and stop flags.
func DerivePhase(page core.PageKind, state *core.WorkflowState, search *core.SearchContext) core.Phase {
	if search != nil {
		switch search.Status {
		case core.SearchStatusFailed:
			return core.PhaseAdvancing
		case core.SearchStatusFound:
			if page == core.PageDetail {
				return core.PhaseExtracting
			}
			return core.PhaseLocating
		default:
			return core.PhaseLocating
		}
	}
	if state == nil {
		return core.PhaseIdle
	}
	if state.CurrentRow != nil {
		return core.PhaseLocating
	}
	if !state.Active {
		if state.SheetID == "" {
			return core.PhaseIdle
		}
		return core.PhaseStopped
	}
	if state.IsPaused {
		return core.PhasePaused
	}
	if len(state.Queue) == 0 {
		return core.PhaseAwaitingInput
	}
	return core.PhaseLocating
}

// alreadyFinished reports whether search belongs to a row that FinishRow
// has committed since the search started. Such a search outlived its row
// because the process stopped before it was deleted.
func alreadyFinished(state *core.WorkflowState, search *core.SearchContext) bool {
	if state.CurrentRow != nil && *state.CurrentRow == search.RowID {
		return false
	}
	if state.LastProcessedRow == nil || *state.LastProcessedRow != search.RowID {
		return false
	}
	return state.LastProcessedAt != nil && !state.LastProcessedAt.Before(search.StartedAt)
}

// Step reloads durable state, derives the phase and performs its work.
// Row-level failures are handled in place; the returned error is reserved
// for state store and scanner failures.
func (o *Orchestrator) Step(ctx context.Context) (core.Phase, error) {
	state, err := o.queue.Snapshot(ctx)
	if err != nil {
		return core.PhaseIdle, err
	}
	search, err := o.store.LoadSearch(ctx)
	if err != nil {
		return core.PhaseIdle, err
	}
	if search != nil && alreadyFinished(state, search) {
		o.logger.WithSheet(search.SheetID).WithRow(int(search.RowID)).
			Warn("discarding search of a row that already finished")
		if err := o.store.DeleteSearch(ctx); err != nil {
			return core.PhaseIdle, err
		}
		search = nil
	}
	pageURL, err := o.scanner.CurrentURL(ctx)
	if err != nil {
		return core.PhaseIdle, fmt.Errorf("reading current page: %w", err)
	}

	phase := DerivePhase(o.locator.ClassifyPage(pageURL), state, search)
	o.setPhase(state.SheetID, phase)

	switch phase {
	case core.PhaseLocating:
		err = o.runLocating(ctx, state, search)
	case core.PhaseExtracting:
		err = o.runExtracting(ctx, search)
	case core.PhaseAdvancing:
		err = o.runSearchFailure(ctx, search)
	}
	return phase, err
}

func (o *Orchestrator) runLocating(ctx context.Context, state *core.WorkflowState, search *core.SearchContext) error {
	if search != nil {
		if search.Status == core.SearchStatusFound {
			if _, err := o.locator.ResumeCandidate(ctx, search); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return o.failRow(ctx, failureOf(search, core.FailureProcess, err, true))
			}
			return nil
		}
		return o.locate(ctx, search)
	}

	if state.CurrentRow != nil {
		row := *state.CurrentRow
		o.logger.WithSheet(state.SheetID).WithRow(int(row)).Warn("row was interrupted before its search started, requeueing")
		key := core.RowKey{SheetID: state.SheetID, Row: row}
		if _, err := o.recovery.RecordFailure(ctx, key, core.ErrState(core.CodeInvalidState, "row processing was interrupted")); err != nil {
			return err
		}
		if err := o.queue.RequeueFront(ctx, row); err != nil {
			return err
		}
		fresh, err := o.queue.Snapshot(ctx)
		if err != nil {
			return err
		}
		state = fresh
		if !state.Active || state.IsPaused {
			return nil
		}
	}

	row, ok, err := o.queue.DequeueNext(ctx)
	if err != nil || !ok {
		return err
	}
	return o.processRow(ctx, state, row)
}

func (o *Orchestrator) processRow(ctx context.Context, state *core.WorkflowState, row core.RowID) error {
	sheet := state.SheetID
	key := core.RowKey{SheetID: sheet, Row: row}
	logger := o.logger.WithSheet(sheet).WithRow(int(row))

	if last := state.LastProcessedAt; last != nil && state.LastProcessedRow != nil &&
		*state.LastProcessedRow == row && o.now().Sub(*last) < o.cfg.Debounce {
		logger.Info("row finished moments ago, skipping")
		o.bus.Publish(events.NewRowSkippedEvent(sheet, int(row), "debounce"))
		return o.queue.Release(ctx, row)
	}

	tripped, rec, err := o.recovery.Check(ctx, key)
	if err != nil {
		return err
	}
	if tripped {
		logger.Warn("circuit breaker tripped", "attempts", rec.Attempts, "last_error", rec.LastError)
		if err := o.recovery.Clear(ctx, key); err != nil {
			return err
		}
		return o.failRow(ctx, rowFailure{
			sheet:      sheet,
			row:        row,
			recordType: o.recordTypeFor(ctx, state, row),
			label:      core.FailureMultipleFailures,
			cause:      core.ErrCircuitBreaker(row, rec.Attempts),
		})
	}

	externalID, recordType, err := o.rows.ReadRow(ctx, sheet, row, state.RecordTypeOverride)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f := rowFailure{sheet: sheet, row: row, recordType: fallbackType(state), cause: err}
		if core.IsCategory(err, core.ErrCatNotFound) {
			f.label = core.FailureNoExternalID
		} else {
			f.label = core.FailureProcess
			f.record = true
		}
		return o.failRow(ctx, f)
	}

	logger.Info("processing row", "external_id", externalID, "record_type", recordType)
	o.bus.Publish(events.NewRowStartedEvent(sheet, int(row), externalID, string(recordType)))

	search := &core.SearchContext{
		ExternalID: externalID,
		RecordType: recordType,
		RowID:      row,
		SheetID:    sheet,
		Status:     core.SearchStatusSearching,
		Attempt:    core.AttemptNotTried,
		StartedAt:  o.now(),
	}
	return o.locate(ctx, search)
}

func (o *Orchestrator) locate(ctx context.Context, search *core.SearchContext) error {
	candidate, err := o.locator.Locate(ctx, search)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if core.IsCategory(err, core.ErrCatNotFound) {
			return o.runSearchFailure(ctx, search)
		}
		return o.failRow(ctx, failureOf(search, core.FailureProcess, err, true))
	}
	o.bus.Publish(events.NewRowLocatedEvent(search.SheetID, int(search.RowID),
		candidate.CandidateID, candidateIDs(search.Candidates), false))
	return nil
}

func (o *Orchestrator) runSearchFailure(ctx context.Context, search *core.SearchContext) error {
	return o.failRow(ctx, failureOf(search, core.FailureTicketNotFound, core.ErrTicketNotFound(search.ExternalID), false))
}

func (o *Orchestrator) runExtracting(ctx context.Context, search *core.SearchContext) error {
	logger := o.logger.WithSheet(search.SheetID).WithRow(int(search.RowID))

	result, err := o.extractor.Extract(ctx, search.RecordType, search.ExternalID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.failRow(ctx, failureOf(search, core.FailureExtraction, err, true))
	}

	if !core.ValidRecordType(search.RecordType) {
		search.RecordType = result.RecordType
	}

	report := Validate(result)
	o.bus.Publish(events.NewRowExtractedEvent(search.SheetID, int(search.RowID), result.RecordID,
		eventNames(result), report.QualityScore, report.IsComplete))
	logger.Info("ticket extracted", "record_id", result.RecordID, "score", report.QualityScore,
		"complete", report.IsComplete, "warnings", report.Warnings)

	decision := Disambiguate(search, result, report)
	if decision.Kind == DecisionTryAlternate {
		MarkAlternateTried(search, result)
		if err := o.store.SaveSearch(ctx, search); err != nil {
			return err
		}
		candidate, err := o.locator.OpenAlternate(ctx, search)
		if err == nil {
			logger.Info("first candidate incomplete, trying alternate", "candidate", candidate.CandidateID)
			o.bus.Publish(events.NewRowLocatedEvent(search.SheetID, int(search.RowID),
				candidate.CandidateID, candidateIDs(search.Candidates), true))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("alternate candidate could not be opened, keeping first result", "error", err)
		decision = Decision{Kind: DecisionFinalize, Result: result}
	}

	search.Attempt = core.AttemptFinal
	return o.finalize(ctx, search, decision.Result)
}

func (o *Orchestrator) finalize(ctx context.Context, search *core.SearchContext, result *core.ExtractionResult) error {
	sheet, row := search.SheetID, search.RowID
	key := core.RowKey{SheetID: sheet, Row: row}
	logger := o.logger.WithSheet(sheet).WithRow(int(row))

	mapping, err := o.mappings.For(search.RecordType)
	if err != nil {
		return o.failRow(ctx, failureOf(search, core.FailureProcess, err, true))
	}

	o.setPhase(sheet, core.PhaseWriting)
	report := Validate(result)
	status := StatusFor(report)

	fillEscalation(mapping, search.RecordType, result)
	updates := result.FieldUpdates
	if len(updates) == 0 {
		updates = []core.FieldUpdate{{
			Column: mapping.FailureColumn(),
			Value:  fmt.Sprintf("EXTRACTED_%s_%s", result.ExternalID, o.now().Format("2006-01-02")),
		}}
	}

	outcome, werr := o.writer.WriteVerified(ctx, sheet, row, updates, search.RecordType)
	if werr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	entry := core.WriteLogEntry{Row: row, SheetID: sheet, Verified: werr == nil, At: o.now()}
	if outcome != nil {
		entry.Columns = outcome.Columns
		entry.Attempts = outcome.Attempts
	}

	if werr != nil {
		status = core.RowStatusWriteFailed
		entry.Error = werr.Error()
		logger.Error("write could not be verified", "error", werr)
		if err := o.writer.EmergencyWrite(ctx, sheet, row, search.RecordType, updates, result.RecordID); err != nil {
			logger.Error("emergency write failed", "error", err)
		}
		if _, err := o.recovery.RecordFailure(ctx, key, werr); err != nil {
			return err
		}
	} else {
		if ok, err := o.writer.VerifyPrimary(ctx, sheet, row, search.RecordType, updates); err != nil || !ok {
			logger.Warn("primary column does not show the written value", "error", err)
		}
		if err := o.recovery.Clear(ctx, key); err != nil {
			return err
		}
	}
	if err := o.store.AppendWriteLog(ctx, entry); err != nil {
		logger.Warn("failed to store write log", "error", err)
	}

	o.setPhase(sheet, core.PhaseAdvancing)
	if err := o.commitRow(ctx, row, status); err != nil {
		return err
	}
	o.appendHistory(ctx, core.HistoryEntry{
		Row:          row,
		SheetID:      sheet,
		RecordType:   search.RecordType,
		RecordID:     result.RecordID,
		ExternalID:   result.ExternalID,
		Status:       status,
		QualityScore: report.QualityScore,
		At:           o.now(),
	})

	logger.Info("row finished", "status", status, "score", report.QualityScore, "attempts", entry.Attempts)
	o.bus.PublishPriority(events.NewRowWrittenEvent(sheet, int(row), string(status), report.QualityScore, entry.Attempts))
	o.returnToList(ctx, search.RecordType)
	return nil
}

// fillEscalation uses the creation time as escalation time for types whose
// tickets are often escalated at creation without a separate activity.
func fillEscalation(mapping core.SheetMapping, recordType core.RecordType, result *core.ExtractionResult) {
	if recordType != core.RecordTypeSupport && recordType != core.RecordTypeInstallation {
		return
	}
	if result.Has(core.EventEscalation) || !result.Has(core.EventCreation) {
		return
	}
	result.Events[core.EventEscalation] = result.Events[core.EventCreation]
	result.FieldUpdates = timeline.FieldUpdates(mapping, result)
}

type rowFailure struct {
	sheet      string
	row        core.RowID
	recordType core.RecordType
	externalID string
	label      string
	cause      error
	record     bool
}

func failureOf(search *core.SearchContext, label string, cause error, record bool) rowFailure {
	return rowFailure{
		sheet:      search.SheetID,
		row:        search.RowID,
		recordType: search.RecordType,
		externalID: search.ExternalID,
		label:      label,
		cause:      cause,
		record:     record,
	}
}

// failRow labels the row, records the outcome and advances. It only returns
// durable state errors.
func (o *Orchestrator) failRow(ctx context.Context, f rowFailure) error {
	logger := o.logger.WithSheet(f.sheet).WithRow(int(f.row))
	logger.Warn("row failed", "label", f.label, "error", f.cause)

	o.setPhase(f.sheet, core.PhaseAdvancing)
	if f.record {
		if _, err := o.recovery.RecordFailure(ctx, core.RowKey{SheetID: f.sheet, Row: f.row}, f.cause); err != nil {
			return err
		}
	}
	if err := o.writer.MarkFailed(ctx, f.sheet, f.row, f.recordType, f.label); err != nil {
		logger.Error("failed to label row", "label", f.label, "error", err)
	}

	if err := o.commitRow(ctx, f.row, core.RowStatusFailed); err != nil {
		return err
	}
	reason := f.label
	if f.cause != nil {
		reason = f.cause.Error()
	}
	o.appendHistory(ctx, core.HistoryEntry{
		Row:        f.row,
		SheetID:    f.sheet,
		RecordType: f.recordType,
		ExternalID: f.externalID,
		Status:     core.RowStatusFailed,
		Reason:     reason,
		At:         o.now(),
	})

	o.bus.PublishPriority(events.NewRowFailedEvent(f.sheet, int(f.row), f.label, reason))
	o.returnToList(ctx, f.recordType)
	return nil
}

// commitRow finishes row in the workflow state, then drops its search. The
// FinishRow save is the commit point: a search left behind by a crash after
// it is discarded by the next Step instead of being processed again.
func (o *Orchestrator) commitRow(ctx context.Context, row core.RowID, status core.RowStatus) error {
	if err := o.queue.FinishRow(ctx, row, status); err != nil {
		return err
	}
	if err := o.store.DeleteSearch(ctx); err != nil {
		o.logger.Warn("failed to delete finished search", "row", int(row), "error", err)
	}
	return nil
}

func (o *Orchestrator) appendHistory(ctx context.Context, entry core.HistoryEntry) {
	if err := o.store.AppendHistory(ctx, entry); err != nil {
		o.logger.Warn("failed to store history entry", "row", int(entry.Row), "error", err)
	}
}

// returnToList navigates back to the listing page, the entry point of the
// next row. Failures are logged; the next Step re-navigates anyway.
func (o *Orchestrator) returnToList(ctx context.Context, recordType core.RecordType) {
	state, err := o.queue.Snapshot(ctx)
	if err == nil && len(state.Queue) == 0 {
		o.bus.Publish(events.NewWorkflowStateEvent(events.TypeWorkflowIdle, state.SheetID, 0))
	}

	listURL, err := o.locator.ListURL(recordType)
	if err != nil {
		return
	}
	if err := o.locator.Navigate(ctx, listURL); err != nil {
		o.logger.Warn("failed to return to list page", "url", listURL, "error", err)
	}
}

// recordTypeFor picks the record type used to label a row that is not
// going to be searched.
func (o *Orchestrator) recordTypeFor(ctx context.Context, state *core.WorkflowState, row core.RowID) core.RecordType {
	if _, t, err := o.rows.ReadRow(ctx, state.SheetID, row, state.RecordTypeOverride); err == nil {
		return t
	}
	return fallbackType(state)
}

func fallbackType(state *core.WorkflowState) core.RecordType {
	if core.ValidRecordType(state.RecordTypeOverride) {
		return state.RecordTypeOverride
	}
	return core.RecordTypeSupport
}

func candidateIDs(candidates []core.Candidate) []int64 {
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.CandidateID)
	}
	return ids
}

func eventNames(result *core.ExtractionResult) []string {
	list := result.EventList()
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, string(e.Kind))
	}
	return names
}
