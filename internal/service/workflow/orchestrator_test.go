package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/timeline"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/testutil"
)

const sheet = "Support"

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *testutil.Clock
	kv      *testutil.MemoryStore
	tabular *testutil.MockTabularStore
	scanner *testutil.FakeScanner
	bus     *events.EventBus
	store   *StateStore
	queue   *Queue
	writer  *VerifiedWriter
	orch    *Orchestrator
	started <-chan events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   testutil.NewClock(time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)),
		kv:      testutil.NewMemoryStore(),
		tabular: testutil.NewMockTabularStore(sheet),
		scanner: testutil.NewFakeScanner(supportList),
		bus:     events.New(100),
	}
	t.Cleanup(h.bus.Close)
	h.started = h.bus.Subscribe(events.TypeRowStarted)

	h.scanner.AddPage(supportList, &testutil.FakePage{SearchSelectors: []string{`input[name="FIND"]`}})

	sleep := func(_ context.Context, d time.Duration) error {
		h.clock.Advance(d)
		return nil
	}

	h.store = NewStateStore(h.kv)
	h.queue = NewQueue(h.store, WithQueueClock(h.clock.Now), WithQueuePublisher(h.bus))
	h.writer = NewVerifiedWriter(h.tabular, nil, WriterConfig{},
		WithWriterClock(h.clock.Now), WithWriterSleeper(sleep))

	orch, err := NewOrchestrator(OrchestratorDeps{
		Store: h.store,
		Queue: h.queue,
		Locator: NewLocator(h.scanner, h.store, LocatorConfig{ListURLs: listURLs()},
			WithNavigationPolicy(service.NewRetryPolicy(service.WithMaxAttempts(1)))),
		Extractor: timeline.New(h.scanner, timeline.Config{Location: time.UTC},
			timeline.WithClock(h.clock.Now), timeline.WithSleeper(sleep)),
		Writer:    h.writer,
		Recovery:  NewRecoveryTracker(h.kv, RecoveryConfig{}, h.clock.Now),
		Rows:      NewRowReader(h.tabular, nil),
		Scanner:   h.scanner,
		Publisher: h.bus,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

// start activates the workflow on sheet and queues rows.
func (h *harness) start(rows ...int) {
	h.t.Helper()
	require.NoError(h.t, h.queue.Activate(h.ctx, sheet, ""))
	ids := make([]core.RowID, len(rows))
	for i, r := range rows {
		ids[i] = core.RowID(r)
	}
	_, err := h.queue.Enqueue(h.ctx, ids)
	require.NoError(h.t, err)
}

func (h *harness) step() core.Phase {
	h.t.Helper()
	phase, err := h.orch.Step(h.ctx)
	require.NoError(h.t, err)
	return phase
}

// drain steps until the queue is exhausted.
func (h *harness) drain() {
	h.t.Helper()
	for i := 0; i < 20; i++ {
		if h.step() == core.PhaseAwaitingInput {
			h.writer.Wait()
			return
		}
	}
	h.t.Fatal("workflow did not settle")
}

// startedIDs drains the external ids of rows picked up so far.
func (h *harness) startedIDs() []string {
	var ids []string
	for {
		select {
		case ev := <-h.started:
			ids = append(ids, ev.(events.RowStartedEvent).ExternalID)
		default:
			return ids
		}
	}
}

func (h *harness) lastHistory() core.HistoryEntry {
	h.t.Helper()
	history, err := h.store.History(h.ctx)
	require.NoError(h.t, err)
	require.NotEmpty(h.t, history)
	return history[len(history)-1]
}

func (h *harness) detailPage(id string, blocks ...core.TextBlock) {
	h.scanner.AddPage(detailBase+id+"/", &testutil.FakePage{Text: "Ticket " + id, Blocks: blocks})
}

func dateHeader(text string, y float64) core.TextBlock {
	return core.TextBlock{Kind: core.BlockText, Text: text, Y: y}
}

func activityBlock(text string, y float64) core.TextBlock {
	return core.TextBlock{Kind: core.BlockGroup, Text: text, Y: y}
}

func fullTimeline() []core.TextBlock {
	return []core.TextBlock{
		dateHeader("January 8", 100),
		activityBlock("Ticket created by Agent 9:15 am", 150),
		dateHeader("Yesterday", 300),
		activityBlock("Pipeline changed ISM → Escalate to Service Delivery 2:30 pm", 350),
		dateHeader("Today", 500),
		activityBlock("Pipeline changed Service Delivery → Resolved 4:05:30 pm", 550),
	}
}

func creationOnly() []core.TextBlock {
	return []core.TextBlock{
		dateHeader("January 8", 100),
		activityBlock("Ticket created by Agent 9:15 am", 150),
	}
}

func TestOrchestrator_CompleteFirstCandidate(t *testing.T) {
	h := newHarness(t)
	written := h.bus.Subscribe(events.TypeRowWritten)
	h.tabular.SetCell(sheet, "C150", "FOB12345")
	h.scanner.SetSearchResults("FOB12345", link("8990"), link("9001"))
	h.detailPage("9001", fullTimeline()...)
	h.detailPage("8990", creationOnly()...)
	h.start(150)

	assert.Equal(t, core.PhaseLocating, h.step())
	assert.Equal(t, core.PhaseExtracting, h.step())
	h.drain()

	assert.Equal(t, "Ticket ID: 9001", h.tabular.Cell(sheet, "D150"))
	assert.Equal(t, "01/08/2024, 09:15:00", h.tabular.Cell(sheet, "E150"))
	assert.Equal(t, "01/09/2024, 14:30:00", h.tabular.Cell(sheet, "F150"))
	assert.Equal(t, "01/10/2024, 16:05:30", h.tabular.Cell(sheet, "G150"))
	assert.Equal(t, "FOB12345", h.tabular.Cell(sheet, "C150"))
	assert.Equal(t, "", h.tabular.Cell(sheet, "Z150"))

	assert.NotContains(t, h.scanner.Navigations(), detailBase+"8990/", "alternate must not be opened")
	assert.Equal(t, []string{"FOB12345"}, h.startedIDs())

	entry := h.lastHistory()
	assert.Equal(t, core.RowStatusSuccess, entry.Status)
	assert.Equal(t, 100, entry.QualityScore)
	assert.Equal(t, "9001", entry.RecordID)

	search, err := h.store.LoadSearch(h.ctx)
	require.NoError(t, err)
	assert.Nil(t, search)

	state, err := h.queue.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Nil(t, state.CurrentRow)
	assert.Equal(t, 1, state.Stats.Success)

	logs, err := h.store.WriteLogs(h.ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Verified)
	assert.Equal(t, 1, logs[0].Attempts)

	select {
	case ev := <-written:
		assert.Equal(t, string(core.RowStatusSuccess), ev.(events.RowWrittenEvent).Status)
	default:
		t.Fatal("expected a row_written event")
	}
}

func TestOrchestrator_PartialSingleCandidate(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C151", "FOB22222")
	h.scanner.SetSearchResults("FOB22222", link("9005"))
	h.detailPage("9005", creationOnly()...)
	h.start(151)
	h.drain()

	entry := h.lastHistory()
	assert.Equal(t, core.RowStatusPartial, entry.Status)
	assert.Equal(t, 70, entry.QualityScore)

	assert.Equal(t, "Ticket ID: 9005", h.tabular.Cell(sheet, "D151"))
	assert.Equal(t, "01/08/2024, 09:15:00", h.tabular.Cell(sheet, "E151"))
	assert.Equal(t, "01/08/2024, 09:15:00", h.tabular.Cell(sheet, "F151"), "escalation falls back to creation")
	assert.Equal(t, "", h.tabular.Cell(sheet, "G151"))
}

func TestOrchestrator_BothCandidatesIncompleteKeepsFirst(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C152", "FOB33333")
	h.scanner.SetSearchResults("FOB33333", link("9008"), link("9010"))
	h.detailPage("9010", creationOnly()...)
	h.detailPage("9008")
	h.start(152)

	assert.Equal(t, core.PhaseLocating, h.step())
	assert.Equal(t, core.PhaseExtracting, h.step())

	search, err := h.store.LoadSearch(h.ctx)
	require.NoError(t, err)
	require.NotNil(t, search)
	assert.Equal(t, core.AttemptTriedAlternate, search.Attempt)
	require.NotNil(t, search.FirstAttemptResult)
	assert.Equal(t, "9010", search.FirstAttemptResult.RecordID)

	h.drain()

	assert.Contains(t, h.scanner.Navigations(), detailBase+"9008/")
	assert.Equal(t, "Ticket ID: 9010", h.tabular.Cell(sheet, "D152"))
	assert.Equal(t, "9010", h.lastHistory().RecordID)
}

func TestOrchestrator_CompleteAlternateWins(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C153", "FOB44444")
	h.scanner.SetSearchResults("FOB44444", link("9008"), link("9010"))
	h.detailPage("9010", creationOnly()...)
	h.detailPage("9008", fullTimeline()...)
	h.start(153)
	h.drain()

	assert.Equal(t, "Ticket ID: 9008", h.tabular.Cell(sheet, "D153"))
	assert.Equal(t, core.RowStatusSuccess, h.lastHistory().Status)
}

func TestOrchestrator_CircuitBreakerSkipsRow(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C150", "FOB12345")
	key := core.RowKey{SheetID: sheet, Row: 150}
	require.NoError(t, h.kv.Set(h.ctx, RecoveryKey(key), core.RecoveryRecord{
		RowKey:    key,
		Attempts:  3,
		LastError: "page crashed",
		Timestamp: h.clock.Now().Add(-10 * time.Minute),
	}))
	h.start(150)
	h.drain()

	assert.Equal(t, core.FailureMultipleFailures, h.tabular.Cell(sheet, "D150"))
	assert.Equal(t, 0, h.scanner.CallCount("SubmitSearch"))
	assert.Equal(t, 0, h.scanner.CallCount("FindCandidateLinks"))
	assert.False(t, h.kv.Has(RecoveryKey(key)), "record is cleared once the row is skipped")
	assert.Empty(t, h.startedIDs())

	entry := h.lastHistory()
	assert.Equal(t, core.RowStatusFailed, entry.Status)
}

func TestOrchestrator_TicketNotFound(t *testing.T) {
	h := newHarness(t)
	failed := h.bus.Subscribe(events.TypeRowFailed)
	h.tabular.SetCell(sheet, "C150", "FOB00000")
	h.start(150)
	h.drain()

	assert.Equal(t, core.FailureTicketNotFound, h.tabular.Cell(sheet, "D150"))
	assert.False(t, h.kv.Has(RecoveryKey(core.RowKey{SheetID: sheet, Row: 150})), "not found is not a recoverable failure")

	search, err := h.store.LoadSearch(h.ctx)
	require.NoError(t, err)
	assert.Nil(t, search)

	ev := <-failed
	assert.Equal(t, core.FailureTicketNotFound, ev.(events.RowFailedEvent).Label)
	assert.Equal(t, supportList, h.scanner.Navigations()[len(h.scanner.Navigations())-1])
}

func TestOrchestrator_NoExternalID(t *testing.T) {
	h := newHarness(t)
	h.start(150)
	h.drain()

	assert.Equal(t, core.FailureNoExternalID, h.tabular.Cell(sheet, "D150"))
	assert.Equal(t, 0, h.scanner.CallCount("SubmitSearch"))
	assert.Equal(t, core.RowStatusFailed, h.lastHistory().Status)
}

func TestOrchestrator_UnverifiedWriteFallsBackToEmergencyWrite(t *testing.T) {
	h := newHarness(t)
	h.tabular.DropWritesTo("Z")
	h.tabular.SetCell(sheet, "C150", "FOB12345")
	h.scanner.SetSearchResults("FOB12345", link("9001"))
	h.detailPage("9001", fullTimeline()...)
	h.start(150)
	h.drain()

	assert.True(t, strings.HasPrefix(h.tabular.Cell(sheet, "D150"), "EMERGENCY_9001_"))
	assert.Equal(t, core.RowStatusWriteFailed, h.lastHistory().Status)

	logs, err := h.store.WriteLogs(h.ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Verified)
	assert.Equal(t, 5, logs[0].Attempts)

	rec, err := NewRecoveryTracker(h.kv, RecoveryConfig{}, h.clock.Now).
		Load(h.ctx, core.RowKey{SheetID: sheet, Row: 150})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Attempts)

	stats, err := h.queue.Stats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestOrchestrator_DebounceSkipsJustFinishedRow(t *testing.T) {
	h := newHarness(t)
	skipped := h.bus.Subscribe(events.TypeRowSkipped)
	h.start()
	_, err := h.queue.Update(h.ctx, func(s *core.WorkflowState) error {
		row := core.RowID(150)
		at := h.clock.Now().Add(-5 * time.Second)
		s.LastProcessedRow = &row
		s.LastProcessedAt = &at
		s.Queue = []core.RowID{150}
		return nil
	})
	require.NoError(t, err)

	h.step()

	assert.Equal(t, 0, h.tabular.CallCount("GetValues"))
	state, err := h.queue.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Queue)
	assert.Nil(t, state.CurrentRow)
	assert.Equal(t, 0, state.Stats.Processed)
	assert.Equal(t, events.TypeRowSkipped, (<-skipped).EventType())
}

func TestOrchestrator_InterruptedRowIsRequeued(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C150", "FOB12345")
	h.scanner.SetSearchResults("FOB12345", link("9001"))
	h.start(151)
	_, err := h.queue.Update(h.ctx, func(s *core.WorkflowState) error {
		row := core.RowID(150)
		s.CurrentRow = &row
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, core.PhaseLocating, h.step())

	rec, err := NewRecoveryTracker(h.kv, RecoveryConfig{}, h.clock.Now).
		Load(h.ctx, core.RowKey{SheetID: sheet, Row: 150})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Attempts)

	search, err := h.store.LoadSearch(h.ctx)
	require.NoError(t, err)
	require.NotNil(t, search)
	assert.Equal(t, core.RowID(150), search.RowID)
	assert.Equal(t, core.SearchStatusFound, search.Status)

	state, err := h.queue.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RowID{151}, state.Queue)
}

func TestOrchestrator_ResumesFoundSearchAfterRestart(t *testing.T) {
	h := newHarness(t)
	h.detailPage("9001", fullTimeline()...)
	h.start()
	_, err := h.queue.Update(h.ctx, func(s *core.WorkflowState) error {
		row := core.RowID(150)
		s.CurrentRow = &row
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.store.SaveSearch(h.ctx, &core.SearchContext{
		ExternalID: "FOB12345",
		RecordType: core.RecordTypeSupport,
		RowID:      150,
		SheetID:    sheet,
		Status:     core.SearchStatusFound,
		Candidates: []core.Candidate{{CandidateID: 9001, Locator: detailBase + "9001/"}},
		Attempt:    core.AttemptNotTried,
	}))

	assert.Equal(t, core.PhaseLocating, h.step())
	assert.Equal(t, []string{detailBase + "9001/"}, h.scanner.Navigations())
	assert.Equal(t, 0, h.scanner.CallCount("SubmitSearch"))

	assert.Equal(t, core.PhaseExtracting, h.step())
	h.drain()
	assert.Equal(t, "Ticket ID: 9001", h.tabular.Cell(sheet, "D150"))
}

func TestOrchestrator_SearchLeftAfterFinishIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C150", "FOB12345")
	h.scanner.SetSearchResults("FOB12345", link("9001"))
	h.detailPage("9001", fullTimeline()...)
	h.start(150)

	assert.Equal(t, core.PhaseLocating, h.step())
	inFlight, err := h.store.LoadSearch(h.ctx)
	require.NoError(t, err)
	require.NotNil(t, inFlight)
	h.drain()

	writes := len(h.tabular.Writes())
	navigations := len(h.scanner.Navigations())

	// The row finished but its search survived, as after a crash between
	// the two saves.
	require.NoError(t, h.store.SaveSearch(h.ctx, inFlight))
	h.scanner.SetCurrentURL(detailBase + "9001/")

	assert.Equal(t, core.PhaseAwaitingInput, h.step())
	h.writer.Wait()

	search, err := h.store.LoadSearch(h.ctx)
	require.NoError(t, err)
	assert.Nil(t, search)

	state, err := h.queue.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Stats.Processed)
	assert.Equal(t, 1, state.Stats.Success)

	history, err := h.store.History(h.ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, h.tabular.Writes(), writes)
	assert.Len(t, h.scanner.Navigations(), navigations)
}

func TestOrchestrator_SearchWithoutRecordTypeUsesPage(t *testing.T) {
	h := newHarness(t)
	h.detailPage("9001", fullTimeline()...)
	h.start()
	_, err := h.queue.Update(h.ctx, func(s *core.WorkflowState) error {
		row := core.RowID(150)
		s.CurrentRow = &row
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.store.SaveSearch(h.ctx, &core.SearchContext{
		ExternalID: "FOB12345",
		RowID:      150,
		SheetID:    sheet,
		Status:     core.SearchStatusFound,
		Candidates: []core.Candidate{{CandidateID: 9001, Locator: detailBase + "9001/"}},
		Attempt:    core.AttemptNotTried,
		StartedAt:  h.clock.Now(),
	}))

	assert.Equal(t, core.PhaseLocating, h.step())
	assert.Equal(t, core.PhaseExtracting, h.step())
	h.drain()

	assert.Equal(t, "Ticket ID: 9001", h.tabular.Cell(sheet, "D150"))
	assert.Equal(t, core.RecordTypeSupport, h.lastHistory().RecordType)
}

func TestOrchestrator_StopLetsInFlightRowFinish(t *testing.T) {
	h := newHarness(t)
	h.tabular.SetCell(sheet, "C150", "FOB12345")
	h.scanner.SetSearchResults("FOB12345", link("9001"))
	h.detailPage("9001", fullTimeline()...)
	h.start(150, 151)

	assert.Equal(t, core.PhaseLocating, h.step())
	require.NoError(t, h.queue.Stop(h.ctx))

	assert.Equal(t, core.PhaseExtracting, h.step())
	assert.Equal(t, core.PhaseStopped, h.step())
	h.writer.Wait()

	assert.Equal(t, "Ticket ID: 9001", h.tabular.Cell(sheet, "D150"))
	assert.Equal(t, "", h.tabular.Cell(sheet, "D151"))
}

func TestOrchestrator_PausedDoesNotDequeue(t *testing.T) {
	h := newHarness(t)
	h.start(150)
	require.NoError(t, h.queue.Pause(h.ctx))

	assert.Equal(t, core.PhasePaused, h.step())
	assert.Equal(t, core.PhasePaused, h.orch.Phase())

	state, err := h.queue.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RowID{150}, state.Queue)
	assert.Nil(t, state.CurrentRow)
}

func TestOrchestrator_IdleBeforeActivation(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, core.PhaseIdle, h.step())
	assert.Empty(t, h.scanner.Navigations())
}

func TestNewOrchestrator_RequiresDeps(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorDeps{})
	assert.Error(t, err)
}

func TestDerivePhase(t *testing.T) {
	row := core.RowID(7)
	tests := []struct {
		name   string
		page   core.PageKind
		state  *core.WorkflowState
		search *core.SearchContext
		want   core.Phase
	}{
		{"never started", core.PageOther, core.NewWorkflowState(), nil, core.PhaseIdle},
		{"stopped", core.PageListing, &core.WorkflowState{SheetID: sheet}, nil, core.PhaseStopped},
		{"paused", core.PageListing, &core.WorkflowState{Active: true, IsPaused: true, Queue: []core.RowID{1}}, nil, core.PhasePaused},
		{"empty queue", core.PageListing, &core.WorkflowState{Active: true}, nil, core.PhaseAwaitingInput},
		{"queued", core.PageListing, &core.WorkflowState{Active: true, Queue: []core.RowID{1}}, nil, core.PhaseLocating},
		{"interrupted row", core.PageListing, &core.WorkflowState{CurrentRow: &row}, nil, core.PhaseLocating},
		{"found on detail", core.PageDetail, &core.WorkflowState{Active: true, IsPaused: true},
			&core.SearchContext{Status: core.SearchStatusFound}, core.PhaseExtracting},
		{"found on list", core.PageListing, &core.WorkflowState{Active: true},
			&core.SearchContext{Status: core.SearchStatusFound}, core.PhaseLocating},
		{"searching", core.PageListing, &core.WorkflowState{Active: true},
			&core.SearchContext{Status: core.SearchStatusSearching}, core.PhaseLocating},
		{"failed search", core.PageListing, &core.WorkflowState{},
			&core.SearchContext{Status: core.SearchStatusFailed}, core.PhaseAdvancing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePhase(tt.page, tt.state, tt.search))
		})
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	runner := NewRunner(h.orch, RunnerConfig{IdlePoll: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	runner.Wake()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
