package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/testutil"
)

const supportSheet = "Support Q1"

type fixture struct {
	cp      *ControlPlane
	queue   *workflow.Queue
	store   *workflow.StateStore
	tabular *testutil.MockTabularStore
	bus     *events.EventBus
	logger  *logging.Logger
	wakes   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC))
	f := &fixture{
		tabular: testutil.NewMockTabularStore(supportSheet, "Install Q1", "Relocations"),
		bus:     events.New(50),
		logger:  logging.NewNop(),
	}
	t.Cleanup(f.bus.Close)

	f.store = workflow.NewStateStore(testutil.NewMemoryStore())
	f.queue = workflow.NewQueue(f.store, workflow.WithQueueClock(clock.Now))
	f.cp = New(Deps{
		InstanceID: "desk-1",
		Queue:      f.queue,
		Store:      f.store,
		Sheets:     f.tabular,
		Rows:       workflow.NewRowReader(f.tabular, core.DefaultMappings()),
		Logger:     f.logger,
		Publisher:  f.bus,
		Wake:       func() { f.wakes++ },
		Now:        clock.Now,
	})
	return f
}

func (f *fixture) run(t *testing.T, action Action, payload string) *Result {
	t.Helper()
	res, err := f.cp.ExecuteCommand(context.Background(), Command{Action: action, Payload: payload})
	require.NoError(t, err)
	return res
}

func TestNew_GeneratesInstanceID(t *testing.T) {
	cp := New(Deps{})
	assert.Len(t, cp.InstanceID(), 36)
	assert.NotEqual(t, cp.InstanceID(), New(Deps{}).InstanceID())
}

func TestAddressed(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.cp.Addressed(""))
	assert.True(t, f.cp.Addressed("all"))
	assert.True(t, f.cp.Addressed("ALL"))
	assert.True(t, f.cp.Addressed("desk-1"))
	assert.False(t, f.cp.Addressed("desk-2"))
}

func TestExecuteCommand_IgnoresOtherTargets(t *testing.T) {
	f := newFixture(t)

	res, err := f.cp.ExecuteCommand(context.Background(), Command{Action: ActionStop, Target: "desk-2"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, 0, f.wakes)
}

func TestExecuteCommand_StartMatchesSheetFuzzily(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, ActionStart, "SupQ1")
	assert.Equal(t, "started on "+supportSheet, res.Message)
	assert.Equal(t, 1, f.wakes)

	state, err := f.queue.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, supportSheet, state.SheetID)
}

func TestExecuteCommand_StartExactMatchIgnoresCase(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, ActionStart, "install q1")
	assert.Equal(t, "started on Install Q1", res.Message)
}

func TestExecuteCommand_StartUnknownSheet(t *testing.T) {
	f := newFixture(t)

	_, err := f.cp.ExecuteCommand(context.Background(), Command{Action: ActionStart, Payload: "zzz"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestExecuteCommand_StartWithoutSheet(t *testing.T) {
	f := newFixture(t)

	_, err := f.cp.ExecuteCommand(context.Background(), Command{Action: ActionStart})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestExecuteCommand_ProcessRows(t *testing.T) {
	f := newFixture(t)
	f.tabular.SetCell(supportSheet, "C40", "FOB12345")
	f.run(t, ActionSetSheet, supportSheet)

	res := f.run(t, ActionProcessRows, "5, 12, FOB12345 MISSING1")
	assert.Equal(t, []core.RowID{5, 12, 40}, res.Rows)
	assert.Equal(t, []string{"MISSING1"}, res.NotFound)
	assert.Equal(t, "queued 3 of 3 rows; 1 ids not found", res.Message)

	state, err := f.queue.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Active, "queueing rows starts an inactive workflow")
	assert.Equal(t, []core.RowID{5, 12, 40}, state.Queue)

	res = f.run(t, ActionProcessRows, "12-13")
	assert.Equal(t, "queued 1 of 2 rows", res.Message)
}

func TestExecuteCommand_ProcessRowsNeedsSheet(t *testing.T) {
	f := newFixture(t)

	_, err := f.cp.ExecuteCommand(context.Background(), Command{Action: ActionProcessRows, Payload: "5"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestExecuteCommand_PauseResumeStopClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.run(t, ActionStart, supportSheet)
	f.run(t, ActionProcessRows, "1-3")

	f.run(t, ActionPause, "")
	state, _ := f.queue.Snapshot(ctx)
	assert.True(t, state.IsPaused)

	f.run(t, ActionResume, "")
	state, _ = f.queue.Snapshot(ctx)
	assert.False(t, state.IsPaused)

	f.run(t, ActionClear, "")
	state, _ = f.queue.Snapshot(ctx)
	assert.Empty(t, state.Queue)
	assert.True(t, state.Active)

	f.run(t, ActionProcessRows, "4")
	f.run(t, ActionStop, "")
	state, _ = f.queue.Snapshot(ctx)
	assert.False(t, state.Active)
	assert.Empty(t, state.Queue)
}

func TestExecuteCommand_SetType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.run(t, ActionSetType, "relocation")
	assert.Equal(t, "record type set to RELOCATION", res.Message)
	state, _ := f.queue.Snapshot(ctx)
	assert.Equal(t, core.RecordTypeRelocation, state.RecordTypeOverride)

	res = f.run(t, ActionSetType, "auto")
	assert.Equal(t, "record type detected per row", res.Message)
	state, _ = f.queue.Snapshot(ctx)
	assert.Empty(t, state.RecordTypeOverride)

	_, err := f.cp.ExecuteCommand(ctx, Command{Action: ActionSetType, Payload: "billing"})
	assert.Error(t, err)
}

func TestExecuteCommand_Status(t *testing.T) {
	f := newFixture(t)
	f.run(t, ActionStart, supportSheet)
	f.run(t, ActionProcessRows, "7 8")

	res := f.run(t, ActionStatus, "")
	require.NotNil(t, res.Status)
	assert.Equal(t, "desk-1", res.Status.InstanceID)
	assert.Equal(t, core.PhaseLocating, res.Status.Phase)
	assert.Equal(t, supportSheet, res.Status.SheetID)
	assert.Equal(t, []core.RowID{7, 8}, res.Status.Queue)
	assert.Equal(t, 2, res.Status.Stats.QueueLength)
}

func TestStatusReport_UsesRunnerPhase(t *testing.T) {
	f := newFixture(t)
	f.cp.phase = func() core.Phase { return core.PhaseExtracting }

	report, err := f.cp.StatusReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.PhaseExtracting, report.Phase)
}

func TestExecuteCommand_Logs(t *testing.T) {
	f := newFixture(t)
	f.run(t, ActionStart, supportSheet)
	f.run(t, ActionPause, "")

	res := f.run(t, ActionLogs, "1")
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "command executed", res.Logs[0].Message)

	_, err := f.cp.ExecuteCommand(context.Background(), Command{Action: ActionLogs, Payload: "-1"})
	assert.Error(t, err)
}

func TestExecuteCommand_UnknownAction(t *testing.T) {
	f := newFixture(t)

	_, err := f.cp.ExecuteCommand(context.Background(), Command{Action: "eval", Payload: "x"})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestExecuteCommand_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe(TypeCommandExecuted)

	f.run(t, ActionStart, supportSheet)
	_, _ = f.cp.ExecuteCommand(context.Background(), Command{Action: "bogus"})

	first := (<-ch).(CommandExecutedEvent)
	assert.Equal(t, ActionStart, first.Action)
	assert.True(t, first.OK)
	assert.Equal(t, supportSheet, first.SheetID())

	second := (<-ch).(CommandExecutedEvent)
	assert.False(t, second.OK)
	assert.Contains(t, second.Message, "unknown command")
}
