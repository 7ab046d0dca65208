// Package control is the command channel of a runner: it turns operator
// commands into queue operations and reports status.
package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
)

// Action names a command.
type Action string

const (
	ActionStart       Action = "start"
	ActionProcessRows Action = "process_rows"
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionStop        Action = "stop"
	ActionClear       Action = "clear"
	ActionSetSheet    Action = "set_sheet"
	ActionSetType     Action = "set_type"
	ActionStatus      Action = "status"
	ActionLogs        Action = "logs"
)

// TargetAll addresses every instance.
const TargetAll = "all"

// DefaultLogLines is returned by the logs command without a count.
const DefaultLogLines = 20

// Command is one operator request.
type Command struct {
	Action  Action `json:"action"`
	Payload string `json:"payload,omitempty"`
	Target  string `json:"target,omitempty"`
}

// Result is the outcome of a command. Ignored is set when the command was
// addressed to another instance.
type Result struct {
	Ignored  bool            `json:"ignored,omitempty"`
	Message  string          `json:"message,omitempty"`
	Rows     []core.RowID    `json:"rows,omitempty"`
	NotFound []string        `json:"not_found,omitempty"`
	Status   *StatusReport   `json:"status,omitempty"`
	Logs     []logging.Entry `json:"logs,omitempty"`
}

// StatusReport is the operator view of a runner.
type StatusReport struct {
	InstanceID         string              `json:"instance_id"`
	Phase              core.Phase          `json:"phase"`
	Active             bool                `json:"active"`
	Paused             bool                `json:"paused"`
	SheetID            string              `json:"sheet_id,omitempty"`
	RecordTypeOverride core.RecordType     `json:"record_type_override,omitempty"`
	CurrentRow         *core.RowID         `json:"current_row,omitempty"`
	Queue              []core.RowID        `json:"queue"`
	Stats              core.StatsSummary   `json:"stats"`
	Search             *core.SearchContext `json:"search,omitempty"`
	History            []core.HistoryEntry `json:"history,omitempty"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// SheetLister lists the sheets of the spreadsheet.
type SheetLister interface {
	ListSheets(ctx context.Context) ([]core.SheetInfo, error)
}

// RowResolver turns row input into row numbers.
type RowResolver interface {
	Resolve(ctx context.Context, sheet, text string) ([]core.RowID, []string, error)
}

// Deps holds the collaborators of a ControlPlane. Sheets, Rows and Phase
// may be nil; commands needing them then fail.
type Deps struct {
	InstanceID string
	Queue      *workflow.Queue
	Store      *workflow.StateStore
	Sheets     SheetLister
	Rows       RowResolver
	Logger     *logging.Logger
	Publisher  workflow.EventPublisher
	// Phase reports the orchestrator phase of a running instance.
	Phase func() core.Phase
	// Wake is called after commands that give the runner new work.
	Wake func()
	Now  func() time.Time
}

// ControlPlane executes commands against durable workflow state.
type ControlPlane struct {
	id     string
	queue  *workflow.Queue
	store  *workflow.StateStore
	sheets SheetLister
	rows   RowResolver
	logger *logging.Logger
	bus    workflow.EventPublisher
	phase  func() core.Phase
	wake   func()
	now    func() time.Time
}

// New creates a control plane. A random instance id is generated when
// deps.InstanceID is empty.
func New(deps Deps) *ControlPlane {
	cp := &ControlPlane{
		id:     deps.InstanceID,
		queue:  deps.Queue,
		store:  deps.Store,
		sheets: deps.Sheets,
		rows:   deps.Rows,
		logger: deps.Logger,
		bus:    deps.Publisher,
		phase:  deps.Phase,
		wake:   deps.Wake,
		now:    deps.Now,
	}
	if cp.id == "" {
		cp.id = uuid.NewString()
	}
	if cp.logger == nil {
		cp.logger = logging.NewNop()
	}
	if cp.wake == nil {
		cp.wake = func() {}
	}
	if cp.now == nil {
		cp.now = time.Now
	}
	return cp
}

// InstanceID returns the id commands are matched against.
func (cp *ControlPlane) InstanceID() string {
	return cp.id
}

// Addressed reports whether target selects this instance.
func (cp *ControlPlane) Addressed(target string) bool {
	target = strings.TrimSpace(target)
	return target == "" || strings.EqualFold(target, TargetAll) || target == cp.id
}

// ExecuteCommand runs cmd. Commands for other instances return an ignored
// result and no error.
func (cp *ControlPlane) ExecuteCommand(ctx context.Context, cmd Command) (*Result, error) {
	if !cp.Addressed(cmd.Target) {
		cp.logger.Debug("command addressed to another instance", "action", cmd.Action, "target", cmd.Target)
		return &Result{Ignored: true}, nil
	}

	res, err := cp.execute(ctx, cmd)

	sheet := ""
	if st, serr := cp.queue.Snapshot(ctx); serr == nil {
		sheet = st.SheetID
	}
	if err != nil {
		cp.logger.Warn("command failed", "action", cmd.Action, "error", err)
		cp.publish(NewCommandExecutedEvent(sheet, cp.id, cmd, false, err.Error()))
		return nil, err
	}
	if cmd.Action != ActionStatus && cmd.Action != ActionLogs {
		cp.logger.Info("command executed", "action", cmd.Action, "message", res.Message)
	}
	cp.publish(NewCommandExecutedEvent(sheet, cp.id, cmd, true, res.Message))
	return res, nil
}

func (cp *ControlPlane) execute(ctx context.Context, cmd Command) (*Result, error) {
	payload := strings.TrimSpace(cmd.Payload)

	switch Action(strings.ToLower(string(cmd.Action))) {
	case ActionStart:
		return cp.start(ctx, payload)
	case ActionProcessRows:
		return cp.processRows(ctx, payload)
	case ActionPause:
		if err := cp.queue.Pause(ctx); err != nil {
			return nil, err
		}
		return &Result{Message: "paused; the row in flight will finish"}, nil
	case ActionResume:
		if err := cp.queue.Resume(ctx); err != nil {
			return nil, err
		}
		cp.wake()
		return &Result{Message: "resumed"}, nil
	case ActionStop:
		if err := cp.queue.Stop(ctx); err != nil {
			return nil, err
		}
		return &Result{Message: "stopped; queue cleared"}, nil
	case ActionClear:
		if err := cp.queue.Clear(ctx); err != nil {
			return nil, err
		}
		return &Result{Message: "queue cleared"}, nil
	case ActionSetSheet:
		sheet, err := cp.MatchSheet(ctx, payload)
		if err != nil {
			return nil, err
		}
		if err := cp.queue.SetSheet(ctx, sheet); err != nil {
			return nil, err
		}
		return &Result{Message: "sheet set to " + sheet}, nil
	case ActionSetType:
		return cp.setType(ctx, payload)
	case ActionStatus:
		report, err := cp.StatusReport(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Status: report}, nil
	case ActionLogs:
		n := DefaultLogLines
		if payload != "" {
			parsed, err := strconv.Atoi(payload)
			if err != nil || parsed <= 0 {
				return nil, core.ErrValidation(core.CodeUnknownCommand, "logs expects a positive line count")
			}
			n = parsed
		}
		return &Result{Logs: cp.RecentLogs(n)}, nil
	}
	return nil, core.ErrValidation(core.CodeUnknownCommand, fmt.Sprintf("unknown command %q", cmd.Action))
}

func (cp *ControlPlane) start(ctx context.Context, payload string) (*Result, error) {
	sheet := ""
	if payload != "" {
		matched, err := cp.MatchSheet(ctx, payload)
		if err != nil {
			return nil, err
		}
		sheet = matched
	} else {
		state, err := cp.queue.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		sheet = state.SheetID
	}
	if err := cp.queue.Activate(ctx, sheet, ""); err != nil {
		return nil, err
	}
	cp.wake()
	return &Result{Message: "started on " + sheet}, nil
}

func (cp *ControlPlane) processRows(ctx context.Context, payload string) (*Result, error) {
	if cp.rows == nil {
		return nil, core.ErrState(core.CodeInvalidState, "row input is not available on this instance")
	}
	state, err := cp.queue.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if state.SheetID == "" {
		return nil, core.ErrValidation(core.CodeNoSheet, "select a sheet before queueing rows")
	}

	rows, notFound, err := cp.rows.Resolve(ctx, state.SheetID, payload)
	if err != nil {
		return nil, err
	}
	if !state.Active {
		if err := cp.queue.Activate(ctx, state.SheetID, ""); err != nil {
			return nil, err
		}
	}
	added, err := cp.queue.Enqueue(ctx, rows)
	if err != nil {
		return nil, err
	}
	cp.wake()

	msg := fmt.Sprintf("queued %d of %d rows", added, len(rows))
	if len(notFound) > 0 {
		msg += fmt.Sprintf("; %d ids not found", len(notFound))
	}
	return &Result{Message: msg, Rows: rows, NotFound: notFound}, nil
}

func (cp *ControlPlane) setType(ctx context.Context, payload string) (*Result, error) {
	var t core.RecordType
	if payload != "" && !strings.EqualFold(payload, "auto") {
		parsed, err := core.ParseRecordType(payload)
		if err != nil {
			return nil, err
		}
		t = parsed
	}
	if err := cp.queue.SetRecordType(ctx, t); err != nil {
		return nil, err
	}
	if t == "" {
		return &Result{Message: "record type detected per row"}, nil
	}
	return &Result{Message: "record type set to " + string(t)}, nil
}

// MatchSheet resolves a sheet name typed by an operator. An exact,
// case-insensitive title wins; otherwise the best fuzzy match is used.
func (cp *ControlPlane) MatchSheet(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", core.ErrValidation(core.CodeNoSheet, "sheet name is empty")
	}
	if cp.sheets == nil {
		return name, nil
	}
	infos, err := cp.sheets.ListSheets(ctx)
	if err != nil {
		return "", err
	}
	titles := make([]string, len(infos))
	for i, info := range infos {
		if strings.EqualFold(info.Title, name) {
			return info.Title, nil
		}
		titles[i] = info.Title
	}
	matches := fuzzy.Find(name, titles)
	if len(matches) == 0 {
		return "", core.ErrNotFound("sheet", name)
	}
	return matches[0].Str, nil
}

// StatusReport assembles the current status from durable state.
func (cp *ControlPlane) StatusReport(ctx context.Context) (*StatusReport, error) {
	state, err := cp.queue.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		InstanceID:         cp.id,
		Active:             state.Active,
		Paused:             state.IsPaused,
		SheetID:            state.SheetID,
		RecordTypeOverride: state.RecordTypeOverride,
		CurrentRow:         state.CurrentRow,
		Queue:              append([]core.RowID{}, state.Queue...),
		Stats:              state.Summarize(cp.now()),
		GeneratedAt:        cp.now(),
	}

	var search *core.SearchContext
	if cp.store != nil {
		if search, err = cp.store.LoadSearch(ctx); err != nil {
			return nil, err
		}
		report.Search = search
		if report.History, err = cp.store.History(ctx); err != nil {
			return nil, err
		}
	}

	if cp.phase != nil {
		report.Phase = cp.phase()
	} else {
		report.Phase = workflow.DerivePhase(core.PageOther, state, search)
	}
	return report, nil
}

// RecentLogs returns up to n buffered log entries, oldest first.
func (cp *ControlPlane) RecentLogs(n int) []logging.Entry {
	return cp.logger.Recent(n)
}

func (cp *ControlPlane) publish(e events.Event) {
	if cp.bus != nil {
		cp.bus.Publish(e)
	}
}
