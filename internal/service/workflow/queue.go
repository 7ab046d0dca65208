package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
)

// EventPublisher is the subset of events.EventBus used by the workflow.
type EventPublisher interface {
	Publish(event events.Event)
	PublishPriority(event events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event)         {}
func (nopPublisher) PublishPriority(events.Event) {}

// Queue is the row queue manager. Every mutation is a read-modify-write of
// the durable WorkflowState serialized on one mutex, so command handlers and
// the orchestrator can share it.
type Queue struct {
	mu    sync.Mutex
	store *StateStore
	bus   EventPublisher
	now   func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides the time source.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// WithQueuePublisher sets the event publisher.
func WithQueuePublisher(bus EventPublisher) QueueOption {
	return func(q *Queue) {
		if bus != nil {
			q.bus = bus
		}
	}
}

// NewQueue creates a queue manager over store.
func NewQueue(store *StateStore, opts ...QueueOption) *Queue {
	q := &Queue{
		store: store,
		bus:   nopPublisher{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Update loads the state, applies fn and persists the result.
func (q *Queue) Update(ctx context.Context, fn func(*core.WorkflowState) error) (*core.WorkflowState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, err := q.store.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := q.store.SaveState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Snapshot returns the current persisted state.
func (q *Queue) Snapshot(ctx context.Context) (*core.WorkflowState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.LoadState(ctx)
}

// Enqueue appends rows not already queued or in flight, in input order.
// It returns how many rows were added.
func (q *Queue) Enqueue(ctx context.Context, rows []core.RowID) (int, error) {
	added := 0
	state, err := q.Update(ctx, func(s *core.WorkflowState) error {
		for _, row := range rows {
			if row <= 0 || s.Contains(row) {
				continue
			}
			s.Queue = append(s.Queue, row)
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		q.bus.Publish(events.NewQueueUpdatedEvent(state.SheetID, added, len(state.Queue)))
	}
	return added, nil
}

// DequeueNext pops the oldest row and marks it in flight. ok is false when
// the queue is empty. Callers check the pause flag first.
func (q *Queue) DequeueNext(ctx context.Context) (row core.RowID, ok bool, err error) {
	_, err = q.Update(ctx, func(s *core.WorkflowState) error {
		if len(s.Queue) == 0 {
			return nil
		}
		row = s.Queue[0]
		s.Queue = s.Queue[1:]
		current := row
		s.CurrentRow = &current
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return row, ok, nil
}

// RequeueFront returns an interrupted row to the head of the queue and
// clears the in-flight marker. An inactive workflow only drops the marker.
func (q *Queue) RequeueFront(ctx context.Context, row core.RowID) error {
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		if s.CurrentRow != nil && *s.CurrentRow == row {
			s.CurrentRow = nil
		}
		if !s.Active || s.Contains(row) {
			return nil
		}
		s.Queue = append([]core.RowID{row}, s.Queue...)
		return nil
	})
	return err
}

// Release clears the in-flight marker without counting the row.
func (q *Queue) Release(ctx context.Context, row core.RowID) error {
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		if s.CurrentRow != nil && *s.CurrentRow == row {
			s.CurrentRow = nil
		}
		return nil
	})
	return err
}

// FinishRow clears the in-flight marker, stamps the debounce fields and
// folds status into the session stats.
func (q *Queue) FinishRow(ctx context.Context, row core.RowID, status core.RowStatus) error {
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		now := q.now()
		finished := row
		if s.CurrentRow != nil && *s.CurrentRow == row {
			s.CurrentRow = nil
		}
		s.LastProcessedRow = &finished
		s.LastProcessedAt = &now

		s.Stats.Processed++
		switch status {
		case core.RowStatusSuccess:
			s.Stats.Success++
		case core.RowStatusFailed, core.RowStatusWriteFailed:
			s.Stats.Failed++
		}
		return nil
	})
	return err
}

// Pause stops future dequeues. The queue is untouched.
func (q *Queue) Pause(ctx context.Context) error {
	state, err := q.Update(ctx, func(s *core.WorkflowState) error {
		s.IsPaused = true
		return nil
	})
	if err != nil {
		return err
	}
	q.bus.Publish(events.NewWorkflowStateEvent(events.TypeWorkflowPaused, state.SheetID, len(state.Queue)))
	return nil
}

// Resume re-enables dequeues.
func (q *Queue) Resume(ctx context.Context) error {
	state, err := q.Update(ctx, func(s *core.WorkflowState) error {
		s.IsPaused = false
		return nil
	})
	if err != nil {
		return err
	}
	q.bus.Publish(events.NewWorkflowStateEvent(events.TypeWorkflowResumed, state.SheetID, len(state.Queue)))
	return nil
}

// Clear empties the queue and the in-flight marker.
func (q *Queue) Clear(ctx context.Context) error {
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		s.Queue = []core.RowID{}
		s.CurrentRow = nil
		return nil
	})
	return err
}

// Activate marks the workflow active on sheet. Stats restart when the
// workflow was inactive.
func (q *Queue) Activate(ctx context.Context, sheetID string, override core.RecordType) error {
	if sheetID == "" {
		return core.ErrValidation(core.CodeNoSheet, "a sheet is required to start the workflow")
	}
	if override != "" && !core.ValidRecordType(override) {
		return core.ErrValidation(core.CodeInvalidRecordType, "invalid record type: "+string(override))
	}
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		if !s.Active {
			started := q.now()
			s.Stats = core.Stats{StartedAt: &started}
		}
		s.Active = true
		s.IsPaused = false
		s.SheetID = sheetID
		if override != "" {
			s.RecordTypeOverride = override
		}
		return nil
	})
	if err != nil {
		return err
	}
	q.bus.Publish(events.NewWorkflowStartedEvent(sheetID, string(override)))
	return nil
}

// SetSheet changes the destination sheet without touching the queue.
func (q *Queue) SetSheet(ctx context.Context, sheetID string) error {
	if sheetID == "" {
		return core.ErrValidation(core.CodeNoSheet, "sheet name is empty")
	}
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		s.SheetID = sheetID
		return nil
	})
	return err
}

// SetRecordType forces the record type used to read rows. An empty value
// restores auto-detection.
func (q *Queue) SetRecordType(ctx context.Context, t core.RecordType) error {
	if t != "" && !core.ValidRecordType(t) {
		return core.ErrValidation(core.CodeInvalidRecordType, "invalid record type: "+string(t))
	}
	_, err := q.Update(ctx, func(s *core.WorkflowState) error {
		s.RecordTypeOverride = t
		return nil
	})
	return err
}

// Stop deactivates the workflow and clears the queue. A row already in
// flight is left to finish.
func (q *Queue) Stop(ctx context.Context) error {
	state, err := q.Update(ctx, func(s *core.WorkflowState) error {
		s.Active = false
		s.IsPaused = false
		s.Queue = []core.RowID{}
		return nil
	})
	if err != nil {
		return err
	}
	q.bus.Publish(events.NewWorkflowStateEvent(events.TypeWorkflowStopped, state.SheetID, 0))
	return nil
}

// Stats summarizes the session counters.
func (q *Queue) Stats(ctx context.Context) (core.StatsSummary, error) {
	state, err := q.Snapshot(ctx)
	if err != nil {
		return core.StatsSummary{}, err
	}
	return state.Summarize(q.now()), nil
}
