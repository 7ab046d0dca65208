package events

// Event type constants for workflow events.
const (
	TypeWorkflowStarted = "workflow_started"
	TypeWorkflowPaused  = "workflow_paused"
	TypeWorkflowResumed = "workflow_resumed"
	TypeWorkflowStopped = "workflow_stopped"
	TypeWorkflowIdle    = "workflow_idle"
	TypeQueueUpdated    = "queue_updated"
	TypePhaseChanged    = "phase_changed"
)

// WorkflowStartedEvent is emitted when a workflow is activated on a sheet.
type WorkflowStartedEvent struct {
	BaseEvent
	RecordTypeOverride string `json:"record_type_override,omitempty"`
}

// NewWorkflowStartedEvent creates a new workflow started event.
func NewWorkflowStartedEvent(sheetID, override string) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		BaseEvent:          NewBaseEvent(TypeWorkflowStarted, sheetID),
		RecordTypeOverride: override,
	}
}

// WorkflowStateEvent reports a pause, resume, stop or idle transition.
type WorkflowStateEvent struct {
	BaseEvent
	QueueLength int `json:"queue_length"`
}

// NewWorkflowStateEvent creates a workflow transition event of the given type.
func NewWorkflowStateEvent(eventType, sheetID string, queueLength int) WorkflowStateEvent {
	return WorkflowStateEvent{
		BaseEvent:   NewBaseEvent(eventType, sheetID),
		QueueLength: queueLength,
	}
}

// QueueUpdatedEvent is emitted when rows are added to the queue.
type QueueUpdatedEvent struct {
	BaseEvent
	Added       int `json:"added"`
	QueueLength int `json:"queue_length"`
}

// NewQueueUpdatedEvent creates a new queue updated event.
func NewQueueUpdatedEvent(sheetID string, added, queueLength int) QueueUpdatedEvent {
	return QueueUpdatedEvent{
		BaseEvent:   NewBaseEvent(TypeQueueUpdated, sheetID),
		Added:       added,
		QueueLength: queueLength,
	}
}

// PhaseChangedEvent is emitted when the derived orchestrator phase changes.
type PhaseChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// NewPhaseChangedEvent creates a new phase changed event.
func NewPhaseChangedEvent(sheetID, from, to string) PhaseChangedEvent {
	return PhaseChangedEvent{
		BaseEvent: NewBaseEvent(TypePhaseChanged, sheetID),
		From:      from,
		To:        to,
	}
}
