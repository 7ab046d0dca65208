package events

// Event type constants for row events.
const (
	TypeRowStarted   = "row_started"
	TypeRowLocated   = "row_located"
	TypeRowExtracted = "row_extracted"
	TypeRowWritten   = "row_written"
	TypeRowFailed    = "row_failed"
	TypeRowSkipped   = "row_skipped"
)

// RowStartedEvent is emitted when a row is dequeued for processing.
type RowStartedEvent struct {
	BaseEvent
	Row        int    `json:"row"`
	ExternalID string `json:"external_id"`
	RecordType string `json:"record_type"`
}

// NewRowStartedEvent creates a new row started event.
func NewRowStartedEvent(sheetID string, row int, externalID, recordType string) RowStartedEvent {
	return RowStartedEvent{
		BaseEvent:  NewBaseEvent(TypeRowStarted, sheetID),
		Row:        row,
		ExternalID: externalID,
		RecordType: recordType,
	}
}

// RowLocatedEvent is emitted when the locator opens a candidate ticket.
type RowLocatedEvent struct {
	BaseEvent
	Row         int     `json:"row"`
	CandidateID int64   `json:"candidate_id"`
	Candidates  []int64 `json:"candidates"`
	Alternate   bool    `json:"alternate"`
}

// NewRowLocatedEvent creates a new row located event.
func NewRowLocatedEvent(sheetID string, row int, candidateID int64, candidates []int64, alternate bool) RowLocatedEvent {
	return RowLocatedEvent{
		BaseEvent:   NewBaseEvent(TypeRowLocated, sheetID),
		Row:         row,
		CandidateID: candidateID,
		Candidates:  candidates,
		Alternate:   alternate,
	}
}

// RowExtractedEvent is emitted after a detail page has been mined.
type RowExtractedEvent struct {
	BaseEvent
	Row          int      `json:"row"`
	RecordID     string   `json:"record_id"`
	Events       []string `json:"events"`
	QualityScore int      `json:"quality_score"`
	Complete     bool     `json:"complete"`
}

// NewRowExtractedEvent creates a new row extracted event.
func NewRowExtractedEvent(sheetID string, row int, recordID string, found []string, score int, complete bool) RowExtractedEvent {
	return RowExtractedEvent{
		BaseEvent:    NewBaseEvent(TypeRowExtracted, sheetID),
		Row:          row,
		RecordID:     recordID,
		Events:       found,
		QualityScore: score,
		Complete:     complete,
	}
}

// RowWrittenEvent is emitted when a row reaches a terminal write status.
type RowWrittenEvent struct {
	BaseEvent
	Row          int    `json:"row"`
	Status       string `json:"status"`
	QualityScore int    `json:"quality_score"`
	Attempts     int    `json:"attempts"`
}

// NewRowWrittenEvent creates a new row written event.
func NewRowWrittenEvent(sheetID string, row int, status string, score, attempts int) RowWrittenEvent {
	return RowWrittenEvent{
		BaseEvent:    NewBaseEvent(TypeRowWritten, sheetID),
		Row:          row,
		Status:       status,
		QualityScore: score,
		Attempts:     attempts,
	}
}

// RowFailedEvent is emitted when a row is marked with a failure label.
type RowFailedEvent struct {
	BaseEvent
	Row    int    `json:"row"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// NewRowFailedEvent creates a new row failed event.
func NewRowFailedEvent(sheetID string, row int, label, reason string) RowFailedEvent {
	return RowFailedEvent{
		BaseEvent: NewBaseEvent(TypeRowFailed, sheetID),
		Row:       row,
		Label:     label,
		Reason:    reason,
	}
}

// RowSkippedEvent is emitted when a row is skipped by the debounce guard.
type RowSkippedEvent struct {
	BaseEvent
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// NewRowSkippedEvent creates a new row skipped event.
func NewRowSkippedEvent(sheetID string, row int, reason string) RowSkippedEvent {
	return RowSkippedEvent{
		BaseEvent: NewBaseEvent(TypeRowSkipped, sheetID),
		Row:       row,
		Reason:    reason,
	}
}
