package core

import (
	"time"
)

// CurrentStateVersion is the schema version written with every WorkflowState.
const CurrentStateVersion = 1

// Stats counts row outcomes since the workflow was last activated.
type Stats struct {
	Processed int        `json:"processed"`
	Success   int        `json:"success"`
	Failed    int        `json:"failed"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// WorkflowState is the durable record of the row queue. It is the only
// workflow object that survives restarts apart from SearchContext and
// RecoveryRecord.
type WorkflowState struct {
	Version            int        `json:"version"`
	Active             bool       `json:"active"`
	SheetID            string     `json:"sheet_id,omitempty"`
	RecordTypeOverride RecordType `json:"record_type_override,omitempty"`
	Queue              []RowID    `json:"queue"`
	CurrentRow         *RowID     `json:"current_row,omitempty"`
	IsPaused           bool       `json:"is_paused"`
	LastProcessedAt    *time.Time `json:"last_processed_at,omitempty"`
	LastProcessedRow   *RowID     `json:"last_processed_row,omitempty"`
	Stats              Stats      `json:"stats"`
}

// NewWorkflowState returns an inactive, empty state.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		Version: CurrentStateVersion,
		Queue:   []RowID{},
	}
}

// Contains reports whether row is queued or currently in flight.
func (s *WorkflowState) Contains(row RowID) bool {
	if s.CurrentRow != nil && *s.CurrentRow == row {
		return true
	}
	for _, id := range s.Queue {
		if id == row {
			return true
		}
	}
	return false
}

// QueueLength returns the number of rows waiting.
func (s *WorkflowState) QueueLength() int {
	return len(s.Queue)
}

// StatsSummary is the derived view of Stats reported to operators.
type StatsSummary struct {
	Stats
	SuccessRate float64       `json:"success_rate"`
	AverageTime time.Duration `json:"average_time"`
	QueueLength int           `json:"queue_length"`
}

// Summarize derives rates from the raw counters.
func (s *WorkflowState) Summarize(now time.Time) StatsSummary {
	summary := StatsSummary{Stats: s.Stats, QueueLength: len(s.Queue)}
	if s.Stats.Processed > 0 {
		summary.SuccessRate = float64(s.Stats.Success) / float64(s.Stats.Processed) * 100
		if s.Stats.StartedAt != nil {
			summary.AverageTime = now.Sub(*s.Stats.StartedAt) / time.Duration(s.Stats.Processed)
		}
	}
	return summary
}

// RowStatus is the final classification of a processed row.
type RowStatus string

const (
	RowStatusSuccess        RowStatus = "Success"
	RowStatusPartialSuccess RowStatus = "Partial Success"
	RowStatusPartial        RowStatus = "Partial"
	RowStatusWriteFailed    RowStatus = "Write Failed"
	RowStatusFailed         RowStatus = "Failed"
)

// HistoryEntry records one finished row.
type HistoryEntry struct {
	Row          RowID      `json:"row"`
	SheetID      string     `json:"sheet_id"`
	RecordType   RecordType `json:"record_type"`
	RecordID     string     `json:"record_id,omitempty"`
	ExternalID   string     `json:"external_id,omitempty"`
	Status       RowStatus  `json:"status"`
	QualityScore int        `json:"quality_score"`
	Reason       string     `json:"reason,omitempty"`
	At           time.Time  `json:"at"`
}

// WriteLogEntry records one verified write, successful or not.
type WriteLogEntry struct {
	Row      RowID     `json:"row"`
	SheetID  string    `json:"sheet_id"`
	Columns  []string  `json:"columns"`
	Attempts int       `json:"attempts"`
	Verified bool      `json:"verified"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Retention limits for the durable logs.
const (
	MaxHistoryEntries  = 10
	MaxWriteLogEntries = 50
)
