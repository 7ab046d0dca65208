package core

import "time"

// EventKind names a lifecycle slot mined from a ticket's activity history.
type EventKind string

const (
	EventCreation            EventKind = "creation"
	EventEscalation          EventKind = "escalation"
	EventSecondaryEscalation EventKind = "secondaryEscalation"
	EventResolution          EventKind = "resolution"
	EventFinal               EventKind = "final"
)

// UnknownRecordID marks an extraction whose ticket id could not be read.
const UnknownRecordID = "UNKNOWN"

// EventRecord is one dated lifecycle event.
type EventRecord struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// FieldUpdate is a single destination cell value, addressed by column.
type FieldUpdate struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// ExtractionResult is everything mined from one ticket detail page.
type ExtractionResult struct {
	ExternalID   string                  `json:"external_id"`
	RecordID     string                  `json:"record_id"`
	RecordType   RecordType              `json:"record_type"`
	Events       map[EventKind]time.Time `json:"events"`
	FieldUpdates []FieldUpdate           `json:"field_updates"`
	ElapsedHours *float64                `json:"elapsed_hours,omitempty"`
}

// Has reports whether an event of the given kind was found.
func (r *ExtractionResult) Has(kind EventKind) bool {
	if r == nil || r.Events == nil {
		return false
	}
	ts, ok := r.Events[kind]
	return ok && !ts.IsZero()
}

// HasRecordID reports whether the ticket id is known.
func (r *ExtractionResult) HasRecordID() bool {
	return r.RecordID != "" && r.RecordID != UnknownRecordID
}

// HasResolution reports whether a resolution or final event exists.
func (r *ExtractionResult) HasResolution() bool {
	return r.Has(EventResolution) || r.Has(EventFinal)
}

// EventList returns the found events in slot order.
func (r *ExtractionResult) EventList() []EventRecord {
	order := []EventKind{EventCreation, EventEscalation, EventSecondaryEscalation, EventResolution, EventFinal}
	out := make([]EventRecord, 0, len(order))
	for _, kind := range order {
		if r.Has(kind) {
			out = append(out, EventRecord{Kind: kind, Timestamp: r.Events[kind]})
		}
	}
	return out
}

// ValidationReport classifies the completeness of an ExtractionResult.
type ValidationReport struct {
	IsValid      bool     `json:"is_valid"`
	IsComplete   bool     `json:"is_complete"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	QualityScore int      `json:"quality_score"`
}
