package core

import "fmt"

// Phase is the orchestrator state derived on every entry.
type Phase string

const (
	// PhaseIdle means no workflow was ever activated.
	PhaseIdle Phase = "IDLE"

	// PhaseAwaitingInput means the workflow is active with an empty queue.
	PhaseAwaitingInput Phase = "AWAITING_INPUT"

	// PhaseLocating resolves a row's external id to a ticket.
	PhaseLocating Phase = "LOCATING"

	// PhaseExtracting mines the open ticket's history.
	PhaseExtracting Phase = "EXTRACTING"

	// PhaseWriting persists the chosen result with read-back verification.
	PhaseWriting Phase = "WRITING"

	// PhaseAdvancing finishes a row and returns to the listing page.
	PhaseAdvancing Phase = "ADVANCING"

	// PhasePaused means rows are queued but dequeues are suspended.
	PhasePaused Phase = "PAUSED"

	// PhaseStopped means the workflow was explicitly stopped.
	PhaseStopped Phase = "STOPPED"
)

// AllPhases returns every phase.
func AllPhases() []Phase {
	return []Phase{
		PhaseIdle, PhaseAwaitingInput, PhaseLocating, PhaseExtracting,
		PhaseWriting, PhaseAdvancing, PhasePaused, PhaseStopped,
	}
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	for _, known := range AllPhases() {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Busy reports whether a row is in flight in this phase.
func (p Phase) Busy() bool {
	switch p {
	case PhaseLocating, PhaseExtracting, PhaseWriting, PhaseAdvancing:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseIdle:
		return "No workflow activated"
	case PhaseAwaitingInput:
		return "Waiting for rows to process"
	case PhaseLocating:
		return "Searching the ticketing system for the row's external id"
	case PhaseExtracting:
		return "Reading the ticket timeline"
	case PhaseWriting:
		return "Writing timestamps back to the sheet"
	case PhaseAdvancing:
		return "Moving on to the next row"
	case PhasePaused:
		return "Paused by operator"
	case PhaseStopped:
		return "Stopped by operator"
	default:
		return "Unknown phase"
	}
}

// PageKind classifies the page the content scanner is on.
type PageKind string

const (
	PageListing PageKind = "listing"
	PageDetail  PageKind = "detail"
	PageOther   PageKind = "other"
)
