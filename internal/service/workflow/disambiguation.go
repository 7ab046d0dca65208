package workflow

import "github.com/hugo-lorenzo-mato/tickettrail/internal/core"

// DecisionKind tells the orchestrator what to do with an extraction.
type DecisionKind int

const (
	// DecisionFinalize writes Result to the row.
	DecisionFinalize DecisionKind = iota
	// DecisionTryAlternate opens Candidate and extracts again.
	DecisionTryAlternate
)

func (k DecisionKind) String() string {
	if k == DecisionTryAlternate {
		return "try_alternate"
	}
	return "finalize"
}

// Decision is the outcome of Disambiguate.
type Decision struct {
	Kind      DecisionKind
	Result    *core.ExtractionResult
	Candidate core.Candidate
}

// Disambiguate chooses between the current extraction and the second-ranked
// candidate. At most one alternate is tried per row, and once it has been
// tried an incomplete second result falls back to the first one.
func Disambiguate(search *core.SearchContext, result *core.ExtractionResult, report core.ValidationReport) Decision {
	switch search.Attempt {
	case core.AttemptTriedAlternate:
		if report.IsComplete || search.FirstAttemptResult == nil {
			return Decision{Kind: DecisionFinalize, Result: result}
		}
		return Decision{Kind: DecisionFinalize, Result: search.FirstAttemptResult}

	case core.AttemptFinal:
		return Decision{Kind: DecisionFinalize, Result: result}

	default:
		if report.IsComplete {
			return Decision{Kind: DecisionFinalize, Result: result}
		}
		alternate, ok := search.Alternate()
		if !ok {
			return Decision{Kind: DecisionFinalize, Result: result}
		}
		return Decision{Kind: DecisionTryAlternate, Result: result, Candidate: alternate}
	}
}

// MarkAlternateTried records the first result and advances the attempt tag.
func MarkAlternateTried(search *core.SearchContext, first *core.ExtractionResult) {
	search.FirstAttemptResult = first
	search.Attempt = core.AttemptTriedAlternate
}
