package timeline

import (
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// matcher tests one activity text.
type matcher func(text string) bool

func re(expr string) matcher {
	compiled := regexp.MustCompile(`(?i)` + expr)
	return compiled.MatchString
}

func without(m matcher, excluded matcher) matcher {
	return func(text string) bool {
		return m(text) && !excluded(text)
	}
}

func res(exprs ...string) []matcher {
	out := make([]matcher, len(exprs))
	for i, e := range exprs {
		out[i] = re(e)
	}
	return out
}

// slotRule is the ordered vocabulary for one lifecycle event.
type slotRule struct {
	kind     core.EventKind
	patterns []matcher
	fallback []matcher
}

var (
	supportEscalation = slotRule{
		kind: core.EventEscalation,
		patterns: res(
			`Pipeline changed.*ISM.*Escalate to Service Delivery`,
			`Pipeline changed.*Escalate.*Service Delivery`,
			`Stage changed.*Escalate.*Service Delivery`,
			`Escalate.*Service Delivery`,
			`Pipeline changed.*CNP.*CNP-Escalation Received.*Service Delivery`,
			`Pipeline changed.*Service Delivery.*Escalate`,
			`Stage changed.*ISM-Escalate to Service Delivery`,
			`ISM.*Escalate to Service Delivery`,
			`Escalate.*Area Coo?rdinator`,
			`Service Delivery.*Area Coo?rdinator`,
		),
		fallback: res(
			`Escalate.*SD`,
			`SD.*Escalate`,
			`Escalate.*Service`,
			`Service.*Escalate`,
			`Escalate.*Delivery`,
			`Delivery.*Escalate`,
			`Escalate.*Coo?rdinator`,
			`Coo?rdinator.*Escalate`,
		),
	}

	supportResolution = slotRule{
		kind: core.EventResolution,
		patterns: res(
			`Pipeline changed.*Service Delivery.*Resolved`,
			`Pipeline changed.*Service Delivery.*ISM`,
			`Service Delivery.*Resolved`,
			`Pipeline changed.*FST-Resolved.*ISM-FST Resolved`,
			`Service Delivery.*FST-Resolved.*ISM`,
		),
	}

	supportFinal = slotRule{
		kind: core.EventFinal,
		patterns: res(
			`CSC-Resolved`,
			`Stage changed.*Resolved`,
			`Pipeline changed.*Resolved`,
		),
	}

	installationEscalation = slotRule{
		kind: core.EventEscalation,
		patterns: res(
			`Pipeline changed.*On-?Boarding.*Service Delivery`,
			`Stage changed.*On-?Boarding.*Service Delivery`,
			`On-?Boarding.*Service Delivery`,
			`Escalate to Service Delivery`,
			`Send to SD`,
		),
		fallback: res(`\bOB\b.*\bSD\b`),
	}

	installationResolution = slotRule{
		kind: core.EventResolution,
		patterns: res(
			`Pipeline changed.*Service Delivery.*CNP`,
			`Stage changed.*Service Delivery.*CNP`,
			`Service Delivery.*CNP`,
			`Escalate to CNP`,
		),
		fallback: res(`\bSD\b.*\bCNP\b`),
	}

	relocationSDEscalation = slotRule{
		kind: core.EventEscalation,
		patterns: res(
			`Pipeline changed.*On-?Boarding.*Send to SD`,
			`Stage changed.*On-?Boarding.*Send to SD`,
			`On-?Boarding - Send to SD`,
			`OB - Send to SD`,
			`SD - Escalation Received`,
			`Service Delivery.*Escalation Received`,
		),
		fallback: []matcher{without(re(`\bSD\b`), re(`\bISM\b`))},
	}

	relocationISMEscalation = slotRule{
		kind: core.EventSecondaryEscalation,
		patterns: res(
			`Pipeline changed.*\bSD\b.*\bISM\b`,
			`Pipeline changed.*Service Delivery.*\bISM\b`,
			`Stage changed.*\bSD\b.*\bISM\b`,
			`\bSD\b.*\bISM\b`,
			`Service Delivery.*\bISM\b`,
			`ISM rec(ie|ei)ved`,
			`ISM escalation`,
		),
		fallback: res(`\bISM\b`),
	}

	relocationCompletion = slotRule{
		kind: core.EventFinal,
		patterns: res(
			`Pipeline changed.*ISM.*Finish`,
			`Pipeline changed.*Finish`,
			`Stage changed.*Finish`,
			`Workflow.*COMPLETED`,
			`On-?Boarding - Closure`,
			`OB - Done by Contractor`,
			`Resolved`,
			`Closed`,
		),
	}
)

// slotsFor returns the non-creation slots a record type fills, in the order
// they are searched.
func slotsFor(t core.RecordType) []slotRule {
	switch t {
	case core.RecordTypeInstallation:
		return []slotRule{installationEscalation, installationResolution}
	case core.RecordTypeRelocation:
		return []slotRule{relocationSDEscalation, relocationISMEscalation, relocationCompletion}
	default:
		return []slotRule{supportEscalation, supportResolution, supportFinal}
	}
}

var creationActivity = re(`created|\bnew\b|submitted`)

// activityKeywords qualify a block as a timeline activity.
var activityKeywords = []string{
	"am", "pm", "pipeline", "stage", "created", "escalate",
	"resolved", "service delivery", "ism", "cnp",
}

// IsActivity reports whether text looks like a timeline entry.
func IsActivity(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) <= 5 || len(text) >= 500 {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range activityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
