package workflow

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// MaxFieldLength is the longest cell value accepted without a warning.
const MaxFieldLength = 1000

const (
	penaltyMissingID         = 40
	penaltyMissingCreation   = 30
	penaltyMissingEscalation = 15
	penaltyMissingResolution = 15
	bonusAllPresent          = 20
)

// Validate scores an extraction and classifies its completeness. Errors make
// a result invalid; warnings only lower its quality.
func Validate(result *core.ExtractionResult) core.ValidationReport {
	report := core.ValidationReport{
		Errors:   []string{},
		Warnings: []string{},
	}
	if result == nil {
		report.Errors = append(report.Errors, "Missing extraction result")
		return report
	}

	score := 100

	hasExternalID := strings.TrimSpace(result.ExternalID) != ""
	hasRecordID := result.HasRecordID()
	if !hasExternalID {
		report.Errors = append(report.Errors, "Missing external id")
	}
	if !hasRecordID {
		report.Errors = append(report.Errors, "Missing or invalid ticket id")
	}
	if !hasExternalID || !hasRecordID {
		score -= penaltyMissingID
	}

	hasCreation := result.Has(core.EventCreation)
	if !hasCreation {
		report.Errors = append(report.Errors, "Missing creation timestamp")
		score -= penaltyMissingCreation
	}

	hasEscalation := result.Has(core.EventEscalation)
	hasResolution := result.HasResolution()

	switch result.RecordType {
	case core.RecordTypeRelocation:
		if !hasEscalation {
			report.Warnings = append(report.Warnings, "Missing SD escalation timestamp")
		}
		if !result.Has(core.EventSecondaryEscalation) {
			report.Warnings = append(report.Warnings, "Missing ISM escalation timestamp")
		}
	default:
		if !hasEscalation {
			report.Warnings = append(report.Warnings, "Missing escalation timestamp")
		}
		if !hasResolution {
			report.Warnings = append(report.Warnings, "Missing resolution timestamp")
		}
	}

	for _, update := range result.FieldUpdates {
		if len(update.Value) > MaxFieldLength {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Value for column %s exceeds %d characters", update.Column, MaxFieldLength))
		}
	}

	if !hasEscalation {
		score -= penaltyMissingEscalation
	}
	if !hasResolution {
		score -= penaltyMissingResolution
	}
	if hasExternalID && hasRecordID && hasCreation && hasEscalation && hasResolution {
		score += bonusAllPresent
	}

	report.QualityScore = clampScore(score)
	report.IsValid = len(report.Errors) == 0
	report.IsComplete = report.IsValid && len(report.Warnings) <= 1
	return report
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// StatusFor maps a validation report to the row status written on success.
func StatusFor(report core.ValidationReport) core.RowStatus {
	switch {
	case report.IsValid && report.QualityScore >= 80:
		return core.RowStatusSuccess
	case report.IsComplete:
		return core.RowStatusPartialSuccess
	default:
		return core.RowStatusPartial
	}
}
