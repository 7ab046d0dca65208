package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

var baseTime = time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC)

func extraction(t core.RecordType, kinds ...core.EventKind) *core.ExtractionResult {
	events := map[core.EventKind]time.Time{}
	for i, k := range kinds {
		events[k] = baseTime.Add(time.Duration(i) * time.Hour)
	}
	return &core.ExtractionResult{
		ExternalID: "FOB12345",
		RecordID:   "9001",
		RecordType: t,
		Events:     events,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		result   *core.ExtractionResult
		valid    bool
		complete bool
		score    int
		warnings []string
	}{
		{
			name:     "all events present",
			result:   extraction(core.RecordTypeSupport, core.EventCreation, core.EventEscalation, core.EventResolution),
			valid:    true,
			complete: true,
			score:    100,
		},
		{
			name:     "missing escalation only",
			result:   extraction(core.RecordTypeSupport, core.EventCreation, core.EventResolution),
			valid:    true,
			complete: true,
			score:    85,
			warnings: []string{"Missing escalation timestamp"},
		},
		{
			name:     "creation only",
			result:   extraction(core.RecordTypeSupport, core.EventCreation),
			valid:    true,
			complete: false,
			score:    70,
			warnings: []string{"Missing escalation timestamp", "Missing resolution timestamp"},
		},
		{
			name:     "final counts as resolution",
			result:   extraction(core.RecordTypeInstallation, core.EventCreation, core.EventEscalation, core.EventFinal),
			valid:    true,
			complete: true,
			score:    100,
		},
		{
			name:     "relocation with both escalations",
			result:   extraction(core.RecordTypeRelocation, core.EventCreation, core.EventEscalation, core.EventSecondaryEscalation),
			valid:    true,
			complete: true,
			score:    85,
		},
		{
			name:     "relocation missing ISM",
			result:   extraction(core.RecordTypeRelocation, core.EventCreation, core.EventEscalation),
			valid:    true,
			complete: true,
			score:    85,
			warnings: []string{"Missing ISM escalation timestamp"},
		},
		{
			name:     "missing creation",
			result:   extraction(core.RecordTypeSupport, core.EventEscalation, core.EventResolution),
			valid:    false,
			complete: false,
			score:    70,
		},
		{
			name:     "nothing found",
			result:   &core.ExtractionResult{RecordID: core.UnknownRecordID},
			valid:    false,
			complete: false,
			score:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Validate(tt.result)
			assert.Equal(t, tt.valid, report.IsValid, "errors: %v", report.Errors)
			assert.Equal(t, tt.complete, report.IsComplete)
			assert.Equal(t, tt.score, report.QualityScore)
			if tt.warnings != nil {
				assert.Equal(t, tt.warnings, report.Warnings)
			}
			assert.GreaterOrEqual(t, report.QualityScore, 0)
			assert.LessOrEqual(t, report.QualityScore, 100)
		})
	}
}

func TestValidate_MissingCreationIsAnError(t *testing.T) {
	report := Validate(extraction(core.RecordTypeSupport, core.EventEscalation, core.EventResolution))
	assert.Contains(t, report.Errors, "Missing creation timestamp")
}

func TestValidate_UnknownRecordID(t *testing.T) {
	result := extraction(core.RecordTypeSupport, core.EventCreation, core.EventEscalation, core.EventResolution)
	result.RecordID = core.UnknownRecordID

	report := Validate(result)
	assert.False(t, report.IsValid)
	assert.Contains(t, report.Errors, "Missing or invalid ticket id")
	assert.Equal(t, 60, report.QualityScore)
}

func TestValidate_LongValueWarns(t *testing.T) {
	result := extraction(core.RecordTypeSupport, core.EventCreation, core.EventEscalation, core.EventResolution)
	result.FieldUpdates = []core.FieldUpdate{{Column: "D", Value: strings.Repeat("x", MaxFieldLength+1)}}

	report := Validate(result)
	assert.True(t, report.IsValid)
	assert.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "column D")
}

func TestValidate_Nil(t *testing.T) {
	report := Validate(nil)
	assert.False(t, report.IsValid)
	assert.Equal(t, 0, report.QualityScore)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, core.RowStatusSuccess,
		StatusFor(core.ValidationReport{IsValid: true, IsComplete: true, QualityScore: 85}))
	assert.Equal(t, core.RowStatusPartialSuccess,
		StatusFor(core.ValidationReport{IsValid: true, IsComplete: true, QualityScore: 75}))
	assert.Equal(t, core.RowStatusPartial,
		StatusFor(core.ValidationReport{IsValid: true, QualityScore: 70}))
	assert.Equal(t, core.RowStatusPartial,
		StatusFor(core.ValidationReport{QualityScore: 90}))
}
