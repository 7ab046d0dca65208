package workflow

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

func searchWith(attempt core.AttemptPhase, ids ...int64) *core.SearchContext {
	s := &core.SearchContext{ExternalID: "FOB12345", Attempt: attempt}
	for _, id := range ids {
		s.Candidates = append(s.Candidates, core.Candidate{
			CandidateID: id,
			Locator:     "https://crm.example.com/crm/type/163/details/" + strconv.FormatInt(id, 10) + "/",
		})
	}
	return s
}

func TestDisambiguate_CompleteFirstResultFinalizes(t *testing.T) {
	search := searchWith(core.AttemptNotTried, 9001, 8990)
	result := extraction(core.RecordTypeSupport, core.EventCreation, core.EventEscalation, core.EventResolution)

	d := Disambiguate(search, result, Validate(result))
	assert.Equal(t, DecisionFinalize, d.Kind)
	assert.Same(t, result, d.Result)
}

func TestDisambiguate_IncompleteWithAlternateTriesIt(t *testing.T) {
	search := searchWith(core.AttemptNotTried, 9001, 8990)
	result := extraction(core.RecordTypeSupport, core.EventCreation)

	d := Disambiguate(search, result, Validate(result))
	require.Equal(t, DecisionTryAlternate, d.Kind)
	assert.Equal(t, int64(8990), d.Candidate.CandidateID)
}

func TestDisambiguate_IncompleteSingleCandidateFinalizes(t *testing.T) {
	search := searchWith(core.AttemptNotTried, 9005)
	result := extraction(core.RecordTypeSupport, core.EventCreation)

	d := Disambiguate(search, result, Validate(result))
	assert.Equal(t, DecisionFinalize, d.Kind)
	assert.Same(t, result, d.Result)
}

func TestDisambiguate_AlternateCompleteWins(t *testing.T) {
	search := searchWith(core.AttemptNotTried, 9001, 8990)
	first := extraction(core.RecordTypeSupport, core.EventCreation)
	MarkAlternateTried(search, first)

	second := extraction(core.RecordTypeSupport, core.EventCreation, core.EventEscalation, core.EventResolution)
	second.RecordID = "8990"

	d := Disambiguate(search, second, Validate(second))
	assert.Equal(t, DecisionFinalize, d.Kind)
	assert.Equal(t, "8990", d.Result.RecordID)
}

func TestDisambiguate_BothIncompleteUsesFirst(t *testing.T) {
	search := searchWith(core.AttemptNotTried, 9001, 8990)
	first := extraction(core.RecordTypeSupport, core.EventCreation)
	MarkAlternateTried(search, first)
	assert.Equal(t, core.AttemptTriedAlternate, search.Attempt)

	second := extraction(core.RecordTypeSupport)
	second.RecordID = "8990"

	d := Disambiguate(search, second, Validate(second))
	assert.Equal(t, DecisionFinalize, d.Kind)
	assert.Equal(t, "9001", d.Result.RecordID)
}

func TestDisambiguate_FinalAttemptNeverTriesAgain(t *testing.T) {
	search := searchWith(core.AttemptFinal, 9001, 8990)
	result := extraction(core.RecordTypeSupport)

	d := Disambiguate(search, result, Validate(result))
	assert.Equal(t, DecisionFinalize, d.Kind)
	assert.Same(t, result, d.Result)
}

func TestDecisionKind_String(t *testing.T) {
	assert.Equal(t, "finalize", DecisionFinalize.String())
	assert.Equal(t, "try_alternate", DecisionTryAlternate.String())
}
