package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankCandidates_SortsDescendingAndDedupes(t *testing.T) {
	links := []CandidateLink{
		{Href: "https://crm.example.com/crm/type/163/details/8990/"},
		{Href: "/crm/type/163/list/"},
		{Href: "https://crm.example.com/crm/type/163/details/9001/"},
		{Href: "https://crm.example.com/crm/type/163/details/8990/?tab=history"},
	}

	got := RankCandidates(links)

	assert.Equal(t, []Candidate{
		{CandidateID: 9001, Locator: "https://crm.example.com/crm/type/163/details/9001/"},
		{CandidateID: 8990, Locator: "https://crm.example.com/crm/type/163/details/8990/"},
	}, got)
}

func TestRankCandidates_Empty(t *testing.T) {
	assert.Empty(t, RankCandidates(nil))
}

func TestCandidateIDFromLocator(t *testing.T) {
	id, ok := CandidateIDFromLocator("/details/42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = CandidateIDFromLocator("/list/")
	assert.False(t, ok)
}

func TestSearchContext_Candidates(t *testing.T) {
	sc := &SearchContext{
		Attempt:    AttemptNotTried,
		Candidates: []Candidate{{CandidateID: 9001}, {CandidateID: 8990}},
	}

	active, ok := sc.ActiveCandidate()
	assert.True(t, ok)
	assert.Equal(t, int64(9001), active.CandidateID)

	sc.Attempt = AttemptTriedAlternate
	active, ok = sc.ActiveCandidate()
	assert.True(t, ok)
	assert.Equal(t, int64(8990), active.CandidateID)
	assert.True(t, sc.TriedAlternate())

	single := &SearchContext{Candidates: []Candidate{{CandidateID: 9005}}}
	_, ok = single.Alternate()
	assert.False(t, ok)
}
