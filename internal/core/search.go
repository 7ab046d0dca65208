package core

import (
	"regexp"
	"sort"
	"strconv"
	"time"
)

// SearchStatus tracks a search across navigation boundaries.
type SearchStatus string

const (
	SearchStatusSearching SearchStatus = "searching"
	SearchStatusOnList    SearchStatus = "on_list"
	SearchStatusFound     SearchStatus = "found"
	SearchStatusFailed    SearchStatus = "failed"
)

// AttemptPhase is the candidate disambiguation state. At most one alternate
// candidate is tried per row.
type AttemptPhase string

const (
	AttemptNotTried       AttemptPhase = "not_tried"
	AttemptTriedAlternate AttemptPhase = "tried_alternate"
	AttemptFinal          AttemptPhase = "final"
)

// Candidate is a ticket that plausibly matches an external id.
type Candidate struct {
	CandidateID int64  `json:"candidate_id"`
	Locator     string `json:"locator"`
}

// SearchContext lives for one row's locate → extract → write cycle.
type SearchContext struct {
	ExternalID         string            `json:"external_id"`
	RecordType         RecordType        `json:"record_type"`
	RowID              RowID             `json:"row_id"`
	SheetID            string            `json:"sheet_id"`
	Status             SearchStatus      `json:"status"`
	Candidates         []Candidate       `json:"candidates,omitempty"`
	Attempt            AttemptPhase      `json:"attempt"`
	FirstAttemptResult *ExtractionResult `json:"first_attempt_result,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
}

// TriedAlternate reports whether the second-ranked candidate was opened.
func (s *SearchContext) TriedAlternate() bool {
	return s.Attempt == AttemptTriedAlternate
}

// ActiveCandidate returns the candidate the current attempt targets.
func (s *SearchContext) ActiveCandidate() (Candidate, bool) {
	idx := 0
	if s.Attempt == AttemptTriedAlternate {
		idx = 1
	}
	if idx >= len(s.Candidates) {
		return Candidate{}, false
	}
	return s.Candidates[idx], true
}

// Alternate returns the second-ranked candidate, if any.
func (s *SearchContext) Alternate() (Candidate, bool) {
	if len(s.Candidates) < 2 {
		return Candidate{}, false
	}
	return s.Candidates[1], true
}

var detailIDPattern = regexp.MustCompile(`details/(\d+)`)

// CandidateIDFromLocator parses the numeric ticket id out of a detail link.
func CandidateIDFromLocator(locator string) (int64, bool) {
	m := detailIDPattern.FindStringSubmatch(locator)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// RankCandidates turns links into candidates ordered by id descending.
// Links without a detail id are dropped and duplicate ids collapse into
// the first occurrence.
func RankCandidates(links []CandidateLink) []Candidate {
	seen := make(map[int64]bool, len(links))
	out := make([]Candidate, 0, len(links))
	for _, link := range links {
		id, ok := CandidateIDFromLocator(link.Href)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Candidate{CandidateID: id, Locator: link.Href})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CandidateID > out[j].CandidateID
	})
	return out
}
