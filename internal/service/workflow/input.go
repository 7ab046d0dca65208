package workflow

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// MaxRangeRows caps how many rows a single "a-b" range may expand to.
const MaxRangeRows = 1000

var (
	rangeJoiner  = regexp.MustCompile(`(?i)(\d+)\s*(?:-|to)\s*(\d+)`)
	tokenSplit   = regexp.MustCompile(`[,;\s]+`)
	rangePattern = regexp.MustCompile(`^(\d+)-(\d+)$`)
)

// RowInput is parsed operator input: explicit rows and external ids to look up.
type RowInput struct {
	Rows        []core.RowID
	ExternalIDs []string
}

// Empty reports whether nothing was parsed.
func (in RowInput) Empty() bool {
	return len(in.Rows) == 0 && len(in.ExternalIDs) == 0
}

// ParseRowInput splits free text into rows and external ids. Tokens are
// separated by commas, semicolons or whitespace; "150-160" and "150 to 160"
// expand to ranges; positive integers are rows; anything else is an id.
func ParseRowInput(text string) (RowInput, error) {
	var in RowInput
	seenRows := map[core.RowID]bool{}
	seenIDs := map[string]bool{}

	addRow := func(r core.RowID) {
		if !seenRows[r] {
			seenRows[r] = true
			in.Rows = append(in.Rows, r)
		}
	}

	normalized := rangeJoiner.ReplaceAllString(text, "$1-$2")
	for _, token := range tokenSplit.Split(normalized, -1) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if m := rangePattern.FindStringSubmatch(token); m != nil {
			start, _ := strconv.Atoi(m[1])
			end, _ := strconv.Atoi(m[2])
			if start > end {
				start, end = end, start
			}
			if start <= 0 {
				start = 1
			}
			if end-start+1 > MaxRangeRows {
				return RowInput{}, core.ErrValidation(core.CodeInvalidRowInput,
					fmt.Sprintf("range %s spans more than %d rows", token, MaxRangeRows))
			}
			for r := start; r <= end; r++ {
				addRow(core.RowID(r))
			}
			continue
		}

		if n, err := strconv.Atoi(token); err == nil && n > 0 {
			addRow(core.RowID(n))
			continue
		}

		if !seenIDs[token] {
			seenIDs[token] = true
			in.ExternalIDs = append(in.ExternalIDs, token)
		}
	}

	if in.Empty() {
		return RowInput{}, core.ErrValidation(core.CodeInvalidRowInput, "no rows or ids in input")
	}
	return in, nil
}

// NormalizeExternalID keeps lowercase letters and digits only.
func NormalizeExternalID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchesExternalID compares normalized values: equal, or containment for
// ids longer than 4 characters.
func MatchesExternalID(cell, id string) bool {
	c, n := NormalizeExternalID(cell), NormalizeExternalID(id)
	if c == "" || n == "" {
		return false
	}
	if c == n {
		return true
	}
	return len(n) > 4 && strings.Contains(c, n)
}

// Resolution is the outcome of an external id lookup.
type Resolution struct {
	Rows     []core.RowID
	NotFound []string
}

// RowReader reads row identity from the tabular store.
type RowReader struct {
	tabular  core.TabularStore
	mappings core.Mappings
}

// NewRowReader creates a row reader.
func NewRowReader(tabular core.TabularStore, mappings core.Mappings) *RowReader {
	if mappings == nil {
		mappings = core.DefaultMappings()
	}
	return &RowReader{tabular: tabular, mappings: mappings}
}

// preference returns the id-column order to try for a row.
func preference(override core.RecordType) []core.RecordType {
	switch override {
	case core.RecordTypeInstallation:
		return []core.RecordType{core.RecordTypeInstallation, core.RecordTypeSupport, core.RecordTypeRelocation}
	case core.RecordTypeRelocation:
		return []core.RecordType{core.RecordTypeRelocation, core.RecordTypeSupport, core.RecordTypeInstallation}
	default:
		return []core.RecordType{core.RecordTypeSupport, core.RecordTypeInstallation, core.RecordTypeRelocation}
	}
}

// ReadRow returns the row's external id and its record type: override when
// set, else the type whose id column held the id. The override's id column
// is read first. Rows with no id anywhere yield ErrNoExternalID.
func (r *RowReader) ReadRow(ctx context.Context, sheet string, row core.RowID, override core.RecordType) (string, core.RecordType, error) {
	order := preference(override)
	ranges := make([]string, 0, len(order))
	for _, t := range order {
		mapping, err := r.mappings.For(t)
		if err != nil {
			return "", "", err
		}
		ranges = append(ranges, cellRef(mapping.IDColumn, row))
	}

	values, err := r.tabular.GetValues(ctx, sheet, ranges)
	if err != nil {
		return "", "", fmt.Errorf("reading row %d: %w", row, err)
	}
	for i, t := range order {
		if i >= len(values) || len(values[i]) == 0 || len(values[i][0]) == 0 {
			continue
		}
		if id := strings.TrimSpace(values[i][0][0]); id != "" {
			if core.ValidRecordType(override) {
				return id, override, nil
			}
			return id, t, nil
		}
	}
	return "", "", core.ErrNoExternalID(row)
}

// ResolveExternalIDs finds the rows holding ids by scanning every id column,
// support first, then installation, then relocation. Rows come back sorted
// and de-duplicated; ids without a match are listed in NotFound.
func (r *RowReader) ResolveExternalIDs(ctx context.Context, sheet string, ids []string) (*Resolution, error) {
	res := &Resolution{}
	if len(ids) == 0 {
		return res, nil
	}

	order := preference("")
	ranges := make([]string, 0, len(order))
	for _, t := range order {
		mapping, err := r.mappings.For(t)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, mapping.IDColumn+":"+mapping.IDColumn)
	}

	columns, err := r.tabular.GetValues(ctx, sheet, ranges)
	if err != nil {
		return nil, fmt.Errorf("reading id columns: %w", err)
	}

	seen := map[core.RowID]bool{}
	for _, id := range ids {
		row, ok := findRow(columns, id)
		if !ok {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		if !seen[row] {
			seen[row] = true
			res.Rows = append(res.Rows, row)
		}
	}
	sort.Slice(res.Rows, func(i, j int) bool { return res.Rows[i] < res.Rows[j] })
	return res, nil
}

func findRow(columns [][][]string, id string) (core.RowID, bool) {
	for _, column := range columns {
		for i, cells := range column {
			if len(cells) == 0 {
				continue
			}
			if MatchesExternalID(cells[0], id) {
				return core.RowID(i + 1), true
			}
		}
	}
	return 0, false
}

// Resolve parses text and turns it into rows: explicit rows first in input
// order, then the rows of any external ids.
func (r *RowReader) Resolve(ctx context.Context, sheet, text string) ([]core.RowID, []string, error) {
	in, err := ParseRowInput(text)
	if err != nil {
		return nil, nil, err
	}
	rows := append([]core.RowID(nil), in.Rows...)
	if len(in.ExternalIDs) == 0 {
		return rows, nil, nil
	}

	res, err := r.ResolveExternalIDs(ctx, sheet, in.ExternalIDs)
	if err != nil {
		return nil, nil, err
	}
	seen := map[core.RowID]bool{}
	for _, row := range rows {
		seen[row] = true
	}
	for _, row := range res.Rows {
		if !seen[row] {
			seen[row] = true
			rows = append(rows, row)
		}
	}
	return rows, res.NotFound, nil
}
