package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/testutil"
)

func TestParseRowInput(t *testing.T) {
	tests := []struct {
		input string
		rows  []core.RowID
		ids   []string
	}{
		{input: "150", rows: rows(150)},
		{input: "150, 152;151", rows: rows(150, 152, 151)},
		{input: "150-153", rows: rows(150, 151, 152, 153)},
		{input: "150 - 152", rows: rows(150, 151, 152)},
		{input: "150 to 152", rows: rows(150, 151, 152)},
		{input: "152-150", rows: rows(150, 151, 152)},
		{input: "150 150 150-151", rows: rows(150, 151)},
		{input: "FOB12345", ids: []string{"FOB12345"}},
		{input: "12, FOB12345 FOB999 FOB12345", rows: rows(12), ids: []string{"FOB12345", "FOB999"}},
		{input: "0 -3 7", rows: rows(1, 2, 3, 7)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			in, err := ParseRowInput(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.rows, in.Rows)
			assert.Equal(t, tt.ids, in.ExternalIDs)
		})
	}
}

func TestParseRowInput_Errors(t *testing.T) {
	for _, input := range []string{"", "   ", ", ;", "1-5000"} {
		_, err := ParseRowInput(input)
		assert.True(t, core.IsCategory(err, core.ErrCatValidation), "input %q", input)
	}
}

func TestMatchesExternalID(t *testing.T) {
	assert.True(t, MatchesExternalID("FOB12345", "fob-12345"))
	assert.True(t, MatchesExternalID("Service FOB12345 (renewal)", "FOB12345"))
	assert.True(t, MatchesExternalID("AB12", "ab12"))
	assert.False(t, MatchesExternalID("XAB12", "AB12"), "short ids must match exactly")
	assert.False(t, MatchesExternalID("", "FOB12345"))
	assert.False(t, MatchesExternalID("FOB1", "FOB12345"))
}

func TestRowReader_ReadRow(t *testing.T) {
	ctx := context.Background()
	tabular := testutil.NewMockTabularStore("Support")
	tabular.SetCell("Support", "C150", " FOB12345 ")
	tabular.SetCell("Support", "K151", "INST-77")
	tabular.SetCell("Support", "C152", "SUP-1")
	tabular.SetCell("Support", "S152", "REL-1")
	reader := NewRowReader(tabular, nil)

	id, typ, err := reader.ReadRow(ctx, "Support", 150, "")
	require.NoError(t, err)
	assert.Equal(t, "FOB12345", id)
	assert.Equal(t, core.RecordTypeSupport, typ)

	id, typ, err = reader.ReadRow(ctx, "Support", 151, "")
	require.NoError(t, err)
	assert.Equal(t, "INST-77", id)
	assert.Equal(t, core.RecordTypeInstallation, typ)

	id, typ, err = reader.ReadRow(ctx, "Support", 152, core.RecordTypeRelocation)
	require.NoError(t, err)
	assert.Equal(t, "REL-1", id)
	assert.Equal(t, core.RecordTypeRelocation, typ)

	_, _, err = reader.ReadRow(ctx, "Support", 153, "")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestRowReader_ReadRowOverrideForcesType(t *testing.T) {
	ctx := context.Background()
	tabular := testutil.NewMockTabularStore("Support")
	tabular.SetCell("Support", "C7", "FOB1")
	reader := NewRowReader(tabular, nil)

	id, typ, err := reader.ReadRow(ctx, "Support", 7, core.RecordTypeInstallation)
	require.NoError(t, err)
	assert.Equal(t, "FOB1", id)
	assert.Equal(t, core.RecordTypeInstallation, typ)

	_, _, err = reader.ReadRow(ctx, "Support", 8, core.RecordTypeInstallation)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestRowReader_Resolve(t *testing.T) {
	ctx := context.Background()
	tabular := testutil.NewMockTabularStore("Support")
	tabular.SetCell("Support", "C1", "Service ID")
	tabular.SetCell("Support", "C40", "FOB12345")
	tabular.SetCell("Support", "K12", "INST-7788")
	reader := NewRowReader(tabular, nil)

	rows, notFound, err := reader.Resolve(ctx, "Support", "5, inst7788 FOB12345 MISSING1")
	require.NoError(t, err)
	assert.Equal(t, []core.RowID{5, 12, 40}, rows)
	assert.Equal(t, []string{"MISSING1"}, notFound)
}

func TestRowReader_ResolveDeduplicatesExplicitRows(t *testing.T) {
	ctx := context.Background()
	tabular := testutil.NewMockTabularStore("Support")
	tabular.SetCell("Support", "C40", "FOB12345")
	reader := NewRowReader(tabular, nil)

	rows, notFound, err := reader.Resolve(ctx, "Support", "40 FOB12345")
	require.NoError(t, err)
	assert.Equal(t, []core.RowID{40}, rows)
	assert.Empty(t, notFound)
}
