package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordType(t *testing.T) {
	rt, err := ParseRecordType(" support ")
	require.NoError(t, err)
	assert.Equal(t, RecordTypeSupport, rt)

	_, err = ParseRecordType("BILLING")
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))
}

func TestDefaultMappings_MarkerColumnsDistinct(t *testing.T) {
	mappings := DefaultMappings()
	seen := map[string]RecordType{}
	for _, rt := range AllRecordTypes() {
		m, err := mappings.For(rt)
		require.NoError(t, err)
		require.NotEmpty(t, m.MarkerColumn)
		if other, dup := seen[m.MarkerColumn]; dup {
			t.Fatalf("marker column %s shared by %s and %s", m.MarkerColumn, other, rt)
		}
		seen[m.MarkerColumn] = rt
		assert.NotEqual(t, m.IDColumn, m.MarkerColumn)
	}
}

func TestSheetMapping_FailureColumn(t *testing.T) {
	mappings := DefaultMappings()
	assert.Equal(t, "D", mappings[RecordTypeSupport].FailureColumn())
	assert.Equal(t, "L", mappings[RecordTypeInstallation].FailureColumn())
	assert.Equal(t, "T", mappings[RecordTypeRelocation].FailureColumn())
}

func TestMappings_ForUnknown(t *testing.T) {
	_, err := DefaultMappings().For(RecordType("OTHER"))
	require.Error(t, err)
}
