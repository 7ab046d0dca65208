package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractionResult_Presence(t *testing.T) {
	ts := time.Date(2024, 3, 2, 15, 45, 0, 0, time.UTC)
	r := &ExtractionResult{
		RecordID: "9001",
		Events: map[EventKind]time.Time{
			EventCreation: ts,
			EventFinal:    ts.Add(time.Hour),
			EventEscalation: {},
		},
	}

	assert.True(t, r.HasRecordID())
	assert.True(t, r.Has(EventCreation))
	assert.False(t, r.Has(EventEscalation), "zero timestamps count as missing")
	assert.True(t, r.HasResolution())
	assert.Len(t, r.EventList(), 2)

	r.RecordID = UnknownRecordID
	assert.False(t, r.HasRecordID())

	var missing *ExtractionResult
	assert.False(t, missing.Has(EventCreation))
}
