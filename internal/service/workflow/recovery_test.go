package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/testutil"
)

func TestRecoveryTracker_TripsAtThreshold(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC))
	tracker := NewRecoveryTracker(testutil.NewMemoryStore(), RecoveryConfig{}, clock.Now)
	key := core.RowKey{SheetID: "Support", Row: 150}

	for i := 1; i <= 3; i++ {
		tripped, _, err := tracker.Check(ctx, key)
		require.NoError(t, err)
		assert.False(t, tripped, "attempt %d", i)

		rec, err := tracker.RecordFailure(ctx, key, errors.New("page crashed"))
		require.NoError(t, err)
		assert.Equal(t, i, rec.Attempts)
		clock.Advance(time.Minute)
	}

	tripped, rec, err := tracker.Check(ctx, key)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, "page crashed", rec.LastError)
}

func TestRecoveryTracker_StaleRecordResets(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC))
	tracker := NewRecoveryTracker(testutil.NewMemoryStore(), RecoveryConfig{}, clock.Now)
	key := core.RowKey{SheetID: "Support", Row: 150}

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordFailure(ctx, key, nil)
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Hour)

	tripped, _, err := tracker.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, tripped, "records older than the window do not trip")

	rec, err := tracker.RecordFailure(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
}

func TestRecoveryTracker_ClearAndRecords(t *testing.T) {
	ctx := context.Background()
	kv := testutil.NewMemoryStore()
	tracker := NewRecoveryTracker(kv, RecoveryConfig{Threshold: 2, Window: time.Minute}, nil)
	a := core.RowKey{SheetID: "Support", Row: 1}
	b := core.RowKey{SheetID: "Install", Row: 2}

	_, err := tracker.RecordFailure(ctx, a, nil)
	require.NoError(t, err)
	_, err = tracker.RecordFailure(ctx, b, nil)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, KeyWorkflowState, core.NewWorkflowState()))

	records, err := tracker.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, tracker.Clear(ctx, a))
	assert.False(t, kv.Has(RecoveryKey(a)))
	assert.True(t, kv.Has(RecoveryKey(b)))
}

func TestRecoveryKey(t *testing.T) {
	assert.Equal(t, "recovery/Support/150", RecoveryKey(core.RowKey{SheetID: "Support", Row: 150}))
}
