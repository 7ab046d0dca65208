package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
)

func newManual(t *testing.T) (*Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	p, err := New(context.Background(), Config{Enabled: true, Reader: reader, Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	r, err := NewRecorder(p.Meter())
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumFor(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecorder_RowEvents(t *testing.T) {
	r, reader := newManual(t)
	ctx := context.Background()

	r.Record(ctx, events.NewRowStartedEvent("Support Q1", 5, "FOB1", "SUPPORT"))
	r.Record(ctx, events.NewRowStartedEvent("Support Q1", 6, "FOB2", "SUPPORT"))
	r.Record(ctx, events.NewRowWrittenEvent("Support Q1", 5, "OK", 100, 2))
	r.Record(ctx, events.NewRowFailedEvent("Support Q1", 6, "NOT FOUND", "no ticket"))
	r.Record(ctx, events.NewRowSkippedEvent("Support Q1", 6, "debounce"))
	r.Record(ctx, events.NewRowExtractedEvent("Support Q1", 5, "4411", []string{"created"}, 75, false))

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumFor(t, data["tickettrail.rows.started"], "record_type", "SUPPORT"))
	assert.Equal(t, int64(1), sumFor(t, data["tickettrail.rows.written"], "status", "OK"))
	assert.Equal(t, int64(1), sumFor(t, data["tickettrail.rows.failed"], "label", "NOT FOUND"))
	assert.Equal(t, int64(1), sumFor(t, data["tickettrail.rows.skipped"], "sheet", "Support Q1"))

	hist, ok := data["tickettrail.write.attempts"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, int64(2), hist.DataPoints[0].Sum)

	quality, ok := data["tickettrail.extraction.quality"].(metricdata.Histogram[int64])
	require.True(t, ok)
	assert.Equal(t, int64(75), quality.DataPoints[0].Sum)
}

func TestRecorder_QueueGaugeAndCommands(t *testing.T) {
	r, reader := newManual(t)
	ctx := context.Background()

	r.Record(ctx, events.NewQueueUpdatedEvent("Support Q1", 3, 3))
	r.Record(ctx, events.NewWorkflowStateEvent(events.TypeWorkflowPaused, "Support Q1", 2))
	r.Record(ctx, control.NewCommandExecutedEvent("Support Q1", "desk-1",
		control.Command{Action: control.ActionPause}, true, "paused"))
	r.Record(ctx, events.NewLogEvent("", "info", "ignored", nil))

	data := collect(t, reader)
	gauge, ok := data["tickettrail.queue.length"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)

	assert.Equal(t, int64(1), sumFor(t, data["tickettrail.commands"], "action", "pause"))
}

func TestRecorder_Consume(t *testing.T) {
	r, reader := newManual(t)
	ch := make(chan events.Event, 2)
	ch <- events.NewRowStartedEvent("S", 1, "FOB1", "RELOCATION")
	close(ch)

	done := make(chan struct{})
	go func() {
		r.Consume(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after close")
	}

	data := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, data["tickettrail.rows.started"], "record_type", "RELOCATION"))
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)

	r, err := NewRecorder(p.Meter())
	require.NoError(t, err)
	r.Record(context.Background(), events.NewRowStartedEvent("S", 1, "FOB1", "SUPPORT"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_StdoutExport(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Config{Enabled: true, Output: &buf, Interval: time.Hour})
	require.NoError(t, err)

	r, err := NewRecorder(p.Meter())
	require.NoError(t, err)
	r.Record(context.Background(), events.NewRowStartedEvent("S", 1, "FOB1", "SUPPORT"))

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "tickettrail.rows.started")
}
