package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
)

// Recorder maps bus events onto instruments.
type Recorder struct {
	rowsStarted metric.Int64Counter
	rowsWritten metric.Int64Counter
	rowsFailed  metric.Int64Counter
	rowsSkipped metric.Int64Counter
	attempts    metric.Int64Histogram
	quality     metric.Int64Histogram
	queueLength metric.Int64Gauge
	commands    metric.Int64Counter
}

// NewRecorder creates the instruments on m.
func NewRecorder(m metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error
	if r.rowsStarted, err = m.Int64Counter("tickettrail.rows.started",
		metric.WithDescription("Rows dequeued for processing")); err != nil {
		return nil, err
	}
	if r.rowsWritten, err = m.Int64Counter("tickettrail.rows.written",
		metric.WithDescription("Rows that reached a terminal write status")); err != nil {
		return nil, err
	}
	if r.rowsFailed, err = m.Int64Counter("tickettrail.rows.failed",
		metric.WithDescription("Rows marked with a failure label")); err != nil {
		return nil, err
	}
	if r.rowsSkipped, err = m.Int64Counter("tickettrail.rows.skipped",
		metric.WithDescription("Rows skipped by the debounce guard")); err != nil {
		return nil, err
	}
	if r.attempts, err = m.Int64Histogram("tickettrail.write.attempts",
		metric.WithDescription("Write attempts until a row was verified"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10)); err != nil {
		return nil, err
	}
	if r.quality, err = m.Int64Histogram("tickettrail.extraction.quality",
		metric.WithDescription("Quality score of extracted timelines"),
		metric.WithExplicitBucketBoundaries(0, 25, 50, 75, 100)); err != nil {
		return nil, err
	}
	if r.queueLength, err = m.Int64Gauge("tickettrail.queue.length",
		metric.WithDescription("Rows waiting in the queue")); err != nil {
		return nil, err
	}
	if r.commands, err = m.Int64Counter("tickettrail.commands",
		metric.WithDescription("Operator commands executed")); err != nil {
		return nil, err
	}
	return &r, nil
}

// Record updates instruments for one event. Unknown events are ignored.
func (r *Recorder) Record(ctx context.Context, ev events.Event) {
	sheet := attribute.String("sheet", ev.SheetID())

	switch e := ev.(type) {
	case events.RowStartedEvent:
		r.rowsStarted.Add(ctx, 1, metric.WithAttributes(sheet, attribute.String("record_type", e.RecordType)))
	case events.RowWrittenEvent:
		r.rowsWritten.Add(ctx, 1, metric.WithAttributes(sheet, attribute.String("status", e.Status)))
		r.attempts.Record(ctx, int64(e.Attempts), metric.WithAttributes(sheet))
	case events.RowFailedEvent:
		r.rowsFailed.Add(ctx, 1, metric.WithAttributes(sheet, attribute.String("label", e.Label)))
	case events.RowSkippedEvent:
		r.rowsSkipped.Add(ctx, 1, metric.WithAttributes(sheet))
	case events.RowExtractedEvent:
		r.quality.Record(ctx, int64(e.QualityScore), metric.WithAttributes(sheet))
	case events.QueueUpdatedEvent:
		r.queueLength.Record(ctx, int64(e.QueueLength), metric.WithAttributes(sheet))
	case events.WorkflowStateEvent:
		r.queueLength.Record(ctx, int64(e.QueueLength), metric.WithAttributes(sheet))
	case control.CommandExecutedEvent:
		r.commands.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(e.Action)),
			attribute.Bool("ok", e.OK),
		))
	}
}

// Consume records events from ch until ctx is done or ch is closed.
func (r *Recorder) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Record(ctx, ev)
		}
	}
}
