package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service"
)

// WriterConfig tunes the write-then-read-back loop.
type WriterConfig struct {
	MaxAttempts  int
	SettleDelay  time.Duration
	RetryDelay   time.Duration
	ClearTimeout time.Duration
}

// DefaultWriterConfig returns 5 attempts with a 1s settle delay and a
// 2s x attempt linear backoff.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MaxAttempts:  5,
		SettleDelay:  time.Second,
		RetryDelay:   2 * time.Second,
		ClearTimeout: 10 * time.Second,
	}
}

// WriteOutcome describes a confirmed write.
type WriteOutcome struct {
	Attempts int
	Columns  []string
	Marker   string
}

// VerifiedWriter writes row updates together with a marker cell and only
// reports success once the marker reads back.
type VerifiedWriter struct {
	tabular   core.TabularStore
	mappings  core.Mappings
	cfg       WriterConfig
	policy    *service.RetryPolicy
	logger    *logging.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	newMarker func() string

	pending sync.WaitGroup
}

// WriterOption configures a VerifiedWriter.
type WriterOption func(*VerifiedWriter)

// WithWriterLogger sets the logger.
func WithWriterLogger(logger *logging.Logger) WriterOption {
	return func(w *VerifiedWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWriterClock overrides the time source.
func WithWriterClock(now func() time.Time) WriterOption {
	return func(w *VerifiedWriter) {
		w.now = now
	}
}

// WithWriterSleeper replaces the settle and retry waits.
func WithWriterSleeper(sleep func(ctx context.Context, d time.Duration) error) WriterOption {
	return func(w *VerifiedWriter) {
		w.sleep = sleep
	}
}

// WithMarkerSource overrides marker generation.
func WithMarkerSource(next func() string) WriterOption {
	return func(w *VerifiedWriter) {
		w.newMarker = next
	}
}

// NewVerifiedWriter creates a writer over a tabular store.
func NewVerifiedWriter(tabular core.TabularStore, mappings core.Mappings, cfg WriterConfig, opts ...WriterOption) *VerifiedWriter {
	def := DefaultWriterConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.ClearTimeout <= 0 {
		cfg.ClearTimeout = def.ClearTimeout
	}
	if mappings == nil {
		mappings = core.DefaultMappings()
	}

	w := &VerifiedWriter{
		tabular:   tabular,
		mappings:  mappings,
		cfg:       cfg,
		logger:    logging.NewNop(),
		now:       time.Now,
		sleep:     service.Sleep,
		newMarker: func() string { return "VERIFY_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(w)
	}

	w.policy = service.VerifiedWriteRetryPolicy()
	for _, opt := range []service.RetryPolicyOption{
		service.WithMaxAttempts(cfg.MaxAttempts),
		service.WithLinearBackoff(cfg.RetryDelay),
		service.WithSleeper(w.sleep),
	} {
		opt(w.policy)
	}
	return w
}

func cellRef(column string, row core.RowID) string {
	return fmt.Sprintf("%s%d", column, row)
}

// writableUpdates drops updates to the protected id column and empty values.
func (w *VerifiedWriter) writableUpdates(mapping core.SheetMapping, row core.RowID, updates []core.FieldUpdate) []core.CellWrite {
	cells := make([]core.CellWrite, 0, len(updates))
	for _, u := range updates {
		if strings.EqualFold(u.Column, mapping.IDColumn) {
			w.logger.Warn("refusing to overwrite id column", "row", int(row), "column", u.Column)
			continue
		}
		if strings.TrimSpace(u.Value) == "" {
			continue
		}
		cells = append(cells, core.CellWrite{Range: cellRef(u.Column, row), Value: u.Value})
	}
	return cells
}

// WriteVerified writes updates to row and confirms them through the record
// type's marker column. An empty effective update set is a no-op success.
func (w *VerifiedWriter) WriteVerified(ctx context.Context, sheet string, row core.RowID, updates []core.FieldUpdate, recordType core.RecordType) (*WriteOutcome, error) {
	mapping, err := w.mappings.For(recordType)
	if err != nil {
		return nil, err
	}

	cells := w.writableUpdates(mapping, row, updates)
	outcome := &WriteOutcome{Columns: make([]string, 0, len(cells))}
	for _, c := range cells {
		outcome.Columns = append(outcome.Columns, strings.TrimRight(c.Range, "0123456789"))
	}
	if len(cells) == 0 {
		return outcome, nil
	}

	markerCell := cellRef(mapping.MarkerColumn, row)
	logger := w.logger.WithSheet(sheet).WithRow(int(row))

	err = w.policy.ExecuteWithNotify(ctx, func(ctx context.Context, attempt int) error {
		outcome.Attempts = attempt
		marker := w.newMarker()

		batch := make([]core.CellWrite, 0, len(cells)+1)
		batch = append(batch, cells...)
		batch = append(batch, core.CellWrite{Range: markerCell, Value: marker})
		if err := w.tabular.BatchWrite(ctx, sheet, batch, core.WriteUserEntered); err != nil {
			return err
		}

		if err := w.sleep(ctx, w.cfg.SettleDelay); err != nil {
			return err
		}

		got, err := w.readCell(ctx, sheet, markerCell)
		if err != nil {
			return err
		}
		if !strings.Contains(got, marker) {
			return core.ErrVerification(fmt.Sprintf("marker not found in %s", markerCell)).
				WithDetail("read_back", got)
		}
		outcome.Marker = marker
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		logger.Warn("write not confirmed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		last := err
		var exhausted *service.RetryExhaustedError
		if errors.As(err, &exhausted) {
			last = exhausted.LastErr
		}
		return outcome, core.ErrVerification(
			fmt.Sprintf("write to row %d not confirmed after %d attempts", row, outcome.Attempts)).
			WithCause(last)
	}

	logger.Debug("write verified", "attempts", outcome.Attempts, "columns", outcome.Columns)
	w.clearMarker(ctx, sheet, markerCell)
	return outcome, nil
}

// clearMarker blanks the marker cell in the background. Failures are logged.
func (w *VerifiedWriter) clearMarker(ctx context.Context, sheet, markerCell string) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ClearTimeout)
		defer cancel()
		err := w.tabular.BatchWrite(clearCtx, sheet, []core.CellWrite{{Range: markerCell, Value: ""}}, core.WriteRaw)
		if err != nil {
			w.logger.Warn("failed to clear write marker", "sheet", sheet, "cell", markerCell, "error", err)
		}
	}()
}

// Wait blocks until background marker clears have finished.
func (w *VerifiedWriter) Wait() {
	w.pending.Wait()
}

func (w *VerifiedWriter) readCell(ctx context.Context, sheet, cell string) (string, error) {
	values, err := w.tabular.GetValues(ctx, sheet, []string{cell})
	if err != nil {
		return "", err
	}
	if len(values) == 0 || len(values[0]) == 0 || len(values[0][0]) == 0 {
		return "", nil
	}
	return values[0][0][0], nil
}

// EmergencyWrite stores a single unverified breadcrumb in the first
// writable column of updates so an operator can find the row later.
func (w *VerifiedWriter) EmergencyWrite(ctx context.Context, sheet string, row core.RowID, recordType core.RecordType, updates []core.FieldUpdate, recordID string) error {
	mapping, err := w.mappings.For(recordType)
	if err != nil {
		return err
	}
	var column string
	for _, u := range updates {
		if !strings.EqualFold(u.Column, mapping.IDColumn) {
			column = u.Column
			break
		}
	}
	if column == "" {
		column = mapping.FailureColumn()
	}

	value := fmt.Sprintf("EMERGENCY_%s_%s", recordID, w.now().UTC().Format(time.RFC3339))
	if err := w.tabular.BatchWrite(ctx, sheet, []core.CellWrite{{Range: cellRef(column, row), Value: value}}, core.WriteRaw); err != nil {
		return fmt.Errorf("emergency write to %s: %w", cellRef(column, row), err)
	}
	w.logger.Warn("emergency write stored", "sheet", sheet, "row", int(row), "column", column)
	return nil
}

// MarkFailed writes a failure label to the row's ticket-id column, or its
// created column when the type has none.
func (w *VerifiedWriter) MarkFailed(ctx context.Context, sheet string, row core.RowID, recordType core.RecordType, label string) error {
	mapping, err := w.mappings.For(recordType)
	if err != nil {
		return err
	}
	cell := cellRef(mapping.FailureColumn(), row)
	if err := w.tabular.BatchWrite(ctx, sheet, []core.CellWrite{{Range: cell, Value: label}}, core.WriteUserEntered); err != nil {
		return fmt.Errorf("marking %s as %s: %w", cell, label, err)
	}
	return nil
}

// VerifyPrimary re-reads the primary column after a confirmed write and
// reports whether it holds the expected value.
func (w *VerifiedWriter) VerifyPrimary(ctx context.Context, sheet string, row core.RowID, recordType core.RecordType, updates []core.FieldUpdate) (bool, error) {
	mapping, err := w.mappings.For(recordType)
	if err != nil {
		return false, err
	}
	column := mapping.PrimaryColumn()
	var expected string
	for _, u := range updates {
		if strings.EqualFold(u.Column, column) {
			expected = u.Value
			break
		}
	}
	if expected == "" {
		return true, nil
	}

	got, err := w.readCell(ctx, sheet, cellRef(column, row))
	if err != nil {
		return false, err
	}
	prefix := expected
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}
	return strings.Contains(got, prefix), nil
}
