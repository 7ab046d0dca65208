package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// RecoveryConfig bounds automatic retries of a failing row.
type RecoveryConfig struct {
	Threshold int
	Window    time.Duration
}

// DefaultRecoveryConfig trips after 3 failures within an hour.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Threshold: 3,
		Window:    time.Hour,
	}
}

// RecoveryTracker is the per-row failure counter and circuit breaker.
type RecoveryTracker struct {
	kv  core.KVStore
	cfg RecoveryConfig
	now func() time.Time
}

// NewRecoveryTracker creates a tracker. A nil now uses time.Now.
func NewRecoveryTracker(kv core.KVStore, cfg RecoveryConfig, now func() time.Time) *RecoveryTracker {
	def := DefaultRecoveryConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if now == nil {
		now = time.Now
	}
	return &RecoveryTracker{kv: kv, cfg: cfg, now: now}
}

// RecoveryKey is the durable key of a row's recovery record.
func RecoveryKey(key core.RowKey) string {
	return recoveryPrefix + key.String()
}

// Load returns the record for key, or nil.
func (t *RecoveryTracker) Load(ctx context.Context, key core.RowKey) (*core.RecoveryRecord, error) {
	var rec core.RecoveryRecord
	found, err := t.kv.Get(ctx, RecoveryKey(key), &rec)
	if err != nil {
		return nil, fmt.Errorf("loading recovery record %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// Check reports whether the breaker is tripped for key: a recent record
// with at least Threshold attempts.
func (t *RecoveryTracker) Check(ctx context.Context, key core.RowKey) (bool, *core.RecoveryRecord, error) {
	rec, err := t.Load(ctx, key)
	if err != nil || rec == nil {
		return false, rec, err
	}
	tripped := rec.Within(t.now(), t.cfg.Window) && rec.Attempts >= t.cfg.Threshold
	return tripped, rec, nil
}

// RecordFailure counts a failure for key. A stale record restarts at 1.
func (t *RecoveryTracker) RecordFailure(ctx context.Context, key core.RowKey, cause error) (*core.RecoveryRecord, error) {
	now := t.now()
	rec, err := t.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Within(now, t.cfg.Window) {
		rec = &core.RecoveryRecord{RowKey: key}
	}
	rec.Attempts++
	rec.Timestamp = now
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if err := t.kv.Set(ctx, RecoveryKey(key), rec); err != nil {
		return nil, fmt.Errorf("saving recovery record %s: %w", key, err)
	}
	return rec, nil
}

// Clear removes the record for key.
func (t *RecoveryTracker) Clear(ctx context.Context, key core.RowKey) error {
	return t.kv.Delete(ctx, RecoveryKey(key))
}

// Records lists every stored recovery record.
func (t *RecoveryTracker) Records(ctx context.Context) ([]core.RecoveryRecord, error) {
	keys, err := t.kv.Keys(ctx, recoveryPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]core.RecoveryRecord, 0, len(keys))
	for _, k := range keys {
		var rec core.RecoveryRecord
		found, err := t.kv.Get(ctx, k, &rec)
		if err != nil {
			return nil, err
		}
		if found && strings.HasPrefix(k, recoveryPrefix) {
			out = append(out, rec)
		}
	}
	return out, nil
}
