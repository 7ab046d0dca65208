package core

import (
	"fmt"
	"time"
)

// RowKey identifies a row across sheets.
type RowKey struct {
	SheetID string `json:"sheet_id"`
	Row     RowID  `json:"row"`
}

// String renders the key as used in durable store keys.
func (k RowKey) String() string {
	return fmt.Sprintf("%s/%d", k.SheetID, k.Row)
}

// RecoveryRecord counts recent failures of one row.
type RecoveryRecord struct {
	RowKey    RowKey    `json:"row_key"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	Timestamp time.Time `json:"timestamp"`
}

// Within reports whether the record was refreshed less than window ago.
func (r *RecoveryRecord) Within(now time.Time, window time.Duration) bool {
	return now.Sub(r.Timestamp) < window
}
