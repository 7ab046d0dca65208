package core

import (
	"fmt"
	"strings"
)

// RowID addresses a row of the destination sheet (1-based, as in A1 notation).
type RowID int

// RecordType is the closed set of ticket workflows the extractor understands.
type RecordType string

const (
	RecordTypeSupport      RecordType = "SUPPORT"
	RecordTypeInstallation RecordType = "INSTALLATION"
	RecordTypeRelocation   RecordType = "RELOCATION"
)

// AllRecordTypes returns the record types in their default lookup order.
func AllRecordTypes() []RecordType {
	return []RecordType{RecordTypeSupport, RecordTypeInstallation, RecordTypeRelocation}
}

// ValidRecordType checks if a record type is known.
func ValidRecordType(t RecordType) bool {
	switch t {
	case RecordTypeSupport, RecordTypeInstallation, RecordTypeRelocation:
		return true
	default:
		return false
	}
}

// ParseRecordType converts a string to a RecordType, case-insensitively.
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	if !ValidRecordType(t) {
		return "", ErrValidation(CodeInvalidRecordType, fmt.Sprintf("invalid record type: %s", s))
	}
	return t, nil
}

// String returns the string representation of the record type.
func (t RecordType) String() string {
	return string(t)
}

// SheetMapping tells where a record type reads its external id and where
// each extracted value lands. Empty columns are not written.
type SheetMapping struct {
	IDColumn                 string `json:"id_column"`
	MarkerColumn             string `json:"marker_column"`
	TicketIDColumn           string `json:"ticket_id_column,omitempty"`
	CreatedColumn            string `json:"created_column,omitempty"`
	EscalatedColumn          string `json:"escalated_column,omitempty"`
	SecondaryEscalatedColumn string `json:"secondary_escalated_column,omitempty"`
	ResolvedColumn           string `json:"resolved_column,omitempty"`
	ElapsedColumn            string `json:"elapsed_column,omitempty"`
}

// FailureColumn is where failure labels are written for this mapping.
func (m SheetMapping) FailureColumn() string {
	if m.TicketIDColumn != "" {
		return m.TicketIDColumn
	}
	return m.CreatedColumn
}

// PrimaryColumn is the column whose read-back proves the main data landed.
func (m SheetMapping) PrimaryColumn() string {
	return m.CreatedColumn
}

// Mappings holds the mapping of every record type.
type Mappings map[RecordType]SheetMapping

// DefaultMappings returns the column layout used by the operations sheet.
func DefaultMappings() Mappings {
	return Mappings{
		RecordTypeSupport: {
			IDColumn:        "C",
			MarkerColumn:    "Z",
			TicketIDColumn:  "D",
			CreatedColumn:   "E",
			EscalatedColumn: "F",
			ResolvedColumn:  "G",
		},
		RecordTypeInstallation: {
			IDColumn:        "K",
			MarkerColumn:    "AA",
			CreatedColumn:   "L",
			EscalatedColumn: "M",
			ResolvedColumn:  "N",
		},
		RecordTypeRelocation: {
			IDColumn:                 "S",
			MarkerColumn:             "AB",
			CreatedColumn:            "T",
			EscalatedColumn:          "U",
			SecondaryEscalatedColumn: "V",
			ElapsedColumn:            "G",
		},
	}
}

// For returns the mapping of a record type.
func (m Mappings) For(t RecordType) (SheetMapping, error) {
	mapping, ok := m[t]
	if !ok {
		return SheetMapping{}, ErrValidation(CodeInvalidRecordType, fmt.Sprintf("no sheet mapping for %s", t))
	}
	return mapping, nil
}

// Failure labels written to a row when it cannot be completed.
const (
	FailureNoExternalID     = "NO SERVICE ID"
	FailureTicketNotFound   = "TICKET NOT FOUND"
	FailureExtraction       = "EXTRACTION FAILED"
	FailureProcess          = "PROCESS ERROR"
	FailureMultipleFailures = "MULTIPLE_FAILURES"
)
