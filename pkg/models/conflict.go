package models

import (
	"time"

	"github.com/google/uuid"
)

// Record is the canonical, provider-independent shape of one entity as seen
// by the conflict detector and resolver. Keys are the canonical field names
// ("email", "fieldId", "startTime", ...).
type Record map[string]any

// Clone returns a shallow copy. Detection and resolution never mutate their
// inputs; anything that changes a record works on a clone.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type EntityKind string

const (
	KindUsers        EntityKind = "users"
	KindTeams        EntityKind = "teams"
	KindFields       EntityKind = "fields"
	KindReservations EntityKind = "reservations"
)

type ConflictType string

const (
	ConflictDuplicate           ConflictType = "duplicate"
	ConflictFieldMismatch       ConflictType = "field_mismatch"
	ConflictConstraintViolation ConflictType = "constraint_violation"
	ConflictBusinessRule        ConflictType = "business_rule_violation"
)

type ConflictSeverity string

const (
	SeverityHigh   ConflictSeverity = "high"
	SeverityMedium ConflictSeverity = "medium"
	SeverityLow    ConflictSeverity = "low"
)

// DataConflict is one detected disagreement between an incoming record and
// existing data. Conflicts are ephemeral: produced by detection, consumed by
// resolution, persisted only inside execution logs unless escalated.
type DataConflict struct {
	ID                  uuid.UUID        `json:"id"`
	EntityKind          EntityKind       `json:"entity_kind"`
	Type                ConflictType     `json:"type"`
	Severity            ConflictSeverity `json:"severity"`
	ExistingRecord      Record           `json:"existing_record,omitempty"`
	IncomingRecord      Record           `json:"incoming_record"`
	ConflictingFields   []string         `json:"conflicting_fields,omitempty"`
	SuggestedResolution string           `json:"suggested_resolution"`
	AutoResolvable      bool             `json:"auto_resolvable"`
	DetectedAt          time.Time        `json:"detected_at"`
	RowIndex            int              `json:"row_index"`
	Confidence          float64          `json:"confidence"` // 0–1
	Detail              string           `json:"detail,omitempty"`
}

// ConflictDetectionResult is the full output of one detection pass over a
// batch of incoming records.
type ConflictDetectionResult struct {
	Conflicts            []DataConflict       `json:"conflicts"`
	TotalRecords         int                  `json:"total_records"`
	RecordsWithConflicts int                  `json:"records_with_conflicts"`
	ByType               map[ConflictType]int `json:"by_type"`
}
