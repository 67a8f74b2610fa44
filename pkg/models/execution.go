package models

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

type SyncDirection string

const (
	DirectionImport        SyncDirection = "import"
	DirectionExport        SyncDirection = "export"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncLogEntry is one append-only line in an execution's log.
type SyncLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"` // "info", "warn", "error"
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// SyncMetrics aggregates per-record outcomes for one execution.
type SyncMetrics struct {
	RecordsProcessed int `json:"records_processed"`
	RecordsCreated   int `json:"records_created"`
	RecordsUpdated   int `json:"records_updated"`
	RecordsSkipped   int `json:"records_skipped"`
	RecordsErrored   int `json:"records_errored"`
	APICalls         int `json:"api_calls"`
	ConflictsFound   int `json:"conflicts_found"`
	ConflictsAuto    int `json:"conflicts_auto_resolved"`
	ConflictsManual  int `json:"conflicts_manual_review"`
}

// SyncResult is the structured outcome of one sync job invocation.
type SyncResult struct {
	Direction SyncDirection `json:"direction"`
	Provider  SyncSource    `json:"provider"`
	Metrics   SyncMetrics   `json:"metrics"`
	Errors    []string      `json:"errors,omitempty"`
}

// SyncExecution is one run of a schedule. Exactly one may be running per
// schedule at a time; the scheduler enforces that, not the database.
type SyncExecution struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ScheduleID uuid.UUID       `json:"schedule_id" gorm:"type:uuid;index;not null"`
	TenantID   uuid.UUID       `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Status     ExecutionStatus `json:"status" gorm:"type:varchar(20);not null;default:'running';index"`

	TriggeredBy string     `json:"triggered_by" gorm:"type:varchar(100)"` // "scheduler", "retry", or an operator id
	StartedAt   time.Time  `json:"started_at" gorm:"not null;index"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`

	Result  *SyncResult    `json:"result,omitempty" gorm:"serializer:json;type:jsonb"`
	Metrics SyncMetrics    `json:"metrics" gorm:"serializer:json;type:jsonb"`
	Logs    []SyncLogEntry `json:"logs" gorm:"serializer:json;type:jsonb"`
	Error   *string        `json:"error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SyncExecution) TableName() string {
	return "sync_executions"
}
