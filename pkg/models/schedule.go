package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SyncSource string

const (
	SourceGoogleCalendar SyncSource = "google_calendar"
	SourceRosterFeed     SyncSource = "roster_feed"
	SourceBulkImport     SyncSource = "bulk_import"
)

type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// Frequency is one of the named intervals below, or any five-field cron
// expression (validated at schedule create/update time).
type Frequency string

const (
	FrequencyManual  Frequency = "manual"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type ConflictMode string

const (
	ConflictModeAuto   ConflictMode = "auto"
	ConflictModeManual ConflictMode = "manual"
	ConflictModeSkip   ConflictMode = "skip"
)

type OnErrorPolicy string

const (
	OnErrorStop     OnErrorPolicy = "stop"
	OnErrorRetry    OnErrorPolicy = "retry"
	OnErrorContinue OnErrorPolicy = "continue"
)

// SyncConfiguration controls what one schedule syncs and how.
type SyncConfiguration struct {
	Entities       []EntityKind   `json:"entities"`
	BatchSize      int            `json:"batch_size"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	RetryAttempts  int            `json:"retry_attempts"`
	ConflictMode   ConflictMode   `json:"conflict_mode"`
	FieldFilters   map[string]any `json:"field_filters,omitempty"`
}

type ErrorHandlingConfig struct {
	MaxErrors         int           `json:"max_errors"`
	OnError           OnErrorPolicy `json:"on_error"`
	RetryCount        int           `json:"retry_count"`
	RetryDelaySeconds int           `json:"retry_delay_seconds"`
	EscalateAfter     int           `json:"escalate_after"`
}

type NotificationConfig struct {
	NotifyOnSuccess   bool     `json:"notify_on_success"`
	NotifyOnError     bool     `json:"notify_on_error"`
	NotifyOnConflicts bool     `json:"notify_on_conflicts"`
	Channels          []string `json:"channels"` // "email", "push"
	Recipients        []string `json:"recipients,omitempty"`
	PushTokens        []string `json:"push_tokens,omitempty"`
}

// SyncSchedule is one recurring or manual synchronization job definition.
type SyncSchedule struct {
	ID       uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID  `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Name     string     `json:"name" gorm:"type:varchar(100);not null"`
	Source   SyncSource `json:"source" gorm:"type:varchar(30);not null"`
	SyncType SyncType   `json:"sync_type" gorm:"type:varchar(20);not null;default:'incremental'"`
	// Frequency is stored verbatim; cron expressions keep their raw form.
	Frequency Frequency `json:"frequency" gorm:"type:varchar(100);not null;default:'manual'"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`

	// IntegrationID points at the calendar integration this schedule drives.
	// Only set for calendar sources.
	IntegrationID *uuid.UUID `json:"integration_id,omitempty" gorm:"type:uuid;index"`

	Config        SyncConfiguration   `json:"config" gorm:"serializer:json;type:jsonb"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" gorm:"serializer:json;type:jsonb"`
	Notifications NotificationConfig  `json:"notifications" gorm:"serializer:json;type:jsonb"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty" gorm:"index"`
	// ConsecutiveFailures backs the escalate-after threshold across restarts.
	ConsecutiveFailures int `json:"consecutive_failures" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (SyncSchedule) TableName() string {
	return "sync_schedules"
}
