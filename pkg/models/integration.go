package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncSettings controls what a calendar integration mirrors and how provider
// events are built.
type SyncSettings struct {
	Entities      []EntityKind   `json:"entities"`
	EventPrefix   string         `json:"event_prefix"` // recognizes system-authored events, prevents sync loops
	CalendarID    string         `json:"calendar_id"`
	IncludeFields []string       `json:"include_fields,omitempty"` // "description", "location", "attendees"
	ReminderMins  int            `json:"reminder_minutes,omitempty"`
	WindowDays    int            `json:"window_days"` // import/export time window, both directions
	EntityFilters map[string]any `json:"entity_filters,omitempty"`
}

// CalendarIntegration connects one user's external calendar to the system.
// Credentials are opaque ciphertext (AES-GCM, see store.Cipher), never
// logged and never returned by the API.
type CalendarIntegration struct {
	ID       uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID  `json:"tenant_id" gorm:"type:uuid;index;not null"`
	UserID   uuid.UUID  `json:"user_id" gorm:"type:uuid;index;not null"`
	Provider SyncSource `json:"provider" gorm:"type:varchar(30);not null"`

	Credentials   []byte        `json:"-" gorm:"type:bytea"`
	SyncDirection SyncDirection `json:"sync_direction" gorm:"type:varchar(20);not null;default:'bidirectional'"`
	SyncFrequency Frequency     `json:"sync_frequency" gorm:"type:varchar(100);not null;default:'hourly'"`
	Settings      SyncSettings  `json:"settings" gorm:"serializer:json;type:jsonb"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (CalendarIntegration) TableName() string {
	return "calendar_integrations"
}

// ExternalEventLink maps a local record to the provider-side event the system
// created or imported for it. This table is the only matching key between the
// two sides; events are never re-matched from metadata.
type ExternalEventLink struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID      uuid.UUID  `json:"tenant_id" gorm:"type:uuid;index;not null"`
	IntegrationID uuid.UUID  `json:"integration_id" gorm:"type:uuid;index;not null"`
	EntityKind    EntityKind `json:"entity_kind" gorm:"type:varchar(30);not null"`
	RecordID      uuid.UUID  `json:"record_id" gorm:"type:uuid;index;not null"`
	EventID       string     `json:"event_id" gorm:"type:varchar(255);uniqueIndex:idx_link_event;not null"`
	// LastSyncedHash lets export skip provider writes when nothing changed.
	LastSyncedHash string    `json:"last_synced_hash" gorm:"type:varchar(64)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ExternalEventLink) TableName() string {
	return "external_event_links"
}
