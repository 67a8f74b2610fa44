package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User mirrors the member roster. Synced from roster feeds and bulk imports.
type User struct {
	ID       uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID  `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Username string     `json:"username" gorm:"type:varchar(100);not null;index"`
	Email    string     `json:"email" gorm:"type:varchar(255);not null;index"`
	Role     string     `json:"role" gorm:"type:varchar(20);not null;default:'member'"`
	TeamID   *uuid.UUID `json:"teamId,omitempty" gorm:"type:uuid;index"`
	Phone    *string    `json:"phone,omitempty" gorm:"type:varchar(30)"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (User) TableName() string { return "users" }

type Team struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Name     string    `json:"name" gorm:"type:varchar(100);not null;index"`
	Division string    `json:"division" gorm:"type:varchar(50)"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (Team) TableName() string { return "teams" }

// Field is a bookable resource (pitch, court, hall).
type Field struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Name     string    `json:"name" gorm:"type:varchar(100);not null;index"`
	Surface  string    `json:"surface" gorm:"type:varchar(30)"`
	Capacity int       `json:"capacity" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (Field) TableName() string { return "fields" }

// Reservation holds date and times as strings ("2006-01-02", "15:04"), the
// canonical form conflict detection compares and overlap math parses.
type Reservation struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID  uuid.UUID  `json:"tenant_id" gorm:"type:uuid;index;not null"`
	FieldID   uuid.UUID  `json:"fieldId" gorm:"type:uuid;index;not null"`
	UserID    *uuid.UUID `json:"userId,omitempty" gorm:"type:uuid;index"`
	Title     string     `json:"title" gorm:"type:varchar(200)"`
	Date      string     `json:"date" gorm:"type:varchar(10);not null;index"`
	StartTime string     `json:"startTime" gorm:"type:varchar(5);not null"`
	EndTime   string     `json:"endTime" gorm:"type:varchar(5);not null"`
	Status    string     `json:"status" gorm:"type:varchar(20);not null;default:'confirmed'"`
	// Metadata carries source-specific extras (import batch tags, external
	// references) that no typed column owns.
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (Reservation) TableName() string { return "reservations" }
