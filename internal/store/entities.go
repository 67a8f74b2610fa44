package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/pkg/models"
)

// EntityStore reads and writes the synced domain tables through the generic
// record form the conflict engine works in. Conversion is a JSON round-trip,
// so the record keys are exactly the models' json tags.
type EntityStore struct {
	db *gorm.DB
}

func NewEntityStore(db *gorm.DB) *EntityStore {
	return &EntityStore{db: db}
}

func modelFor(kind models.EntityKind) (any, error) {
	switch kind {
	case models.KindUsers:
		return &models.User{}, nil
	case models.KindTeams:
		return &models.Team{}, nil
	case models.KindFields:
		return &models.Field{}, nil
	case models.KindReservations:
		return &models.Reservation{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
}

func sliceFor(kind models.EntityKind) (any, error) {
	switch kind {
	case models.KindUsers:
		return &[]models.User{}, nil
	case models.KindTeams:
		return &[]models.Team{}, nil
	case models.KindFields:
		return &[]models.Field{}, nil
	case models.KindReservations:
		return &[]models.Reservation{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
}

func toRecords(slice any) ([]models.Record, error) {
	raw, err := json.Marshal(slice)
	if err != nil {
		return nil, err
	}
	var records []models.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListRecords loads every live row of the given kind for a tenant.
func (s *EntityStore) ListRecords(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind) ([]models.Record, error) {
	slice, err := sliceFor(kind)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(slice).Error
	if err != nil {
		return nil, err
	}
	return toRecords(slice)
}

// CreateRecord inserts a record, letting the database assign the id when the
// record carries none.
func (s *EntityStore) CreateRecord(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind, rec models.Record) error {
	model, err := modelFor(kind)
	if err != nil {
		return err
	}

	payload := rec.Clone()
	payload["tenant_id"] = tenantID.String()
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return fmt.Errorf("record does not fit %s schema: %w", kind, err)
	}

	return s.db.WithContext(ctx).Create(model).Error
}

// UpdateRecord applies a partial update to one row, tenant scoped. The row
// is loaded, the patch overlaid on its record form, and the merged row saved,
// so the patch only needs the keys it changes.
func (s *EntityStore) UpdateRecord(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind, id string, patch models.Record) error {
	model, err := modelFor(kind)
	if err != nil {
		return err
	}
	rowID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}

	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, rowID).
		First(model).Error
	if err != nil {
		return err
	}

	current, err := json.Marshal(model)
	if err != nil {
		return err
	}
	var merged models.Record
	if err := json.Unmarshal(current, &merged); err != nil {
		return err
	}
	for key, value := range patch {
		merged[key] = value
	}
	merged["id"] = rowID.String()
	merged["tenant_id"] = tenantID.String()

	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return fmt.Errorf("patch does not fit %s schema: %w", kind, err)
	}

	return s.db.WithContext(ctx).Save(model).Error
}

// TeamExists backs the dangling-reference business rule for user records.
// The reference may be a team id or a team name.
func (s *EntityStore) TeamExists(ctx context.Context, tenantID uuid.UUID, ref string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.Team{})
	if teamID, err := uuid.Parse(ref); err == nil {
		query = query.Where("tenant_id = ? AND id = ?", tenantID, teamID)
	} else {
		query = query.Where("tenant_id = ? AND name = ?", tenantID, ref)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return count > 0, nil
}
