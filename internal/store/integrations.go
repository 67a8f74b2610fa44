package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/pkg/models"
)

// IntegrationStore persists calendar integrations.
type IntegrationStore struct {
	db *gorm.DB
}

func NewIntegrationStore(db *gorm.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

func (s *IntegrationStore) Create(ctx context.Context, integration *models.CalendarIntegration) error {
	return s.db.WithContext(ctx).Create(integration).Error
}

func (s *IntegrationStore) Update(ctx context.Context, integration *models.CalendarIntegration) error {
	return s.db.WithContext(ctx).Save(integration).Error
}

func (s *IntegrationStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.CalendarIntegration, error) {
	var integration models.CalendarIntegration
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&integration).Error
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (s *IntegrationStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.CalendarIntegration, error) {
	var integrations []models.CalendarIntegration
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&integrations).Error
	return integrations, err
}

func (s *IntegrationStore) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.CalendarIntegration{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LinkStore persists local-record to provider-event links.
type LinkStore struct {
	db *gorm.DB
}

func NewLinkStore(db *gorm.DB) *LinkStore {
	return &LinkStore{db: db}
}

func (s *LinkStore) GetByRecord(ctx context.Context, integrationID uuid.UUID, kind models.EntityKind, recordID uuid.UUID) (*models.ExternalEventLink, error) {
	var link models.ExternalEventLink
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND entity_kind = ? AND record_id = ?", integrationID, kind, recordID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *LinkStore) GetByEvent(ctx context.Context, integrationID uuid.UUID, eventID string) (*models.ExternalEventLink, error) {
	var link models.ExternalEventLink
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND event_id = ?", integrationID, eventID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *LinkStore) Save(ctx context.Context, link *models.ExternalEventLink) error {
	return s.db.WithContext(ctx).Save(link).Error
}

func (s *LinkStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.ExternalEventLink{}).Error
}

func (s *LinkStore) ListByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.ExternalEventLink, error) {
	var links []models.ExternalEventLink
	err := s.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Find(&links).Error
	return links, err
}

// DeleteByIntegration removes every link owned by an integration. Used when
// an integration is disconnected.
func (s *LinkStore) DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Delete(&models.ExternalEventLink{})
	return result.RowsAffected, result.Error
}
