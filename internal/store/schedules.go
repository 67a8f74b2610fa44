package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/pkg/models"
)

// ScheduleStore persists sync schedule definitions and their run state.
type ScheduleStore struct {
	db *gorm.DB
}

func NewScheduleStore(db *gorm.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

func (s *ScheduleStore) Create(ctx context.Context, schedule *models.SyncSchedule) error {
	return s.db.WithContext(ctx).Create(schedule).Error
}

func (s *ScheduleStore) Update(ctx context.Context, schedule *models.SyncSchedule) error {
	return s.db.WithContext(ctx).Save(schedule).Error
}

// Get loads a schedule without tenant scoping, for the scheduler loop.
func (s *ScheduleStore) Get(ctx context.Context, id uuid.UUID) (*models.SyncSchedule, error) {
	var schedule models.SyncSchedule
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&schedule).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *ScheduleStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.SyncSchedule, error) {
	var schedule models.SyncSchedule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&schedule).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *ScheduleStore) List(ctx context.Context, tenantID uuid.UUID) ([]models.SyncSchedule, error) {
	var schedules []models.SyncSchedule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&schedules).Error
	return schedules, err
}

// ListActive returns every enabled schedule across tenants, used to seed the
// scheduler's run queue at startup.
func (s *ScheduleStore) ListActive(ctx context.Context) ([]models.SyncSchedule, error) {
	var schedules []models.SyncSchedule
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&schedules).Error
	return schedules, err
}

func (s *ScheduleStore) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.SyncSchedule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateRunState records the outcome of a run without touching the rest of
// the schedule definition.
func (s *ScheduleStore) UpdateRunState(ctx context.Context, id uuid.UUID, lastRunAt time.Time, nextRunAt *time.Time, consecutiveFailures int) error {
	return s.db.WithContext(ctx).
		Model(&models.SyncSchedule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at":          lastRunAt,
			"next_run_at":          nextRunAt,
			"consecutive_failures": consecutiveFailures,
		}).Error
}
