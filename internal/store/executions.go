package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/pkg/models"
)

// ExecutionStore persists sync execution history.
type ExecutionStore struct {
	db *gorm.DB
}

func NewExecutionStore(db *gorm.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) Create(ctx context.Context, exec *models.SyncExecution) error {
	return s.db.WithContext(ctx).Create(exec).Error
}

func (s *ExecutionStore) Update(ctx context.Context, exec *models.SyncExecution) error {
	return s.db.WithContext(ctx).Save(exec).Error
}

func (s *ExecutionStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.SyncExecution, error) {
	var exec models.SyncExecution
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&exec).Error
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListBySchedule returns executions newest-first, paginated. An empty status
// matches every status.
func (s *ExecutionStore) ListBySchedule(ctx context.Context, tenantID, scheduleID uuid.UUID, status models.ExecutionStatus, limit, offset int) ([]models.SyncExecution, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.SyncExecution{}).
		Where("tenant_id = ? AND schedule_id = ?", tenantID, scheduleID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var execs []models.SyncExecution
	err := query.
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&execs).Error
	return execs, total, err
}

// ReapStale marks executions still "running" as failed. Called once at
// startup: a running row at boot means the process died mid-run.
func (s *ExecutionStore) ReapStale(ctx context.Context, now time.Time) (int64, error) {
	msg := "interrupted by service restart"
	result := s.db.WithContext(ctx).
		Model(&models.SyncExecution{}).
		Where("status = ?", models.ExecutionRunning).
		Updates(map[string]any{
			"status":       models.ExecutionFailed,
			"completed_at": now,
			"error":        msg,
		})
	return result.RowsAffected, result.Error
}

// ListFinishedBefore returns terminal executions older than the cutoff, for
// archival and purge.
func (s *ExecutionStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.SyncExecution, error) {
	var execs []models.SyncExecution
	err := s.db.WithContext(ctx).
		Where("status IN ? AND started_at < ?",
			[]models.ExecutionStatus{models.ExecutionCompleted, models.ExecutionFailed, models.ExecutionCancelled},
			cutoff).
		Order("started_at ASC").
		Limit(limit).
		Find(&execs).Error
	return execs, err
}

func (s *ExecutionStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.SyncExecution{}).Error
}
