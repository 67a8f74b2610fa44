package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sync-service/pkg/models"
)

var validSources = map[models.SyncSource]bool{
	models.SourceGoogleCalendar: true,
	models.SourceRosterFeed:     true,
	models.SourceBulkImport:     true,
}

var validKinds = map[models.EntityKind]bool{
	models.KindUsers:        true,
	models.KindTeams:        true,
	models.KindFields:       true,
	models.KindReservations: true,
}

func validateSchedule(sched *models.SyncSchedule) error {
	if sched.Name == "" {
		return invalid("name", "must not be empty")
	}
	if len(sched.Name) > 100 {
		return invalid("name", "must be at most 100 characters")
	}
	if !validSources[sched.Source] {
		return invalid("source", fmt.Sprintf("unknown source %q", sched.Source))
	}
	if err := ValidateFrequency(sched.Frequency); err != nil {
		return err
	}
	if sched.Source == models.SourceGoogleCalendar && sched.IntegrationID == nil {
		return invalid("integration_id", "calendar schedules need an integration")
	}
	for _, kind := range sched.Config.Entities {
		if !validKinds[kind] {
			return invalid("config.entities", fmt.Sprintf("unknown entity kind %q", kind))
		}
	}
	if sched.Config.BatchSize < 0 || sched.Config.BatchSize > 1000 {
		return invalid("config.batch_size", "must be between 0 and 1000")
	}
	if sched.Config.TimeoutSeconds < 0 {
		return invalid("config.timeout_seconds", "must not be negative")
	}
	if sched.Config.RetryAttempts < 0 || sched.Config.RetryAttempts > 10 {
		return invalid("config.retry_attempts", "must be between 0 and 10")
	}
	switch sched.Config.ConflictMode {
	case "", models.ConflictModeAuto, models.ConflictModeManual, models.ConflictModeSkip:
	default:
		return invalid("config.conflict_mode", fmt.Sprintf("unknown mode %q", sched.Config.ConflictMode))
	}
	switch sched.ErrorHandling.OnError {
	case "", models.OnErrorStop, models.OnErrorRetry, models.OnErrorContinue:
	default:
		return invalid("error_handling.on_error", fmt.Sprintf("unknown policy %q", sched.ErrorHandling.OnError))
	}
	if sched.ErrorHandling.RetryCount < 0 || sched.ErrorHandling.RetryCount > 10 {
		return invalid("error_handling.retry_count", "must be between 0 and 10")
	}
	return nil
}

func applyDefaults(sched *models.SyncSchedule) {
	if sched.SyncType == "" {
		sched.SyncType = models.SyncTypeIncremental
	}
	if sched.Config.ConflictMode == "" {
		sched.Config.ConflictMode = models.ConflictModeAuto
	}
	if sched.Config.BatchSize <= 0 {
		sched.Config.BatchSize = 100
	}
	if sched.ErrorHandling.OnError == "" {
		sched.ErrorHandling.OnError = models.OnErrorContinue
	}
}

// CreateSchedule validates, persists, and enqueues a new schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, sched *models.SyncSchedule) error {
	if err := validateSchedule(sched); err != nil {
		return err
	}
	applyDefaults(sched)

	if sched.IsActive && sched.Frequency != models.FrequencyManual {
		next, err := NextRun(sched.Frequency, s.clock.Now())
		if err != nil {
			return err
		}
		sched.NextRunAt = &next
	}

	if err := s.schedules.Create(ctx, sched); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	s.enqueue(sched)
	return nil
}

// UpdateSchedule revalidates and recomputes the next firing. The old queue
// entry goes stale and is dropped when it pops.
func (s *Scheduler) UpdateSchedule(ctx context.Context, sched *models.SyncSchedule) error {
	if err := validateSchedule(sched); err != nil {
		return err
	}
	applyDefaults(sched)

	sched.NextRunAt = nil
	if sched.IsActive && sched.Frequency != models.FrequencyManual {
		next, err := NextRun(sched.Frequency, s.clock.Now())
		if err != nil {
			return err
		}
		sched.NextRunAt = &next
	}

	if err := s.schedules.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	s.enqueue(sched)
	return nil
}

func (s *Scheduler) GetSchedule(ctx context.Context, tenantID, id uuid.UUID) (*models.SyncSchedule, error) {
	return s.schedules.GetByID(ctx, tenantID, id)
}

func (s *Scheduler) ListSchedules(ctx context.Context, tenantID uuid.UUID) ([]models.SyncSchedule, error) {
	return s.schedules.List(ctx, tenantID)
}

// DeleteSchedule removes a schedule and cancels its running execution, if
// any. History rows stay until retention purges them.
func (s *Scheduler) DeleteSchedule(ctx context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	if handle, ok := s.running[id]; ok && handle.ec != nil {
		handle.ec.Cancel()
	}
	s.mu.Unlock()
	return s.schedules.Delete(ctx, tenantID, id)
}

// ExecuteNow triggers a schedule outside its cadence. Returns
// ErrAlreadyRunning when an execution is still in flight.
func (s *Scheduler) ExecuteNow(ctx context.Context, tenantID, scheduleID uuid.UUID, triggeredBy string, bulk *BulkPayload) (*models.SyncExecution, error) {
	sched, err := s.schedules.GetByID(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	if triggeredBy == "" {
		triggeredBy = "manual"
	}
	return s.launch(ctx, sched, triggeredBy, bulk)
}

// CancelExecution requests a cooperative stop of an in-flight execution.
func (s *Scheduler) CancelExecution(ctx context.Context, tenantID, executionID uuid.UUID) error {
	exec, err := s.executions.GetByID(ctx, tenantID, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return fmt.Errorf("%w: execution %s is %s", ErrExecutionFinished, executionID, exec.Status)
	}

	s.mu.Lock()
	handle, ok := s.running[exec.ScheduleID]
	s.mu.Unlock()
	if ok && handle.executionID == executionID && handle.ec != nil {
		handle.ec.Cancel()
		return nil
	}

	// Not in flight here: the row is a leftover, close it directly.
	now := s.clock.Now().UTC()
	exec.Status = models.ExecutionCancelled
	exec.CompletedAt = &now
	return s.executions.Update(ctx, exec)
}

// ExecutionHistory lists a schedule's past runs, newest first, optionally
// filtered by status.
func (s *Scheduler) ExecutionHistory(ctx context.Context, tenantID, scheduleID uuid.UUID, status models.ExecutionStatus, limit, offset int) ([]models.SyncExecution, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	switch status {
	case "", models.ExecutionRunning, models.ExecutionCompleted, models.ExecutionFailed, models.ExecutionCancelled:
	default:
		return nil, 0, invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	return s.executions.ListBySchedule(ctx, tenantID, scheduleID, status, limit, offset)
}

func (s *Scheduler) GetExecution(ctx context.Context, tenantID, executionID uuid.UUID) (*models.SyncExecution, error) {
	return s.executions.GetByID(ctx, tenantID, executionID)
}

// ExecutionLogs returns the log lines of one execution. For a run still in
// flight the live buffer is returned, not the last persisted snapshot.
func (s *Scheduler) ExecutionLogs(ctx context.Context, tenantID, executionID uuid.UUID) ([]models.SyncLogEntry, error) {
	exec, err := s.executions.GetByID(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	handle, ok := s.running[exec.ScheduleID]
	s.mu.Unlock()
	if ok && handle.executionID == executionID && handle.ec != nil {
		logs, _ := handle.ec.Snapshot()
		return logs, nil
	}
	return exec.Logs, nil
}
