package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/internal/syncjob"
	"sync-service/pkg/models"
)

// ScheduleStore is the persistence the scheduler needs for definitions.
type ScheduleStore interface {
	Create(ctx context.Context, s *models.SyncSchedule) error
	Update(ctx context.Context, s *models.SyncSchedule) error
	Get(ctx context.Context, id uuid.UUID) (*models.SyncSchedule, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.SyncSchedule, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]models.SyncSchedule, error)
	ListActive(ctx context.Context) ([]models.SyncSchedule, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	UpdateRunState(ctx context.Context, id uuid.UUID, lastRunAt time.Time, nextRunAt *time.Time, consecutiveFailures int) error
}

type ExecutionStore interface {
	Create(ctx context.Context, exec *models.SyncExecution) error
	Update(ctx context.Context, exec *models.SyncExecution) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.SyncExecution, error)
	ListBySchedule(ctx context.Context, tenantID, scheduleID uuid.UUID, status models.ExecutionStatus, limit, offset int) ([]models.SyncExecution, int64, error)
	ReapStale(ctx context.Context, now time.Time) (int64, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.SyncExecution, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
}

type IntegrationStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.CalendarIntegration, error)
}

// JobRunner executes one sync job; satisfied by syncjob.Runner.
type JobRunner interface {
	Run(ctx context.Context, ec *syncjob.ExecContext, job syncjob.Job) (*models.SyncResult, error)
}

// CredentialOpener decrypts stored integration credentials.
type CredentialOpener interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Notifier is told about run outcomes. All methods are fire-and-forget.
type Notifier interface {
	SyncSucceeded(ctx context.Context, schedule *models.SyncSchedule, exec *models.SyncExecution)
	SyncFailed(ctx context.Context, schedule *models.SyncSchedule, exec *models.SyncExecution)
	ConflictsDetected(ctx context.Context, schedule *models.SyncSchedule, exec *models.SyncExecution)
	Escalated(ctx context.Context, schedule *models.SyncSchedule, consecutiveFailures int)
}

// Archiver moves an execution to cold storage before it is purged.
type Archiver interface {
	ArchiveExecution(ctx context.Context, exec *models.SyncExecution) error
}

// BulkPayload carries the records of a manual bulk import trigger.
type BulkPayload struct {
	Kind    models.EntityKind
	Records []models.Record
}

type runHandle struct {
	executionID uuid.UUID
	ec          *syncjob.ExecContext
}

type Deps struct {
	Clock         Clock
	Schedules     ScheduleStore
	Executions    ExecutionStore
	Integrations  IntegrationStore
	Runner        JobRunner
	Credentials   CredentialOpener
	Notifier      Notifier
	Archiver      Archiver
	RetentionDays int
}

// Scheduler drives recurring and manual sync executions. At most one
// execution per schedule runs at a time; the in-memory running set is the
// single-flight gate.
type Scheduler struct {
	clock         Clock
	schedules     ScheduleStore
	executions    ExecutionStore
	integrations  IntegrationStore
	runner        JobRunner
	creds         CredentialOpener
	notifier      Notifier
	archiver      Archiver
	retentionDays int

	mu      sync.Mutex
	queue   runQueue
	running map[uuid.UUID]*runHandle
	// pending marks schedules whose occurrence came due while a run was
	// still in flight. A slow run delays the occurrence, it never skips it.
	pending map[uuid.UUID]bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(deps Deps) *Scheduler {
	clock := deps.Clock
	if clock == nil {
		clock = NewClock()
	}
	retention := deps.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	return &Scheduler{
		clock:         clock,
		schedules:     deps.Schedules,
		executions:    deps.Executions,
		integrations:  deps.Integrations,
		runner:        deps.Runner,
		creds:         deps.Credentials,
		notifier:      deps.Notifier,
		archiver:      deps.Archiver,
		retentionDays: retention,
		running:       make(map[uuid.UUID]*runHandle),
		pending:       make(map[uuid.UUID]bool),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
}

// Start reaps executions orphaned by a previous crash, seeds the run queue
// from persisted schedules, and starts the firing loop.
func (s *Scheduler) Start(ctx context.Context) error {
	reaped, err := s.executions.ReapStale(ctx, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("reap stale executions: %w", err)
	}
	if reaped > 0 {
		log.Printf("⚠️ Marked %d orphaned executions as failed", reaped)
	}

	schedules, err := s.schedules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}
	for i := range schedules {
		sched := &schedules[i]
		if sched.Frequency == models.FrequencyManual {
			continue
		}
		if sched.NextRunAt == nil {
			next, err := NextRun(sched.Frequency, s.clock.Now())
			if err != nil || next.IsZero() {
				continue
			}
			sched.NextRunAt = &next
			if err := s.schedules.Update(ctx, sched); err != nil {
				log.Printf("⚠️ Failed to persist next run for schedule %s: %v", sched.ID, err)
			}
		}
		s.mu.Lock()
		s.queue.push(*sched.NextRunAt, sched.ID)
		s.mu.Unlock()
	}
	log.Printf("✅ Scheduler started with %d active schedules", len(schedules))

	s.wg.Add(2)
	go s.loop()
	go s.janitor()
	return nil
}

// Stop shuts the loop down and waits for in-flight executions.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		var timer <-chan time.Time
		if entry, ok := s.queue.peek(); ok {
			wait := entry.at.Sub(s.clock.Now())
			if wait <= 0 {
				s.queue.pop()
				s.mu.Unlock()
				s.fire(entry)
				continue
			}
			timer = s.clock.After(wait)
		}
		s.mu.Unlock()

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer:
		}
	}
}

// fire revalidates a due queue entry against the store and, if it still
// stands, launches it and enqueues the next occurrence. Entries for deleted,
// disabled, or rescheduled schedules are simply dropped here. An occurrence
// that collides with a run still in flight is held and launched as soon as
// that run reaches a terminal state.
func (s *Scheduler) fire(entry queueEntry) {
	ctx := context.Background()
	sched, err := s.schedules.Get(ctx, entry.scheduleID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("⚠️ Failed to load schedule %s: %v", entry.scheduleID, err)
		}
		return
	}
	if !sched.IsActive || sched.Frequency == models.FrequencyManual ||
		sched.NextRunAt == nil || !sched.NextRunAt.Equal(entry.at) {
		return
	}

	next, err := NextRun(sched.Frequency, s.clock.Now())
	if err == nil && !next.IsZero() {
		sched.NextRunAt = &next
		if err := s.schedules.Update(ctx, sched); err != nil {
			log.Printf("⚠️ Failed to persist next run for schedule %s: %v", sched.ID, err)
		}
		s.enqueue(sched)
	}

	if _, err := s.launch(ctx, sched, "scheduler", nil); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.mu.Lock()
			s.pending[sched.ID] = true
			s.mu.Unlock()
			log.Printf("⚠️ Schedule %q fired while previous run still in flight, queued behind it", sched.Name)
			return
		}
		log.Printf("❌ Failed to launch schedule %q: %v", sched.Name, err)
	}
}

// firePending launches a fire that was held because the previous run was
// still in flight when its occurrence came due.
func (s *Scheduler) firePending(scheduleID uuid.UUID) {
	ctx := context.Background()
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("⚠️ Failed to load schedule %s for delayed run: %v", scheduleID, err)
		}
		return
	}
	if !sched.IsActive {
		return
	}
	if _, err := s.launch(ctx, sched, "scheduler", nil); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		log.Printf("❌ Failed to launch delayed run of %q: %v", sched.Name, err)
	}
}

// launch is the single-flight entry point shared by the loop and ExecuteNow.
func (s *Scheduler) launch(ctx context.Context, sched *models.SyncSchedule, triggeredBy string, bulk *BulkPayload) (*models.SyncExecution, error) {
	s.mu.Lock()
	if _, busy := s.running[sched.ID]; busy {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	handle := &runHandle{}
	s.running[sched.ID] = handle
	s.mu.Unlock()

	exec := &models.SyncExecution{
		ScheduleID:  sched.ID,
		TenantID:    sched.TenantID,
		Status:      models.ExecutionRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   s.clock.Now().UTC(),
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		s.mu.Lock()
		delete(s.running, sched.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("create execution: %w", err)
	}

	ec := syncjob.NewExecContext(exec.ID)
	s.mu.Lock()
	handle.executionID = exec.ID
	handle.ec = ec
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(sched, exec, ec, bulk)
	return exec, nil
}

// execute runs one schedule to completion, including the retry policy.
// Every retry attempt gets its own execution row.
func (s *Scheduler) execute(sched *models.SyncSchedule, exec *models.SyncExecution, ec *syncjob.ExecContext, bulk *BulkPayload) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, sched.ID)
		held := s.pending[sched.ID]
		delete(s.pending, sched.ID)
		s.mu.Unlock()
		if held {
			s.firePending(sched.ID)
		}
	}()

	eh := sched.ErrorHandling
	retries := eh.RetryCount
	if retries == 0 {
		retries = sched.Config.RetryAttempts
	}
	maxAttempts := 1
	if eh.OnError == models.OnErrorRetry && retries > 0 {
		maxAttempts += retries
	}

	// Attempts wait the configured retry delay between runs. Outcome
	// notifications are dispatched once from finish, after the last attempt.
	var runErr error
	for attempt := 1; ; attempt++ {
		runErr = s.runOnce(sched, exec, ec, bulk)
		if runErr == nil || ec.Cancelled() || attempt >= maxAttempts {
			break
		}

		delay := time.Duration(eh.RetryDelaySeconds) * time.Second
		if delay <= 0 {
			delay = 5 * time.Second
		}
		log.Printf("🔄 Retrying schedule %q in %v (attempt %d/%d)", sched.Name, delay, attempt+1, maxAttempts)
		select {
		case <-s.stop:
			return
		case <-s.clock.After(delay):
		}

		exec = &models.SyncExecution{
			ScheduleID:  sched.ID,
			TenantID:    sched.TenantID,
			Status:      models.ExecutionRunning,
			TriggeredBy: "retry",
			StartedAt:   s.clock.Now().UTC(),
		}
		if err := s.executions.Create(context.Background(), exec); err != nil {
			log.Printf("❌ Failed to create retry execution for %q: %v", sched.Name, err)
			break
		}
		ec = syncjob.NewExecContext(exec.ID)
		s.mu.Lock()
		s.running[sched.ID] = &runHandle{executionID: exec.ID, ec: ec}
		s.mu.Unlock()
	}

	s.finish(sched, exec, runErr)
}

// runOnce performs a single attempt and finalizes its execution row.
func (s *Scheduler) runOnce(sched *models.SyncSchedule, exec *models.SyncExecution, ec *syncjob.ExecContext, bulk *BulkPayload) error {
	ctx := context.Background()

	var result *models.SyncResult
	runErr := func() error {
		job := syncjob.Job{TenantID: sched.TenantID, Schedule: sched}
		if bulk != nil {
			job.Kind = bulk.Kind
			job.Records = bulk.Records
		}
		if sched.Source == models.SourceGoogleCalendar {
			if sched.IntegrationID == nil {
				return errors.New("schedule has no calendar integration")
			}
			integration, err := s.integrations.GetByID(ctx, sched.TenantID, *sched.IntegrationID)
			if err != nil {
				return fmt.Errorf("load integration: %w", err)
			}
			creds, err := s.creds.Decrypt(integration.Credentials)
			if err != nil {
				return fmt.Errorf("open integration credentials: %w", err)
			}
			job.Integration = integration
			job.Credentials = creds
		}

		var err error
		result, err = s.runner.Run(ctx, ec, job)
		return err
	}()

	logs, metrics := ec.Snapshot()
	now := s.clock.Now().UTC()
	exec.Logs = logs
	exec.Metrics = metrics
	exec.Result = result
	exec.CompletedAt = &now
	exec.DurationMS = now.Sub(exec.StartedAt).Milliseconds()
	switch {
	case ec.Cancelled():
		exec.Status = models.ExecutionCancelled
	case runErr != nil:
		exec.Status = models.ExecutionFailed
		msg := runErr.Error()
		exec.Error = &msg
	default:
		exec.Status = models.ExecutionCompleted
	}
	if err := s.executions.Update(ctx, exec); err != nil {
		log.Printf("❌ Failed to persist execution %s: %v", exec.ID, err)
	}
	return runErr
}

// finish records the outcome on the schedule and dispatches notifications.
func (s *Scheduler) finish(sched *models.SyncSchedule, exec *models.SyncExecution, runErr error) {
	ctx := context.Background()
	now := s.clock.Now().UTC()

	failures := 0
	if exec.Status == models.ExecutionFailed {
		failures = sched.ConsecutiveFailures + 1
	}
	sched.ConsecutiveFailures = failures
	sched.LastRunAt = &now
	// fire may have advanced the next occurrence while this run was in
	// flight; the stored value wins over the copy this run launched with.
	if fresh, err := s.schedules.Get(ctx, sched.ID); err == nil {
		sched.NextRunAt = fresh.NextRunAt
	}
	if err := s.schedules.UpdateRunState(ctx, sched.ID, now, sched.NextRunAt, failures); err != nil {
		log.Printf("⚠️ Failed to persist run state for schedule %s: %v", sched.ID, err)
	}

	switch exec.Status {
	case models.ExecutionCompleted:
		log.Printf("✅ Sync %q completed: %d processed, %d conflicts", sched.Name,
			exec.Metrics.RecordsProcessed, exec.Metrics.ConflictsFound)
	case models.ExecutionFailed:
		log.Printf("❌ Sync %q failed: %v", sched.Name, runErr)
		// Stop policy: a failed run deactivates the schedule until an
		// operator re-enables it.
		if sched.ErrorHandling.OnError == models.OnErrorStop && sched.IsActive {
			sched.IsActive = false
			if err := s.schedules.Update(ctx, sched); err != nil {
				log.Printf("⚠️ Failed to deactivate schedule %s: %v", sched.ID, err)
			} else {
				log.Printf("⚠️ Schedule %q deactivated (on_error=stop)", sched.Name)
			}
		}
	case models.ExecutionCancelled:
		log.Printf("⚠️ Sync %q cancelled", sched.Name)
	}

	if s.notifier == nil {
		return
	}
	nc := sched.Notifications
	switch exec.Status {
	case models.ExecutionCompleted:
		if nc.NotifyOnSuccess {
			s.notifier.SyncSucceeded(ctx, sched, exec)
		}
		if nc.NotifyOnConflicts && exec.Metrics.ConflictsFound > 0 {
			s.notifier.ConflictsDetected(ctx, sched, exec)
		}
	case models.ExecutionFailed:
		if nc.NotifyOnError {
			s.notifier.SyncFailed(ctx, sched, exec)
		}
		if eh := sched.ErrorHandling; eh.EscalateAfter > 0 && failures >= eh.EscalateAfter {
			s.notifier.Escalated(ctx, sched, failures)
		}
	}
}

// enqueue adds the schedule's next firing to the queue and pokes the loop.
func (s *Scheduler) enqueue(sched *models.SyncSchedule) {
	if sched.NextRunAt == nil {
		return
	}
	s.mu.Lock()
	s.queue.push(*sched.NextRunAt, sched.ID)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
