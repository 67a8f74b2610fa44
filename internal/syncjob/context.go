// Package syncjob runs individual sync jobs: exporting reservations to an
// external calendar, importing external events and roster records, and
// handing conflicting incoming data to the resolution engine.
package syncjob

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sync-service/pkg/models"
)

// ExecContext collects logs and metrics for one execution. Safe for use from
// the job goroutine and the cancel path concurrently.
type ExecContext struct {
	ExecutionID uuid.UUID

	mu      sync.Mutex
	logs    []models.SyncLogEntry
	metrics models.SyncMetrics

	cancelled atomic.Bool
}

func NewExecContext(executionID uuid.UUID) *ExecContext {
	return &ExecContext{ExecutionID: executionID}
}

func (e *ExecContext) Log(level, message string, context map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, models.SyncLogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   context,
	})
}

func (e *ExecContext) Info(message string, context map[string]any)  { e.Log("info", message, context) }
func (e *ExecContext) Warn(message string, context map[string]any)  { e.Log("warn", message, context) }
func (e *ExecContext) Error(message string, context map[string]any) { e.Log("error", message, context) }

// Metric applies an update to the running counters under the lock.
func (e *ExecContext) Metric(update func(m *models.SyncMetrics)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(&e.metrics)
}

// Cancel requests a cooperative stop. The job checks Cancelled between
// records and finishes the current one first.
func (e *ExecContext) Cancel() { e.cancelled.Store(true) }

func (e *ExecContext) Cancelled() bool { return e.cancelled.Load() }

// Snapshot copies the logs and metrics accumulated so far.
func (e *ExecContext) Snapshot() ([]models.SyncLogEntry, models.SyncMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	logs := make([]models.SyncLogEntry, len(e.logs))
	copy(logs, e.logs)
	return logs, e.metrics
}
