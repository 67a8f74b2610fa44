package syncjob

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sync-service/internal/adapter"
	"sync-service/internal/conflict"
	"sync-service/pkg/models"
)

var (
	ErrCancelled       = errors.New("sync job cancelled")
	ErrTooManyFailures = errors.New("per-record error budget exhausted")
)

// LinkStore is the record-to-event link persistence the runner needs.
type LinkStore interface {
	GetByRecord(ctx context.Context, integrationID uuid.UUID, kind models.EntityKind, recordID uuid.UUID) (*models.ExternalEventLink, error)
	GetByEvent(ctx context.Context, integrationID uuid.UUID, eventID string) (*models.ExternalEventLink, error)
	Save(ctx context.Context, link *models.ExternalEventLink) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// EntityStore combines record reads with the writer the resolver uses.
type EntityStore interface {
	ListRecords(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind) ([]models.Record, error)
	conflict.RecordWriter
}

// RecordFeed is an incremental record source such as the roster feed.
type RecordFeed interface {
	FetchRecords(ctx context.Context, kind models.EntityKind, since time.Time) ([]models.Record, error)
}

// Runner executes one sync job end to end.
type Runner struct {
	adapters *adapter.Registry
	links    LinkStore
	entities EntityStore
	detector *conflict.Detector
	resolver *conflict.Resolver
	feed     RecordFeed
}

func NewRunner(adapters *adapter.Registry, links LinkStore, entities EntityStore, detector *conflict.Detector, resolver *conflict.Resolver, feed RecordFeed) *Runner {
	return &Runner{
		adapters: adapters,
		links:    links,
		entities: entities,
		detector: detector,
		resolver: resolver,
		feed:     feed,
	}
}

// Job is everything one invocation needs. Credentials arrive decrypted;
// Records and Kind are only set for bulk imports.
type Job struct {
	TenantID    uuid.UUID
	Schedule    *models.SyncSchedule
	Integration *models.CalendarIntegration
	Credentials []byte

	Records []models.Record
	Kind    models.EntityKind
}

// Run dispatches on the schedule's source. Individual record failures are
// logged and counted; the job only fails as a whole when the error budget is
// exhausted, the policy says stop, or the source itself is unreachable.
func (r *Runner) Run(ctx context.Context, ec *ExecContext, job Job) (*models.SyncResult, error) {
	cfg := job.Schedule.Config
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	budget := newErrorBudget(job.Schedule.ErrorHandling)

	var (
		result *models.SyncResult
		err    error
	)
	switch job.Schedule.Source {
	case models.SourceGoogleCalendar:
		result, err = r.runCalendar(ctx, ec, job, budget)
	case models.SourceRosterFeed:
		result, err = r.runRosterFeed(ctx, ec, job, budget)
	case models.SourceBulkImport:
		result, err = r.runBulkImport(ctx, ec, job, budget)
	default:
		return nil, fmt.Errorf("unsupported sync source %q", job.Schedule.Source)
	}

	if result == nil {
		result = &models.SyncResult{Provider: job.Schedule.Source}
	}
	_, metrics := ec.Snapshot()
	result.Metrics = metrics
	result.Errors = budget.errors
	return result, err
}

func (r *Runner) runCalendar(ctx context.Context, ec *ExecContext, job Job, budget *errorBudget) (*models.SyncResult, error) {
	if job.Integration == nil {
		return nil, errors.New("calendar sync requires an integration")
	}

	provider, err := r.adapters.Open(ctx, job.Integration.Provider, job.Credentials, job.Integration.Settings)
	if err != nil {
		return nil, fmt.Errorf("open calendar provider: %w", err)
	}

	direction := job.Integration.SyncDirection
	result := &models.SyncResult{Direction: direction, Provider: job.Integration.Provider}

	if direction == models.DirectionExport || direction == models.DirectionBidirectional {
		if err := r.exportReservations(ctx, ec, job, provider, budget); err != nil {
			return result, err
		}
	}
	if direction == models.DirectionImport || direction == models.DirectionBidirectional {
		if err := r.importEvents(ctx, ec, job, provider, budget); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Runner) runRosterFeed(ctx context.Context, ec *ExecContext, job Job, budget *errorBudget) (*models.SyncResult, error) {
	if r.feed == nil {
		return nil, errors.New("roster feed is not configured")
	}

	var since time.Time
	if job.Schedule.SyncType == models.SyncTypeIncremental && job.Schedule.LastRunAt != nil {
		since = *job.Schedule.LastRunAt
	}

	result := &models.SyncResult{Direction: models.DirectionImport, Provider: models.SourceRosterFeed}
	for _, kind := range job.Schedule.Config.Entities {
		if ec.Cancelled() {
			return result, ErrCancelled
		}

		records, err := r.feed.FetchRecords(ctx, kind, since)
		ec.Metric(func(m *models.SyncMetrics) { m.APICalls++ })
		if err != nil {
			return result, fmt.Errorf("fetch %s from roster feed: %w", kind, err)
		}

		if err := r.importRecords(ctx, ec, job, kind, records, budget); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Runner) runBulkImport(ctx context.Context, ec *ExecContext, job Job, budget *errorBudget) (*models.SyncResult, error) {
	result := &models.SyncResult{Direction: models.DirectionImport, Provider: models.SourceBulkImport}
	if job.Kind == "" {
		return result, errors.New("bulk import requires an entity kind")
	}
	return result, r.importRecords(ctx, ec, job, job.Kind, job.Records, budget)
}

// importRecords projects the incoming records through the schedule's field
// filters and feeds them to the pipeline in batches of the configured size.
func (r *Runner) importRecords(ctx context.Context, ec *ExecContext, job Job, kind models.EntityKind, incoming []models.Record, budget *errorBudget) error {
	if len(incoming) == 0 {
		return nil
	}
	incoming = projectFields(job.Schedule.Config, kind, incoming)

	batch := job.Schedule.Config.BatchSize
	if batch <= 0 {
		batch = 100
	}
	for start := 0; start < len(incoming); start += batch {
		end := start + batch
		if end > len(incoming) {
			end = len(incoming)
		}
		if err := r.importBatch(ctx, ec, job, kind, incoming[start:end], budget); err != nil {
			return err
		}
	}
	return nil
}

// importBatch runs the full detect-then-resolve pipeline for one batch of
// incoming records and writes the clean ones.
func (r *Runner) importBatch(ctx context.Context, ec *ExecContext, job Job, kind models.EntityKind, incoming []models.Record, budget *errorBudget) error {
	existing, err := r.entities.ListRecords(ctx, job.TenantID, kind)
	if err != nil {
		return fmt.Errorf("load existing %s: %w", kind, err)
	}
	existingIDs := map[string]bool{}
	for _, rec := range existing {
		if id, ok := rec["id"].(string); ok && id != "" {
			existingIDs[id] = true
		}
	}

	detection, err := r.detector.Detect(ctx, job.TenantID, kind, incoming, existing, conflict.DetectOptions{})
	if err != nil {
		return fmt.Errorf("detect %s conflicts: %w", kind, err)
	}
	ec.Metric(func(m *models.SyncMetrics) { m.ConflictsFound += len(detection.Conflicts) })
	if len(detection.Conflicts) > 0 {
		ec.Warn(fmt.Sprintf("detected %d conflicts in %d %s records", len(detection.Conflicts), len(incoming), kind),
			map[string]any{"by_type": detection.ByType})
	}

	conflictedRows := map[int]bool{}
	for _, c := range detection.Conflicts {
		conflictedRows[c.RowIndex] = true
	}

	// Clean rows first.
	for i, rec := range incoming {
		if ec.Cancelled() {
			return ErrCancelled
		}
		if conflictedRows[i] {
			continue
		}
		ec.Metric(func(m *models.SyncMetrics) { m.RecordsProcessed++ })

		created, err := r.writeRecord(ctx, job.TenantID, kind, rec, existingIDs)
		if err != nil {
			ec.Error(fmt.Sprintf("record %d: %v", i, err), map[string]any{"entity": kind})
			ec.Metric(func(m *models.SyncMetrics) { m.RecordsErrored++ })
			if abort := budget.add(fmt.Sprintf("%s row %d: %v", kind, i, err)); abort {
				return fmt.Errorf("%w: %s", ErrTooManyFailures, kind)
			}
			continue
		}
		ec.Metric(func(m *models.SyncMetrics) {
			if created {
				m.RecordsCreated++
			} else {
				m.RecordsUpdated++
			}
		})
	}

	return r.settleConflicts(ctx, ec, job, kind, detection.Conflicts, budget)
}

// settleConflicts applies the schedule's conflict mode to the detected set.
func (r *Runner) settleConflicts(ctx context.Context, ec *ExecContext, job Job, kind models.EntityKind, conflicts []models.DataConflict, budget *errorBudget) error {
	if len(conflicts) == 0 {
		return nil
	}

	mode := job.Schedule.Config.ConflictMode
	switch mode {
	case models.ConflictModeSkip:
		ec.Metric(func(m *models.SyncMetrics) {
			m.RecordsProcessed += len(conflicts)
			m.RecordsSkipped += len(conflicts)
		})
		ec.Info(fmt.Sprintf("skipped %d conflicted %s records", len(conflicts), kind), nil)
		return nil

	case models.ConflictModeManual:
		ec.Metric(func(m *models.SyncMetrics) {
			m.RecordsProcessed += len(conflicts)
			m.ConflictsManual += len(conflicts)
		})
		ec.Warn(fmt.Sprintf("%d conflicted %s records held for manual review", len(conflicts), kind), nil)
		return nil

	default: // auto
		res := r.resolver.Resolve(ctx, conflicts, conflict.ResolveOptions{TenantID: job.TenantID})
		ec.Metric(func(m *models.SyncMetrics) {
			m.RecordsProcessed += len(conflicts)
			m.ConflictsAuto += len(res.Resolved)
			m.ConflictsManual += res.ManualReview
			m.RecordsSkipped += res.Counts[conflict.ActionSkip]
			m.RecordsUpdated += res.Counts[conflict.ActionUpdate] + res.Counts[conflict.ActionMerge] + res.Counts[conflict.ActionCustom]
			m.RecordsCreated += res.Counts[conflict.ActionCreateNew]
		})
		for _, u := range res.Unresolved {
			budget.note(fmt.Sprintf("%s conflict unresolved: %s", kind, u.Detail))
		}
		ec.Info(fmt.Sprintf("resolved %d of %d %s conflicts automatically", len(res.Resolved), len(conflicts), kind),
			map[string]any{"manual_review": res.ManualReview})
		log.Printf("🔄 Auto-resolved %d/%d %s conflicts", len(res.Resolved), len(conflicts), kind)
		return nil
	}
}

// projectFields applies the schedule's per-kind field filters. A filter
// lists the field names to keep; the id survives regardless, and kinds
// without a filter pass through whole.
func projectFields(cfg models.SyncConfiguration, kind models.EntityKind, incoming []models.Record) []models.Record {
	raw, ok := cfg.FieldFilters[string(kind)]
	if !ok {
		return incoming
	}

	keep := map[string]bool{"id": true}
	switch fields := raw.(type) {
	case []string:
		for _, f := range fields {
			keep[f] = true
		}
	case []any:
		for _, f := range fields {
			if s, ok := f.(string); ok {
				keep[s] = true
			}
		}
	default:
		return incoming
	}

	out := make([]models.Record, len(incoming))
	for i, rec := range incoming {
		projected := make(models.Record, len(keep))
		for k, v := range rec {
			if keep[k] {
				projected[k] = v
			}
		}
		out[i] = projected
	}
	return out
}

func (r *Runner) writeRecord(ctx context.Context, tenantID uuid.UUID, kind models.EntityKind, rec models.Record, existingIDs map[string]bool) (created bool, err error) {
	if id, ok := rec["id"].(string); ok && existingIDs[id] {
		patch := rec.Clone()
		delete(patch, "id")
		delete(patch, "tenant_id")
		return false, r.entities.UpdateRecord(ctx, tenantID, kind, id, patch)
	}
	payload := rec.Clone()
	delete(payload, "id")
	return true, r.entities.CreateRecord(ctx, tenantID, kind, payload)
}

// withAuthRetry runs one provider call and, when it fails with an
// authentication error, refreshes the credentials once and retries it. Any
// other failure, and a failure of the refresh itself, passes through.
func withAuthRetry(ctx context.Context, ec *ExecContext, provider adapter.Provider, call func() error) error {
	err := call()
	var perr *adapter.ProviderError
	if err == nil || !errors.As(err, &perr) || !perr.AuthFailure {
		return err
	}

	ec.Warn(fmt.Sprintf("%s: authentication failed on %s, refreshing credentials", perr.Provider, perr.Op), nil)
	if rerr := provider.RefreshCredentials(ctx); rerr != nil {
		return fmt.Errorf("refresh credentials: %w", rerr)
	}
	ec.Metric(func(m *models.SyncMetrics) { m.APICalls++ })
	return call()
}

func recordUUID(rec models.Record) (uuid.UUID, error) {
	id, _ := rec["id"].(string)
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record has no usable id: %w", err)
	}
	return parsed, nil
}

// errorBudget enforces the schedule's per-record failure policy.
type errorBudget struct {
	max    int
	policy models.OnErrorPolicy
	errors []string
}

func newErrorBudget(cfg models.ErrorHandlingConfig) *errorBudget {
	return &errorBudget{max: cfg.MaxErrors, policy: cfg.OnError}
}

// add records a failure and reports whether the job must abort.
func (b *errorBudget) add(msg string) bool {
	b.errors = append(b.errors, msg)
	if b.policy == models.OnErrorStop {
		return true
	}
	return b.max > 0 && len(b.errors) >= b.max
}

// note records a message without counting it against the budget.
func (b *errorBudget) note(msg string) {
	b.errors = append(b.errors, msg)
}
