package syncjob

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sync-service/internal/adapter"
	"sync-service/internal/conflict"
	"sync-service/pkg/models"
)

type fakeEntities struct {
	records map[models.EntityKind][]models.Record
	created []models.Record
	updated map[string]models.Record
	failOn  map[string]error
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		records: map[models.EntityKind][]models.Record{},
		updated: map[string]models.Record{},
		failOn:  map[string]error{},
	}
}

func (f *fakeEntities) ListRecords(_ context.Context, _ uuid.UUID, kind models.EntityKind) ([]models.Record, error) {
	return f.records[kind], nil
}

func (f *fakeEntities) CreateRecord(_ context.Context, _ uuid.UUID, kind models.EntityKind, rec models.Record) error {
	if email, ok := rec["email"].(string); ok {
		if err := f.failOn[email]; err != nil {
			return err
		}
	}
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeEntities) UpdateRecord(_ context.Context, _ uuid.UUID, _ models.EntityKind, id string, patch models.Record) error {
	if err := f.failOn[id]; err != nil {
		return err
	}
	f.updated[id] = patch
	return nil
}

type fakeLinks struct {
	byRecord map[string]*models.ExternalEventLink
	byEvent  map[string]*models.ExternalEventLink
	deleted  []uuid.UUID
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		byRecord: map[string]*models.ExternalEventLink{},
		byEvent:  map[string]*models.ExternalEventLink{},
	}
}

func (f *fakeLinks) put(link *models.ExternalEventLink) {
	f.byRecord[link.RecordID.String()] = link
	f.byEvent[link.EventID] = link
}

func (f *fakeLinks) GetByRecord(_ context.Context, _ uuid.UUID, _ models.EntityKind, recordID uuid.UUID) (*models.ExternalEventLink, error) {
	if link, ok := f.byRecord[recordID.String()]; ok {
		return link, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLinks) GetByEvent(_ context.Context, _ uuid.UUID, eventID string) (*models.ExternalEventLink, error) {
	if link, ok := f.byEvent[eventID]; ok {
		return link, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLinks) Save(_ context.Context, link *models.ExternalEventLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	f.put(link)
	return nil
}

func (f *fakeLinks) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	for k, v := range f.byRecord {
		if v.ID == id {
			delete(f.byRecord, k)
		}
	}
	for k, v := range f.byEvent {
		if v.ID == id {
			delete(f.byEvent, k)
		}
	}
	return nil
}

type fakeProvider struct {
	events  []adapter.Event
	created []adapter.Event
	updated map[string]adapter.Event
	deleted []string
	nextID  int
	// expiredCalls makes that many leading calls fail with an auth error.
	expiredCalls int
	refreshes    int
}

func (f *fakeProvider) authError(op string) error {
	if f.expiredCalls > 0 {
		f.expiredCalls--
		return &adapter.ProviderError{
			Provider:    models.SourceGoogleCalendar,
			Op:          op,
			Err:         errors.New("invalid_grant"),
			AuthFailure: true,
		}
	}
	return nil
}

func newFakeProvider(events ...adapter.Event) *fakeProvider {
	return &fakeProvider{events: events, updated: map[string]adapter.Event{}}
}

func (f *fakeProvider) Name() models.SyncSource { return models.SourceGoogleCalendar }

func (f *fakeProvider) ListEvents(context.Context, string, adapter.TimeRange) ([]adapter.Event, error) {
	if err := f.authError("list_events"); err != nil {
		return nil, err
	}
	return f.events, nil
}

func (f *fakeProvider) CreateEvent(_ context.Context, _ string, ev adapter.Event) (string, error) {
	if err := f.authError("create_event"); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("ev-%d", f.nextID)
	ev.ID = id
	f.created = append(f.created, ev)
	return id, nil
}

func (f *fakeProvider) UpdateEvent(_ context.Context, _ string, eventID string, ev adapter.Event) error {
	f.updated[eventID] = ev
	return nil
}

func (f *fakeProvider) DeleteEvent(_ context.Context, _ string, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeProvider) RefreshCredentials(context.Context) error {
	f.refreshes++
	return nil
}

type fakeFeed struct {
	records   map[models.EntityKind][]models.Record
	lastSince time.Time
}

func (f *fakeFeed) FetchRecords(_ context.Context, kind models.EntityKind, since time.Time) ([]models.Record, error) {
	f.lastSince = since
	return f.records[kind], nil
}

func newTestRunner(entities *fakeEntities, links *fakeLinks, feed RecordFeed) *Runner {
	registry := conflict.NewRegistry()
	conflict.RegisterDefaults(registry)
	detector := conflict.NewDetector(nil)
	resolver := conflict.NewResolver(registry, entities)
	return NewRunner(adapter.NewRegistry(), links, entities, detector, resolver, feed)
}

func bulkSchedule(mode models.ConflictMode, errHandling models.ErrorHandlingConfig) *models.SyncSchedule {
	return &models.SyncSchedule{
		ID:            uuid.New(),
		TenantID:      uuid.New(),
		Name:          "bulk import",
		Source:        models.SourceBulkImport,
		SyncType:      models.SyncTypeFull,
		Config:        models.SyncConfiguration{Entities: []models.EntityKind{models.KindUsers}, ConflictMode: mode},
		ErrorHandling: errHandling,
	}
}

func TestRunBulkImportCreatesCleanRecords(t *testing.T) {
	entities := newFakeEntities()
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{})

	ec := NewExecContext(uuid.New())
	result, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "ada", "email": "ada@club.test", "role": "member"},
			{"username": "bob", "email": "bob@club.test", "role": "member"},
		},
	})
	require.NoError(t, err)

	assert.Len(t, entities.created, 2)
	assert.Equal(t, 2, result.Metrics.RecordsCreated)
	assert.Equal(t, 2, result.Metrics.RecordsProcessed)
	assert.Zero(t, result.Metrics.ConflictsFound)
}

func TestRunBulkImportSkipModeHoldsConflictedRows(t *testing.T) {
	entities := newFakeEntities()
	entities.records[models.KindUsers] = []models.Record{
		{"id": uuid.NewString(), "username": "ada", "email": "ada@club.test", "role": "member"},
	}
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeSkip, models.ErrorHandlingConfig{})

	ec := NewExecContext(uuid.New())
	result, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "ada2", "email": "ada@club.test", "role": "member"}, // duplicate email
			{"username": "carol", "email": "carol@club.test", "role": "member"},
		},
	})
	require.NoError(t, err)

	require.Len(t, entities.created, 1)
	assert.Equal(t, "carol", entities.created[0]["username"])
	assert.Equal(t, 1, result.Metrics.ConflictsFound)
	assert.Equal(t, 1, result.Metrics.RecordsSkipped)
}

func TestRunBulkImportAutoModeMergesDuplicates(t *testing.T) {
	existingID := uuid.NewString()
	entities := newFakeEntities()
	entities.records[models.KindUsers] = []models.Record{
		{"id": existingID, "username": "ada", "email": "ada@club.test", "role": "member"},
	}
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{})

	ec := NewExecContext(uuid.New())
	result, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "ada", "email": "ada@club.test", "role": "member", "phone": "+4912345"},
		},
	})
	require.NoError(t, err)

	patch, ok := entities.updated[existingID]
	require.True(t, ok, "duplicate should be merged into the existing row")
	assert.Equal(t, "+4912345", patch["phone"])
	assert.Equal(t, 1, result.Metrics.ConflictsAuto)
	assert.Empty(t, entities.created)
}

func TestRunBulkImportAppliesFieldFilters(t *testing.T) {
	entities := newFakeEntities()
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{})
	schedule.Config.FieldFilters = map[string]any{
		"users": []any{"username", "email", "role"},
	}

	ec := NewExecContext(uuid.New())
	_, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "ada", "email": "ada@club.test", "role": "member", "shoe_size": 42},
		},
	})
	require.NoError(t, err)

	require.Len(t, entities.created, 1)
	assert.Equal(t, "ada", entities.created[0]["username"])
	_, leaked := entities.created[0]["shoe_size"]
	assert.False(t, leaked, "unlisted fields must be dropped")
}

func TestRunBulkImportBatchesByConfiguredSize(t *testing.T) {
	existingID := uuid.NewString()
	entities := newFakeEntities()
	entities.records[models.KindUsers] = []models.Record{
		{"id": existingID, "username": "ada", "email": "ada@club.test", "role": "member"},
	}
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{})
	schedule.Config.BatchSize = 2

	ec := NewExecContext(uuid.New())
	result, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "bob", "email": "bob@club.test", "role": "member"},
			{"username": "carol", "email": "carol@club.test", "role": "member"},
			{"username": "dave", "email": "dave@club.test", "role": "member"},
			{"username": "erin", "email": "erin@club.test", "role": "member"},
			// Conflicts in a later batch are still caught.
			{"username": "ada2", "email": "ada@club.test", "role": "member"},
		},
	})
	require.NoError(t, err)

	assert.Len(t, entities.created, 4)
	assert.Equal(t, 1, result.Metrics.ConflictsFound)
	_, merged := entities.updated[existingID]
	assert.True(t, merged, "duplicate in the last batch is merged")
	assert.Equal(t, 5, result.Metrics.RecordsProcessed)
}

func TestRunStopsWhenErrorBudgetExhausted(t *testing.T) {
	entities := newFakeEntities()
	entities.failOn["bad1@club.test"] = errors.New("db down")
	entities.failOn["bad2@club.test"] = errors.New("db down")
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{
		MaxErrors: 2,
		OnError:   models.OnErrorContinue,
	})

	ec := NewExecContext(uuid.New())
	result, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "b1", "email": "bad1@club.test", "role": "member"},
			{"username": "b2", "email": "bad2@club.test", "role": "member"},
			{"username": "ok", "email": "ok@club.test", "role": "member"},
		},
	})
	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.Len(t, result.Errors, 2)
	assert.Empty(t, entities.created, "run should abort before the clean record")
}

func TestRunStopPolicyAbortsOnFirstError(t *testing.T) {
	entities := newFakeEntities()
	entities.failOn["bad@club.test"] = errors.New("db down")
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{OnError: models.OnErrorStop})

	ec := NewExecContext(uuid.New())
	_, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records: []models.Record{
			{"username": "b", "email": "bad@club.test", "role": "member"},
			{"username": "ok", "email": "ok@club.test", "role": "member"},
		},
	})
	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.Empty(t, entities.created)
}

func TestRunRosterFeedUsesIncrementalWatermark(t *testing.T) {
	entities := newFakeEntities()
	feed := &fakeFeed{records: map[models.EntityKind][]models.Record{
		models.KindUsers: {{"username": "ada", "email": "ada@club.test", "role": "member"}},
	}}
	runner := newTestRunner(entities, newFakeLinks(), feed)

	lastRun := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	schedule := &models.SyncSchedule{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Source:    models.SourceRosterFeed,
		SyncType:  models.SyncTypeIncremental,
		LastRunAt: &lastRun,
		Config:    models.SyncConfiguration{Entities: []models.EntityKind{models.KindUsers}, ConflictMode: models.ConflictModeAuto},
	}

	ec := NewExecContext(uuid.New())
	result, err := runner.Run(context.Background(), ec, Job{TenantID: schedule.TenantID, Schedule: schedule})
	require.NoError(t, err)

	assert.Equal(t, lastRun, feed.lastSince)
	assert.Len(t, entities.created, 1)
	assert.Equal(t, models.DirectionImport, result.Direction)
	assert.Equal(t, 1, result.Metrics.APICalls)
}

func calendarFixture(direction models.SyncDirection) (*models.SyncSchedule, *models.CalendarIntegration) {
	tenantID := uuid.New()
	schedule := &models.SyncSchedule{
		ID:       uuid.New(),
		TenantID: tenantID,
		Source:   models.SourceGoogleCalendar,
		Config:   models.SyncConfiguration{ConflictMode: models.ConflictModeAuto},
	}
	integration := &models.CalendarIntegration{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Provider:      models.SourceGoogleCalendar,
		SyncDirection: direction,
		Settings: models.SyncSettings{
			EventPrefix: "ClubSync: ",
			CalendarID:  "primary",
			WindowDays:  30,
			EntityFilters: map[string]any{
				"fieldId": uuid.NewString(),
			},
		},
	}
	return schedule, integration
}

func upcomingReservation(daysAhead int) models.Record {
	date := time.Now().UTC().AddDate(0, 0, daysAhead).Format("2006-01-02")
	return models.Record{
		"id":        uuid.NewString(),
		"fieldId":   uuid.NewString(),
		"title":     "Training A",
		"date":      date,
		"startTime": "18:00",
		"endTime":   "19:30",
		"status":    "confirmed",
	}
}

func TestExportCreatesEventAndLink(t *testing.T) {
	entities := newFakeEntities()
	entities.records[models.KindReservations] = []models.Record{upcomingReservation(3)}
	links := newFakeLinks()
	runner := newTestRunner(entities, links, nil)
	schedule, integration := calendarFixture(models.DirectionExport)

	provider := newFakeProvider()
	budget := newErrorBudget(schedule.ErrorHandling)
	ec := NewExecContext(uuid.New())
	err := runner.exportReservations(context.Background(), ec, Job{
		TenantID:    schedule.TenantID,
		Schedule:    schedule,
		Integration: integration,
	}, provider, budget)
	require.NoError(t, err)

	require.Len(t, provider.created, 1)
	assert.Equal(t, "ClubSync: Training A", provider.created[0].Title)
	assert.Len(t, links.byEvent, 1)

	_, metrics := ec.Snapshot()
	assert.Equal(t, 1, metrics.RecordsCreated)
	assert.Equal(t, 1, metrics.APICalls)
}

func TestExportSkipsUnchangedReservation(t *testing.T) {
	entities := newFakeEntities()
	entities.records[models.KindReservations] = []models.Record{upcomingReservation(3)}
	links := newFakeLinks()
	runner := newTestRunner(entities, links, nil)
	schedule, integration := calendarFixture(models.DirectionExport)
	job := Job{TenantID: schedule.TenantID, Schedule: schedule, Integration: integration}

	provider := newFakeProvider()
	require.NoError(t, runner.exportReservations(context.Background(), NewExecContext(uuid.New()), job, provider, newErrorBudget(schedule.ErrorHandling)))
	require.Len(t, provider.created, 1)

	// Second pass with nothing changed: no provider writes at all.
	ec := NewExecContext(uuid.New())
	require.NoError(t, runner.exportReservations(context.Background(), ec, job, provider, newErrorBudget(schedule.ErrorHandling)))
	assert.Len(t, provider.created, 1)
	assert.Empty(t, provider.updated)

	_, metrics := ec.Snapshot()
	assert.Equal(t, 1, metrics.RecordsSkipped)
}

func TestExportDeletesEventForCancelledReservation(t *testing.T) {
	rec := upcomingReservation(3)
	rec["status"] = "cancelled"
	entities := newFakeEntities()
	entities.records[models.KindReservations] = []models.Record{rec}

	links := newFakeLinks()
	schedule, integration := calendarFixture(models.DirectionExport)
	recordID := uuid.MustParse(rec["id"].(string))
	links.put(&models.ExternalEventLink{
		ID:            uuid.New(),
		IntegrationID: integration.ID,
		EntityKind:    models.KindReservations,
		RecordID:      recordID,
		EventID:       "ev-old",
	})

	runner := newTestRunner(entities, links, nil)
	provider := newFakeProvider()
	err := runner.exportReservations(context.Background(), NewExecContext(uuid.New()), Job{
		TenantID:    schedule.TenantID,
		Schedule:    schedule,
		Integration: integration,
	}, provider, newErrorBudget(schedule.ErrorHandling))
	require.NoError(t, err)

	assert.Equal(t, []string{"ev-old"}, provider.deleted)
	assert.Empty(t, links.byEvent)
}

func TestExportRefreshesCredentialsOnAuthFailure(t *testing.T) {
	entities := newFakeEntities()
	entities.records[models.KindReservations] = []models.Record{upcomingReservation(3)}
	links := newFakeLinks()
	runner := newTestRunner(entities, links, nil)
	schedule, integration := calendarFixture(models.DirectionExport)

	provider := newFakeProvider()
	provider.expiredCalls = 1
	ec := NewExecContext(uuid.New())
	err := runner.exportReservations(context.Background(), ec, Job{
		TenantID:    schedule.TenantID,
		Schedule:    schedule,
		Integration: integration,
	}, provider, newErrorBudget(schedule.ErrorHandling))
	require.NoError(t, err)

	assert.Equal(t, 1, provider.refreshes, "one refresh per auth failure")
	require.Len(t, provider.created, 1, "failed call is retried after the refresh")

	_, metrics := ec.Snapshot()
	assert.Zero(t, metrics.RecordsErrored)
}

func TestImportRefreshesCredentialsOnAuthFailure(t *testing.T) {
	start := time.Now().UTC().AddDate(0, 0, 2).Truncate(time.Hour)
	entities := newFakeEntities()
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule, integration := calendarFixture(models.DirectionImport)

	provider := newFakeProvider(
		adapter.Event{ID: "theirs", Title: "Dentist", Start: start, End: start.Add(time.Hour)},
	)
	provider.expiredCalls = 1
	err := runner.importEvents(context.Background(), NewExecContext(uuid.New()), Job{
		TenantID:    schedule.TenantID,
		Schedule:    schedule,
		Integration: integration,
	}, provider, newErrorBudget(schedule.ErrorHandling))
	require.NoError(t, err)

	assert.Equal(t, 1, provider.refreshes)
	assert.Len(t, entities.created, 1)
}

func TestImportSkipsSystemAuthoredEvents(t *testing.T) {
	start := time.Now().UTC().AddDate(0, 0, 2).Truncate(time.Hour)
	entities := newFakeEntities()
	links := newFakeLinks()
	runner := newTestRunner(entities, links, nil)
	schedule, integration := calendarFixture(models.DirectionImport)

	provider := newFakeProvider(
		adapter.Event{ID: "mine", Title: "ClubSync: Training A", Start: start, End: start.Add(time.Hour)},
		adapter.Event{ID: "theirs", Title: "Dentist", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	)
	ec := NewExecContext(uuid.New())
	err := runner.importEvents(context.Background(), ec, Job{
		TenantID:    schedule.TenantID,
		Schedule:    schedule,
		Integration: integration,
	}, provider, newErrorBudget(schedule.ErrorHandling))
	require.NoError(t, err)

	require.Len(t, entities.created, 1)
	assert.Equal(t, "Dentist", entities.created[0]["title"])
	assert.Len(t, links.byEvent, 1)

	_, metrics := ec.Snapshot()
	assert.Equal(t, 1, metrics.RecordsSkipped)
	assert.Equal(t, 1, metrics.RecordsCreated)
}

func TestImportUpdatesLinkedReservation(t *testing.T) {
	start := time.Now().UTC().AddDate(0, 0, 2).Truncate(time.Hour)
	recordID := uuid.New()

	entities := newFakeEntities()
	links := newFakeLinks()
	schedule, integration := calendarFixture(models.DirectionImport)
	links.put(&models.ExternalEventLink{
		ID:            uuid.New(),
		IntegrationID: integration.ID,
		EntityKind:    models.KindReservations,
		RecordID:      recordID,
		EventID:       "theirs",
	})

	runner := newTestRunner(entities, links, nil)
	provider := newFakeProvider(
		adapter.Event{ID: "theirs", Title: "Dentist (moved)", Start: start, End: start.Add(time.Hour)},
	)
	err := runner.importEvents(context.Background(), NewExecContext(uuid.New()), Job{
		TenantID:    schedule.TenantID,
		Schedule:    schedule,
		Integration: integration,
	}, provider, newErrorBudget(schedule.ErrorHandling))
	require.NoError(t, err)

	patch, ok := entities.updated[recordID.String()]
	require.True(t, ok)
	assert.Equal(t, "Dentist (moved)", patch["title"])
	assert.Empty(t, entities.created)
}

func TestRunRespectsCancellation(t *testing.T) {
	entities := newFakeEntities()
	runner := newTestRunner(entities, newFakeLinks(), nil)
	schedule := bulkSchedule(models.ConflictModeAuto, models.ErrorHandlingConfig{})

	ec := NewExecContext(uuid.New())
	ec.Cancel()
	_, err := runner.Run(context.Background(), ec, Job{
		TenantID: schedule.TenantID,
		Schedule: schedule,
		Kind:     models.KindUsers,
		Records:  []models.Record{{"username": "ada", "email": "ada@club.test", "role": "member"}},
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, entities.created)
}
