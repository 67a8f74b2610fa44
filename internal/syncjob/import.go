package syncjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/internal/adapter"
	"sync-service/internal/conflict"
	"sync-service/pkg/models"
)

// importEvents pulls provider events in the sync window and turns the
// foreign ones into reservations. Events the system authored (recognized by
// the configured title prefix) are skipped, which is what breaks the
// export-import loop in bidirectional mode.
func (r *Runner) importEvents(ctx context.Context, ec *ExecContext, job Job, provider adapter.Provider, budget *errorBudget) error {
	settings := job.Integration.Settings
	calendarID := settings.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	windowDays := settings.WindowDays
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	now := time.Now().UTC()

	fieldID, ok := settings.EntityFilters["fieldId"].(string)
	if !ok || fieldID == "" {
		ec.Warn("import skipped: integration has no target field configured", nil)
		return nil
	}

	var events []adapter.Event
	err := withAuthRetry(ctx, ec, provider, func() error {
		var lerr error
		events, lerr = provider.ListEvents(ctx, calendarID, adapter.TimeRange{From: now, To: now.AddDate(0, 0, windowDays)})
		return lerr
	})
	ec.Metric(func(m *models.SyncMetrics) { m.APICalls++ })
	if err != nil {
		return fmt.Errorf("list provider events: %w", err)
	}

	type candidate struct {
		event  adapter.Event
		link   *models.ExternalEventLink
		record models.Record
	}
	var candidates []candidate

	for _, ev := range events {
		if ec.Cancelled() {
			return ErrCancelled
		}
		if ev.Cancelled || (settings.EventPrefix != "" && strings.HasPrefix(ev.Title, settings.EventPrefix)) {
			ec.Metric(func(m *models.SyncMetrics) { m.RecordsSkipped++ })
			continue
		}

		link, err := r.links.GetByEvent(ctx, job.Integration.ID, ev.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			if abort := budget.add(fmt.Sprintf("event %s: link lookup: %v", ev.ID, err)); abort {
				return fmt.Errorf("%w: import", ErrTooManyFailures)
			}
			continue
		}

		rec := models.Record{
			"fieldId":   fieldID,
			"title":     ev.Title,
			"date":      ev.Start.UTC().Format("2006-01-02"),
			"startTime": ev.Start.UTC().Format("15:04"),
			"endTime":   ev.End.UTC().Format("15:04"),
			"status":    "confirmed",
		}
		if link != nil {
			rec["id"] = link.RecordID.String()
		} else {
			rec["id"] = uuid.NewString()
		}
		candidates = append(candidates, candidate{event: ev, link: link, record: rec})
	}
	if len(candidates) == 0 {
		return nil
	}

	existing, err := r.entities.ListRecords(ctx, job.TenantID, models.KindReservations)
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}

	incoming := make([]models.Record, len(candidates))
	for i, c := range candidates {
		incoming[i] = c.record
	}
	detection, err := r.detector.Detect(ctx, job.TenantID, models.KindReservations, incoming, existing, conflict.DetectOptions{})
	if err != nil {
		return fmt.Errorf("detect import conflicts: %w", err)
	}
	ec.Metric(func(m *models.SyncMetrics) { m.ConflictsFound += len(detection.Conflicts) })

	conflictedRows := map[int]bool{}
	for _, c := range detection.Conflicts {
		conflictedRows[c.RowIndex] = true
	}

	for i, c := range candidates {
		if ec.Cancelled() {
			return ErrCancelled
		}
		if conflictedRows[i] {
			continue
		}
		ec.Metric(func(m *models.SyncMetrics) { m.RecordsProcessed++ })

		if err := r.importOne(ctx, ec, job, c.event, c.link, c.record); err != nil {
			ec.Error(fmt.Sprintf("import event %s: %v", c.event.ID, err), nil)
			ec.Metric(func(m *models.SyncMetrics) { m.RecordsErrored++ })
			if abort := budget.add(fmt.Sprintf("import event %s: %v", c.event.ID, err)); abort {
				return fmt.Errorf("%w: import", ErrTooManyFailures)
			}
		}
	}

	return r.settleConflicts(ctx, ec, job, models.KindReservations, detection.Conflicts, budget)
}

func (r *Runner) importOne(ctx context.Context, ec *ExecContext, job Job, ev adapter.Event, link *models.ExternalEventLink, rec models.Record) error {
	if link != nil {
		patch := rec.Clone()
		delete(patch, "id")
		if err := r.entities.UpdateRecord(ctx, job.TenantID, models.KindReservations, link.RecordID.String(), patch); err != nil {
			return err
		}
		ec.Metric(func(m *models.SyncMetrics) { m.RecordsUpdated++ })
		return nil
	}

	if err := r.entities.CreateRecord(ctx, job.TenantID, models.KindReservations, rec); err != nil {
		return err
	}
	ec.Metric(func(m *models.SyncMetrics) { m.RecordsCreated++ })

	recordID, err := recordUUID(rec)
	if err != nil {
		return err
	}
	return r.links.Save(ctx, &models.ExternalEventLink{
		TenantID:      job.TenantID,
		IntegrationID: job.Integration.ID,
		EntityKind:    models.KindReservations,
		RecordID:      recordID,
		EventID:       ev.ID,
	})
}
