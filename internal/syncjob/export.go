package syncjob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sync-service/internal/adapter"
	"sync-service/pkg/models"
)

const defaultWindowDays = 30

// exportReservations pushes upcoming reservations to the external calendar.
// Each reservation maps to at most one provider event through the link table;
// an unchanged content hash skips the provider call entirely.
func (r *Runner) exportReservations(ctx context.Context, ec *ExecContext, job Job, provider adapter.Provider, budget *errorBudget) error {
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
	windowEnd := now.AddDate(0, 0, windowDays)

	reservations, err := r.entities.ListRecords(ctx, job.TenantID, models.KindReservations)
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}
	fieldNames, err := r.fieldNameIndex(ctx, job)
	if err != nil {
		return fmt.Errorf("load fields: %w", err)
	}

	for i, rec := range reservations {
		if ec.Cancelled() {
			return ErrCancelled
		}

		start, end, ok := reservationTimes(rec)
		if !ok || start.Before(now) || start.After(windowEnd) {
			continue
		}
		ec.Metric(func(m *models.SyncMetrics) { m.RecordsProcessed++ })

		if err := r.exportOne(ctx, ec, job, provider, calendarID, rec, start, end, fieldNames); err != nil {
			ec.Error(fmt.Sprintf("export reservation %v: %v", rec["id"], err), nil)
			ec.Metric(func(m *models.SyncMetrics) { m.RecordsErrored++ })
			if abort := budget.add(fmt.Sprintf("export row %d: %v", i, err)); abort {
				return fmt.Errorf("%w: export", ErrTooManyFailures)
			}
		}
	}
	return nil
}

func (r *Runner) exportOne(ctx context.Context, ec *ExecContext, job Job, provider adapter.Provider, calendarID string, rec models.Record, start, end time.Time, fieldNames map[string]string) error {
	recordID, err := recordUUID(rec)
	if err != nil {
		return err
	}

	link, err := r.links.GetByRecord(ctx, job.Integration.ID, models.KindReservations, recordID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup event link: %w", err)
	}

	status, _ := rec["status"].(string)
	if status == "cancelled" {
		if link == nil {
			ec.Metric(func(m *models.SyncMetrics) { m.RecordsSkipped++ })
			return nil
		}
		err := withAuthRetry(ctx, ec, provider, func() error {
			return provider.DeleteEvent(ctx, calendarID, link.EventID)
		})
		if err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		ec.Metric(func(m *models.SyncMetrics) { m.APICalls++; m.RecordsUpdated++ })
		return r.links.Delete(ctx, link.ID)
	}

	event := buildEvent(job.Integration.Settings, rec, start, end, fieldNames)
	hash := eventHash(event)

	if link != nil {
		if link.LastSyncedHash == hash {
			ec.Metric(func(m *models.SyncMetrics) { m.RecordsSkipped++ })
			return nil
		}
		err := withAuthRetry(ctx, ec, provider, func() error {
			return provider.UpdateEvent(ctx, calendarID, link.EventID, event)
		})
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		ec.Metric(func(m *models.SyncMetrics) { m.APICalls++; m.RecordsUpdated++ })
		link.LastSyncedHash = hash
		return r.links.Save(ctx, link)
	}

	var eventID string
	err = withAuthRetry(ctx, ec, provider, func() error {
		var cerr error
		eventID, cerr = provider.CreateEvent(ctx, calendarID, event)
		return cerr
	})
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	ec.Metric(func(m *models.SyncMetrics) { m.APICalls++; m.RecordsCreated++ })
	return r.links.Save(ctx, &models.ExternalEventLink{
		TenantID:       job.TenantID,
		IntegrationID:  job.Integration.ID,
		EntityKind:     models.KindReservations,
		RecordID:       recordID,
		EventID:        eventID,
		LastSyncedHash: hash,
	})
}

func (r *Runner) fieldNameIndex(ctx context.Context, job Job) (map[string]string, error) {
	fields, err := r.entities.ListRecords(ctx, job.TenantID, models.KindFields)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(fields))
	for _, f := range fields {
		id, _ := f["id"].(string)
		name, _ := f["name"].(string)
		if id != "" {
			index[id] = name
		}
	}
	return index, nil
}

func buildEvent(settings models.SyncSettings, rec models.Record, start, end time.Time, fieldNames map[string]string) adapter.Event {
	title, _ := rec["title"].(string)
	if title == "" {
		title = "Reservation"
	}
	event := adapter.Event{
		Title:        settings.EventPrefix + title,
		Start:        start,
		End:          end,
		ReminderMins: settings.ReminderMins,
	}

	include := map[string]bool{}
	for _, f := range settings.IncludeFields {
		include[f] = true
	}
	if include["location"] {
		if fieldID, ok := rec["fieldId"].(string); ok {
			event.Location = fieldNames[fieldID]
		}
	}
	if include["description"] {
		fieldID, _ := rec["fieldId"].(string)
		event.Description = fmt.Sprintf("Field booking: %s", fieldNames[fieldID])
	}
	return event
}

// eventHash fingerprints the provider-visible content of an event so export
// can skip rewrites when nothing changed.
func eventHash(ev adapter.Event) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		ev.Title,
		ev.Start.UTC().Format(time.RFC3339),
		ev.End.UTC().Format(time.RFC3339),
		ev.Location,
		ev.Description,
		ev.ReminderMins,
	)))
	return hex.EncodeToString(sum[:])
}

// reservationTimes parses the record's date and time-of-day strings.
func reservationTimes(rec models.Record) (start, end time.Time, ok bool) {
	date, _ := rec["date"].(string)
	startStr, _ := rec["startTime"].(string)
	endStr, _ := rec["endTime"].(string)
	if date == "" || startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse("2006-01-02 15:04", date+" "+startStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse("2006-01-02 15:04", date+" "+endStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start.UTC(), end.UTC(), true
}
