// Package notifier turns sync run outcomes into operator notifications,
// routed to email and push per the schedule's notification settings.
package notifier

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"sync-service/internal/email/templates"
	"sync-service/pkg/models"
)

type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

type PushSender interface {
	SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Service fans one outcome out to the configured channels. A nil email or
// push sender disables that channel.
type Service struct {
	email EmailSender
	push  PushSender
}

func New(email EmailSender, push PushSender) *Service {
	return &Service{email: email, push: push}
}

func wantsChannel(nc models.NotificationConfig, channel string) bool {
	for _, c := range nc.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

func (s *Service) SyncSucceeded(ctx context.Context, schedule *models.SyncSchedule, exec *models.SyncExecution) {
	subject := fmt.Sprintf("✅ Sync completed: %s", schedule.Name)
	body, err := templates.RenderSyncSummary(summaryData(schedule, exec))
	if err != nil {
		log.Printf("❌ Failed to render sync summary email: %v", err)
		return
	}
	s.dispatch(schedule.Notifications, subject, body,
		fmt.Sprintf("%d records processed, %d conflicts", exec.Metrics.RecordsProcessed, exec.Metrics.ConflictsFound),
		map[string]string{
			"type":         "sync_completed",
			"schedule_id":  schedule.ID.String(),
			"execution_id": exec.ID.String(),
		})
}

func (s *Service) SyncFailed(ctx context.Context, schedule *models.SyncSchedule, exec *models.SyncExecution) {
	errMsg := "sync failed"
	if exec.Error != nil {
		errMsg = *exec.Error
	}
	var recordErrors []string
	if exec.Result != nil {
		recordErrors = exec.Result.Errors
		if len(recordErrors) > 10 {
			recordErrors = recordErrors[:10]
		}
	}

	subject := fmt.Sprintf("❌ Sync failed: %s", schedule.Name)
	body, err := templates.RenderSyncFailure(templates.SyncFailureData{
		ScheduleName: schedule.Name,
		Provider:     string(schedule.Source),
		FailedAt:     completedAt(exec),
		ErrorMessage: errMsg,
		Errors:       recordErrors,
		WillRetry:    schedule.ErrorHandling.OnError == models.OnErrorRetry && schedule.ErrorHandling.RetryCount > 0,
	})
	if err != nil {
		log.Printf("❌ Failed to render sync failure email: %v", err)
		return
	}
	s.dispatch(schedule.Notifications, subject, body, errMsg, map[string]string{
		"type":         "sync_failed",
		"schedule_id":  schedule.ID.String(),
		"execution_id": exec.ID.String(),
	})
}

func (s *Service) ConflictsDetected(ctx context.Context, schedule *models.SyncSchedule, exec *models.SyncExecution) {
	subject := fmt.Sprintf("⚠️ Conflicts in sync: %s", schedule.Name)
	body, err := templates.RenderSyncSummary(summaryData(schedule, exec))
	if err != nil {
		log.Printf("❌ Failed to render conflict summary email: %v", err)
		return
	}
	s.dispatch(schedule.Notifications, subject, body,
		fmt.Sprintf("%d conflicts found, %d need manual review", exec.Metrics.ConflictsFound, exec.Metrics.ConflictsManual),
		map[string]string{
			"type":          "sync_conflicts",
			"schedule_id":   schedule.ID.String(),
			"execution_id":  exec.ID.String(),
			"manual_review": strconv.Itoa(exec.Metrics.ConflictsManual),
		})
}

func (s *Service) Escalated(ctx context.Context, schedule *models.SyncSchedule, consecutiveFailures int) {
	subject := fmt.Sprintf("🚨 Sync needs attention: %s", schedule.Name)
	lastFailure := ""
	if schedule.LastRunAt != nil {
		lastFailure = schedule.LastRunAt.UTC().Format(time.RFC1123)
	}
	body, err := templates.RenderEscalation(templates.EscalationData{
		ScheduleName:        schedule.Name,
		Provider:            string(schedule.Source),
		ConsecutiveFailures: consecutiveFailures,
		LastFailureAt:       lastFailure,
	})
	if err != nil {
		log.Printf("❌ Failed to render escalation email: %v", err)
		return
	}
	s.dispatch(schedule.Notifications, subject, body,
		fmt.Sprintf("%d consecutive failures", consecutiveFailures),
		map[string]string{
			"type":        "sync_escalation",
			"schedule_id": schedule.ID.String(),
			"failures":    strconv.Itoa(consecutiveFailures),
		})
}

// dispatch sends asynchronously; notification delivery never blocks or fails
// a sync run.
func (s *Service) dispatch(nc models.NotificationConfig, subject, htmlBody, pushBody string, data map[string]string) {
	if s.email != nil && wantsChannel(nc, "email") && len(nc.Recipients) > 0 {
		recipients := nc.Recipients
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.email.Send(ctx, recipients, subject, htmlBody); err != nil {
				log.Printf("⚠️ Notification email failed: %v", err)
			}
		}()
	}
	if s.push != nil && wantsChannel(nc, "push") && len(nc.PushTokens) > 0 {
		tokens := nc.PushTokens
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.push.SendToTokens(ctx, tokens, subject, pushBody, data); err != nil {
				log.Printf("⚠️ Notification push failed: %v", err)
			}
		}()
	}
}

func summaryData(schedule *models.SyncSchedule, exec *models.SyncExecution) templates.SyncSummaryData {
	return templates.SyncSummaryData{
		ScheduleName:     schedule.Name,
		Provider:         string(schedule.Source),
		CompletedAt:      completedAt(exec),
		Duration:         (time.Duration(exec.DurationMS) * time.Millisecond).String(),
		RecordsProcessed: exec.Metrics.RecordsProcessed,
		RecordsCreated:   exec.Metrics.RecordsCreated,
		RecordsUpdated:   exec.Metrics.RecordsUpdated,
		RecordsSkipped:   exec.Metrics.RecordsSkipped,
		RecordsErrored:   exec.Metrics.RecordsErrored,
		ConflictsFound:   exec.Metrics.ConflictsFound,
		ConflictsAuto:    exec.Metrics.ConflictsAuto,
		ConflictsManual:  exec.Metrics.ConflictsManual,
	}
}

func completedAt(exec *models.SyncExecution) string {
	if exec.CompletedAt != nil {
		return exec.CompletedAt.UTC().Format(time.RFC1123)
	}
	return time.Now().UTC().Format(time.RFC1123)
}
