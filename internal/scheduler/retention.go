package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

const purgeBatchSize = 200

// janitor archives and purges executions past the retention window, once a
// day for the life of the scheduler.
func (s *Scheduler) janitor() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.clock.After(24 * time.Hour):
			s.purgeExpired(context.Background())
		}
	}
}

// purgeExpired moves finished executions older than the retention window to
// the archive and deletes them. Rows that fail to archive are kept and
// retried on the next pass.
func (s *Scheduler) purgeExpired(ctx context.Context) {
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -s.retentionDays)

	for {
		expired, err := s.executions.ListFinishedBefore(ctx, cutoff, purgeBatchSize)
		if err != nil {
			log.Printf("❌ Retention scan failed: %v", err)
			return
		}
		if len(expired) == 0 {
			return
		}

		var purgeable []uuid.UUID
		for i := range expired {
			exec := &expired[i]
			if s.archiver != nil {
				if err := s.archiver.ArchiveExecution(ctx, exec); err != nil {
					log.Printf("⚠️ Failed to archive execution %s: %v", exec.ID, err)
					continue
				}
			}
			purgeable = append(purgeable, exec.ID)
		}
		if len(purgeable) == 0 {
			return
		}
		if err := s.executions.DeleteByIDs(ctx, purgeable); err != nil {
			log.Printf("❌ Failed to purge executions: %v", err)
			return
		}
		log.Printf("✅ Purged %d executions past the %d-day retention window", len(purgeable), s.retentionDays)

		if len(expired) < purgeBatchSize {
			return
		}
	}
}
