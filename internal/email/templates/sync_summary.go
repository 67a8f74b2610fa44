package templates

import (
	_ "embed"
	"html/template"
	"strings"
	"time"
)

//go:embed sync_summary.html
var syncSummaryHTML string

var syncSummaryTmpl = template.Must(template.New("sync_summary").Parse(syncSummaryHTML))

// SyncSummaryData feeds the run-completed email.
type SyncSummaryData struct {
	ScheduleName     string
	Provider         string
	CompletedAt      string
	Duration         string
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsSkipped   int
	RecordsErrored   int
	ConflictsFound   int
	ConflictsAuto    int
	ConflictsManual  int
	Year             int // Auto-set if 0
}

func RenderSyncSummary(data SyncSummaryData) (string, error) {
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	var sb strings.Builder
	if err := syncSummaryTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
