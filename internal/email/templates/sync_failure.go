package templates

import (
	_ "embed"
	"html/template"
	"strings"
	"time"
)

//go:embed sync_failure.html
var syncFailureHTML string

var syncFailureTmpl = template.Must(template.New("sync_failure").Parse(syncFailureHTML))

type SyncFailureData struct {
	ScheduleName string
	Provider     string
	FailedAt     string
	ErrorMessage string
	Errors       []string // per-record errors, already truncated by the caller
	WillRetry    bool
	Year         int
}

func RenderSyncFailure(data SyncFailureData) (string, error) {
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	var sb strings.Builder
	if err := syncFailureTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
