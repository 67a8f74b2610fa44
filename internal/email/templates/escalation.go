package templates

import (
	_ "embed"
	"html/template"
	"strings"
	"time"
)

//go:embed escalation.html
var escalationHTML string

var escalationTmpl = template.Must(template.New("escalation").Parse(escalationHTML))

type EscalationData struct {
	ScheduleName        string
	Provider            string
	ConsecutiveFailures int
	LastFailureAt       string
	Year                int
}

func RenderEscalation(data EscalationData) (string, error) {
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	var sb strings.Builder
	if err := escalationTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
