package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"sync-service/pkg/models"
)

// ValidateFrequency accepts the named intervals plus any standard five-field
// cron expression.
func ValidateFrequency(f models.Frequency) error {
	switch f {
	case models.FrequencyManual, models.FrequencyHourly, models.FrequencyDaily,
		models.FrequencyWeekly, models.FrequencyMonthly:
		return nil
	}
	if _, err := cron.ParseStandard(string(f)); err != nil {
		return invalid("frequency", err.Error())
	}
	return nil
}

// NextRun computes the firing after from. Manual schedules never fire on
// their own; they return the zero time.
func NextRun(f models.Frequency, from time.Time) (time.Time, error) {
	switch f {
	case models.FrequencyManual:
		return time.Time{}, nil
	case models.FrequencyHourly:
		return from.Add(time.Hour), nil
	case models.FrequencyDaily:
		return from.AddDate(0, 0, 1), nil
	case models.FrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case models.FrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	}
	spec, err := cron.ParseStandard(string(f))
	if err != nil {
		return time.Time{}, invalid("frequency", err.Error())
	}
	return spec.Next(from), nil
}
