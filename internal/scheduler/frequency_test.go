package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sync-service/pkg/models"
)

func TestValidateFrequency(t *testing.T) {
	valid := []models.Frequency{
		models.FrequencyManual,
		models.FrequencyHourly,
		models.FrequencyDaily,
		models.FrequencyWeekly,
		models.FrequencyMonthly,
		"*/15 * * * *",
		"0 3 * * 1",
	}
	for _, f := range valid {
		assert.NoError(t, ValidateFrequency(f), "frequency %q", f)
	}

	invalid := []models.Frequency{"", "sometimes", "61 * * * *", "* * *"}
	for _, f := range invalid {
		err := ValidateFrequency(f)
		require.Error(t, err, "frequency %q", f)
		assert.True(t, IsValidation(err))
	}
}

func TestNextRunNamedIntervals(t *testing.T) {
	from := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		freq models.Frequency
		want time.Time
	}{
		{models.FrequencyHourly, from.Add(time.Hour)},
		{models.FrequencyDaily, from.AddDate(0, 0, 1)},
		{models.FrequencyWeekly, from.AddDate(0, 0, 7)},
		{models.FrequencyMonthly, from.AddDate(0, 1, 0)},
	}
	for _, tc := range cases {
		got, err := NextRun(tc.freq, from)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "frequency %q", tc.freq)
	}
}

func TestNextRunManualNeverFires(t *testing.T) {
	got, err := NextRun(models.FrequencyManual, time.Now())
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestNextRunCronExpression(t *testing.T) {
	from := time.Date(2026, 8, 30, 10, 7, 0, 0, time.UTC)
	got, err := NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), got)

	// Monday 03:00
	got, err = NextRun("0 3 * * 1", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC), got)
}
