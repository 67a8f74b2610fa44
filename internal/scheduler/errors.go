// Package scheduler owns the sync schedule lifecycle: validation, the timing
// wheel that fires recurring jobs, single-flight execution, retries and
// escalation, and execution history retention.
package scheduler

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a schedule is triggered while an
// execution of it is still in flight.
var ErrAlreadyRunning = errors.New("an execution for this schedule is already running")

// ErrExecutionFinished is returned when cancellation is requested for an
// execution that already reached a terminal status.
var ErrExecutionFinished = errors.New("execution already finished")

// ValidationError marks bad schedule input so the transport layer can answer
// 400 instead of 500.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a schedule validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
