package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts instructions executed by one run and enforces an
// upper bound.
//
// A plan is external code and may loop forever (a retry loop around a device
// that never settles, a generator with a missing exit condition). The quota
// turns such a run into a clean "fail" with a RunStop instead of an engine
// that never returns. A limit of zero or less disables the check.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates it against the limit.
// Returns StepsExceededError once the limit is passed.
func (q *QuotaEnforcer) Check(runUID string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &StepsExceededError{
			RunUID: runUID,
			Steps:  q.current,
			Limit:  q.maxSteps,
		}
	}
	return nil
}

// Current returns the number of steps counted so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a run executes more instructions than
// the engine's step limit. The run ends with exit_status "fail".
type StepsExceededError struct {
	RunUID string
	Steps  int
	Limit  int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded max steps quota: %d steps > %d limit",
		e.RunUID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if err is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
