package engine

import (
	"errors"
	"fmt"
)

// ErrRunInterrupted is returned by Run when the run ended because of a
// user-requested interrupt (signal, Interrupt call or context cancellation).
// The run's RunStop carries exit_status "abort". This is not a defect.
var ErrRunInterrupted = errors.New("run interrupted")

// PanicStateError reports that the engine-wide panic flag was set.
//
// Returned by Run without emitting any document when the flag is already set
// at start, and after RunStop (exit_status "fail") when it is set mid-run.
type PanicStateError struct {
	// RunUID is the affected run, empty when the run was refused.
	RunUID string
}

func (e *PanicStateError) Error() string {
	if e.RunUID == "" {
		return "engine is in panic state: run refused"
	}
	return fmt.Sprintf("engine entered panic state during run %s", e.RunUID)
}

// IsPanicStateError returns true if err is a PanicStateError.
// Uses errors.As to handle wrapped errors.
func IsPanicStateError(err error) bool {
	var pe *PanicStateError
	return errors.As(err, &pe)
}

// RuntimeError represents an instruction the engine could not execute.
//
// Runtime errors include:
//   - Unknown command: no core or registered handler for the command
//   - Missing capability: target lacks Readable/Settable/Triggerable
//   - Missing target: a device command without a device
//   - Bad argument: wrong argument type or value
//
// Device and plan errors are not RuntimeErrors; they are wrapped and passed
// through unchanged so callers can match them with errors.Is.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunUID identifies the affected run.
	RunUID string

	// Command is the instruction's command, if any.
	Command string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownCommand indicates no handler exists for a command.
	ErrCodeUnknownCommand RuntimeErrorCode = "UNKNOWN_COMMAND"

	// ErrCodeMissingCapability indicates the target lacks a required capability.
	ErrCodeMissingCapability RuntimeErrorCode = "MISSING_CAPABILITY"

	// ErrCodeMissingTarget indicates a device command had no target.
	ErrCodeMissingTarget RuntimeErrorCode = "MISSING_TARGET"

	// ErrCodeBadArgument indicates a malformed instruction argument.
	ErrCodeBadArgument RuntimeErrorCode = "BAD_ARGUMENT"

	// ErrCodePlanPanic indicates the plan body panicked.
	ErrCodePlanPanic RuntimeErrorCode = "PLAN_PANIC"

	// ErrCodeHandlerPanic indicates a handler or device panicked.
	ErrCodeHandlerPanic RuntimeErrorCode = "HANDLER_PANIC"

	// ErrCodeQueueFull indicates a document could not be queued in time.
	ErrCodeQueueFull RuntimeErrorCode = "QUEUE_FULL"

	// ErrCodeEngineBusy indicates a run was started while another was active.
	ErrCodeEngineBusy RuntimeErrorCode = "ENGINE_BUSY"

	// ErrCodeCoreCommand indicates an attempt to replace a core command.
	ErrCodeCoreCommand RuntimeErrorCode = "CORE_COMMAND"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.RunUID != "" && e.Command != "" {
		return fmt.Sprintf("%s: %s (run=%s, command=%s)", e.Code, e.Message, e.RunUID, e.Command)
	}
	if e.Command != "" {
		return fmt.Sprintf("%s: %s (command=%s)", e.Code, e.Message, e.Command)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode returns true if err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsInterrupted returns true if the run ended by user request.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrRunInterrupted)
}

func newRuntimeError(code RuntimeErrorCode, command, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Command: command,
	}
}
