package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/runengine/internal/document"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0   // Successful execution
	ExitFailure      = 1   // Run failed, validation failed, or scenarios failed
	ExitCommandError = 2   // Command error (invalid paths, bad config, unloadable plan)
	ExitInterrupted  = 130 // Run aborted by an interrupt
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCodeFor maps a run's exit status to the process exit code.
func ExitCodeFor(status document.ExitStatus) int {
	switch status {
	case document.ExitSuccess:
		return ExitSuccess
	case document.ExitAbort:
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an
// ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`            // "ok" or "error"
	Data   any       `json:"data,omitempty"`    // success payload
	Error  *CLIError `json:"error,omitempty"`   // error details
	RunUID string    `json:"run_uid,omitempty"` // RunStart uid when a run took place
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E005", "E209", "BAD_ARGUMENT", ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Document writes one line for a delivered document: its canonical JSON
// with --format json, otherwise a column-aligned summary.
func (f *OutputFormatter) Document(doc document.Document) error {
	if f.Format == "json" {
		line, err := document.MarshalCanonical(doc)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(f.Writer, "%s\n", line)
		return err
	}

	var line string
	switch d := doc.(type) {
	case document.RunStart:
		line = fmt.Sprintf("start       uid=%s scan_id=%d plan=%s", d.UID, d.ScanID, d.PlanName)
	case document.EventDescriptor:
		line = fmt.Sprintf("descriptor  uid=%s keys=%s", d.UID, strings.Join(document.SortedKeys(d.DataKeys), ","))
	case document.Event:
		fields := make([]string, 0, len(d.Data))
		for _, k := range document.SortedKeys(d.Data) {
			fields = append(fields, fmt.Sprintf("%s=%v", k, d.Data[k].Value))
		}
		line = fmt.Sprintf("event       seq=%d descriptor=%s %s", d.SeqNum, d.Descriptor, strings.Join(fields, " "))
	case document.RunStop:
		line = fmt.Sprintf("stop        uid=%s exit_status=%s reason=%q", d.UID, d.ExitStatus, d.Reason)
	default:
		line = fmt.Sprintf("%-11s uid=%s", doc.Kind(), doc.DocUID())
	}
	_, err := fmt.Fprintln(f.Writer, line)
	return err
}
