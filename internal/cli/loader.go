package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/runengine/internal/compiler"
)

// Command error codes (E001-E099). Plan validation codes (E200+) come from
// the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFile     = "E002" // Path is a directory
	ErrCodeConfig      = "E003" // Config or .env file invalid
	ErrCodeLoadFailed  = "E004" // CUE load or compile failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Devices or instructions could not be built
	ErrCodeWriteFailed = "E007" // File write error
)

// LoadError represents an error that occurred while loading a plan file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPlanFile loads and compiles a CUE plan file. Errors are *LoadError.
func LoadPlanFile(path string) (*compiler.PlanSpec, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("plan file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing plan file: %v", err)}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFile, Message: fmt.Sprintf("not a file: %s", path)}
	}

	spec, err := compiler.LoadPlan(path)
	if err != nil {
		loadErr := &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
		var cErr *compiler.CompileError
		if errors.As(err, &cErr) {
			loadErr.Message = fmt.Sprintf("%s: %s", cErr.Field, cErr.Message)
			loadErr.Pos = cErr.Pos
		}
		return nil, loadErr
	}
	return spec, nil
}

// loadErrorCode returns the code of a *LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// loadErrorDetails returns the source line of a *LoadError as error
// details, or nil when the position is unknown.
func loadErrorDetails(err error) any {
	var loadErr *LoadError
	if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
		return map[string]any{"file": loadErr.Pos.Filename(), "line": loadErr.Pos.Line()}
	}
	return nil
}
