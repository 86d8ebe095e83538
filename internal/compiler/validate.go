package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/runengine/internal/device/sim"
	"github.com/roach88/runengine/internal/plan"
)

// Validation error codes (E200-E299)
const (
	// Plan errors (E201-E202)
	ErrPlanNameEmpty = "E201" // name is required
	ErrPlanNoSteps   = "E202" // at least one step required

	// Device errors (E203-E208)
	ErrUnknownDevice     = "E203" // step references an undeclared device
	ErrUnknownDeviceKind = "E204" // kind is not motor or detector
	ErrMissingCapability = "E205" // device kind cannot perform the command
	ErrMissingTarget     = "E206" // device command without a device
	ErrDuplicateAxis     = "E207" // motor declares an axis twice
	ErrInvalidFollows    = "E208" // detector follows an unknown device or a non-motor

	// Step errors (E209-E213)
	ErrInvalidSetValues = "E209" // set without values, or on an unknown axis
	ErrUnknownCommand   = "E210" // not a core or allowed command
	ErrNegativeDuration = "E211" // negative sleep, move_time or exposure
	ErrWaitNeverTrigger = "E212" // wait on a group no earlier step triggers
	ErrMissingGroup     = "E213" // wait without a group
)

// ValidationError represents a plan validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// capability names the device capability a core command needs.
var capability = map[plan.Command]string{
	plan.CmdRead:    "readable",
	plan.CmdSet:     "settable",
	plan.CmdTrigger: "triggerable",
}

// kindCapabilities lists what each simulated kind can do.
var kindCapabilities = map[string][]string{
	sim.KindMotor:    {"readable", "settable", "triggerable", "mover"},
	sim.KindDetector: {"readable", "triggerable", "mover"},
}

// Validate checks a compiled plan against the engine's rules.
// Returns all errors found (does not fail-fast). Commands in extra are
// accepted in addition to the core commands.
func Validate(spec *PlanSpec, extra ...plan.Command) []ValidationError {
	var errs []ValidationError

	// E201: name is required
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrPlanNameEmpty,
		})
	}

	// E202: at least one step
	if len(spec.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "at least one step is required",
			Code:    ErrPlanNoSteps,
		})
	}

	devices := make(map[string]DeviceSpec, len(spec.Devices))
	for _, d := range spec.Devices {
		devices[d.Name] = d
	}
	for _, d := range spec.Devices {
		errs = append(errs, validateDevice(d, devices)...)
	}

	triggered := make(map[string]bool)
	for i, s := range spec.Steps {
		errs = append(errs, validateStep(i, s, devices, triggered, extra)...)
		if s.Command == plan.CmdTrigger && s.Group != "" {
			triggered[s.Group] = true
		}
	}

	return errs
}

func validateDevice(d DeviceSpec, devices map[string]DeviceSpec) []ValidationError {
	var errs []ValidationError
	field := "devices." + d.Name

	// E204: kind must be known
	if _, ok := kindCapabilities[d.Kind]; !ok {
		errs = append(errs, ValidationError{
			Field:   field + ".kind",
			Message: fmt.Sprintf("unknown device kind %q, must be %q or %q", d.Kind, sim.KindMotor, sim.KindDetector),
			Code:    ErrUnknownDeviceKind,
			Line:    d.Line,
		})
	}

	// E207: duplicate axes
	seen := make(map[string]bool, len(d.Axes))
	for _, a := range d.Axes {
		if seen[a] {
			errs = append(errs, ValidationError{
				Field:   field + ".axes",
				Message: fmt.Sprintf("duplicate axis %q", a),
				Code:    ErrDuplicateAxis,
				Line:    d.Line,
			})
		}
		seen[a] = true
	}

	// E208: follows must name a motor
	if d.Follows != "" {
		target, ok := devices[d.Follows]
		switch {
		case !ok:
			errs = append(errs, ValidationError{
				Field:   field + ".follows",
				Message: fmt.Sprintf("follows unknown device %q", d.Follows),
				Code:    ErrInvalidFollows,
				Line:    d.Line,
			})
		case target.Kind != sim.KindMotor:
			errs = append(errs, ValidationError{
				Field:   field + ".follows",
				Message: fmt.Sprintf("follows %q which is a %s, not a motor", d.Follows, target.Kind),
				Code:    ErrInvalidFollows,
				Line:    d.Line,
			})
		}
	}

	// E211: durations
	if d.MoveTime < 0 || d.Exposure < 0 {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "move_time and exposure must not be negative",
			Code:    ErrNegativeDuration,
			Line:    d.Line,
		})
	}
	return errs
}

func validateStep(i int, s StepSpec, devices map[string]DeviceSpec, triggered map[string]bool, extra []plan.Command) []ValidationError {
	var errs []ValidationError
	field := fmt.Sprintf("steps[%d]", i)

	// E210: command must be core or allowed
	if !s.Command.IsCore() && !slices.Contains(extra, s.Command) {
		return append(errs, ValidationError{
			Field:   field + ".cmd",
			Message: fmt.Sprintf("unknown command %q", s.Command),
			Code:    ErrUnknownCommand,
			Line:    s.Line,
		})
	}

	var dev DeviceSpec
	var known bool
	if s.Device != "" {
		// E203: device must be declared
		dev, known = devices[s.Device]
		if !known {
			errs = append(errs, ValidationError{
				Field:   field + ".device",
				Message: fmt.Sprintf("undeclared device %q", s.Device),
				Code:    ErrUnknownDevice,
				Line:    s.Line,
			})
		}
	}

	if need, ok := capability[s.Command]; ok {
		switch {
		case s.Device == "":
			// E206: device commands need a device
			errs = append(errs, ValidationError{
				Field:   field + ".device",
				Message: fmt.Sprintf("%s requires a device", s.Command),
				Code:    ErrMissingTarget,
				Line:    s.Line,
			})
		case known && kindCapabilities[dev.Kind] != nil && !slices.Contains(kindCapabilities[dev.Kind], need):
			// E205: kind lacks the capability
			errs = append(errs, ValidationError{
				Field:   field + ".device",
				Message: fmt.Sprintf("%s %q is not %s", dev.Kind, dev.Name, need),
				Code:    ErrMissingCapability,
				Line:    s.Line,
			})
		}
	}

	switch s.Command {
	case plan.CmdSet:
		errs = append(errs, validateSetValues(field, s, dev, known)...)
	case plan.CmdWait:
		switch {
		case s.Group == "":
			// E213
			errs = append(errs, ValidationError{
				Field:   field + ".group",
				Message: "wait requires a group",
				Code:    ErrMissingGroup,
				Line:    s.Line,
			})
		case !triggered[s.Group]:
			// E212: waiting on a group nothing triggered returns at once
			errs = append(errs, ValidationError{
				Field:   field + ".group",
				Message: fmt.Sprintf("no earlier trigger uses group %q", s.Group),
				Code:    ErrWaitNeverTrigger,
				Line:    s.Line,
			})
		}
	case plan.CmdSleep:
		if s.Duration < 0 {
			// E211
			errs = append(errs, ValidationError{
				Field:   field + ".duration",
				Message: "sleep duration must not be negative",
				Code:    ErrNegativeDuration,
				Line:    s.Line,
			})
		}
	}
	return errs
}

// validateSetValues checks E209: set needs values, and motor setpoints must
// name declared axes.
func validateSetValues(field string, s StepSpec, dev DeviceSpec, known bool) []ValidationError {
	if len(s.Values) == 0 {
		return []ValidationError{{
			Field:   field + ".values",
			Message: "set requires at least one value",
			Code:    ErrInvalidSetValues,
			Line:    s.Line,
		}}
	}
	if !known || dev.Kind != sim.KindMotor {
		return nil
	}

	axes := dev.Axes
	if len(axes) == 0 {
		axes = []string{"x"}
	}
	var errs []ValidationError
	for _, k := range sortedKeys(s.Values) {
		if !slices.Contains(axes, k) {
			errs = append(errs, ValidationError{
				Field:   field + ".values." + k,
				Message: fmt.Sprintf("motor %q has no axis %q", dev.Name, k),
				Code:    ErrInvalidSetValues,
				Line:    s.Line,
			})
		}
	}
	return errs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
