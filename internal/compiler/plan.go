// Package compiler turns CUE plan files into runnable plans.
//
// A plan file declares one top-level struct:
//
//	plan: {
//		name: "scan"
//		metadata: sample: "Si"
//		devices: {
//			m:   {kind: "motor", move_time: "5ms"}
//			det: {kind: "detector", follows: "m", center: 5}
//		}
//		steps: [
//			for x in [1, 2, 3] {[
//				{cmd: "create"},
//				{cmd: "set", device: "m", values: {x: x}},
//				{cmd: "trigger", device: "m", group: "g"},
//				{cmd: "wait", group: "g"},
//				{cmd: "read", device: "det"},
//				{cmd: "save"},
//			]},
//		]
//	}
//
// Nested step lists are flattened in order, so CUE comprehensions can
// generate per-point sequences.
package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/runengine/internal/engine"
	"github.com/roach88/runengine/internal/plan"
)

// PlanSpec is a compiled plan file.
type PlanSpec struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Devices in declaration order.
	Devices []DeviceSpec `json:"devices"`
	Steps   []StepSpec   `json:"steps"`
}

// DeviceSpec declares a simulated device.
type DeviceSpec struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	Axes     []string      `json:"axes,omitempty"`
	MoveTime time.Duration `json:"move_time,omitempty"`

	Exposure time.Duration `json:"exposure,omitempty"`
	Follows  string        `json:"follows,omitempty"`
	Center   float64       `json:"center,omitempty"`
	Width    float64       `json:"width,omitempty"`
	Peak     float64       `json:"peak,omitempty"`

	Line int `json:"line,omitempty"`
}

// StepSpec is one instruction of the plan.
type StepSpec struct {
	Command plan.Command `json:"cmd"`
	Device  string       `json:"device,omitempty"`

	Values   map[string]any `json:"values,omitempty"`   // set
	Group    string         `json:"group,omitempty"`    // trigger, wait
	Duration time.Duration  `json:"duration,omitempty"` // sleep

	// Registered commands.
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`

	Line int `json:"line,omitempty"`
}

// CompilePlan parses a CUE value into a PlanSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the plan struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`plan: { ... }`)
//	spec, err := CompilePlan(v.LookupPath(cue.ParsePath("plan")))
func CompilePlan(v cue.Value) (*PlanSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.Exists() {
		return nil, &CompileError{Field: "plan", Message: "plan is required"}
	}

	spec := &PlanSpec{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{
			Field:   "name",
			Message: "name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec.Name = name

	if mdVal := v.LookupPath(cue.ParsePath("metadata")); mdVal.Exists() {
		if err := mdVal.Decode(&spec.Metadata); err != nil {
			return nil, formatCUEError(err)
		}
	}

	spec.Devices, err = parseDevices(v)
	if err != nil {
		return nil, err
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{
			Field:   "steps",
			Message: "steps are required",
			Pos:     v.Pos(),
		}
	}
	if err := parseSteps(stepsVal, &spec.Steps); err != nil {
		return nil, err
	}

	return spec, nil
}

// parseDevices extracts device declarations in source order.
func parseDevices(v cue.Value) ([]DeviceSpec, error) {
	devicesVal := v.LookupPath(cue.ParsePath("devices"))
	if !devicesVal.Exists() {
		return nil, nil // a plan may use only null/sleep
	}

	iter, err := devicesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var devices []DeviceSpec
	for iter.Next() {
		dev, err := parseDevice(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func parseDevice(name string, v cue.Value) (DeviceSpec, error) {
	dev := DeviceSpec{Name: name, Line: v.Pos().Line()}
	field := "devices." + name

	kind, err := lookupString(v, "kind")
	if err != nil {
		return dev, err
	}
	if kind == "" {
		return dev, &CompileError{Field: field + ".kind", Message: "kind is required", Pos: v.Pos()}
	}
	dev.Kind = kind

	if axesVal := v.LookupPath(cue.ParsePath("axes")); axesVal.Exists() {
		if err := axesVal.Decode(&dev.Axes); err != nil {
			return dev, formatCUEError(err)
		}
	}
	if dev.MoveTime, err = lookupDuration(v, "move_time"); err != nil {
		return dev, err
	}
	if dev.Exposure, err = lookupDuration(v, "exposure"); err != nil {
		return dev, err
	}
	if dev.Follows, err = lookupString(v, "follows"); err != nil {
		return dev, err
	}
	for _, f := range []struct {
		label string
		dst   *float64
	}{
		{"center", &dev.Center},
		{"width", &dev.Width},
		{"peak", &dev.Peak},
	} {
		fv := v.LookupPath(cue.ParsePath(f.label))
		if !fv.Exists() {
			continue
		}
		if *f.dst, err = fv.Float64(); err != nil {
			return dev, formatCUEError(err)
		}
	}
	return dev, nil
}

// parseSteps appends the steps of a (possibly nested) list to out.
func parseSteps(v cue.Value, out *[]StepSpec) error {
	iter, err := v.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		item := iter.Value()
		if item.IncompleteKind() == cue.ListKind {
			if err := parseSteps(item, out); err != nil {
				return err
			}
			continue
		}
		step, err := parseStep(item)
		if err != nil {
			return err
		}
		*out = append(*out, step)
	}
	return nil
}

func parseStep(v cue.Value) (StepSpec, error) {
	step := StepSpec{Line: v.Pos().Line()}

	cmd, err := lookupString(v, "cmd")
	if err != nil {
		return step, err
	}
	if cmd == "" {
		return step, &CompileError{Field: "steps.cmd", Message: "cmd is required", Pos: v.Pos()}
	}
	step.Command = plan.Command(cmd)

	if step.Device, err = lookupString(v, "device"); err != nil {
		return step, err
	}
	if step.Group, err = lookupString(v, "group"); err != nil {
		return step, err
	}
	if step.Duration, err = lookupDuration(v, "duration"); err != nil {
		return step, err
	}
	for _, f := range []struct {
		label string
		dst   any
	}{
		{"values", &step.Values},
		{"args", &step.Args},
		{"kwargs", &step.Kwargs},
	} {
		fv := v.LookupPath(cue.ParsePath(f.label))
		if !fv.Exists() {
			continue
		}
		if err := fv.Decode(f.dst); err != nil {
			return step, formatCUEError(err)
		}
	}
	return step, nil
}

// lookupString returns the string at label, or "" when absent.
func lookupString(v cue.Value, label string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// lookupDuration accepts a Go duration string ("5ms") or a number of
// seconds.
func lookupDuration(v cue.Value, label string) (time.Duration, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return 0, nil
	}
	var raw any
	if err := fv.Decode(&raw); err != nil {
		return 0, formatCUEError(err)
	}
	d, err := engine.ParseDuration(raw)
	if err != nil {
		return 0, &CompileError{Field: label, Message: err.Error(), Pos: fv.Pos()}
	}
	return d, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
