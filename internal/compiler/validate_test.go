package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runengine/internal/device/sim"
	"github.com/roach88/runengine/internal/plan"
)

func validSpec() *PlanSpec {
	return &PlanSpec{
		Name: "scan",
		Devices: []DeviceSpec{
			{Name: "m", Kind: sim.KindMotor},
			{Name: "det", Kind: sim.KindDetector, Follows: "m"},
		},
		Steps: []StepSpec{
			{Command: plan.CmdCreate},
			{Command: plan.CmdSet, Device: "m", Values: map[string]any{"x": 1}},
			{Command: plan.CmdTrigger, Device: "m", Group: "g"},
			{Command: plan.CmdTrigger, Device: "det", Group: "g"},
			{Command: plan.CmdWait, Group: "g"},
			{Command: plan.CmdRead, Device: "det"},
			{Command: plan.CmdRead, Device: "m"},
			{Command: plan.CmdSave},
			{Command: plan.CmdSleep, Duration: time.Millisecond},
			{Command: plan.CmdNull},
		},
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidatePlanValid(t *testing.T) {
	errs := Validate(validSpec())
	assert.Empty(t, errs, "valid plan should have no errors")
}

func TestValidatePlanMissingName(t *testing.T) {
	spec := validSpec()
	spec.Name = "  "

	errs := Validate(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrPlanNameEmpty, errs[0].Code)
	assert.Equal(t, "name", errs[0].Field)
}

func TestValidatePlanNoSteps(t *testing.T) {
	spec := validSpec()
	spec.Steps = nil

	assert.Equal(t, []string{ErrPlanNoSteps}, codes(Validate(spec)))
}

func TestValidatePlanDevices(t *testing.T) {
	tests := []struct {
		name string
		dev  DeviceSpec
		code string
	}{
		{"unknown kind", DeviceSpec{Name: "l", Kind: "laser"}, ErrUnknownDeviceKind},
		{"duplicate axis", DeviceSpec{Name: "xy", Kind: sim.KindMotor, Axes: []string{"x", "x"}}, ErrDuplicateAxis},
		{"follows unknown", DeviceSpec{Name: "d", Kind: sim.KindDetector, Follows: "ghost"}, ErrInvalidFollows},
		{"follows detector", DeviceSpec{Name: "d", Kind: sim.KindDetector, Follows: "det"}, ErrInvalidFollows},
		{"negative move time", DeviceSpec{Name: "n", Kind: sim.KindMotor, MoveTime: -time.Second}, ErrNegativeDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			spec.Devices = append(spec.Devices, tt.dev)

			assert.Equal(t, []string{tt.code}, codes(Validate(spec)))
		})
	}
}

func TestValidatePlanSteps(t *testing.T) {
	tests := []struct {
		name string
		step StepSpec
		code string
	}{
		{"unknown command", StepSpec{Command: "teleport"}, ErrUnknownCommand},
		{"undeclared device", StepSpec{Command: plan.CmdRead, Device: "ghost"}, ErrUnknownDevice},
		{"read without device", StepSpec{Command: plan.CmdRead}, ErrMissingTarget},
		{"set on detector", StepSpec{Command: plan.CmdSet, Device: "det", Values: map[string]any{"x": 1}}, ErrMissingCapability},
		{"set without values", StepSpec{Command: plan.CmdSet, Device: "m"}, ErrInvalidSetValues},
		{"set unknown axis", StepSpec{Command: plan.CmdSet, Device: "m", Values: map[string]any{"theta": 1}}, ErrInvalidSetValues},
		{"wait without group", StepSpec{Command: plan.CmdWait}, ErrMissingGroup},
		{"wait never triggered", StepSpec{Command: plan.CmdWait, Group: "other"}, ErrWaitNeverTrigger},
		{"negative sleep", StepSpec{Command: plan.CmdSleep, Duration: -time.Second}, ErrNegativeDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.step.Line = 42
			spec.Steps = append(spec.Steps, tt.step)

			errs := Validate(spec)
			require.Len(t, errs, 1, "%v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, 42, errs[0].Line)
			assert.Contains(t, errs[0].Field, "steps[10]")
		})
	}
}

func TestValidatePlanWaitBeforeTrigger(t *testing.T) {
	spec := validSpec()
	spec.Steps = append([]StepSpec{{Command: plan.CmdWait, Group: "g"}}, spec.Steps...)

	assert.Equal(t, []string{ErrWaitNeverTrigger}, codes(Validate(spec)))
}

func TestValidatePlanExtraCommands(t *testing.T) {
	spec := validSpec()
	spec.Steps = append(spec.Steps, StepSpec{Command: "home", Device: "m"})

	assert.Equal(t, []string{ErrUnknownCommand}, codes(Validate(spec)))
	assert.Empty(t, Validate(spec, "home"))
}

func TestValidatePlanMultiAxisMotor(t *testing.T) {
	spec := validSpec()
	spec.Devices[0].Axes = []string{"x", "y"}
	spec.Steps[1].Values = map[string]any{"x": 1, "y": 2}

	assert.Empty(t, Validate(spec))
}

func TestValidatePlanCollectsAllErrors(t *testing.T) {
	spec := &PlanSpec{
		Devices: []DeviceSpec{{Name: "l", Kind: "laser"}},
		Steps: []StepSpec{
			{Command: plan.CmdRead},
			{Command: plan.CmdWait, Group: "g"},
		},
	}

	assert.Equal(t, []string{
		ErrPlanNameEmpty, ErrUnknownDeviceKind, ErrMissingTarget, ErrWaitNeverTrigger,
	}, codes(Validate(spec)))
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "steps[0].cmd", Message: "unknown command", Code: ErrUnknownCommand, Line: 3}
	assert.Equal(t, "[E210] line 3: steps[0].cmd: unknown command", err.Error())

	err.Line = 0
	assert.Equal(t, "[E210] steps[0].cmd: unknown command", err.Error())
}
