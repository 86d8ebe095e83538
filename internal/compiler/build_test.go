package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runengine/internal/device"
	"github.com/roach88/runengine/internal/device/sim"
	"github.com/roach88/runengine/internal/plan"
)

func TestBuild(t *testing.T) {
	spec := &PlanSpec{
		Name: "build",
		Devices: []DeviceSpec{
			{Name: "det", Kind: sim.KindDetector, Follows: "m"},
			{Name: "m", Kind: sim.KindMotor},
		},
		Steps: []StepSpec{
			{Command: plan.CmdCreate},
			{Command: plan.CmdSet, Device: "m", Values: map[string]any{"x": 2}},
			{Command: plan.CmdTrigger, Device: "m", Group: "g"},
			{Command: plan.CmdWait, Group: "g"},
			{Command: plan.CmdRead, Device: "det"},
			{Command: plan.CmdSave},
			{Command: plan.CmdSleep},
			{Command: plan.CmdNull},
			{Command: "home", Device: "m", Args: []any{1}},
		},
	}

	p, devices, err := spec.Build()
	require.NoError(t, err)
	defer p.Close()

	require.Contains(t, devices, "m")
	require.Contains(t, devices, "det")
	assert.IsType(t, &sim.Motor{}, devices["m"])

	var got []plan.Instruction
	for {
		ins, err := p.Next(context.Background(), nil)
		if err != nil {
			require.ErrorIs(t, err, plan.ErrExhausted)
			break
		}
		got = append(got, ins)
	}
	require.Len(t, got, 9)
	assert.Equal(t, "set(m, map[x:2])", got[1].String())
	assert.Equal(t, "trigger(m, block_group=g)", got[2].String())
	assert.Equal(t, "wait(g)", got[3].String())
	assert.Equal(t, devices["det"], got[4].Target)
	assert.Equal(t, plan.Command("home"), got[8].Command)
	assert.Equal(t, []any{1}, got[8].Args)
}

func TestBuildUnknownDevice(t *testing.T) {
	spec := &PlanSpec{
		Name:  "bad",
		Steps: []StepSpec{{Command: plan.CmdRead, Device: "ghost"}},
	}
	_, _, err := spec.Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildBadDeviceKind(t *testing.T) {
	spec := &PlanSpec{
		Name:    "bad",
		Devices: []DeviceSpec{{Name: "x", Kind: "laser"}},
	}
	_, _, err := spec.Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "laser")
}

func TestInstructionsWithSuppliedDevices(t *testing.T) {
	spec := &PlanSpec{
		Name:  "supplied",
		Steps: []StepSpec{{Command: plan.CmdRead, Device: "det"}},
	}
	det := sim.NewDetector("det", 0)

	ins, err := spec.Instructions(map[string]device.Device{"det": det})
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.Same(t, det, ins[0].Target)
}
