package compiler

import (
	"fmt"

	"github.com/roach88/runengine/internal/device"
	"github.com/roach88/runengine/internal/device/sim"
	"github.com/roach88/runengine/internal/plan"
)

// SimSpecs converts the declared devices to simulator specs.
func (p *PlanSpec) SimSpecs() map[string]sim.Spec {
	specs := make(map[string]sim.Spec, len(p.Devices))
	for _, d := range p.Devices {
		specs[d.Name] = sim.Spec{
			Kind:     d.Kind,
			Axes:     d.Axes,
			MoveTime: d.MoveTime,
			Exposure: d.Exposure,
			Follows:  d.Follows,
			Center:   d.Center,
			Width:    d.Width,
			Peak:     d.Peak,
		}
	}
	return specs
}

// Build creates the declared simulated devices and a plan over them.
func (p *PlanSpec) Build() (plan.Plan, map[string]device.Device, error) {
	devices, err := sim.BuildAll(p.SimSpecs())
	if err != nil {
		return nil, nil, fmt.Errorf("build devices: %w", err)
	}
	ins, err := p.Instructions(devices)
	if err != nil {
		return nil, nil, err
	}
	return plan.FromList(ins...), devices, nil
}

// Instructions resolves the steps against devices.
func (p *PlanSpec) Instructions(devices map[string]device.Device) ([]plan.Instruction, error) {
	out := make([]plan.Instruction, 0, len(p.Steps))
	for i, s := range p.Steps {
		var target device.Device
		if s.Device != "" {
			dev, ok := devices[s.Device]
			if !ok {
				return nil, fmt.Errorf("steps[%d]: unknown device %q", i, s.Device)
			}
			target = dev
		}

		var ins plan.Instruction
		switch s.Command {
		case plan.CmdCreate:
			ins = plan.Create()
		case plan.CmdRead:
			ins = plan.Read(target)
		case plan.CmdSave:
			ins = plan.Save()
		case plan.CmdSet:
			ins = plan.Set(target, s.Values)
		case plan.CmdTrigger:
			ins = plan.Trigger(target, s.Group)
		case plan.CmdWait:
			ins = plan.Wait(s.Group)
		case plan.CmdSleep:
			ins = plan.Sleep(s.Duration)
		case plan.CmdNull:
			ins = plan.Null()
		default:
			ins = plan.Custom(s.Command, target, s.Args, s.Kwargs)
		}
		out = append(out, ins)
	}
	return out, nil
}
