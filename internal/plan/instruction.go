package plan

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/runengine/internal/device"
)

// Command names an instruction. The core commands below are always
// available; other names must be registered with the engine.
type Command string

const (
	CmdCreate  Command = "create"
	CmdRead    Command = "read"
	CmdSave    Command = "save"
	CmdSet     Command = "set"
	CmdTrigger Command = "trigger"
	CmdWait    Command = "wait"
	CmdSleep   Command = "sleep"
	CmdNull    Command = "null"
)

// CoreCommands lists the built-in commands.
var CoreCommands = []Command{
	CmdCreate, CmdRead, CmdSave, CmdSet, CmdTrigger, CmdWait, CmdSleep, CmdNull,
}

// IsCore reports whether c is a built-in command.
func (c Command) IsCore() bool {
	switch c {
	case CmdCreate, CmdRead, CmdSave, CmdSet, CmdTrigger, CmdWait, CmdSleep, CmdNull:
		return true
	}
	return false
}

// KwargBlockGroup is the keyword argument naming a trigger's block group.
const KwargBlockGroup = "block_group"

// Instruction is one unit of work for the engine. Instructions are values:
// constructors copy their inputs and the engine never mutates them.
type Instruction struct {
	Command Command
	Target  device.Device
	Args    []any
	Kwargs  map[string]any
}

// Create starts a new event bundle.
func Create() Instruction { return Instruction{Command: CmdCreate} }

// Read reads dev into the current bundle.
func Read(dev device.Device) Instruction {
	return Instruction{Command: CmdRead, Target: dev}
}

// Save emits the current bundle as an event.
func Save() Instruction { return Instruction{Command: CmdSave} }

// Set passes values to dev.Set.
func Set(dev device.Device, values map[string]any) Instruction {
	return Instruction{Command: CmdSet, Target: dev, Args: []any{maps.Clone(values)}}
}

// Trigger triggers dev. A non-empty group registers dev in that block group
// so a later Wait(group) blocks until it stops moving.
func Trigger(dev device.Device, group string) Instruction {
	ins := Instruction{Command: CmdTrigger, Target: dev}
	if group != "" {
		ins.Kwargs = map[string]any{KwargBlockGroup: group}
	}
	return ins
}

// Wait blocks until every device in group has stopped moving.
func Wait(group string) Instruction {
	return Instruction{Command: CmdWait, Args: []any{group}}
}

// Sleep suspends execution for d.
func Sleep(d time.Duration) Instruction {
	return Instruction{Command: CmdSleep, Args: []any{d}}
}

// Null does nothing. Useful as a checkpoint for interrupt and panic checks.
func Null() Instruction { return Instruction{Command: CmdNull} }

// Custom builds an instruction for a registered command.
func Custom(cmd Command, target device.Device, args []any, kwargs map[string]any) Instruction {
	return Instruction{
		Command: cmd,
		Target:  target,
		Args:    append([]any(nil), args...),
		Kwargs:  maps.Clone(kwargs),
	}
}

// Arg returns positional argument i.
func (ins Instruction) Arg(i int) (any, bool) {
	if i < 0 || i >= len(ins.Args) {
		return nil, false
	}
	return ins.Args[i], true
}

// Kwarg returns a keyword argument.
func (ins Instruction) Kwarg(name string) (any, bool) {
	v, ok := ins.Kwargs[name]
	return v, ok
}

// TargetName returns the target's name, or "" when there is no target.
func (ins Instruction) TargetName() string {
	if ins.Target == nil {
		return ""
	}
	return ins.Target.Name()
}

// String renders the instruction for logs, e.g. "trigger(motor, block_group=g)".
func (ins Instruction) String() string {
	var parts []string
	if name := ins.TargetName(); name != "" {
		parts = append(parts, name)
	}
	for _, a := range ins.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	for _, k := range slices.Sorted(maps.Keys(ins.Kwargs)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ins.Kwargs[k]))
	}
	return fmt.Sprintf("%s(%s)", ins.Command, strings.Join(parts, ", "))
}
