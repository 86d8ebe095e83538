package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/roach88/runengine/internal/device"
	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/plan"
)

// Handler executes one instruction. The returned value becomes the plan's
// response to that instruction.
//
// Handlers run on the execution context and may block; blocking handlers
// must call RunContext.Checkpoint (or use PollUntil and Sleep) so interrupts
// and the panic flag are honoured.
type Handler func(ctx context.Context, rc *RunContext, ins plan.Instruction) (any, error)

// dispatch routes an instruction to its handler. Core commands are resolved
// here and cannot be overridden.
func (e *Engine) dispatch(ctx context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	switch ins.Command {
	case plan.CmdCreate:
		return handleCreate(ctx, rc, ins)
	case plan.CmdRead:
		return handleRead(ctx, rc, ins)
	case plan.CmdSave:
		return handleSave(ctx, rc, ins)
	case plan.CmdSet:
		return handleSet(ctx, rc, ins)
	case plan.CmdTrigger:
		return handleTrigger(ctx, rc, ins)
	case plan.CmdWait:
		return handleWait(ctx, rc, ins)
	case plan.CmdSleep:
		return handleSleep(ctx, rc, ins)
	case plan.CmdNull:
		return nil, nil
	}

	e.mu.RLock()
	h, ok := e.commands[ins.Command]
	e.mu.RUnlock()
	if !ok {
		err := newRuntimeError(ErrCodeUnknownCommand, string(ins.Command), "no handler registered")
		err.RunUID = rc.runStartUID
		return nil, err
	}
	return h(ctx, rc, ins)
}

// handleCreate starts a new event bundle.
func handleCreate(_ context.Context, rc *RunContext, _ plan.Instruction) (any, error) {
	rc.objectsRead = nil
	rc.readCache = nil
	return nil, nil
}

// handleRead reads the target into the current bundle and returns its
// readings.
func handleRead(_ context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	dev, err := requireTarget[device.Readable](rc, ins, "readable")
	if err != nil {
		return nil, err
	}
	name := dev.Name()

	if _, ok := rc.describeCache[name]; !ok {
		keys, err := dev.Describe()
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		rc.describeCache[name] = keys.Clone()
	}

	readings, err := dev.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	readings = readings.Clone()

	rc.markRead(dev)
	rc.readCache = append(rc.readCache, readings)
	return readings, nil
}

// handleSave emits the current bundle as an Event, preceded by an
// EventDescriptor the first time this set of devices is saved. Returns the
// event uid.
func handleSave(_ context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	key := rc.lineageKey()

	descUID, ok := rc.descriptors[key]
	if !ok {
		desc := document.EventDescriptor{
			RunStart: rc.runStartUID,
			Time:     rc.now(),
			DataKeys: rc.mergedDataKeys(),
			UID:      rc.newUID(),
		}
		if err := rc.emit(desc); err != nil {
			return nil, fmt.Errorf("emit descriptor: %w", err)
		}
		descUID = desc.UID
		rc.descriptors[key] = descUID
		rc.seqCounters[key] = 1
		slog.Debug("new descriptor",
			"run_uid", rc.runStartUID,
			"descriptor_uid", descUID,
			"devices", rc.ObjectsRead(),
		)
	}

	seq := rc.seqCounters[key]
	ev := document.Event{
		Descriptor: descUID,
		Time:       rc.now(),
		Data:       rc.mergedReadings(),
		SeqNum:     seq,
		UID:        rc.newUID(),
	}
	if err := rc.emit(ev); err != nil {
		return nil, fmt.Errorf("emit event: %w", err)
	}
	rc.seqCounters[key] = seq + 1
	rc.numEvents[descUID]++
	return ev.UID, nil
}

// handleSet passes the first argument, a map of field values, to the
// target's Set.
func handleSet(_ context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	dev, err := requireTarget[device.Settable](rc, ins, "settable")
	if err != nil {
		return nil, err
	}
	arg, _ := ins.Arg(0)
	values, ok := arg.(map[string]any)
	if !ok {
		return nil, badArgument(rc, ins, "set expects a map of values, got %T", arg)
	}
	if err := dev.Set(maps.Clone(values)); err != nil {
		return nil, fmt.Errorf("set %s: %w", dev.Name(), err)
	}
	return nil, nil
}

// handleTrigger registers the target in its block group, if any, then
// triggers it.
func handleTrigger(_ context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	dev, err := requireTarget[device.Triggerable](rc, ins, "triggerable")
	if err != nil {
		return nil, err
	}
	if v, ok := ins.Kwarg(plan.KwargBlockGroup); ok && v != nil {
		group, ok := v.(string)
		if !ok {
			return nil, badArgument(rc, ins, "%s must be a string, got %T", plan.KwargBlockGroup, v)
		}
		if group != "" {
			rc.addToGroup(group, dev)
		}
	}
	if err := dev.Trigger(); err != nil {
		return nil, fmt.Errorf("trigger %s: %w", dev.Name(), err)
	}
	return nil, nil
}

// handleWait blocks until every device in the named group has stopped
// moving, then forgets the group. Waiting on an unknown group returns
// immediately.
func handleWait(ctx context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	arg, _ := ins.Arg(0)
	group, ok := arg.(string)
	if !ok {
		return nil, badArgument(rc, ins, "wait expects a group name, got %T", arg)
	}
	members, ok := rc.blockGroups[group]
	if !ok {
		slog.Debug("wait on unknown block group", "run_uid", rc.runStartUID, "group", group)
		return nil, nil
	}

	err := rc.PollUntil(ctx, func() bool {
		for _, d := range members {
			if device.IsMoving(d) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	delete(rc.blockGroups, group)
	return nil, nil
}

// handleSleep suspends the run for the duration in the first argument.
func handleSleep(ctx context.Context, rc *RunContext, ins plan.Instruction) (any, error) {
	arg, _ := ins.Arg(0)
	d, err := ParseDuration(arg)
	if err != nil {
		return nil, badArgument(rc, ins, "%v", err)
	}
	if d <= 0 {
		return nil, nil
	}
	return nil, rc.Sleep(ctx, d)
}

// ParseDuration accepts a time.Duration, a number of seconds, or a Go
// duration string.
func ParseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case float32:
		return time.Duration(float64(d) * float64(time.Second)), nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case string:
		if secs, err := strconv.ParseFloat(d, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(d)
	}
	return 0, fmt.Errorf("invalid duration %v (%T)", v, v)
}

// requireTarget checks the instruction's target exists, is unique by name
// within the run and implements T.
func requireTarget[T device.Device](rc *RunContext, ins plan.Instruction, capability string) (T, error) {
	var zero T
	if ins.Target == nil {
		err := newRuntimeError(ErrCodeMissingTarget, string(ins.Command), "instruction has no target device")
		err.RunUID = rc.runStartUID
		return zero, err
	}
	if err := rc.track(ins.Target, string(ins.Command)); err != nil {
		return zero, err
	}
	dev, ok := ins.Target.(T)
	if !ok {
		err := newRuntimeError(ErrCodeMissingCapability, string(ins.Command),
			"device %q is not %s", ins.Target.Name(), capability)
		err.RunUID = rc.runStartUID
		err.Details = map[string]string{
			"device":       ins.Target.Name(),
			"capabilities": fmt.Sprint(device.Capabilities(ins.Target)),
		}
		return zero, err
	}
	return dev, nil
}

func badArgument(rc *RunContext, ins plan.Instruction, format string, args ...any) error {
	err := newRuntimeError(ErrCodeBadArgument, string(ins.Command), format, args...)
	err.RunUID = rc.runStartUID
	return err
}
