// Package device declares the capabilities the engine drives.
//
// A device implements Device plus any subset of Readable, Settable,
// Triggerable and Mover. The engine checks capabilities with type
// assertions at the point of use and fails the instruction with a
// MISSING_CAPABILITY runtime error when a device lacks one.
//
// Device calls are synchronous from the engine's point of view: Set and
// Trigger may start asynchronous motion, but they return once it has
// begun. Completion is observed through Mover.Moving.
package device

import "github.com/roach88/runengine/internal/document"

// Device is anything with a stable name. Names key descriptor lineages, so
// they must be unique within one run.
type Device interface {
	Name() string
}

// Readable reports its schema and current values.
type Readable interface {
	Device
	// Describe returns the schema of every field Read reports.
	// The engine calls it once per device per run.
	Describe() (document.DataKeys, error)
	Read() (document.Readings, error)
}

// Settable accepts new target values.
type Settable interface {
	Device
	Set(values map[string]any) error
}

// Triggerable starts an acquisition or motion.
type Triggerable interface {
	Device
	Trigger() error
}

// Mover exposes whether the device is still busy after Set or Trigger.
// Devices that are not Movers are treated as done immediately.
type Mover interface {
	Device
	Moving() bool
}

// Capabilities lists the capability names a device implements, in a fixed
// order. Used in diagnostics and error details.
func Capabilities(d Device) []string {
	var caps []string
	if _, ok := d.(Readable); ok {
		caps = append(caps, "readable")
	}
	if _, ok := d.(Settable); ok {
		caps = append(caps, "settable")
	}
	if _, ok := d.(Triggerable); ok {
		caps = append(caps, "triggerable")
	}
	if _, ok := d.(Mover); ok {
		caps = append(caps, "mover")
	}
	return caps
}

// IsMoving reports whether d is a Mover that is currently moving.
func IsMoving(d Device) bool {
	m, ok := d.(Mover)
	return ok && m.Moving()
}
