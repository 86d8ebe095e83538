// Package sim provides simulated devices for exercising the engine without
// hardware: a multi-axis Motor and a Detector whose signal follows a motor.
//
// Both devices model asynchronous completion with a wall-clock deadline:
// Trigger starts motion (or an exposure) and Moving reports true until the
// configured duration has elapsed.
package sim

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/roach88/runengine/internal/device"
	"github.com/roach88/runengine/internal/document"
)

// Device kinds accepted by Build.
const (
	KindMotor    = "motor"
	KindDetector = "detector"
)

// Spec configures a simulated device. Unused fields are ignored per kind.
type Spec struct {
	Kind string

	// Motor
	Axes     []string
	MoveTime time.Duration

	// Detector
	Exposure time.Duration
	Follows  string // name of the motor whose first axis drives the signal
	Center   float64
	Width    float64
	Peak     float64
}

// Build constructs a device from spec. Detectors that follow a motor look it
// up in built, so motors must be built first (BuildAll handles ordering).
func Build(name string, spec Spec, built map[string]device.Device) (device.Device, error) {
	switch spec.Kind {
	case KindMotor:
		return NewMotor(name, spec.MoveTime, spec.Axes...), nil
	case KindDetector:
		det := NewDetector(name, spec.Exposure)
		if spec.Follows != "" {
			dev, ok := built[spec.Follows]
			if !ok {
				return nil, fmt.Errorf("detector %s follows unknown device %q", name, spec.Follows)
			}
			m, ok := dev.(*Motor)
			if !ok {
				return nil, fmt.Errorf("detector %s follows %q which is not a motor", name, spec.Follows)
			}
			width := spec.Width
			if width == 0 {
				width = 1
			}
			peak := spec.Peak
			if peak == 0 {
				peak = 1000
			}
			det.Signal = Gaussian(m, spec.Center, width, peak)
		}
		return det, nil
	default:
		return nil, fmt.Errorf("unknown device kind %q for %s", spec.Kind, name)
	}
}

// BuildAll builds every device in specs, motors first, in name order.
func BuildAll(specs map[string]Spec) (map[string]device.Device, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		mi := specs[names[i]].Kind == KindMotor
		mj := specs[names[j]].Kind == KindMotor
		if mi != mj {
			return mi
		}
		return names[i] < names[j]
	})

	built := make(map[string]device.Device, len(specs))
	for _, name := range names {
		dev, err := Build(name, specs[name], built)
		if err != nil {
			return nil, err
		}
		built[name] = dev
	}
	return built, nil
}

// Motor is a settable, triggerable, readable device with one value per axis.
// Set records setpoints; Trigger starts a move to them that completes after
// MoveTime. Reads report readback positions, which jump to the setpoints once
// the move completes.
type Motor struct {
	name     string
	axes     []string
	moveTime time.Duration
	now      func() time.Time

	mu        sync.Mutex
	setpoints map[string]float64
	positions map[string]float64
	doneAt    time.Time
	moving    bool
	triggers  int
}

var (
	_ device.Readable    = (*Motor)(nil)
	_ device.Settable    = (*Motor)(nil)
	_ device.Triggerable = (*Motor)(nil)
	_ device.Mover       = (*Motor)(nil)
)

// NewMotor creates a motor. With no axes the motor has a single axis "x".
func NewMotor(name string, moveTime time.Duration, axes ...string) *Motor {
	if len(axes) == 0 {
		axes = []string{"x"}
	}
	m := &Motor{
		name:      name,
		axes:      append([]string(nil), axes...),
		moveTime:  moveTime,
		now:       time.Now,
		setpoints: make(map[string]float64, len(axes)),
		positions: make(map[string]float64, len(axes)),
	}
	for _, a := range axes {
		m.setpoints[a] = 0
		m.positions[a] = 0
	}
	return m
}

func (m *Motor) Name() string { return m.name }

// Field returns the reading key for an axis.
func (m *Motor) Field(axis string) string { return m.name + "_" + axis }

func (m *Motor) Describe() (document.DataKeys, error) {
	keys := make(document.DataKeys, len(m.axes))
	for _, a := range m.axes {
		keys[m.Field(a)] = document.DataKey{Source: "sim:" + m.name + "." + a, DType: "number"}
	}
	return keys, nil
}

func (m *Motor) Read() (document.Readings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle()

	ts := m.now()
	out := make(document.Readings, len(m.axes))
	for _, a := range m.axes {
		out[m.Field(a)] = document.Reading{Value: m.positions[a], Timestamp: ts}
	}
	return out, nil
}

// Set accepts setpoints keyed by axis name. Values must be numeric.
func (m *Motor) Set(values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All or nothing: a bad entry leaves every setpoint unchanged.
	parsed := make(map[string]float64, len(values))
	for _, axis := range document.SortedKeys(values) {
		if _, ok := m.setpoints[axis]; !ok {
			return fmt.Errorf("motor %s has no axis %q", m.name, axis)
		}
		f, err := toFloat(values[axis])
		if err != nil {
			return fmt.Errorf("motor %s axis %s: %w", m.name, axis, err)
		}
		parsed[axis] = f
	}
	maps.Copy(m.setpoints, parsed)
	return nil
}

func (m *Motor) Trigger() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.triggers++
	m.moving = true
	m.doneAt = m.now().Add(m.moveTime)
	m.settle()
	return nil
}

func (m *Motor) Moving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle()
	return m.moving
}

// Position returns the readback of an axis.
func (m *Motor) Position(axis string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle()
	return m.positions[axis]
}

// Triggers returns how many times Trigger was called.
func (m *Motor) Triggers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers
}

// settle completes a pending move whose deadline has passed. Caller holds mu.
func (m *Motor) settle() {
	if m.moving && !m.now().Before(m.doneAt) {
		m.moving = false
		for a, sp := range m.setpoints {
			m.positions[a] = sp
		}
	}
}

// Detector is a triggerable, readable device reporting a single number.
// Trigger starts an exposure of Exposure; when it completes the value is
// sampled from Signal.
type Detector struct {
	name     string
	exposure time.Duration
	now      func() time.Time

	// Signal computes the value at the end of an exposure. Defaults to a
	// counter of completed exposures.
	Signal func() float64

	mu       sync.Mutex
	value    float64
	doneAt   time.Time
	busy     bool
	triggers int
}

var (
	_ device.Readable    = (*Detector)(nil)
	_ device.Triggerable = (*Detector)(nil)
	_ device.Mover       = (*Detector)(nil)
)

// NewDetector creates a detector with the given exposure time.
func NewDetector(name string, exposure time.Duration) *Detector {
	return &Detector{name: name, exposure: exposure, now: time.Now}
}

func (d *Detector) Name() string { return d.name }

func (d *Detector) Describe() (document.DataKeys, error) {
	return document.DataKeys{
		d.name: {Source: "sim:" + d.name, DType: "number"},
	}, nil
}

func (d *Detector) Read() (document.Readings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle()
	return document.Readings{
		d.name: {Value: d.value, Timestamp: d.now()},
	}, nil
}

func (d *Detector) Trigger() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.triggers++
	d.busy = true
	d.doneAt = d.now().Add(d.exposure)
	d.settle()
	return nil
}

func (d *Detector) Moving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle()
	return d.busy
}

// Triggers returns how many times Trigger was called.
func (d *Detector) Triggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers
}

func (d *Detector) settle() {
	if d.busy && !d.now().Before(d.doneAt) {
		d.busy = false
		if d.Signal != nil {
			d.value = d.Signal()
		} else {
			d.value = float64(d.triggers)
		}
	}
}

// Gaussian returns a signal peaking at center on the motor's first axis.
func Gaussian(m *Motor, center, width, peak float64) func() float64 {
	axis := m.axes[0]
	return func() float64 {
		x := (m.Position(axis) - center) / width
		return peak * math.Exp(-x*x/2)
	}
}

// SetClock replaces the time source of a motor or detector. Tests use it to
// make readings and motion deterministic.
func SetClock(dev device.Device, now func() time.Time) {
	switch d := dev.(type) {
	case *Motor:
		d.mu.Lock()
		d.now = now
		d.mu.Unlock()
	case *Detector:
		d.mu.Lock()
		d.now = now
		d.mu.Unlock()
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}
