package engine

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/testutil"
)

// newTestEngine returns an engine with deterministic uids and timestamps,
// a fast poll interval and no OS signal handling.
func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithUIDGenerator(testutil.NewSequentialUIDs("uid")),
		WithTimeSource(testutil.NewDeterministicTime().Now),
		WithPollInterval(time.Millisecond),
		WithInterruptSignals(),
		WithBeamlineID("test-beamline"),
		WithOwner("tester"),
	}
	return New(append(base, opts...)...)
}

// stubDevice is a readable, settable, triggerable device with scripted
// behaviour.
type stubDevice struct {
	name    string
	value   float64
	readErr error
	setErr  error
	moving  atomic.Int32 // remaining Moving() calls that report true
	reads   int
	sets    []map[string]any
}

func (d *stubDevice) Name() string { return d.name }

func (d *stubDevice) Describe() (document.DataKeys, error) {
	return document.DataKeys{d.name: {Source: "stub:" + d.name, DType: "number"}}, nil
}

func (d *stubDevice) Read() (document.Readings, error) {
	if d.readErr != nil {
		return nil, d.readErr
	}
	d.reads++
	return document.Readings{d.name: {Value: d.value}}, nil
}

func (d *stubDevice) Set(values map[string]any) error {
	if d.setErr != nil {
		return d.setErr
	}
	d.sets = append(d.sets, values)
	return nil
}

func (d *stubDevice) Trigger() error { return nil }

func (d *stubDevice) Moving() bool {
	return d.moving.Add(-1) >= 0
}

// nameOnly is a device with no capabilities.
type nameOnly string

func (n nameOnly) Name() string { return string(n) }

var errBoom = errors.New("boom")
