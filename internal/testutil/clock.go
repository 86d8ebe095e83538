package testutil

import (
	"sync"
	"time"
)

// Epoch is the first timestamp a DeterministicTime returns by default.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicTime is a fake time source for document timestamps.
//
// Every call to Now returns the previous value plus a fixed step, so the same
// run produces byte-identical documents every time. It can be reset for test
// reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicTime struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewDeterministicTime creates a time source starting at Epoch and advancing
// one millisecond per call.
//
// The first call to Now() returns Epoch.
func NewDeterministicTime() *DeterministicTime {
	return NewDeterministicTimeAt(Epoch, time.Millisecond)
}

// NewDeterministicTimeAt creates a time source starting at start and
// advancing by step per call.
func NewDeterministicTimeAt(start time.Time, step time.Duration) *DeterministicTime {
	return &DeterministicTime{start: start.UTC(), step: step}
}

// Now returns the next timestamp. Pass the method value as an engine time
// source: engine.WithTimeSource(dt.Now).
func (d *DeterministicTime) Now() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.start.Add(time.Duration(d.n) * d.step)
	d.n++
	return t
}

// Calls returns how many timestamps have been handed out.
func (d *DeterministicTime) Calls() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// Reset rewinds the source so the next Now() returns the start time again.
func (d *DeterministicTime) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n = 0
}
