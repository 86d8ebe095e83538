package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/runengine/internal/device"
	"github.com/roach88/runengine/internal/document"
)

// RunContext is the mutable state of one run.
//
// It is created by Engine.Start, passed by pointer to every handler and
// dropped when the run ends. Only the execution context touches it, so it
// needs no locking.
//
// INVARIANTS:
//   - descriptors entries are never removed during a run
//   - seqCounters[key] is the next seq_num for that lineage, starting at 1
//   - objectsRead and readCache are reset together by create
//   - a block group is removed once a wait on it returns
type RunContext struct {
	runStartUID string

	// Devices seen this run, by name. Names key descriptor lineages, so two
	// distinct devices sharing a name are rejected.
	devices map[string]device.Device

	objectsRead   []device.Readable // ordered set, by first read since create
	readCache     []document.Readings
	describeCache map[string]document.DataKeys

	descriptors map[string]string // lineage key -> descriptor uid
	seqCounters map[string]int64  // lineage key -> next seq_num
	numEvents   map[string]int    // descriptor uid -> events emitted

	blockGroups map[string][]device.Device

	emit         func(document.Document) error
	newUID       func() string
	now          func() time.Time
	pollInterval time.Duration
	checkpoint   func(ctx context.Context) error
}

func newRunContext(runUID string) *RunContext {
	return &RunContext{
		runStartUID:   runUID,
		devices:       make(map[string]device.Device),
		describeCache: make(map[string]document.DataKeys),
		descriptors:   make(map[string]string),
		seqCounters:   make(map[string]int64),
		numEvents:     make(map[string]int),
		blockGroups:   make(map[string][]device.Device),
		pollInterval:  DefaultPollInterval,
		now:           time.Now,
		checkpoint:    func(ctx context.Context) error { return ctx.Err() },
	}
}

// RunStartUID returns the uid of this run's RunStart document.
func (rc *RunContext) RunStartUID() string { return rc.runStartUID }

// Now returns the engine's current time.
func (rc *RunContext) Now() time.Time { return rc.now() }

// ObjectsRead returns the names of devices read since the last create, in
// first-read order.
func (rc *RunContext) ObjectsRead() []string {
	names := make([]string, len(rc.objectsRead))
	for i, d := range rc.objectsRead {
		names[i] = d.Name()
	}
	return names
}

// BlockGroup returns the names of devices registered under group, and
// whether the group exists.
func (rc *RunContext) BlockGroup(group string) ([]string, bool) {
	members, ok := rc.blockGroups[group]
	if !ok {
		return nil, false
	}
	names := make([]string, len(members))
	for i, d := range members {
		names[i] = d.Name()
	}
	return names, true
}

// Checkpoint returns an error if the run should stop now: the panic flag is
// set, an interrupt arrived, or ctx is done. Long-running handlers call it
// between polls.
func (rc *RunContext) Checkpoint(ctx context.Context) error {
	return rc.checkpoint(ctx)
}

// PollUntil calls cond every poll interval until it returns true or the run
// must stop.
func (rc *RunContext) PollUntil(ctx context.Context, cond func() bool) error {
	for {
		if cond() {
			return nil
		}
		if err := rc.Checkpoint(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, rc.pollInterval); err != nil {
			return rc.Checkpoint(ctx)
		}
	}
}

// Sleep blocks the execution context for d, checking for interrupts every
// poll interval.
func (rc *RunContext) Sleep(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, min(remaining, rc.pollInterval)); err != nil {
			return rc.Checkpoint(ctx)
		}
		if err := rc.Checkpoint(ctx); err != nil {
			return err
		}
	}
}

// track records dev as seen this run and rejects name collisions.
func (rc *RunContext) track(dev device.Device, command string) error {
	name := dev.Name()
	if prev, ok := rc.devices[name]; ok && prev != dev {
		return &RuntimeError{
			Code:    ErrCodeBadArgument,
			Message: fmt.Sprintf("two different devices named %q in one run", name),
			RunUID:  rc.runStartUID,
			Command: command,
		}
	}
	rc.devices[name] = dev
	return nil
}

// markRead adds dev to objectsRead unless already present.
func (rc *RunContext) markRead(dev device.Readable) {
	for _, d := range rc.objectsRead {
		if d.Name() == dev.Name() {
			return
		}
	}
	rc.objectsRead = append(rc.objectsRead, dev)
}

// lineageKey identifies the set of devices read since the last create,
// independent of read order. Device names cannot contain NUL in practice.
func (rc *RunContext) lineageKey() string {
	names := rc.ObjectsRead()
	slices.Sort(names)
	return strings.Join(names, "\x00")
}

// mergedDataKeys merges the cached schemas of objectsRead.
func (rc *RunContext) mergedDataKeys() document.DataKeys {
	out := make(document.DataKeys)
	for _, d := range rc.objectsRead {
		maps.Copy(out, rc.describeCache[d.Name()].Clone())
	}
	return out
}

// mergedReadings merges readCache; later reads of the same field win.
func (rc *RunContext) mergedReadings() document.Readings {
	out := make(document.Readings)
	for _, r := range rc.readCache {
		maps.Copy(out, r)
	}
	return out
}

func (rc *RunContext) addToGroup(group string, dev device.Device) {
	members := rc.blockGroups[group]
	if slices.Contains(members, dev) {
		return
	}
	rc.blockGroups[group] = append(members, dev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
