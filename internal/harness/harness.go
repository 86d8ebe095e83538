package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/runengine/internal/compiler"
	"github.com/roach88/runengine/internal/device/sim"
	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/engine"
	"github.com/roach88/runengine/internal/testutil"
)

// Identity stamped on every scenario RunStart.
const (
	BeamlineID = "harness"
	Owner      = "harness"
	UIDPrefix  = "uid"
)

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Compile and validate the scenario's plan
//  2. Build its simulated devices on a shared deterministic clock
//  3. Run the plan on a fresh engine, recording every document
//  4. Evaluate assertions against the recorded stream
//
// An error is returned only when the scenario cannot be executed (bad plan,
// invalid steps). Failing assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	spec, err := compileScenarioPlan(scenario)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(spec); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("scenario %s: invalid plan: %w", scenario.Name, errors.Join(joined...))
	}

	p, devices, err := spec.Build()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	clock := testutil.NewDeterministicTime()
	for _, dev := range devices {
		sim.SetClock(dev, clock.Now)
	}

	eng := engine.New(
		engine.WithBeamlineID(BeamlineID),
		engine.WithOwner(Owner),
		engine.WithUIDGenerator(testutil.NewSequentialUIDs(UIDPrefix)),
		engine.WithTimeSource(clock.Now),
		engine.WithPollInterval(time.Millisecond),
		engine.WithInterruptSignals(),
	)

	rec := &testutil.Recorder{}
	subs := engine.SubscribeAll(rec.Record)
	if scenario.InterruptAfter > 0 {
		subs[document.KindEvent] = append(subs[document.KindEvent], interruptAfter(eng, scenario.InterruptAfter))
	}

	opts := []engine.RunOption{
		engine.WithPlanName(spec.Name),
		engine.WithRunMetadata(spec.Metadata),
	}
	if scenario.Sequential {
		opts = append(opts, engine.Sequential())
	}

	result := NewResult()
	runErr := eng.Run(ctx, p, subs, opts...)
	if runErr != nil {
		result.RunError = runErr.Error()
	}
	result.Docs = rec.Docs()
	if stop, ok := rec.Stop(); ok {
		result.ExitStatus = stop.ExitStatus
	}

	slog.Debug("scenario finished",
		"scenario", scenario.Name,
		"documents", len(result.Docs),
		"exit_status", result.ExitStatus,
	)

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// compileScenarioPlan loads the scenario's plan from its file or inline
// source.
func compileScenarioPlan(s *Scenario) (*compiler.PlanSpec, error) {
	if s.PlanFile != "" {
		spec, err := compiler.LoadPlan(s.PlanFile)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		return spec, nil
	}
	spec, err := compiler.CompileSource(s.Name+".cue", []byte(s.Plan))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return spec, nil
}

// interruptAfter returns an event callback that interrupts eng once n
// events have been delivered.
func interruptAfter(eng *engine.Engine, n int) engine.Callback {
	seen := 0
	return func(document.Document) error {
		seen++
		if seen == n {
			eng.Interrupt()
		}
		return nil
	}
}

// FindScenarios returns the .yaml and .yml files directly under dir, sorted
// by name.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
