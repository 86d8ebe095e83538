package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/plan"
)

// Subscriptions maps a document kind to the callbacks a run should deliver
// it to. Callbacks are invoked in slice order.
type Subscriptions map[document.Kind][]Callback

// SubscribeAll returns Subscriptions delivering every kind to cb.
func SubscribeAll(cb Callback) Subscriptions {
	subs := make(Subscriptions, len(document.Kinds))
	for _, k := range document.Kinds {
		subs[k] = []Callback{cb}
	}
	return subs
}

// Engine executes plans and turns their instructions into documents.
//
// Thread-safety model:
//   - Run / Start: one run at a time; a second concurrent run fails with
//     ENGINE_BUSY
//   - SetPanic, Panicked, Interrupt, Running: safe from any goroutine
//   - RegisterCommand / UnregisterCommand: safe from any goroutine, take
//     effect at the next instruction
//   - Subscribe / Unsubscribe: safe from any goroutine
//
// INVARIANTS:
//   - every run that emitted a RunStart emits exactly one RunStop, last
//   - core commands always resolve to the built-in handlers
type Engine struct {
	dispatcher *Dispatcher
	uidGen     UIDGenerator
	now        func() time.Time
	scanIDs    *Counter

	beamlineID string
	owner      string
	metadata   map[string]any

	pollInterval time.Duration
	emitTimeout  time.Duration
	queueSize    int
	maxSteps     int
	signals      []os.Signal

	mu       sync.RWMutex
	commands map[plan.Command]Handler

	panicked  atomic.Bool
	running   atomic.Bool
	interrupt atomic.Pointer[Interrupt]
}

// Option configures an Engine.
type Option func(*Engine)

// WithBeamlineID sets RunStart.beamline_id.
func WithBeamlineID(id string) Option {
	return func(e *Engine) { e.beamlineID = id }
}

// WithOwner sets RunStart.owner.
func WithOwner(owner string) Option {
	return func(e *Engine) { e.owner = owner }
}

// WithMetadata adds custom metadata to every RunStart. Run metadata given
// with WithRunMetadata takes precedence on key conflicts.
func WithMetadata(md map[string]any) Option {
	return func(e *Engine) { maps.Copy(e.metadata, md) }
}

// WithScanIDStart sets the scan_id of the next run.
func WithScanIDStart(next int64) Option {
	return func(e *Engine) { e.scanIDs = NewCounter(next - 1) }
}

// WithUIDGenerator replaces the UUIDv7 uid source.
func WithUIDGenerator(gen UIDGenerator) Option {
	return func(e *Engine) { e.uidGen = gen }
}

// WithTimeSource replaces time.Now for document timestamps.
func WithTimeSource(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPollInterval sets how often wait re-checks movers and how long the
// dispatcher waits for a document before giving up a pop.
//
// Default: 10ms (DefaultPollInterval)
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithQueueSize sets the per-kind document queue capacity.
//
// Default: 4096 (DefaultQueueSize)
func WithQueueSize(n int) Option {
	return func(e *Engine) { e.queueSize = n }
}

// WithEmitTimeout bounds how long the execution context waits for room in a
// full queue before failing the run with QUEUE_FULL.
//
// Default: 5s (DefaultEmitTimeout)
func WithEmitTimeout(d time.Duration) Option {
	return func(e *Engine) { e.emitTimeout = d }
}

// WithMaxSteps limits the number of instructions one run may execute.
//
// Default: 0 (unlimited)
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithInterruptSignals sets the OS signals that interrupt a run. With no
// arguments, runs can only be interrupted with Engine.Interrupt or context
// cancellation.
//
// Default: os.Interrupt
func WithInterruptSignals(signals ...os.Signal) Option {
	return func(e *Engine) { e.signals = signals }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		uidGen:       UUIDv7Generator{},
		now:          time.Now,
		scanIDs:      NewCounter(0),
		metadata:     make(map[string]any),
		pollInterval: DefaultPollInterval,
		emitTimeout:  DefaultEmitTimeout,
		queueSize:    DefaultQueueSize,
		signals:      []os.Signal{os.Interrupt},
		commands:     make(map[plan.Command]Handler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	e.dispatcher = NewDispatcher(e.queueSize, e.pollInterval, e.emitTimeout)
	return e
}

// Dispatcher returns the engine's document dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Subscribe registers cb for documents of kind across all runs.
func (e *Engine) Subscribe(kind document.Kind, cb Callback) SubscriptionID {
	return e.dispatcher.Subscribe(kind, cb)
}

// Unsubscribe removes a subscription.
func (e *Engine) Unsubscribe(id SubscriptionID) bool {
	return e.dispatcher.Unsubscribe(id)
}

// RegisterCommand installs a handler for a non-core command, replacing any
// previous handler for that name.
func (e *Engine) RegisterCommand(name plan.Command, h Handler) error {
	if name.IsCore() {
		return newRuntimeError(ErrCodeCoreCommand, string(name), "core commands cannot be replaced")
	}
	if name == "" || h == nil {
		return newRuntimeError(ErrCodeBadArgument, string(name), "command name and handler are required")
	}
	e.mu.Lock()
	e.commands[name] = h
	e.mu.Unlock()
	return nil
}

// UnregisterCommand removes a registered command.
func (e *Engine) UnregisterCommand(name plan.Command) error {
	if name.IsCore() {
		return newRuntimeError(ErrCodeCoreCommand, string(name), "core commands cannot be removed")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.commands[name]; !ok {
		return newRuntimeError(ErrCodeUnknownCommand, string(name), "command is not registered")
	}
	delete(e.commands, name)
	return nil
}

// SetPanic sets or clears the engine-wide panic flag. While set, new runs
// are refused and an active run fails at its next checkpoint.
func (e *Engine) SetPanic(on bool) {
	if on {
		slog.Warn("engine panic flag set")
	}
	e.panicked.Store(on)
}

// Panicked reports the panic flag.
func (e *Engine) Panicked() bool { return e.panicked.Load() }

// Running reports whether a run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Interrupt requests the active run to abort. Returns false when no run is
// active.
func (e *Engine) Interrupt() bool {
	in := e.interrupt.Load()
	if in == nil {
		return false
	}
	in.Trigger()
	return true
}

// ScanID returns the scan_id of the most recent run.
func (e *Engine) ScanID() int64 { return e.scanIDs.Last() }

// RunOption configures one run.
type RunOption func(*runConfig)

type runConfig struct {
	concurrent bool
	planName   string
	metadata   map[string]any
}

// Sequential runs the plan and the dispatcher on the calling goroutine,
// draining queued documents after every instruction.
func Sequential() RunOption {
	return func(c *runConfig) { c.concurrent = false }
}

// WithPlanName sets RunStart.plan_name.
func WithPlanName(name string) RunOption {
	return func(c *runConfig) { c.planName = name }
}

// WithRunMetadata adds custom metadata to this run's RunStart.
func WithRunMetadata(md map[string]any) RunOption {
	return func(c *runConfig) { maps.Copy(c.metadata, md) }
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := runConfig{concurrent: true, metadata: make(map[string]any)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Run executes p to completion and delivers its documents to subs.
//
// By default the plan runs on its own goroutine while the caller drains the
// dispatcher; with Sequential both happen on the caller. In both modes every
// queued document has been delivered when Run returns.
//
// Returns nil when the plan was exhausted (RunStop exit_status "success").
// Otherwise the RunStop has already been delivered and the error explains
// it: ErrRunInterrupted for "abort", *PanicStateError when the panic flag
// was set, or the plan, device or runtime error for "fail". A refused run
// (panic flag set, engine busy) returns an error without emitting anything.
func (e *Engine) Run(ctx context.Context, p plan.Plan, subs Subscriptions, opts ...RunOption) error {
	cfg := newRunConfig(opts)

	for kind := range subs {
		if _, err := document.ParseKind(string(kind)); err != nil {
			p.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	var ids []SubscriptionID
	for _, kind := range document.Kinds {
		for _, cb := range subs[kind] {
			ids = append(ids, e.dispatcher.Subscribe(kind, cb))
		}
	}
	defer func() {
		for _, id := range ids {
			e.dispatcher.Unsubscribe(id)
		}
	}()

	x, err := e.Start(ctx, p, opts...)
	if err != nil {
		if !IsPanicStateError(err) && !HasCode(err, ErrCodeEngineBusy) {
			// Started but failed to open: deliver its RunStop.
			e.dispatcher.Drain()
		}
		return err
	}

	if cfg.concurrent {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for !x.Step() {
			}
		}()
	loop:
		for {
			select {
			case <-done:
				break loop
			default:
				e.dispatcher.ProcessAllQueues()
			}
		}
	} else {
		for !x.Step() {
			e.dispatcher.Drain()
		}
	}

	err = x.Finish()
	e.dispatcher.Drain()
	return err
}

// Execution is one started run, advanced an instruction at a time with
// Step. Callers own draining the dispatcher; Run does this for them.
//
// An Execution is not safe for concurrent use.
type Execution struct {
	engine    *Engine
	ctx       context.Context
	plan      plan.Plan
	rc        *RunContext
	interrupt *Interrupt
	quota     *QuotaEnforcer

	response any
	done     bool
	finished bool
	err      error
}

// Start opens a run: it checks the panic flag, claims the engine and emits
// the RunStart. The caller must call Step until it returns true and then
// Finish. If the RunStart cannot be queued, a failing RunStop is queued in
// its place and Start returns the error.
func (e *Engine) Start(ctx context.Context, p plan.Plan, opts ...RunOption) (*Execution, error) {
	if e.panicked.Load() {
		p.Close()
		return nil, &PanicStateError{}
	}
	if !e.running.CompareAndSwap(false, true) {
		p.Close()
		return nil, newRuntimeError(ErrCodeEngineBusy, "", "another run is active")
	}
	cfg := newRunConfig(opts)

	custom := maps.Clone(e.metadata)
	maps.Copy(custom, cfg.metadata)
	start := document.RunStart{
		UID:        e.uidGen.Generate(),
		Time:       e.now(),
		BeamlineID: e.beamlineID,
		Owner:      e.owner,
		ScanID:     e.scanIDs.Next(),
		PlanName:   cfg.planName,
		Custom:     custom,
	}

	x := &Execution{
		engine:    e,
		ctx:       ctx,
		plan:      p,
		interrupt: WatchInterrupt(e.signals...),
		quota:     NewQuotaEnforcer(e.maxSteps),
	}
	x.rc = newRunContext(start.UID)
	x.rc.emit = e.dispatcher.Emit
	x.rc.newUID = e.uidGen.Generate
	x.rc.now = e.now
	x.rc.pollInterval = e.pollInterval
	x.rc.checkpoint = x.checkpoint
	e.interrupt.Store(x.interrupt)

	if err := e.dispatcher.Emit(start); err != nil {
		x.end(fmt.Errorf("emit run start: %w", err))
		return nil, x.Finish()
	}

	slog.Info("run starting",
		"run_uid", start.UID,
		"scan_id", start.ScanID,
		"plan", start.PlanName,
	)
	return x, nil
}

// RunStartUID returns the uid of this run's RunStart.
func (x *Execution) RunStartUID() string { return x.rc.runStartUID }

// Step executes one instruction. Returns true once the run has ended and
// its RunStop has been queued.
func (x *Execution) Step() (done bool) {
	if x.done {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			x.end(&RuntimeError{
				Code:    ErrCodeHandlerPanic,
				Message: fmt.Sprint(r),
				RunUID:  x.rc.runStartUID,
				Details: map[string]string{"stack": string(debug.Stack())},
			})
			done = true
		}
	}()

	if err := x.checkpoint(x.ctx); err != nil {
		x.end(err)
		return true
	}

	ins, err := x.plan.Next(x.ctx, x.response)
	if errors.Is(err, plan.ErrExhausted) {
		x.end(nil)
		return true
	}
	if err != nil {
		x.end(x.planError(err))
		return true
	}

	if err := x.quota.Check(x.rc.runStartUID); err != nil {
		x.end(err)
		return true
	}

	slog.Debug("dispatch", "run_uid", x.rc.runStartUID, "instruction", ins.String())
	resp, err := x.engine.dispatch(x.ctx, x.rc, ins)
	if err != nil {
		x.end(fmt.Errorf("%s: %w", ins.Command, err))
		return true
	}
	x.response = resp
	return false
}

// Finish ends the run if Step has not, releases the plan and the interrupt
// handler, and frees the engine for the next run. Returns the run's error,
// nil on success. Safe to call more than once.
func (x *Execution) Finish() error {
	if !x.done {
		x.end(fmt.Errorf("%w: execution finished before the plan", ErrRunInterrupted))
	}
	if !x.finished {
		x.finished = true
		x.plan.Close()
		x.interrupt.Stop()
		x.engine.interrupt.CompareAndSwap(x.interrupt, nil)
		x.engine.running.Store(false)
	}
	return x.err
}

// checkpoint is polled before every instruction and while blocking.
func (x *Execution) checkpoint(ctx context.Context) error {
	if x.engine.panicked.Load() {
		return &PanicStateError{RunUID: x.rc.runStartUID}
	}
	if x.interrupt.Interrupted() {
		return ErrRunInterrupted
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRunInterrupted, err)
	}
	return nil
}

func (x *Execution) planError(err error) error {
	var pe *plan.PanicError
	switch {
	case errors.As(err, &pe):
		return &RuntimeError{
			Code:    ErrCodePlanPanic,
			Message: fmt.Sprint(pe.Value),
			RunUID:  x.rc.runStartUID,
			Details: map[string]string{"stack": string(pe.Stack)},
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if errors.Is(err, ErrRunInterrupted) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrRunInterrupted, err)
	}
	return fmt.Errorf("plan: %w", err)
}

// end queues the RunStop for cause and records it as the run's error.
func (x *Execution) end(cause error) {
	if x.done {
		return
	}
	x.done = true

	status, reason := exitStatus(cause)
	stop := document.RunStop{
		RunStart:   x.rc.runStartUID,
		Time:       x.engine.now(),
		ExitStatus: status,
		Reason:     reason,
		UID:        x.engine.uidGen.Generate(),
		NumEvents:  maps.Clone(x.rc.numEvents),
	}
	if err := x.engine.dispatcher.Emit(stop); err != nil {
		slog.Error("failed to queue run stop", "run_uid", stop.RunStart, "error", err)
		cause = errors.Join(cause, fmt.Errorf("emit run stop: %w", err))
	}

	slog.Info("run finished",
		"run_uid", stop.RunStart,
		"exit_status", stop.ExitStatus,
		"reason", stop.Reason,
		"steps", x.quota.Current(),
	)
	x.err = cause
}

// exitStatus classifies why a run ended.
func exitStatus(cause error) (document.ExitStatus, string) {
	switch {
	case cause == nil:
		return document.ExitSuccess, ""
	case IsPanicStateError(cause):
		return document.ExitFail, cause.Error()
	case errors.Is(cause, ErrRunInterrupted):
		return document.ExitAbort, cause.Error()
	}
	return document.ExitFail, cause.Error()
}
