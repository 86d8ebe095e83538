package plan

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Func is the body of a generator plan. It yields instructions through y and
// returns nil when done. Any other return value fails the run.
type Func func(ctx context.Context, y *Yielder) error

// PanicError wraps a panic raised inside a plan body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("plan panicked: %v", e.Value)
}

// step crosses from the plan goroutine to the engine: either the next
// instruction or the terminal error (ErrExhausted on normal return).
type step struct {
	ins Instruction
	err error
}

// generator drives a Func on its own goroutine.
//
// Protocol (strictly alternating, one value in flight):
//
//	engine                         plan goroutine
//	Next(nil)      ── start ──►    body runs until Yield
//	               ◄── out ───     instruction 1
//	Next(resp1)    ─── in ───►     Yield returns resp1
//	               ◄── out ───     instruction 2 | terminal error
//
// Both channels are unbuffered, so the body never runs ahead of the engine.
type generator struct {
	body Func

	ctx    context.Context
	cancel context.CancelFunc

	out  chan step
	in   chan any
	done chan struct{}

	started bool
	err     error // sticky terminal error

	closeOnce sync.Once
}

// New returns a plan backed by body.
func New(body Func) Plan {
	ctx, cancel := context.WithCancel(context.Background())
	return &generator{
		body:   body,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan step),
		in:     make(chan any),
		done:   make(chan struct{}),
	}
}

func (g *generator) Next(ctx context.Context, response any) (Instruction, error) {
	if g.err != nil {
		return Instruction{}, g.err
	}
	if g.ctx.Err() != nil {
		return Instruction{}, ErrClosed
	}

	if !g.started {
		g.started = true
		go g.run()
	} else {
		select {
		case g.in <- response:
		case <-ctx.Done():
			return Instruction{}, ctx.Err()
		case <-g.ctx.Done():
			return Instruction{}, ErrClosed
		}
	}

	select {
	case s := <-g.out:
		if s.err != nil {
			g.err = s.err
			return Instruction{}, s.err
		}
		return s.ins, nil
	case <-ctx.Done():
		return Instruction{}, ctx.Err()
	case <-g.ctx.Done():
		return Instruction{}, ErrClosed
	}
}

// Close cancels a suspended body and waits for its goroutine to exit.
func (g *generator) Close() {
	g.closeOnce.Do(func() {
		g.cancel()
		if g.started {
			<-g.done
		}
	})
}

func (g *generator) run() {
	defer close(g.done)

	err := g.call()
	if err == nil {
		err = ErrExhausted
	}

	select {
	case g.out <- step{err: err}:
	case <-g.ctx.Done():
	}
}

func (g *generator) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return g.body(g.ctx, &Yielder{g: g})
}

// Yielder hands instructions from a plan body to the engine.
type Yielder struct {
	g *generator
}

// Yield suspends the body until the engine has executed ins, then returns the
// instruction's response. It returns ErrClosed if the plan is closed while
// suspended.
func (y *Yielder) Yield(ins Instruction) (any, error) {
	g := y.g
	select {
	case g.out <- step{ins: ins}:
	case <-g.ctx.Done():
		return nil, ErrClosed
	}

	select {
	case resp := <-g.in:
		return resp, nil
	case <-g.ctx.Done():
		return nil, ErrClosed
	}
}

// YieldAll yields each instruction in turn, discarding responses.
func (y *Yielder) YieldAll(ins ...Instruction) error {
	for _, i := range ins {
		if _, err := y.Yield(i); err != nil {
			return err
		}
	}
	return nil
}
