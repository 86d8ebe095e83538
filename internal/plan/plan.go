package plan

import (
	"context"
	"errors"
)

// ErrExhausted is returned by Next when the plan has no more instructions.
// It is the normal end of a plan, not a failure.
var ErrExhausted = errors.New("plan exhausted")

// ErrClosed is returned by Yielder.Yield after the plan has been closed.
// Plan bodies should return promptly when they see it.
var ErrClosed = errors.New("plan closed")

// Plan is a suspendable producer of instructions.
//
// Next supplies the response to the previous instruction (nil on the first
// call) and returns the next instruction. It returns ErrExhausted when the
// plan is done, or any other error the plan raised. After Next has returned
// an error, subsequent calls return the same error.
//
// Close releases resources held by the plan. It is safe to call more than
// once and after exhaustion.
type Plan interface {
	Next(ctx context.Context, response any) (Instruction, error)
	Close()
}

// listPlan yields a fixed slice of instructions, ignoring responses.
type listPlan struct {
	ins []Instruction
	pos int
}

// FromList returns a plan that yields ins in order.
func FromList(ins ...Instruction) Plan {
	return &listPlan{ins: append([]Instruction(nil), ins...)}
}

func (p *listPlan) Next(ctx context.Context, _ any) (Instruction, error) {
	if err := ctx.Err(); err != nil {
		return Instruction{}, err
	}
	if p.pos >= len(p.ins) {
		return Instruction{}, ErrExhausted
	}
	ins := p.ins[p.pos]
	p.pos++
	return ins, nil
}

func (p *listPlan) Close() {}

// chainPlan runs plans back to back. The response to the last instruction of
// one plan is not forwarded to the next plan's first pull.
type chainPlan struct {
	plans []Plan
	cur   int
	fresh bool
}

// Chain returns a plan that yields every instruction of each plan in turn.
// Closing the chain closes every member.
func Chain(plans ...Plan) Plan {
	return &chainPlan{plans: append([]Plan(nil), plans...), fresh: true}
}

func (c *chainPlan) Next(ctx context.Context, response any) (Instruction, error) {
	for c.cur < len(c.plans) {
		if c.fresh {
			response = nil
		}
		ins, err := c.plans[c.cur].Next(ctx, response)
		if errors.Is(err, ErrExhausted) {
			c.cur++
			c.fresh = true
			continue
		}
		if err != nil {
			return Instruction{}, err
		}
		c.fresh = false
		return ins, nil
	}
	return Instruction{}, ErrExhausted
}

func (c *chainPlan) Close() {
	for _, p := range c.plans {
		p.Close()
	}
}
