package engine

import "sync/atomic"

// Counter hands out strictly increasing int64 values, safe for concurrent
// use. The engine numbers scans with one; the dispatcher stamps emission
// order and subscription ids with others.
type Counter struct {
	n atomic.Int64
}

// NewCounter returns a counter whose first Next is after+1.
func NewCounter(after int64) *Counter {
	c := &Counter{}
	c.n.Store(after)
	return c
}

// Next advances the counter and returns the new value.
func (c *Counter) Next() int64 { return c.n.Add(1) }

// Last returns the most recent value handed out, or the starting point if
// Next has not been called.
func (c *Counter) Last() int64 { return c.n.Load() }
