package plan

import (
	"context"
	"time"

	"github.com/roach88/runengine/internal/device"
)

// Group names used by the builders below.
const (
	GroupCount = "count"
	GroupScan  = "scan"
)

// Count takes n readings of dets. Each point triggers every detector in one
// block group, waits for them, reads them and saves one event. A positive
// delay sleeps between points.
func Count(dets []device.Device, n int, delay time.Duration) Plan {
	dets = append([]device.Device(nil), dets...)
	return New(func(ctx context.Context, y *Yielder) error {
		for i := 0; i < n; i++ {
			if i > 0 && delay > 0 {
				if _, err := y.Yield(Sleep(delay)); err != nil {
					return err
				}
			}
			if err := y.YieldAll(point(dets, GroupCount)...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan steps one motor axis through positions. At each position the motor
// is set and triggered together with dets in a single block group; once all
// have settled the detectors and then the motor are read into one event.
func Scan(motor device.Device, axis string, positions []float64, dets []device.Device) Plan {
	positions = append([]float64(nil), positions...)
	dets = append([]device.Device(nil), dets...)
	return New(func(ctx context.Context, y *Yielder) error {
		for _, x := range positions {
			ins := []Instruction{
				Create(),
				Set(motor, map[string]any{axis: x}),
				Trigger(motor, GroupScan),
			}
			for _, d := range dets {
				ins = append(ins, Trigger(d, GroupScan))
			}
			ins = append(ins, Wait(GroupScan))
			for _, d := range dets {
				ins = append(ins, Read(d))
			}
			ins = append(ins, Read(motor), Save())
			if err := y.YieldAll(ins...); err != nil {
				return err
			}
		}
		return nil
	})
}

// point is one triggered-and-read event over dets.
func point(dets []device.Device, group string) []Instruction {
	ins := []Instruction{Create()}
	for _, d := range dets {
		ins = append(ins, Trigger(d, group))
	}
	ins = append(ins, Wait(group))
	for _, d := range dets {
		ins = append(ins, Read(d))
	}
	return append(ins, Save())
}

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}
