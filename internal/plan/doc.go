// Package plan defines instructions and the producers that yield them.
//
// A Plan is pulled by the engine one instruction at a time. Each pull carries
// the response to the previous instruction (nil on the first pull), so a plan
// can branch on what a read returned:
//
//	p := plan.New(func(ctx context.Context, y *plan.Yielder) error {
//	    if _, err := y.Yield(plan.Create()); err != nil {
//	        return err
//	    }
//	    resp, err := y.Yield(plan.Read(det))
//	    if err != nil {
//	        return err
//	    }
//	    if r := resp.(document.Readings); r["det"].Value.(float64) > 10 {
//	        _, err = y.Yield(plan.Save())
//	    }
//	    return err
//	})
//
// New runs the body on its own goroutine and hands instructions across a pair
// of unbuffered channels. The body is suspended inside Yield until the engine
// supplies the response, so the body and the engine never run at the same time.
//
// FromList and Chain build plans that need no goroutine.
package plan
