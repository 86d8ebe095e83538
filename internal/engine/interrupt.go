package engine

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Interrupt turns an external interrupt signal into a flag the run loop can
// poll. It is installed when a run starts and removed when it ends, so a
// Ctrl-C during a run aborts the run cleanly (RunStop with exit_status
// "abort") instead of killing the process mid-document.
//
// Detection is cooperative: the engine checks Interrupted before every
// instruction and while waiting or sleeping.
type Interrupt struct {
	flag atomic.Bool

	sigCh chan os.Signal
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// WatchInterrupt installs a handler for signals that sets the interrupted
// flag instead of terminating the process. With no signals the returned
// Interrupt only responds to Trigger.
func WatchInterrupt(signals ...os.Signal) *Interrupt {
	in := &Interrupt{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if len(signals) == 0 {
		close(in.done)
		return in
	}

	in.sigCh = make(chan os.Signal, 1)
	signal.Notify(in.sigCh, signals...)
	go in.loop()
	return in
}

func (in *Interrupt) loop() {
	defer close(in.done)
	for {
		select {
		case sig := <-in.sigCh:
			slog.Info("interrupt received, aborting after current instruction", "signal", sig)
			in.flag.Store(true)
		case <-in.stop:
			return
		}
	}
}

// Interrupted reports whether an interrupt has been observed.
func (in *Interrupt) Interrupted() bool {
	return in.flag.Load()
}

// Trigger sets the flag as if a signal had arrived.
func (in *Interrupt) Trigger() {
	in.flag.Store(true)
}

// Stop removes the signal handler, restoring the previous disposition.
// Safe to call more than once.
func (in *Interrupt) Stop() {
	in.once.Do(func() {
		if in.sigCh != nil {
			signal.Stop(in.sigCh)
		}
		close(in.stop)
		<-in.done
	})
}
