// Package engine executes plans and emits the documents that describe them.
//
// The engine is the heart of runengine: it pulls instructions from a plan,
// dispatches each to a handler, feeds the handler's result back to the plan
// as the next response, and records what happened as a stream of documents
// (RunStart, EventDescriptor, Event, RunStop).
//
// ARCHITECTURE:
//
// Two contexts:
// The execution context runs the plan and its handlers. It owns the
// RunContext and is the only producer of documents. The control context
// drains the Dispatcher and invokes subscriber callbacks. In the default
// concurrent mode the execution context is a goroutine started by Run; with
// Sequential, or when embedding with Start/Step/Finish, both run on the
// caller and documents are drained between instructions.
//
// Instruction flow:
//  1. checkpoint: panic flag, interrupt, context cancellation
//  2. plan.Next(previous response) yields an Instruction
//  3. dispatch resolves core commands, then registered ones
//  4. handler result becomes the next response
//
// Documents:
// save emits an EventDescriptor the first time a set of devices is saved in
// a run, then an Event with seq_num counting from 1 within that descriptor.
// Every run that emitted a RunStart emits exactly one RunStop, whatever the
// outcome: "success" when the plan is exhausted, "abort" on interrupt or
// cancellation, "fail" on any error or when the panic flag is set.
//
// Cancellation is cooperative. Handlers that block (wait, sleep, custom
// commands) poll RunContext.Checkpoint every poll interval.
package engine
