package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/runengine/internal/document"
)

// Dispatcher defaults.
const (
	DefaultQueueSize    = 4096
	DefaultPollInterval = 10 * time.Millisecond
	DefaultEmitTimeout  = 5 * time.Second
)

// Callback receives one document. A returned error is logged and otherwise
// ignored: subscribers cannot fail a run.
type Callback func(doc document.Document) error

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID int64

type subscription struct {
	id SubscriptionID
	cb Callback
}

// Dispatcher decouples document production from subscriber callbacks.
//
// The execution context pushes documents with Emit; the control context pops
// them with ProcessQueue / ProcessAllQueues / Drain and invokes subscribers.
// There is one buffered channel per document kind. Every document is stamped
// with its emission order, so ProcessAllQueues and Drain deliver across kinds
// in exactly the order documents were emitted, while ProcessQueue serves a
// single kind in FIFO order.
//
// Thread-safety model:
//   - Emit: one producer at a time (the execution context)
//   - ProcessQueue / ProcessAllQueues / Drain: safe from any goroutine, but
//     emission order is only preserved if a single goroutine drains
//   - Subscribe / Unsubscribe: safe from any goroutine, including callbacks
type Dispatcher struct {
	queues map[document.Kind]chan envelope
	order  *Counter

	// popMu guards heads: documents taken off a channel to compare emission
	// order but not yet delivered.
	popMu sync.Mutex
	heads map[document.Kind]*envelope

	mu   sync.RWMutex
	subs map[document.Kind][]subscription
	ids  *Counter

	pollInterval time.Duration
	emitTimeout  time.Duration
}

type envelope struct {
	order int64
	doc   document.Document
}

// NewDispatcher creates a dispatcher with the given queue capacity per kind,
// pop timeout and emit back-pressure bound. Non-positive values select the
// defaults.
func NewDispatcher(queueSize int, pollInterval, emitTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if emitTimeout <= 0 {
		emitTimeout = DefaultEmitTimeout
	}

	d := &Dispatcher{
		queues:       make(map[document.Kind]chan envelope, len(document.Kinds)),
		order:        NewCounter(0),
		heads:        make(map[document.Kind]*envelope, len(document.Kinds)),
		subs:         make(map[document.Kind][]subscription, len(document.Kinds)),
		ids:          NewCounter(0),
		pollInterval: pollInterval,
		emitTimeout:  emitTimeout,
	}
	for _, k := range document.Kinds {
		d.queues[k] = make(chan envelope, queueSize)
	}
	return d
}

// Emit queues doc on the channel for its kind.
//
// The fast path never blocks. When the queue is full Emit waits up to the
// emit timeout for the control context to make room, then fails with a
// QUEUE_FULL runtime error rather than blocking the engine forever.
func (d *Dispatcher) Emit(doc document.Document) error {
	q, ok := d.queues[doc.Kind()]
	if !ok {
		return fmt.Errorf("emit: unknown document kind %q", doc.Kind())
	}
	env := envelope{order: d.order.Next(), doc: doc}

	select {
	case q <- env:
		return nil
	default:
	}

	slog.Warn("document queue full, waiting", "kind", doc.Kind(), "capacity", cap(q))
	timer := time.NewTimer(d.emitTimeout)
	defer timer.Stop()

	select {
	case q <- env:
		return nil
	case <-timer.C:
		return &RuntimeError{
			Code:    ErrCodeQueueFull,
			Message: fmt.Sprintf("%s queue full for %s", doc.Kind(), d.emitTimeout),
			Details: map[string]string{"uid": doc.DocUID()},
		}
	}
}

// ProcessQueue pops one document of kind, waiting up to the poll interval
// for one to arrive, and hands it to every subscriber of kind in
// registration order. Returns false if nothing arrived; that is not an error.
func (d *Dispatcher) ProcessQueue(kind document.Kind) bool {
	q, ok := d.queues[kind]
	if !ok {
		return false
	}

	d.popMu.Lock()
	if h := d.heads[kind]; h != nil {
		d.heads[kind] = nil
		d.popMu.Unlock()
		d.deliver(h.doc)
		return true
	}
	d.popMu.Unlock()

	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	select {
	case env := <-q:
		d.deliver(env.doc)
		return true
	case <-timer.C:
		return false
	}
}

// ProcessAllQueues delivers every queued document in emission order. If
// none is queued it waits up to the poll interval for one. Returns how many
// documents were delivered. Intended to be called in a loop by the control
// context while a run is active.
func (d *Dispatcher) ProcessAllQueues() int {
	if n := d.Drain(); n > 0 {
		return n
	}

	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	var env envelope
	select {
	case env = <-d.queues[document.KindStart]:
	case env = <-d.queues[document.KindDescriptor]:
	case env = <-d.queues[document.KindEvent]:
	case env = <-d.queues[document.KindStop]:
	case <-timer.C:
		return 0
	}

	d.popMu.Lock()
	if k := env.doc.Kind(); d.heads[k] == nil {
		head := env
		d.heads[k] = &head
		env = envelope{}
	}
	d.popMu.Unlock()
	if env.doc != nil {
		// Another drainer filled the head meanwhile; deliver in pop order.
		d.deliver(env.doc)
		return 1 + d.Drain()
	}
	return d.Drain()
}

// Drain delivers queued documents in emission order without waiting, until
// every queue is empty. Used after a run finishes to catch stragglers, and
// by sequential runs between instructions.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		env, ok := d.takeOldest()
		if !ok {
			return n
		}
		d.deliver(env.doc)
		n++
	}
}

// takeOldest refills empty heads without blocking and removes the head with
// the lowest emission order.
//
// Refill passes repeat until one adds nothing. Documents are pushed in
// emission order by a single producer, so every document older than a head
// was queued before that last pass began and cannot have been missed.
func (d *Dispatcher) takeOldest() (envelope, bool) {
	d.popMu.Lock()
	defer d.popMu.Unlock()

	for d.refillHeads() {
	}

	var oldest *envelope
	for _, k := range document.Kinds {
		if h := d.heads[k]; h != nil && (oldest == nil || h.order < oldest.order) {
			oldest = h
		}
	}
	if oldest == nil {
		return envelope{}, false
	}
	d.heads[oldest.doc.Kind()] = nil
	return *oldest, true
}

// refillHeads moves the front of every channel whose head is empty into
// heads, without blocking. Reports whether any head was filled. Callers
// hold popMu.
func (d *Dispatcher) refillHeads() bool {
	filled := false
	for _, k := range document.Kinds {
		if d.heads[k] != nil {
			continue
		}
		select {
		case env := <-d.queues[k]:
			d.heads[k] = &env
			filled = true
		default:
		}
	}
	return filled
}

// Pending returns the number of queued documents of kind.
func (d *Dispatcher) Pending(kind document.Kind) int {
	d.popMu.Lock()
	defer d.popMu.Unlock()
	n := len(d.queues[kind])
	if d.heads[kind] != nil {
		n++
	}
	return n
}

// Subscribe registers cb for documents of kind and returns its id.
func (d *Dispatcher) Subscribe(kind document.Kind, cb Callback) SubscriptionID {
	id := SubscriptionID(d.ids.Next())

	d.mu.Lock()
	d.subs[kind] = append(d.subs[kind], subscription{id: id, cb: cb})
	d.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription. Returns false if id is unknown.
func (d *Dispatcher) Unsubscribe(id SubscriptionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for kind, subs := range d.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			// Copy so a concurrent deliver iterating the old slice is unaffected.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			d.subs[kind] = next
			return true
		}
	}
	return false
}

// deliver invokes every subscriber of doc's kind. Callback errors and panics
// are logged; the remaining subscribers still run.
func (d *Dispatcher) deliver(doc document.Document) {
	d.mu.RLock()
	subs := d.subs[doc.Kind()]
	d.mu.RUnlock()

	for _, s := range subs {
		d.invoke(s, doc)
	}
}

func (d *Dispatcher) invoke(s subscription, doc document.Document) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked",
				"subscription", s.id,
				"kind", doc.Kind(),
				"uid", doc.DocUID(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := s.cb(doc); err != nil {
		slog.Error("subscriber failed",
			"subscription", s.id,
			"kind", doc.Kind(),
			"uid", doc.DocUID(),
			"error", err,
		)
	}
}
