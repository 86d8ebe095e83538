package testutil

import (
	"sync"

	"github.com/roach88/runengine/internal/document"
)

// Recorder collects delivered documents in arrival order.
//
// Pass Record as a subscriber callback. Thread-safety: safe for concurrent
// use via internal mutex.
type Recorder struct {
	mu   sync.Mutex
	docs []document.Document
}

// Record appends doc. It never fails.
func (r *Recorder) Record(doc document.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return nil
}

// Docs returns a copy of the recorded documents.
func (r *Recorder) Docs() []document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]document.Document(nil), r.docs...)
}

// Kinds returns the kind of each recorded document, in order.
func (r *Recorder) Kinds() []document.Kind {
	docs := r.Docs()
	kinds := make([]document.Kind, len(docs))
	for i, d := range docs {
		kinds[i] = d.Kind()
	}
	return kinds
}

// Count returns how many documents of kind were recorded.
func (r *Recorder) Count(kind document.Kind) int {
	n := 0
	for _, d := range r.Docs() {
		if d.Kind() == kind {
			n++
		}
	}
	return n
}

// Events returns the recorded Event documents, in order.
func (r *Recorder) Events() []document.Event {
	var out []document.Event
	for _, d := range r.Docs() {
		if ev, ok := d.(document.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Descriptors returns the recorded EventDescriptor documents, in order.
func (r *Recorder) Descriptors() []document.EventDescriptor {
	var out []document.EventDescriptor
	for _, d := range r.Docs() {
		if desc, ok := d.(document.EventDescriptor); ok {
			out = append(out, desc)
		}
	}
	return out
}

// Stop returns the last recorded RunStop, if any.
func (r *Recorder) Stop() (document.RunStop, bool) {
	docs := r.Docs()
	for i := len(docs) - 1; i >= 0; i-- {
		if stop, ok := docs[i].(document.RunStop); ok {
			return stop, true
		}
	}
	return document.RunStop{}, false
}
