package harness

import "github.com/roach88/runengine/internal/document"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Docs contains every delivered document in delivery order.
	Docs []document.Document `json:"-"`

	// ExitStatus is the RunStop's exit_status.
	ExitStatus document.ExitStatus `json:"exit_status"`

	// RunError is the error Run returned, if any. A failing or aborted run
	// is not a harness error; assert on it with exit_status.
	RunError string `json:"run_error,omitempty"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Kinds returns the kind of each delivered document, in order.
func (r *Result) Kinds() []document.Kind {
	kinds := make([]document.Kind, len(r.Docs))
	for i, d := range r.Docs {
		kinds[i] = d.Kind()
	}
	return kinds
}

// Events returns the delivered Event documents, in order.
func (r *Result) Events() []document.Event {
	var out []document.Event
	for _, d := range r.Docs {
		if ev, ok := d.(document.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}
