package harness

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/runengine/internal/document"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Kinds    []document.Kind // Delivered document kinds for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Kinds) > 0 {
		parts := make([]string, len(e.Kinds))
		for i, k := range e.Kinds {
			parts[i] = string(k)
		}
		fmt.Fprintf(&buf, "\nDocument stream: %s\n", strings.Join(parts, " "))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDocCount:
			err = assertDocCount(result, a)
		case AssertDocOrder:
			err = assertDocOrder(result, a)
		case AssertExitStatus:
			err = assertExitStatus(result, a)
		case AssertSeqNums:
			err = assertSeqNums(result)
		case AssertEventFields:
			err = assertEventFields(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertDocCount checks that the kind appears exactly Count times.
func assertDocCount(result *Result, a Assertion) error {
	count := 0
	for _, d := range result.Docs {
		if string(d.Kind()) == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertDocCount,
			Expected: fmt.Sprintf("%d %s documents", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d %s documents", count, a.Kind),
			Kinds:    result.Kinds(),
		}
	}
	return nil
}

// assertDocOrder checks that Kinds is a subsequence of the delivered kinds.
// Documents not named in the list may intervene.
func assertDocOrder(result *Result, a Assertion) error {
	kinds := result.Kinds()
	next := 0
	for _, k := range kinds {
		if next < len(a.Kinds) && string(k) == a.Kinds[next] {
			next++
		}
	}
	if next < len(a.Kinds) {
		return &AssertionError{
			Type:     AssertDocOrder,
			Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
			Actual:   fmt.Sprintf("matched %d of %d, missing %s at position %d", next, len(a.Kinds), a.Kinds[next], next),
			Kinds:    kinds,
		}
	}
	return nil
}

// assertExitStatus checks the RunStop exit_status and, when Reason is set,
// that the RunStop reason contains it.
func assertExitStatus(result *Result, a Assertion) error {
	var stop *document.RunStop
	for i := len(result.Docs) - 1; i >= 0; i-- {
		if s, ok := result.Docs[i].(document.RunStop); ok {
			stop = &s
			break
		}
	}
	if stop == nil {
		return &AssertionError{
			Type:     AssertExitStatus,
			Expected: fmt.Sprintf("a stop document with exit_status %s", a.Status),
			Actual:   "no stop document delivered",
			Kinds:    result.Kinds(),
		}
	}
	if string(stop.ExitStatus) != a.Status {
		return &AssertionError{
			Type:     AssertExitStatus,
			Expected: fmt.Sprintf("exit_status %s", a.Status),
			Actual:   fmt.Sprintf("exit_status %s (reason %q)", stop.ExitStatus, stop.Reason),
		}
	}
	if a.Reason != "" && !strings.Contains(stop.Reason, a.Reason) {
		return &AssertionError{
			Type:     AssertExitStatus,
			Expected: fmt.Sprintf("reason containing %q", a.Reason),
			Actual:   fmt.Sprintf("reason %q", stop.Reason),
		}
	}
	return nil
}

// assertSeqNums checks that each descriptor's events are numbered 1..n in
// delivery order, and that every event references a delivered descriptor.
func assertSeqNums(result *Result) error {
	next := make(map[string]int64)
	for _, d := range result.Docs {
		switch doc := d.(type) {
		case document.EventDescriptor:
			next[doc.UID] = 1
		case document.Event:
			want, ok := next[doc.Descriptor]
			if !ok {
				return &AssertionError{
					Type:     AssertSeqNums,
					Expected: fmt.Sprintf("event %s after its descriptor", doc.UID),
					Actual:   fmt.Sprintf("descriptor %s not delivered before it", doc.Descriptor),
					Kinds:    result.Kinds(),
				}
			}
			if doc.SeqNum != want {
				return &AssertionError{
					Type:     AssertSeqNums,
					Expected: fmt.Sprintf("seq_num %d for descriptor %s", want, doc.Descriptor),
					Actual:   fmt.Sprintf("seq_num %d (event %s)", doc.SeqNum, doc.UID),
				}
			}
			next[doc.Descriptor] = want + 1
		}
	}
	return nil
}

// assertEventFields checks the reading values of the event at Index
// (subset match).
func assertEventFields(result *Result, a Assertion) error {
	events := result.Events()
	if a.Index >= len(events) {
		return &AssertionError{
			Type:     AssertEventFields,
			Expected: fmt.Sprintf("event at index %d", a.Index),
			Actual:   fmt.Sprintf("%d events delivered", len(events)),
			Kinds:    result.Kinds(),
		}
	}
	ev := events[a.Index]

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		want := a.Fields[field]
		reading, ok := ev.Data[field]
		if !ok {
			return &AssertionError{
				Type:     AssertEventFields,
				Expected: fmt.Sprintf("field %s in event %d", field, a.Index),
				Actual:   fmt.Sprintf("fields %v", document.SortedKeys(ev.Data)),
			}
		}
		if !valuesEqual(reading.Value, want) {
			return &AssertionError{
				Type:     AssertEventFields,
				Expected: fmt.Sprintf("%s = %v in event %d", field, want, a.Index),
				Actual:   fmt.Sprintf("%s = %v", field, reading.Value),
			}
		}
	}
	return nil
}

// fieldTolerance absorbs rounding in simulated signals written in YAML with
// a handful of decimals.
const fieldTolerance = 1e-6

// valuesEqual compares a reading value with a YAML-parsed expectation.
// Numbers compare by value within fieldTolerance, regardless of Go type.
func valuesEqual(actual, expected any) bool {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if aok && eok {
		return math.Abs(af-ef) <= fieldTolerance*math.Max(1, math.Abs(ef))
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
