package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runengine/internal/document"
)

// sampleResult builds a two-event run with one descriptor.
func sampleResult() *Result {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewResult()
	r.Docs = []document.Document{
		document.RunStart{UID: "s"},
		document.EventDescriptor{RunStart: "s", UID: "d1"},
		document.Event{Descriptor: "d1", SeqNum: 1, UID: "e1", Data: document.Readings{
			"det":     {Value: 13.5335283236, Timestamp: ts},
			"motor_x": {Value: 1.0, Timestamp: ts},
			"label":   {Value: "a", Timestamp: ts},
		}},
		document.Event{Descriptor: "d1", SeqNum: 2, UID: "e2", Data: document.Readings{
			"det": {Value: 100.0, Timestamp: ts},
		}},
		document.RunStop{RunStart: "s", UID: "x", ExitStatus: document.ExitSuccess},
	}
	r.ExitStatus = document.ExitSuccess
	return r
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertDocCount, Kind: "event", Count: 2},
		{Type: AssertDocCount, Kind: "descriptor", Count: 1},
		{Type: AssertDocOrder, Kinds: []string{"start", "event", "event", "stop"}},
		{Type: AssertExitStatus, Status: "success"},
		{Type: AssertSeqNums},
		{Type: AssertEventFields, Index: 0, Fields: map[string]any{"det": 13.5335283, "motor_x": 1, "label": "a"}},
		{Type: AssertEventFields, Index: 1, Fields: map[string]any{"det": 100}},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"count", Assertion{Type: AssertDocCount, Kind: "event", Count: 3}, "Expected: 3 event documents"},
		{"order missing", Assertion{Type: AssertDocOrder, Kinds: []string{"start", "stop", "event"}}, "missing event at position 2"},
		{"order too many", Assertion{Type: AssertDocOrder, Kinds: []string{"event", "event", "event"}}, "matched 2 of 3"},
		{"status", Assertion{Type: AssertExitStatus, Status: "abort"}, "exit_status success"},
		{"reason", Assertion{Type: AssertExitStatus, Status: "success", Reason: "boom"}, `reason containing "boom"`},
		{"index", Assertion{Type: AssertEventFields, Index: 5, Fields: map[string]any{"det": 1}}, "2 events delivered"},
		{"missing field", Assertion{Type: AssertEventFields, Fields: map[string]any{"temp": 1}}, "field temp in event 0"},
		{"value", Assertion{Type: AssertEventFields, Index: 1, Fields: map[string]any{"det": 99}}, "det = 99 in event 1"},
		{"string value", Assertion{Type: AssertEventFields, Fields: map[string]any{"label": "b"}}, "label = b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "assertions[0]")
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestAssertSeqNums_Gap(t *testing.T) {
	r := sampleResult()
	r.Docs[3] = document.Event{Descriptor: "d1", SeqNum: 3, UID: "e2"}

	errs := EvaluateAssertions(r, []Assertion{{Type: AssertSeqNums}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "seq_num 2 for descriptor d1")
}

func TestAssertSeqNums_EventBeforeDescriptor(t *testing.T) {
	r := sampleResult()
	r.Docs[1], r.Docs[2] = r.Docs[2], r.Docs[1]

	errs := EvaluateAssertions(r, []Assertion{{Type: AssertSeqNums}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "descriptor d1 not delivered before it")
}

func TestAssertSeqNums_PerDescriptor(t *testing.T) {
	r := NewResult()
	r.Docs = []document.Document{
		document.EventDescriptor{UID: "a"},
		document.Event{Descriptor: "a", SeqNum: 1},
		document.EventDescriptor{UID: "b"},
		document.Event{Descriptor: "b", SeqNum: 1},
		document.Event{Descriptor: "a", SeqNum: 2},
		document.Event{Descriptor: "b", SeqNum: 2},
	}
	assert.Empty(t, EvaluateAssertions(r, []Assertion{{Type: AssertSeqNums}}))
}

func TestAssertExitStatus_NoStop(t *testing.T) {
	r := sampleResult()
	r.Docs = r.Docs[:4]

	errs := EvaluateAssertions(r, []Assertion{{Type: AssertExitStatus, Status: "success"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "no stop document delivered")
}

func TestEvaluateAssertions_OrderAndIndexing(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertSeqNums},
		{Type: AssertDocCount, Kind: "stop", Count: 2},
		{Type: AssertDocCount, Kind: "start", Count: 1},
		{Type: AssertExitStatus, Status: "fail"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[1]")
	assert.Contains(t, errs[1], "assertions[3]")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertDocCount,
		Expected: "1 event documents",
		Actual:   "0 event documents",
		Kinds:    []document.Kind{document.KindStart, document.KindStop},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: doc_count")
	assert.Contains(t, msg, "Expected: 1 event documents")
	assert.Contains(t, msg, "Actual: 0 event documents")
	assert.Contains(t, msg, "Document stream: start stop")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(1.0, 1))
	assert.True(t, valuesEqual(int64(3), 3.0))
	assert.True(t, valuesEqual(1000000.0, 1000000.5))
	assert.False(t, valuesEqual(1.0, 1.01))
	assert.True(t, valuesEqual("a", "a"))
	assert.False(t, valuesEqual("1", 1))
	assert.True(t, valuesEqual([]any{1, "x"}, []any{1, "x"}))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("broken")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"broken"}, r.Errors)
}
