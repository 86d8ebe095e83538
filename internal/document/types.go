package document

import (
	"fmt"
	"maps"
	"time"
)

// Kind identifies a document type. Dispatcher queues and subscriptions are
// keyed by Kind.
type Kind string

const (
	KindStart      Kind = "start"
	KindDescriptor Kind = "descriptor"
	KindEvent      Kind = "event"
	KindStop       Kind = "stop"
)

// Kinds lists every document kind in emission-priority order.
// Run subscribes callbacks in this order.
var Kinds = []Kind{KindStart, KindDescriptor, KindEvent, KindStop}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown document kind %q", s)
}

// ExitStatus classifies how a run ended.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "success"
	ExitAbort   ExitStatus = "abort"
	ExitFail    ExitStatus = "fail"
)

// DataKey describes one field a device reports: where it comes from and
// what type its values have.
type DataKey struct {
	Source string `json:"source"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape,omitempty"`
}

// DataKeys maps field name to its schema. This is what Describe returns.
type DataKeys map[string]DataKey

// Reading is one field value with the time it was taken.
type Reading struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Readings maps field name to its reading. This is what Read returns.
type Readings map[string]Reading

// Document is implemented by the four document types.
type Document interface {
	Kind() Kind
	DocUID() string
}

// RunStart opens a run. Exactly one per run, always first.
type RunStart struct {
	UID        string         `json:"uid"`
	Time       time.Time      `json:"time"`
	BeamlineID string         `json:"beamline_id"`
	Owner      string         `json:"owner"`
	ScanID     int64          `json:"scan_id"`
	PlanName   string         `json:"plan_name,omitempty"`
	Custom     map[string]any `json:"custom,omitempty"`
}

func (RunStart) Kind() Kind       { return KindStart }
func (d RunStart) DocUID() string { return d.UID }

// EventDescriptor declares the schema shared by a lineage of Events.
// DataKeys is the merged Describe output of every device read since the
// last create.
type EventDescriptor struct {
	RunStart string    `json:"run_start"`
	Time     time.Time `json:"time"`
	DataKeys DataKeys  `json:"data_keys"`
	UID      string    `json:"uid"`
}

func (EventDescriptor) Kind() Kind       { return KindDescriptor }
func (d EventDescriptor) DocUID() string { return d.UID }

// Event is one saved bundle of readings.
// SeqNum starts at 1 per descriptor and has no gaps.
type Event struct {
	Descriptor string    `json:"descriptor"`
	Time       time.Time `json:"time"`
	Data       Readings  `json:"data"`
	SeqNum     int64     `json:"seq_num"`
	UID        string    `json:"uid"`
}

func (Event) Kind() Kind       { return KindEvent }
func (d Event) DocUID() string { return d.UID }

// RunStop closes a run. Exactly one per run, always last, whatever the outcome.
type RunStop struct {
	RunStart   string         `json:"run_start"`
	Time       time.Time      `json:"time"`
	ExitStatus ExitStatus     `json:"exit_status"`
	Reason     string         `json:"reason"`
	UID        string         `json:"uid"`
	NumEvents  map[string]int `json:"num_events,omitempty"`
}

func (RunStop) Kind() Kind       { return KindStop }
func (d RunStop) DocUID() string { return d.UID }

// Clone returns a deep copy of the data keys.
func (dk DataKeys) Clone() DataKeys {
	out := make(DataKeys, len(dk))
	for k, v := range dk {
		if v.Shape != nil {
			v.Shape = append([]int(nil), v.Shape...)
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of the readings map. Reading values are
// treated as immutable scalars.
func (r Readings) Clone() Readings {
	return maps.Clone(r)
}
