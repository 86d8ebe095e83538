package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/runengine/internal/document"
)

// Scenario defines a conformance scenario: a plan to run and assertions on
// the document stream it produces.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Plan is inline CUE source with a top-level plan field.
	Plan string `yaml:"plan,omitempty"`

	// PlanFile is a path to a CUE plan file, relative to the scenario file.
	// Exactly one of Plan and PlanFile must be set.
	PlanFile string `yaml:"plan_file,omitempty"`

	// Sequential runs the plan on the caller instead of its own goroutine.
	Sequential bool `yaml:"sequential,omitempty"`

	// InterruptAfter requests an interrupt once this many events have been
	// delivered. Zero disables it. Only deterministic with Sequential.
	InterruptAfter int `yaml:"interrupt_after,omitempty"`

	// Assertions validate the delivered documents.
	Assertions []Assertion `yaml:"assertions"`

	// path is the file the scenario was loaded from, if any.
	path string
}

// Assertion validates the document stream or the run outcome.
type Assertion struct {
	// Type selects the check:
	// - "doc_count": Kind appears exactly Count times
	// - "doc_order": Kinds appear in this order (other documents may intervene)
	// - "exit_status": the RunStop has Status, and a reason containing Reason
	// - "seq_nums": every descriptor's events are numbered 1..n without gaps
	// - "event_fields": the event at Index has the given Fields values
	Type string `yaml:"type"`

	Kind  string   `yaml:"kind,omitempty"`
	Count int      `yaml:"count,omitempty"`
	Kinds []string `yaml:"kinds,omitempty"`

	Status string `yaml:"status,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// Index is the position of the event among all events, starting at 0.
	Index int `yaml:"index,omitempty"`

	// Fields is a subset match on the event's reading values.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertDocCount    = "doc_count"
	AssertDocOrder    = "doc_order"
	AssertExitStatus  = "exit_status"
	AssertSeqNums     = "seq_nums"
	AssertEventFields = "event_fields"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.path = path
	if scenario.PlanFile != "" && !filepath.IsAbs(scenario.PlanFile) {
		scenario.PlanFile = filepath.Join(filepath.Dir(path), scenario.PlanFile)
	}
	if scenario.PlanFile != "" {
		if _, err := os.Stat(scenario.PlanFile); err != nil {
			return nil, fmt.Errorf("invalid scenario: plan file: %w", err)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML held in memory. A relative plan_file is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Path returns the file the scenario was loaded from, or "" for scenarios
// parsed from memory.
func (s *Scenario) Path() string { return s.path }

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch {
	case s.Plan == "" && s.PlanFile == "":
		return fmt.Errorf("one of plan or plan_file is required")
	case s.Plan != "" && s.PlanFile != "":
		return fmt.Errorf("plan and plan_file are mutually exclusive")
	}
	if s.InterruptAfter < 0 {
		return fmt.Errorf("interrupt_after must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDocCount:
		if _, err := document.ParseKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for doc_count", index)
		}
	case AssertDocOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for doc_order", index)
		}
		for _, k := range a.Kinds {
			if _, err := document.ParseKind(k); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertExitStatus:
		switch document.ExitStatus(a.Status) {
		case document.ExitSuccess, document.ExitAbort, document.ExitFail:
		default:
			return fmt.Errorf("assertions[%d]: status must be success, abort or fail, got %q", index, a.Status)
		}
	case AssertSeqNums:
	case AssertEventFields:
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative for event_fields", index)
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields is required for event_fields", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
