package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/runengine/internal/document"
)

// Snapshot renders a document stream as canonical JSON, one document per
// line, in delivery order.
func Snapshot(docs []document.Document) ([]byte, error) {
	var buf bytes.Buffer
	for _, d := range docs {
		line, err := document.MarshalCanonical(d)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// NewGoldie returns the goldie instance used for document stream golden
// files under testdata/golden with a .golden suffix.
func NewGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario, fails t on assertion failures, and
// compares the document stream against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario cannot be executed.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's document stream against a
// golden file without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result.Docs)
	if err != nil {
		return err
	}
	NewGoldie(t).Assert(t, name, snapshot)
	return nil
}
