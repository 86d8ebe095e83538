package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPlan(t *testing.T) {
	spec, err := LoadPlan(filepath.Join("testdata", "scan.cue"))
	require.NoError(t, err)

	assert.Equal(t, "gaussian-scan", spec.Name)
	assert.Len(t, spec.Devices, 2)
	assert.Len(t, spec.Steps, 80, "10 points of 8 steps")
	assert.EqualValues(t, 10, spec.Steps[73].Values["x"])
	assert.Empty(t, Validate(spec))
}

func TestLoadPlanFileNotFound(t *testing.T) {
	_, err := LoadPlanFile(filepath.Join("testdata", "missing.cue"))

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadPlanFileDirectory(t *testing.T) {
	_, err := LoadPlanFile("testdata")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestLoadPlanFileSyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("plan: {name: \"x\"\n"), 0o644))

	_, err := LoadPlanFile(path)
	require.Error(t, err)
}

func TestCompileSource(t *testing.T) {
	spec, err := CompileSource("inline.cue", []byte(`plan: {name: "inline", steps: [{cmd: "null"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "inline", spec.Name)

	_, err = CompileSource("inline.cue", []byte(`plan: {`))
	require.Error(t, err)
}
