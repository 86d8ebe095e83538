package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// planPath is the top-level field holding the plan in a plan file.
const planPath = "plan"

// LoadPlanFile loads a single CUE file and returns its plan value.
//
// The file is loaded as a CUE instance, so it may import standard CUE
// packages such as "list" and "math".
func LoadPlanFile(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("plan file: %w", err)
	}
	if info.IsDir() {
		return cue.Value{}, fmt.Errorf("plan file: %s is a directory", path)
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: filepath.Dir(path)}
	instances := load.Instances([]string{filepath.Base(path)}, cfg)
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("plan file: no CUE instance loaded from %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading %s: %w", path, formatCUEError(inst.Err))
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("building %s: %w", path, formatCUEError(err))
	}
	return value.LookupPath(cue.ParsePath(planPath)), nil
}

// LoadPlan loads and compiles a plan file.
func LoadPlan(path string) (*PlanSpec, error) {
	v, err := LoadPlanFile(path)
	if err != nil {
		return nil, err
	}
	return CompilePlan(v)
}

// CompileSource compiles plan source held in memory. filename is used in
// error positions.
func CompileSource(filename string, src []byte) (*PlanSpec, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompilePlan(value.LookupPath(cue.ParsePath(planPath)))
}
