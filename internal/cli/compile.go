package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/runengine/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	DeviceCount int
	StepCount   int
	Commands    map[string]int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <plan.cue>",
		Short: "Compile a CUE plan to its flat step list",
		Long: `Compile a CUE plan file to JSON.

Comprehensions and nested step lists are expanded, so the output shows
exactly the instructions a run would execute, in order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	spec, err := LoadPlanFile(path)
	if err != nil {
		code, msg := loadErrorCode(err)
		return outputCompileError(formatter, code, msg, loadErrorDetails(err))
	}

	for _, d := range spec.Devices {
		formatter.VerboseLog("Device %s: %s", d.Name, d.Kind)
	}

	stats := calculateStats(spec)

	if opts.Output != "" {
		if err := writePlanToFile(spec, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, spec, stats, opts.Output)
}

// calculateStats computes summary statistics for a compiled plan.
func calculateStats(spec *compiler.PlanSpec) CompilationStats {
	stats := CompilationStats{
		DeviceCount: len(spec.Devices),
		StepCount:   len(spec.Steps),
		Commands:    make(map[string]int),
	}
	for _, s := range spec.Steps {
		stats.Commands[string(s.Command)]++
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, spec *compiler.PlanSpec, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(spec)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled plan %q: %d device(s), %d step(s)\n\n",
		spec.Name, stats.DeviceCount, stats.StepCount)

	if len(spec.Devices) > 0 {
		fmt.Fprintln(formatter.Writer, "Devices:")
		for _, d := range spec.Devices {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", d.Name, d.Kind)
		}
		fmt.Fprintln(formatter.Writer)
	}

	fmt.Fprintln(formatter.Writer, "Steps:")
	for _, cmd := range sortedCommandNames(stats.Commands) {
		fmt.Fprintf(formatter.Writer, "  %s: %d\n", cmd, stats.Commands[cmd])
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote compiled plan to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// writePlanToFile writes the compiled plan as indented JSON.
func writePlanToFile(spec *compiler.PlanSpec, filename string) error {
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func sortedCommandNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
