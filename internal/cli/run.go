package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runengine/internal/compiler"
	"github.com/roach88/runengine/internal/config"
	"github.com/roach88/runengine/internal/device/sim"
	"github.com/roach88/runengine/internal/document"
	"github.com/roach88/runengine/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string
	EnvFile    string
	Sequential bool
	Quiet      bool

	// UIDGenerator and Now override the document uid and time sources
	// (for testing). Now also drives the simulated devices.
	UIDGenerator engine.UIDGenerator
	Now          func() time.Time
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunUID      string              `json:"run_uid"`
	ScanID      int64               `json:"scan_id"`
	Plan        string              `json:"plan"`
	ExitStatus  document.ExitStatus `json:"exit_status"`
	Reason      string              `json:"reason,omitempty"`
	Descriptors int                 `json:"descriptors"`
	Events      int                 `json:"events"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.cue>",
		Short: "Run a plan and print its documents",
		Long: `Run a CUE plan against simulated devices.

Every document the run produces is printed as it is delivered: one line per
document, canonical JSON with --format json. Ctrl-C (or SIGTERM) aborts the
run; the run stop document is still printed.

Engine settings come from an optional YAML config file, with ${VAR}
references expanded from the environment and an optional .env file.

Exit codes:
  0   - Run succeeded
  1   - Run failed
  2   - Command error (plan, config or env file invalid)
  130 - Run aborted

Example:
  runengine run ./plans/scan.cue
  runengine run --config runengine.yaml --format json ./plans/scan.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to YAML engine config")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "path to .env file (ignored if missing)")
	cmd.Flags().BoolVar(&opts.Sequential, "sequential", false, "run plan and dispatcher on one goroutine")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "print only the run summary")

	return cmd
}

func runPlan(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return commandError(formatter, ErrCodeConfig, fmt.Sprintf("loading env file: %v", err), nil)
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return commandError(formatter, ErrCodeConfig, err.Error(), nil)
	}
	if err := cfg.Validate(); err != nil {
		return commandError(formatter, ErrCodeConfig, err.Error(), nil)
	}

	spec, err := LoadPlanFile(path)
	if err != nil {
		code, msg := loadErrorCode(err)
		return commandError(formatter, code, msg, loadErrorDetails(err))
	}
	if errs := compiler.Validate(spec); len(errs) > 0 {
		return commandError(formatter, errs[0].Code, fmt.Sprintf("plan %q is invalid: %s", spec.Name, errs[0].Error()), errs)
	}

	p, devices, err := spec.Build()
	if err != nil {
		return commandError(formatter, ErrCodeBuildFailed, err.Error(), nil)
	}

	engOpts := append(cfg.EngineOptions(), engine.WithInterruptSignals(os.Interrupt, syscall.SIGTERM))
	if opts.UIDGenerator != nil {
		engOpts = append(engOpts, engine.WithUIDGenerator(opts.UIDGenerator))
	}
	if opts.Now != nil {
		engOpts = append(engOpts, engine.WithTimeSource(opts.Now))
		for _, dev := range devices {
			sim.SetClock(dev, opts.Now)
		}
	}
	eng := engine.New(engOpts...)

	summary := &RunSummary{Plan: spec.Name}
	subs := engine.SubscribeAll(func(doc document.Document) error {
		summary.observe(doc)
		if opts.Quiet {
			return nil
		}
		return formatter.Document(doc)
	})

	runOpts := []engine.RunOption{
		engine.WithPlanName(spec.Name),
		engine.WithRunMetadata(spec.Metadata),
	}
	if opts.Sequential {
		runOpts = append(runOpts, engine.Sequential())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	slog.Info("run starting", "plan", spec.Name, "devices", len(devices), "steps", len(spec.Steps))
	runErr := eng.Run(ctx, p, subs, runOpts...)
	if runErr != nil {
		slog.Debug("run returned error", "error", runErr)
	}

	if summary.RunUID == "" {
		// Refused before RunStart: nothing was emitted.
		msg := "run produced no documents"
		if runErr != nil {
			msg = runErr.Error()
		}
		return commandError(formatter, runErrorCode(runErr), msg, nil)
	}
	if err := outputRunSummary(formatter, summary, runErr); err != nil {
		return err
	}

	switch code := ExitCodeFor(summary.ExitStatus); code {
	case ExitSuccess:
		return nil
	case ExitInterrupted:
		return WrapExitError(code, "run aborted", runErr)
	default:
		return WrapExitError(code, "run failed", runErr)
	}
}

// observe updates the summary from a delivered document.
func (s *RunSummary) observe(doc document.Document) {
	switch d := doc.(type) {
	case document.RunStart:
		s.RunUID = d.UID
		s.ScanID = d.ScanID
	case document.EventDescriptor:
		s.Descriptors++
	case document.Event:
		s.Events++
	case document.RunStop:
		s.ExitStatus = d.ExitStatus
		s.Reason = d.Reason
	}
}

// outputRunSummary prints the summary as the last output line.
func outputRunSummary(formatter *OutputFormatter, s *RunSummary, runErr error) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: s, RunUID: s.RunUID}
		if s.ExitStatus != document.ExitSuccess {
			resp.Status = "error"
			resp.Error = &CLIError{Code: runErrorCode(runErr), Message: s.Reason}
		}
		return json.NewEncoder(formatter.Writer).Encode(resp)
	}

	mark := "✓"
	if s.ExitStatus != document.ExitSuccess {
		mark = "✗"
	}
	fmt.Fprintf(formatter.Writer, "%s Run %s (scan %d) %s: %d event(s), %d descriptor(s)\n",
		mark, s.RunUID, s.ScanID, s.ExitStatus, s.Events, s.Descriptors)
	if s.Reason != "" {
		fmt.Fprintf(formatter.Writer, "  reason: %s\n", s.Reason)
	}
	return nil
}

// runErrorCode classifies a run error for CLI output.
func runErrorCode(err error) string {
	var re *engine.RuntimeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return string(re.Code)
	case engine.IsPanicStateError(err):
		return "PANIC"
	case engine.IsInterrupted(err):
		return "INTERRUPTED"
	default:
		return "RUN_FAILED"
	}
}

// commandError reports an error that prevented the run from starting.
func commandError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
