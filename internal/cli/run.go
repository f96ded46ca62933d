package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Workers int
	Resume  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <model-run>",
		Short: "Execute a model run",
		Long: `Execute a model run: load the project configuration, validate it,
and drive the decision loop across the run's timesteps.

Exits 0 when every job is done, 1 when the run fails, 2 on
configuration errors.

Example:
  smif run energy_water_2020 -d ./projects/energy_water
  smif run energy_water_2020 --store ./results.db --workers 4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelRun(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "max parallel jobs within a timestep")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue from persisted state, skipping completed timesteps")

	return cmd
}

func runModelRun(cmd *cobra.Command, opts *RunOptions, runName string) error {
	configureLogging(opts.Verbose)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := openStore(ctx, opts.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	registry := convert.NewRegistry()
	slog.Info("loading project", "dir", opts.Directory)
	if err := LoadProject(ctx, opts.Directory, st, registry); err != nil {
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}

	runnerOpts := []runner.Option{runner.WithMaxWorkers(opts.Workers)}
	if opts.Resume {
		runnerOpts = append(runnerOpts, runner.WithResume())
	}
	r := runner.New(st, registry, opts.Simulators, runnerOpts...)

	summary, err := r.Run(ctx, runName)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("model run %s", runName), err)
	}
	if !summary.Done() {
		fmt.Fprintf(cmd.OutOrStdout(), "Model run %s FAILED: %v\n", runName, summary.Err)
		return NewExitError(ExitFailure, fmt.Sprintf("model run %s failed", runName))
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(
		map[string]any{"run": runName, "status": "done", "passes": len(summary.Passes)},
		func(w io.Writer) {
			fmt.Fprintf(w, "Model run %s DONE (%d scheduler passes)\n", runName, len(summary.Passes))
		},
	)
}

// configureLogging switches slog between info and debug based on the
// verbose flag.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// signalContext derives a context cancelled by SIGINT/SIGTERM so a run
// aborts between jobs and flushes status.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
