package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/graph"
	"github.com/nismod/smif/internal/runner"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <model-run>",
		Short: "Validate a model run without executing it",
		Long: `Resolve a model run's configuration, check every invariant and
build the dependency graph (rejecting cycles), without running any
model.

Example:
  smif validate energy_water_2020 -d ./projects/energy_water`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateModelRun(cmd, opts, args[0])
		},
	}
}

func validateModelRun(cmd *cobra.Command, opts *RootOptions, runName string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx, opts.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	registry := convert.NewRegistry()
	if err := LoadProject(ctx, opts.Directory, st, registry); err != nil {
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}

	r := runner.New(st, registry, opts.Simulators)
	mr, sos, err := r.Resolve(ctx, runName)
	if err != nil {
		return WrapExitError(ExitCommandError, "validation failed", err)
	}
	g, err := graph.Build(sos)
	if err != nil {
		return WrapExitError(ExitCommandError, "validation failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(
		map[string]any{
			"run":       mr.Name,
			"sos_model": sos.Name,
			"models":    g.Nodes(),
			"order":     g.TopoOrder(),
			"timesteps": mr.Timesteps,
		},
		func(w io.Writer) {
			fmt.Fprintf(w, "Model run %s is valid\n", mr.Name)
			fmt.Fprintf(w, "  sos model: %s\n", sos.Name)
			fmt.Fprintf(w, "  execution order: %v\n", g.TopoOrder())
			fmt.Fprintf(w, "  timesteps: %v\n", mr.Timesteps)
		},
	)
}
