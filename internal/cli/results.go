package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nismod/smif/internal/convert"
)

// NewAvailableResultsCommand creates the available-results command.
func NewAvailableResultsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "available-results <model-run>",
		Short: "Show which results a run has already produced",
		Long: `Enumerate the (model, output, timestep, iteration) tuples already
persisted for a model run.

Example:
  smif available-results energy_water_2020 --store ./results.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return availableResults(cmd, opts, args[0])
		},
	}
}

func availableResults(cmd *cobra.Command, opts *RootOptions, runName string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx, opts.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	if err := LoadProject(ctx, opts.Directory, st, convert.NewRegistry()); err != nil {
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}

	if _, err := st.ReadModelRun(ctx, runName); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("model run %s", runName), err)
	}

	keys, err := st.AvailableResults(ctx, runName)
	if err != nil {
		return WrapExitError(ExitCommandError, "available results", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(
		map[string]any{"run": runName, "results": keys},
		func(w io.Writer) {
			if len(keys) == 0 {
				fmt.Fprintf(w, "No results for %s\n", runName)
				return
			}
			for _, k := range keys {
				fmt.Fprintf(w, "%s %s %d %d\n", k.Model, k.Output, k.Timestep, k.Iteration)
			}
		},
	)
}
