package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nismod/smif/internal/convert"
	"github.com/nismod/smif/internal/store"
)

// listKinds maps the list argument to the store enumeration.
var listKinds = map[string]func(context.Context, store.Store) ([]string, error){
	"model-runs":    func(ctx context.Context, st store.Store) ([]string, error) { return st.ListModelRuns(ctx) },
	"sos-models":    func(ctx context.Context, st store.Store) ([]string, error) { return st.ListSosModels(ctx) },
	"sector-models": func(ctx context.Context, st store.Store) ([]string, error) { return st.ListSectorModels(ctx) },
	"scenarios":     func(ctx context.Context, st store.Store) ([]string, error) { return st.ListScenarios(ctx) },
	"narratives":    func(ctx context.Context, st store.Store) ([]string, error) { return st.ListNarratives(ctx) },
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	kinds := make([]string, 0, len(listKinds))
	for kind := range listKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return &cobra.Command{
		Use:   "list <kind>",
		Short: "Enumerate configurations",
		Long: fmt.Sprintf(`Enumerate configuration records of one kind.

Kinds: %v

Example:
  smif list model-runs -d ./projects/energy_water`, kinds),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listConfigs(cmd, opts, args[0])
		},
	}
}

func listConfigs(cmd *cobra.Command, opts *RootOptions, kind string) error {
	enumerate, ok := listKinds[kind]
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q", kind))
	}

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

	names, err := enumerate(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("list %s", kind), err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(
		map[string]any{"kind": kind, "names": names},
		func(w io.Writer) {
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
		},
	)
}
