// Package cli implements the smif command line: loading a project
// directory of YAML configuration into a store and running, listing
// and inspecting model runs.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nismod/smif/internal/runner"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Directory string // project directory of YAML config and data
	Store     string // store target: "memory", a .db path, or a postgres:// DSN
	Verbose   bool
	Format    string // "json" | "text"

	// Simulators is populated by the embedding binary with the
	// compiled-in sector model wrappers.
	Simulators *runner.SimulatorRegistry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the smif CLI.
// Simulators carries the sector-model wrappers compiled into the
// binary; pass an empty registry for config-only commands.
func NewRootCommand(simulators *runner.SimulatorRegistry) *cobra.Command {
	if simulators == nil {
		simulators = runner.NewSimulatorRegistry()
	}
	opts := &RootOptions{Simulators: simulators}

	cmd := &cobra.Command{
		Use:   "smif",
		Short: "smif - simulation modelling integration framework",
		Long:  "Coordinates system-of-systems simulations: coupled sector models and scenarios run over a sequence of timesteps.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.Directory, "directory", "d", ".", "project directory")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "memory", "store target (memory, path to .db, or postgres:// DSN)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAvailableResultsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
