package main

import (
	"fmt"
	"os"

	"github.com/nismod/smif/internal/cli"
	"github.com/nismod/smif/internal/runner"
)

func main() {
	// Sector-model wrappers are compiled in by embedders; the stock
	// binary ships with an empty registry and can load, validate and
	// inspect any project.
	simulators := runner.NewSimulatorRegistry()

	cmd := cli.NewRootCommand(simulators)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
