package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"rotos/sim"
)

// Scenarios implements subcommands.Command for the "scenarios" command.
type Scenarios struct {
	verbose bool
}

// Name implements subcommands.Command.Name.
func (*Scenarios) Name() string {
	return "scenarios"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Scenarios) Synopsis() string {
	return "run the end-to-end scenarios"
}

// Usage implements subcommands.Command.Usage.
func (*Scenarios) Usage() string {
	return `scenarios [flags] - runs every end-to-end scenario and prints a summary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Scenarios) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.verbose, "v", false, "show the console output of each machine")
}

// Execute implements subcommands.Command.Execute.
func (s *Scenarios) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var console io.Writer = io.Discard
	if s.verbose {
		console = os.Stdout
	}

	status := subcommands.ExitSuccess
	for i, rep := range sim.RunScenarios(ctx, console) {
		result := "ok"
		if !rep.Passed() {
			result = "FAIL: " + rep.Err.Error()
			status = subcommands.ExitFailure
		}
		fmt.Printf("%d. %-24s %s\n", i+1, rep.Scenario, result)
	}
	return status
}
