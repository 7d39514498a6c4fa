package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"rotos/kernel/mem"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	config string
	toml   bool
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "validate and print the region table"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - prints the region table of the configured machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.config, "config", "", "path to a TOML machine configuration")
	f.BoolVar(&l.toml, "toml", false, "print the full configuration as TOML")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(l.config)
	if err != nil {
		Fatalf("%v", err)
	}
	layout, err := cfg.Layout()
	if err != nil {
		Fatalf("%v", err)
	}

	if l.toml {
		cfg.Regions = layout.Regions()
		if err := cfg.Encode(os.Stdout); err != nil {
			Fatalf("encoding config: %v", err)
		}
		return subcommands.ExitSuccess
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBASE\tSIZE\tOWNER\tMACHINE\tUSER\tLOCK")
	for _, r := range layout.Regions() {
		fmt.Fprintf(w, "%s\t0x%08x\t%s\t%s\t%s\t%s\t%t\n", r.Name, r.Base, r.Size, r.Owner, r.Perms.Machine, r.Perms.User, r.Lock)
	}
	w.Flush()

	for d := mem.TrustAnchor; d <= mem.Application; d++ {
		dl := layout.Domain(d)
		fmt.Printf("%s: entry 0x%08x sp 0x%08x ssp 0x%08x gp 0x%08x\n",
			d, dl.Entry, dl.Stack.Top(), dl.ShadowStack.Top(), dl.SoftShadowStack.Base)
	}
	return subcommands.ExitSuccess
}
