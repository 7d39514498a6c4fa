package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"rotos/kernel/cpu"
	"rotos/sim"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	config      string
	interactive bool
	legacy      bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the firmware and run it until it halts"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boots the machine; the exit status is the firmware's exit code.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.config, "config", "", "path to a TOML machine configuration")
	f.BoolVar(&b.interactive, "interactive", false, "attach the terminal to the UART and echo input until 'q'")
	f.BoolVar(&b.legacy, "legacy", false, "boot on a hart without any control-flow integrity extension")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig(b.config)
	if err != nil {
		Fatalf("%v", err)
	}
	if b.legacy {
		cfg.Caps = cpu.Caps{}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var res sim.Result
	if b.interactive {
		res, err = sim.Interactive(ctx, cfg)
	} else {
		var m *sim.Machine
		if m, err = sim.NewMachine(cfg, os.Stdout); err != nil {
			Fatalf("%v", err)
		}
		res, err = m.Boot(ctx)
	}
	if err != nil {
		logrus.WithError(err).Error("machine did not halt")
		return subcommands.ExitFailure
	}

	if !res.Passed() {
		logrus.WithFields(logrus.Fields{
			"violation": res.Violation.String(),
			"code":      res.Exit.Code,
		}).Error("firmware failed")
		return subcommands.ExitStatus(exitCode(res.Exit.Code))
	}
	return subcommands.ExitSuccess
}

// exitCode maps a firmware failure code to a process exit status.
func exitCode(code uint32) int {
	if code == 0 || code > 125 {
		return int(subcommands.ExitFailure)
	}
	return int(code)
}

func loadConfig(path string) (sim.Config, error) {
	if path == "" {
		return sim.DefaultConfig(), nil
	}
	return sim.LoadConfig(path)
}
