package sim

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"rotos/firmware"
	"rotos/kernel/cpu"
	"rotos/kernel/isolation"
	"rotos/kernel/mem"
	"rotos/kernel/trap"
)

// Scenario is an end-to-end run of the machine with a check of its outcome.
type Scenario struct {
	Name        string
	Description string

	// Configure adjusts the default configuration.
	Configure func(cfg *Config)

	// Verify inspects the run. m is nil and err holds the configuration
	// error if the machine could not be built; otherwise err is the boot
	// error.
	Verify func(m *Machine, res Result, err error) error
}

// Report is the outcome of a scenario.
type Report struct {
	Scenario string
	Err      error
}

// Passed reports whether the scenario's checks held.
func (r Report) Passed() bool {
	return r.Err == nil
}

var errNotRejected = errors.New("configuration was accepted")

// Scenarios are the end-to-end checks of the system.
var Scenarios = []Scenario{
	{
		Name:        "direct-call",
		Description: "a direct call to triple(7) returns 21",
		Verify: func(m *Machine, res Result, err error) error {
			if err != nil {
				return err
			}
			return expectResult(m, "triple(7)")
		},
	},
	{
		Name:        "indirect-call",
		Description: "triple(10) through the audited table returns 30 with landing pad and type checks passing",
		Verify: func(m *Machine, res Result, err error) error {
			if err != nil {
				return err
			}
			if res.Boot.Audited != 3 {
				return fmt.Errorf("expected 3 audited table entries; got %d", res.Boot.Audited)
			}
			if res.Violation != trap.ViolationNone {
				return fmt.Errorf("unexpected %s violation", res.Violation)
			}
			return expectResult(m, "table triple(10)")
		},
	},
	{
		Name:        "soft-shadow-corruption",
		Description: "overwriting a stored software shadow stack entry takes the fatal path",
		Configure: func(cfg *Config) {
			cfg.Firmware.CorruptSoftShadow = true
		},
		Verify: func(m *Machine, res Result, err error) error {
			if err != nil {
				return err
			}
			return expectViolation(res, trap.ViolationSWShadowStack)
		},
	},
	{
		Name:        "cfi-on-legacy-hart",
		Description: "enabling the CFI controls on a hart without them is skipped and the boot continues",
		Configure: func(cfg *Config) {
			cfg.Caps = cpu.Caps{}
		},
		Verify: func(m *Machine, res Result, err error) error {
			if err != nil {
				return err
			}
			if res.Traps.Skipped == 0 {
				return errors.New("expected skipped instructions")
			}
			if res.Boot.Phase != isolation.PhaseDropped || res.Boot.CFI.CSRs {
				return fmt.Errorf("expected a drop without CFI registers; got phase %s cfi %+v", res.Boot.Phase, res.Boot.CFI)
			}
			if !res.Passed() {
				return fmt.Errorf("expected a pass; got %+v", res.Exit)
			}
			return nil
		},
	},
	{
		Name:        "syscalls",
		Description: "an unknown syscall returns an error code and execution continues to halt(0)",
		Verify: func(m *Machine, res Result, err error) error {
			if err != nil {
				return err
			}
			if err := expectResult(m, "syscall 99"); err != nil {
				return err
			}
			if err := expectResult(m, "fill-random"); err != nil {
				return err
			}
			if !res.Passed() || res.Exit.Code != 0 {
				return fmt.Errorf("expected halt(0); got %+v", res.Exit)
			}
			if res.Traps.Syscalls == 0 {
				return errors.New("no syscalls were forwarded")
			}
			return nil
		},
	},
	{
		Name:        "overlapping-regions",
		Description: "a region table with overlapping regions is rejected before boot",
		Configure: func(cfg *Config) {
			cfg.Regions = append(mem.DefaultRegions(), mem.Region{
				Name:  "app-extra",
				Base:  mem.AppData + 0x1000,
				Size:  4 * mem.Kb,
				Owner: mem.Application,
				Perms: mem.Perms{Machine: mem.PermRWX, User: mem.PermRW},
			})
		},
		Verify: func(m *Machine, _ Result, err error) error {
			if m != nil {
				return errNotRejected
			}
			if err == nil {
				return errNotRejected
			}
			return nil
		},
	},
}

// expectResult checks the self-test result called name.
func expectResult(m *Machine, name string) error {
	for i, test := range firmware.SelfTest {
		if test.Name != name {
			continue
		}
		got, ok := m.SelfTestResult(i)
		if !ok {
			return fmt.Errorf("%s: result not readable", name)
		}
		if got != test.Want {
			return fmt.Errorf("%s: expected 0x%x; got 0x%x", name, test.Want, got)
		}
		return nil
	}
	return fmt.Errorf("no self test named %q", name)
}

func expectViolation(res Result, want trap.Violation) error {
	if res.Violation != want {
		return fmt.Errorf("expected %s violation; got %s", want, res.Violation)
	}
	if res.Exit.Passed || res.Exit.Code != want.ExitCode() {
		return fmt.Errorf("expected exit code 0x%x; got %+v", want.ExitCode(), res.Exit)
	}
	return nil
}

// Run builds and boots the scenario's machine and verifies the outcome.
func (s Scenario) Run(ctx context.Context, console io.Writer) Report {
	cfg := DefaultConfig()
	if s.Configure != nil {
		s.Configure(&cfg)
	}

	var (
		res Result
		err error
	)
	m, err := NewMachine(cfg, console)
	if err == nil {
		res, err = m.Boot(ctx)
	}

	rep := Report{Scenario: s.Name, Err: s.Verify(m, res, err)}
	entry := logrus.WithField("scenario", s.Name)
	if rep.Err != nil {
		entry.WithError(rep.Err).Error("scenario failed")
	} else {
		entry.Info("scenario passed")
	}
	return rep
}

// RunScenarios runs every scenario in order. Scenarios run one at a time
// because the kernel keeps its state in package variables.
func RunScenarios(ctx context.Context, console io.Writer) []Report {
	reports := make([]Report, 0, len(Scenarios))
	for _, s := range Scenarios {
		if ctx.Err() != nil {
			reports = append(reports, Report{Scenario: s.Name, Err: ctx.Err()})
			continue
		}
		reports = append(reports, s.Run(ctx, console))
	}
	return reports
}
