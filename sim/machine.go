package sim

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"rotos/device/finisher"
	"rotos/device/uart"
	"rotos/firmware"
	"rotos/kernel"
	"rotos/kernel/cpu"
	"rotos/kernel/kmain"
	"rotos/kernel/mem"
)

// Machine is a hart wired to RAM, a UART and a test finisher, with a
// firmware image loaded.
type Machine struct {
	Config Config
	Layout *mem.Layout
	Hart   *cpu.Hart
	Image  *firmware.Image
	UART   *uart.Port
	Exit   *finisher.Model

	log *logrus.Entry
}

// Result is the outcome of a boot.
type Result struct {
	kmain.Outcome

	// Exit is the status the firmware wrote to the finisher.
	Exit finisher.Result
}

// Passed reports whether the firmware ended with a pass status.
func (r Result) Passed() bool {
	return r.Exit.Done && r.Exit.Passed
}

// NewMachine builds the machine described by cfg. Console output of the
// machine is written to console. Configuration errors, such as an invalid
// region table, are reported before anything runs.
func NewMachine(cfg Config, console io.Writer) (*Machine, error) {
	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}

	m := &Machine{
		Config: cfg,
		Layout: layout,
		UART:   uart.NewPort(console),
		Exit:   &finisher.Model{},
		log: logrus.WithFields(logrus.Fields{
			"landing_pads":    cfg.Caps.LandingPads,
			"shadow_stack":    cfg.Caps.ShadowStack,
			"cfi_csrs":        cfg.Caps.CFICSRs,
			"compressed_mops": cfg.Caps.CompressedMOPs,
		}),
	}
	m.Exit.OnExit = func(r finisher.Result) {
		m.log.WithFields(logrus.Fields{"passed": r.Passed, "code": r.Code}).Debug("finisher written")
	}

	bus := cpu.NewBus()
	dev := layout.Devices()
	for _, r := range layout.Regions() {
		var mapErr *kernel.Error
		switch {
		case r.Contains(dev.UART):
			mapErr = bus.MapDevice(dev.UART, uart.WindowSize, m.UART)
		case r.Contains(dev.Exit):
			mapErr = bus.MapDevice(dev.Exit, finisher.WindowSize, m.Exit)
		default:
			mapErr = bus.MapRAM(r.Base, uint32(r.Size))
		}
		if mapErr != nil {
			return nil, fmt.Errorf("sim: mapping %s: %w", r.Name, mapErr)
		}
	}

	if m.Image, err = firmware.Build(layout, cfg.Firmware); err != nil {
		return nil, err
	}
	if err = m.Image.Load(bus); err != nil {
		return nil, err
	}
	m.Hart = cpu.NewHart(bus, cfg.Caps, layout.Domain(mem.TrustAnchor).Entry)

	m.log.WithFields(logrus.Fields{
		"regions": len(layout.Regions()),
		"rom":     m.Image.ROM.Size(),
		"app":     m.Image.AppCode.Size(),
	}).Debug("machine assembled")
	return m, nil
}

// Boot runs the machine from reset until it halts, ctx is cancelled or the
// configured budget runs out.
func (m *Machine) Boot(ctx context.Context) (Result, error) {
	return m.boot(ctx, m.Config.Budget)
}

func (m *Machine) boot(ctx context.Context, budget uint64) (Result, error) {
	out, err := kmain.Kmain(ctx, m.Hart, m.Layout, m.Image, budget)
	res := Result{Outcome: out, Exit: m.Exit.Result()}

	entry := m.log.WithFields(logrus.Fields{
		"phase":     out.Boot.Phase.String(),
		"violation": out.Violation.String(),
		"retired":   out.Retired,
		"skipped":   out.Traps.Skipped,
		"syscalls":  out.Traps.Syscalls,
		"passed":    res.Passed(),
		"code":      res.Exit.Code,
	})
	if err != nil {
		entry.WithError(err).Warn("boot did not finish")
		return res, fmt.Errorf("sim: boot: %w", err)
	}
	entry.Info("boot finished")
	return res, nil
}

// SelfTestResult returns the value the firmware stored for self test i.
func (m *Machine) SelfTestResult(i int) (uint32, bool) {
	if i < 0 || i >= len(firmware.SelfTest) {
		return 0, false
	}
	return m.Hart.Bus().Read32(m.Image.Results + uint32(i)*4)
}
