// Package kmain wires the kernel together and boots a firmware image.
package kmain

import (
	"context"

	"rotos/firmware"
	"rotos/kernel/cfi"
	"rotos/kernel/cpu"
	"rotos/kernel/hal"
	"rotos/kernel/isolation"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
	"rotos/kernel/syscall"
	"rotos/kernel/trap"

	// Drivers register themselves with the hal.
	_ "rotos/device/finisher"
	_ "rotos/device/uart"
)

// Outcome describes how a boot ended.
type Outcome struct {
	// Halted is false if the run was cut short by the context or the
	// instruction budget.
	Halted bool

	Boot      isolation.Report
	Violation trap.Violation
	Traps     trap.Stats
	Retired   uint64
}

// Kmain boots img on h under layout and runs the machine until it halts, ctx
// is cancelled or budget instructions retire. The image must already be
// loaded into the hart's memory.
//
// Kmain returns an error only if the hart did not halt; a run that ends with
// a violation is reported through the outcome.
func Kmain(ctx context.Context, h *cpu.Hart, layout *mem.Layout, img *firmware.Image, budget uint64) (Outcome, error) {
	cpu.Attach(h)
	defer cpu.Attach(nil)

	hal.DetectHardware(h.Bus(), layout)
	kfmt.Printf("[kmain] booting %d regions at 0x%x\n", len(layout.Regions()), layout.Domain(mem.TrustAnchor).Entry)

	trap.Init(layout)
	syscall.Init(layout)
	isolation.Init(layout, img.Table)

	cfi.ResetFaultSites()
	img.RegisterFaultSites()

	n := img.Natives
	for addr, fn := range map[uint32]cpu.NativeFn{
		n.TrapVector:     trap.Dispatch,
		n.TrapInstalled:  isolation.TrapInstalled,
		n.ZeroState:      isolation.ZeroState,
		n.CFIEnabled:     isolation.CFIEnabled,
		n.InstallRegions: isolation.InstallRegions,
		n.Audit:          isolation.Audit,
		n.Record:         isolation.Record,
		n.ContextReady:   isolation.ContextReady,
		n.CommitDrop:     isolation.CommitDrop,
	} {
		h.RegisterNative(addr, fn)
	}

	h.Reset()
	h.SetPC(layout.Domain(mem.TrustAnchor).Entry)
	runErr := h.Run(ctx, budget)

	trap.ReportStats()
	out := Outcome{
		Halted:    h.Halted(),
		Boot:      isolation.CurrentReport(),
		Violation: trap.LastViolation(),
		Traps:     trap.CurrentStats(),
		Retired:   h.Retired(),
	}

	if runErr != nil {
		kfmt.Printf("[kmain] stopped after %d instructions: %s\n", out.Retired, runErr.Error())
		return out, runErr
	}
	return out, nil
}
