package isolation

import (
	"rotos/kernel"
	"rotos/kernel/cfi"
	"rotos/kernel/cpu"
	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

var (
	errNoTrapVector   = &kernel.Error{Module: "isolation", Message: "trap vector not installed"}
	errSoftShadow     = &kernel.Error{Module: "isolation", Message: "software shadow stack pointer not initialized"}
	errZeroFailed     = &kernel.Error{Module: "isolation", Message: "cannot clear writable state"}
	errPMPReadback    = &kernel.Error{Module: "isolation", Message: "region table read back differs from the installed table"}
	errNotAudited     = &kernel.Error{Module: "isolation", Message: "domain recorded before the application table was audited"}
	errAudit          = &kernel.Error{Module: "isolation", Message: "application function table failed the audit"}
	errContext        = &kernel.Error{Module: "isolation", Message: "application context does not match the layout"}
	errDropTarget     = &kernel.Error{Module: "isolation", Message: "privilege drop does not target the application entry in user mode"}
	errTooManyRegions = &kernel.Error{Module: "isolation", Message: "region table does not fit the protection unit"}
)

// TrapInstalled completes step 1: mtvec must hold the trap vector.
func TrapInstalled(h *cpu.Hart) {
	if !expect(h, PhaseReset) {
		return
	}
	if mtvec, _ := h.ReadCSR(isa.CSRMtvec); mtvec == 0 {
		violation(h, errNoTrapVector)
		return
	}
	advance()
}

// ZeroState performs step 2: every writable RAM region of both domains is
// cleared. Code, read-only data and device windows are left alone.
func ZeroState(h *cpu.Hart) {
	if !expect(h, PhaseTrapInstalled) {
		return
	}

	for _, r := range layout.Regions() {
		if !zeroable(r) {
			continue
		}
		if !h.Bus().Memset(r.Base, 0, uint32(r.Size)) {
			violation(h, errZeroFailed)
			return
		}
		logf("cleared %s (%s)\n", r.Name, r.Size)
	}
	advance()
}

func zeroable(r mem.Region) bool {
	if r.Lock || !r.Perms.Machine.Allows(mem.PermW) || r.Perms.User.Allows(mem.PermX) {
		return false
	}
	dev := layout.Devices()
	if r.Contains(dev.UART) || r.Contains(dev.Exit) {
		return false
	}
	return r.Owner == mem.TrustAnchor || r.Perms.User.Allows(mem.PermW)
}

// CFIEnabled completes step 3 by recording which controls took effect. The
// software shadow stack does not depend on the hart, so its pointer must
// always be set.
func CFIEnabled(h *cpu.Hart) {
	if !expect(h, PhaseStateZeroed) {
		return
	}
	if h.Reg(cfi.ShadowPointerReg) != layout.Domain(mem.TrustAnchor).SoftShadowStack.Base {
		violation(h, errSoftShadow)
		return
	}

	var status CFIStatus
	menvcfg, ok := h.ReadCSR(isa.CSRMenvcfg)
	status.CSRs = ok
	status.UserLandingPads = menvcfg&isa.EnvcfgLPE != 0
	status.UserShadowStack = menvcfg&isa.EnvcfgSSE != 0
	if mseccfg, ok := h.ReadCSR(isa.CSRMseccfg); ok {
		status.MachineLandingPads = mseccfg&isa.MseccfgMLPE != 0
	}
	report.CFI = status

	logf("cfi csrs %t landing pads M %t U %t shadow stack U %t\n",
		status.CSRs, status.MachineLandingPads, status.UserLandingPads, status.UserShadowStack)
	advance()
}

// InstallRegions performs step 4: one protection entry per region, address
// registers first since a locked configuration freezes its address. Every
// register is read back before the layout is sealed.
func InstallRegions(h *cpu.Hart) {
	if !expect(h, PhaseCFIEnabled) {
		return
	}

	regions := layout.Regions()
	if len(regions) > mem.MaxRegions {
		violation(h, errTooManyRegions)
		return
	}

	var cfg [mem.MaxRegions / 4]uint32
	for i, r := range regions {
		h.WriteCSR(isa.PmpaddrCSR(i), r.PmpAddr())
		cfg[i/4] |= uint32(r.PmpCfg()) << (8 * uint(i%4))
	}
	for i, v := range cfg {
		h.WriteCSR(isa.PmpcfgCSR(i*4), v)
	}

	for i, r := range regions {
		if got, _ := h.ReadCSR(isa.PmpaddrCSR(i)); got != r.PmpAddr() {
			violation(h, errPMPReadback)
			return
		}
	}
	for i, v := range cfg {
		if got, _ := h.ReadCSR(isa.PmpcfgCSR(i * 4)); got != v {
			violation(h, errPMPReadback)
			return
		}
	}

	if err := layout.Seal(); err != nil {
		violation(h, err)
		return
	}
	logf("installed %d regions\n", len(regions))
	advance()
}

// Audit checks the application's exported function table before any of it
// can be called. The boot block passes the table address in a0; it must be
// the table the image was built with. Audit belongs to step 5.
func Audit(h *cpu.Hart) {
	if !expect(h, PhaseRegionsInstalled) {
		return
	}
	if h.Reg(isa.A0) != appTable {
		violation(h, errAudit)
		return
	}

	entries, err := cfi.AuditTable(h.Bus(), layout, mem.Application, appTable)
	if err != nil {
		if err.Index < 0 {
			logf("audit: table at 0x%x: %s\n", appTable, err.Err.Message)
		} else {
			logf("audit: entry %d at 0x%x: %s\n", err.Index, err.Entry.Entry, err.Err.Message)
		}
		violation(h, errAudit)
		return
	}
	for _, e := range entries {
		logf("audit: 0x%x label %d type 0x%x ok\n", e.Entry, e.Label, e.TypeHash)
	}
	audited = true
	report.Audited = len(entries)
}

// Record completes step 5 with the measurement in a0 and the sealed secret
// in a1.
func Record(h *cpu.Hart) {
	if !expect(h, PhaseRegionsInstalled) {
		return
	}
	if !audited {
		violation(h, errNotAudited)
		return
	}

	report.Measurement = h.Reg(isa.A0)
	report.Sealed = h.Reg(isa.A1)
	logf("measurement 0x%8x sealed 0x%8x\n", report.Measurement, report.Sealed)
	advance()
}

// ContextReady completes step 6: the stack pointers must point into the
// application's spans.
func ContextReady(h *cpu.Hart) {
	if !expect(h, PhaseDomainReady) {
		return
	}

	app := layout.Domain(mem.Application)
	if h.Reg(isa.SP) != app.Stack.Top() || h.Reg(cfi.ShadowPointerReg) != app.SoftShadowStack.Base {
		violation(h, errContext)
		return
	}
	if ssp, ok := h.ReadCSR(isa.CSRSsp); ok && report.CFI.UserShadowStack && ssp != app.ShadowStack.Top() {
		violation(h, errContext)
		return
	}
	advance()
}

// CommitDrop is the last check before the boot block executes mret: the
// return must land on the application entry in user mode. The resulting
// context is recorded and any later drop request is refused.
func CommitDrop(h *cpu.Hart) {
	if !expect(h, PhaseContextReady) {
		return
	}

	app := layout.Domain(mem.Application)
	mstatus, _ := h.ReadCSR(isa.CSRMstatus)
	mepc, _ := h.ReadCSR(isa.CSRMepc)
	if cpu.Priv((mstatus&isa.MstatusMPPMask)>>isa.MstatusMPPShift) != cpu.User || mepc != app.Entry {
		violation(h, errDropTarget)
		return
	}

	ssp, _ := h.ReadCSR(isa.CSRSsp)
	report.Context = &Context{
		PC:     mepc,
		SP:     h.Reg(isa.SP),
		SSP:    ssp,
		GP:     h.Reg(cfi.ShadowPointerReg),
		Layout: layout,
	}
	logf("dropping to U-mode at 0x%x\n", mepc)
	advance()
}
