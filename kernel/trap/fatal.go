package trap

import (
	"rotos/kernel"
	"rotos/kernel/cfi"
	"rotos/kernel/cpu"
	"rotos/kernel/hal"
	"rotos/kernel/isa"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
)

// Violation classifies a fatal trap.
type Violation uint8

// Violation classes.
const (
	ViolationNone Violation = iota
	ViolationLandingPad
	ViolationHWShadowStack
	ViolationSWShadowStack
	ViolationTypeHash
	ViolationMemoryProtection
	ViolationProtocol
	ViolationUnknown
)

var violationNames = [...]string{
	ViolationNone:             "none",
	ViolationLandingPad:       "landing pad",
	ViolationHWShadowStack:    "hardware shadow stack",
	ViolationSWShadowStack:    "software shadow stack",
	ViolationTypeHash:         "type hash",
	ViolationMemoryProtection: "memory protection",
	ViolationProtocol:         "protocol",
	ViolationUnknown:          "unknown",
}

// ViolationCodeBase is added to a violation class to form the failure code
// reported to the exit device. Codes below it belong to user halt requests.
const ViolationCodeBase = 0x100

// ExitCode returns the failure code reported to the exit device for v.
func (v Violation) ExitCode() uint32 {
	return ViolationCodeBase + uint32(v)
}

func (v Violation) String() string {
	if int(v) < len(violationNames) {
		return violationNames[v]
	}
	return "unknown"
}

var (
	errViolation = [...]*kernel.Error{
		ViolationLandingPad:       {Module: "trap", Message: "indirect branch target without a matching landing pad"},
		ViolationHWShadowStack:    {Module: "trap", Message: "return address does not match the hardware shadow stack"},
		ViolationSWShadowStack:    {Module: "trap", Message: "return address does not match the software shadow stack"},
		ViolationTypeHash:         {Module: "trap", Message: "indirect call target has the wrong type"},
		ViolationMemoryProtection: {Module: "trap", Message: "access denied by the memory protection unit"},
		ViolationProtocol:         {Module: "trap", Message: "boot protocol violation"},
		ViolationUnknown:          {Module: "trap", Message: "unexpected exception"},
	}

	lastViolation Violation

	// The following functions are mocked by tests.
	exitDeviceFn = hal.ActiveExit
	panicFn      = kfmt.Panic
)

// LastViolation returns the class of the most recent fatal trap.
func LastViolation() Violation {
	return lastViolation
}

// Classify maps a trap frame to a violation class.
func Classify(f *Frame) Violation {
	switch f.Cause() {
	case cpu.CauseSoftwareCheck:
		switch f.Mtval {
		case cpu.SoftwareCheckLandingPad:
			return ViolationLandingPad
		case cpu.SoftwareCheckShadowStack:
			return ViolationHWShadowStack
		}
	case cpu.CauseBreakpoint:
		switch cfi.FaultKindAt(f.Mepc) {
		case cfi.FaultSoftShadowStack:
			return ViolationSWShadowStack
		case cfi.FaultTypeHash:
			return ViolationTypeHash
		}
	case cpu.CauseFetchAccess, cpu.CauseLoadAccess, cpu.CauseStoreAccess:
		if v, ok := shadowGuardHit(f.Mtval); ok {
			return v
		}
		return ViolationMemoryProtection
	}
	return ViolationUnknown
}

// shadowGuardHit reports whether addr lies in a locked guard region placed
// right above a software shadow stack or right below a hardware one, and
// which stack overflowed into it.
func shadowGuardHit(addr uint32) (Violation, bool) {
	if layout == nil {
		return ViolationNone, false
	}
	r, ok := layout.Lookup(addr)
	if !ok || !r.Lock || r.Perms.User != mem.PermNone {
		return ViolationNone, false
	}
	for _, d := range []mem.Domain{mem.TrustAnchor, mem.Application} {
		dl := layout.Domain(d)
		switch {
		case dl.SoftShadowStack.Top() == r.Base:
			return ViolationSWShadowStack, true
		case dl.ShadowStack.Base == r.Base+uint32(r.Size):
			return ViolationHWShadowStack, true
		}
	}
	return ViolationNone, false
}

func handleFatal(h *cpu.Hart, f *Frame) {
	Fatal(h, f, Classify(f), nil)
}

// Fatal reports a violation, tells the exit device the run failed and halts
// the hart. If err is nil the default error of the violation class is
// reported.
func Fatal(h *cpu.Hart, f *Frame, v Violation, err *kernel.Error) {
	stats.Fatal++
	lastViolation = v
	if err == nil {
		err = errViolation[ViolationUnknown]
		if int(v) < len(errViolation) && errViolation[v] != nil {
			err = errViolation[v]
		}
	}

	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[trap] ")}
	kfmt.Fprintf(&w, "fatal %s violation at 0x%x\n", v, f.Mepc)
	f.DumpTo(&w)
	if f.Prev == cpu.User && layout != nil {
		dumpShadowStack(&w, h, f)
	}

	if exit := exitDeviceFn(); exit != nil {
		exit.Fail(v.ExitCode())
	}
	panicFn(err)
	h.Halt()
}

// maxDumpEntries bounds the shadow stack entries printed by a fatal report.
const maxDumpEntries = 16

// dumpShadowStack prints the innermost entries of the application's software
// shadow stack.
func dumpShadowStack(w *kfmt.PrefixWriter, h *cpu.Hart, f *Frame) {
	span := layout.Domain(mem.Application).SoftShadowStack
	ss := cfi.NewSoftShadowStack(h.Bus(), span, f.Reg(isa.GP))
	entries := ss.Entries()
	if entries == nil {
		kfmt.Fprintf(w, "shadow stack pointer 0x%x outside 0x%x-0x%x\n", ss.Pointer(), span.Base, span.Top())
		return
	}
	kfmt.Fprintf(w, "shadow stack depth %d\n", len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		n := len(entries) - 1 - i
		if n == maxDumpEntries {
			kfmt.Fprintf(w, "  ...\n")
			break
		}
		kfmt.Fprintf(w, "  #%d 0x%8x\n", n, entries[i])
	}
}
