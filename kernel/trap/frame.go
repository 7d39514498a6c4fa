package trap

import (
	"io"

	"rotos/kernel/cpu"
	"rotos/kernel/isa"
	"rotos/kernel/kfmt"
)

// Frame is a snapshot of the hart state taken when the trap router is
// entered. Handlers modify the snapshot; Dispatch writes the registers and
// mepc back before returning from the trap.
type Frame struct {
	Regs [32]uint32

	Mepc   uint32
	Mcause uint32
	Mtval  uint32

	// Prev is the privilege level the trap was taken from.
	Prev cpu.Priv
}

// NewFrame captures the trap state of h.
func NewFrame(h *cpu.Hart) *Frame {
	f := &Frame{Regs: h.Regs()}
	f.Mepc, _ = h.ReadCSR(isa.CSRMepc)
	f.Mcause, _ = h.ReadCSR(isa.CSRMcause)
	f.Mtval, _ = h.ReadCSR(isa.CSRMtval)
	mstatus, _ := h.ReadCSR(isa.CSRMstatus)
	f.Prev = cpu.Priv((mstatus & isa.MstatusMPPMask) >> isa.MstatusMPPShift)
	return f
}

// CurrentFrame captures the live state of h outside of a trap. Mepc holds
// the current pc and the cause fields are zero.
func CurrentFrame(h *cpu.Hart) *Frame {
	return &Frame{Regs: h.Regs(), Mepc: h.PC(), Prev: h.Priv()}
}

// Cause returns the exception cause of the frame.
func (f *Frame) Cause() cpu.Cause {
	return cpu.Cause(f.Mcause)
}

// Reg returns the saved value of r.
func (f *Frame) Reg(r isa.Reg) uint32 {
	return f.Regs[r&31]
}

// SetReg updates the saved value of r. Writes to x0 are ignored.
func (f *Frame) SetReg(r isa.Reg, v uint32) {
	if r&31 != isa.Zero {
		f.Regs[r&31] = v
	}
}

// restore writes the saved registers and mepc back to h.
func (f *Frame) restore(h *cpu.Hart) {
	for r := isa.RA; r <= isa.T6; r++ {
		h.SetReg(r, f.Regs[r])
	}
	h.WriteCSR(isa.CSRMepc, f.Mepc)
}

// DumpTo outputs the frame contents to w.
func (f *Frame) DumpTo(w io.Writer) {
	for r := isa.RA; r <= isa.T6; r += 2 {
		if r == isa.T6 {
			kfmt.Fprintf(w, "%4s = %8x\n", r, f.Regs[r])
			break
		}
		kfmt.Fprintf(w, "%4s = %8x %4s = %8x\n", r, f.Regs[r], r+1, f.Regs[r+1])
	}
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "mepc = %8x mtval = %8x\n", f.Mepc, f.Mtval)
	kfmt.Fprintf(w, "mcause = %d (%s) from %s-mode\n", f.Mcause, f.Cause(), f.Prev)
}
