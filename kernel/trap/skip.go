package trap

import (
	"rotos/kernel/cpu"
	"rotos/kernel/isa"
)

// Degradable reports whether the instruction at addr, executed at privilege
// level prev, may fail only because the hardware lacks an optional
// control-flow integrity extension, and returns its length. Such
// instructions are a compressed may-be-operation or an access to one of the
// CFI control registers that prev is allowed to reach.
func Degradable(h *cpu.Hart, addr uint32, prev cpu.Priv) (uint32, bool) {
	half, ok := h.Bus().Load(addr, 2)
	if !ok {
		return 0, false
	}

	if isa.IsCompressed(uint16(half)) {
		return 2, isa.IsCMop(uint16(half))
	}

	word, ok := h.Bus().Load(addr, 4)
	if !ok {
		return 0, false
	}
	in := isa.Decode(word)
	if !in.IsCSRAccess() || !isa.IsCFICSR(in.CSR()) {
		return isa.Length(uint16(half)), false
	}
	return isa.Length(uint16(half)), isa.CSRPriv(in.CSR()) <= uint8(prev)
}

// handleIllegal skips degradable instructions and treats every other illegal
// instruction as fatal.
func handleIllegal(h *cpu.Hart, f *Frame) {
	n, ok := Degradable(h, f.Mepc, f.Prev)
	if !ok {
		handleFatal(h, f)
		return
	}
	stats.Skipped++
	f.Mepc += n
}
