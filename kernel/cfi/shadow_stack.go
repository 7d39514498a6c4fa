package cfi

import (
	"rotos/kernel"
	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

// FrameSize is the data-stack frame reserved by Prologue. The return address
// is spilled at FrameSize-4.
const FrameSize = 16

// ShadowPointerReg holds the software shadow stack pointer. No other code may
// use it.
const ShadowPointerReg = isa.GP

var (
	errShadowOverflow  = &kernel.Error{Module: "cfi", Message: "software shadow stack overflow"}
	errShadowUnderflow = &kernel.Error{Module: "cfi", Message: "software shadow stack underflow"}
	errShadowMismatch  = &kernel.Error{Module: "cfi", Message: "return address does not match the software shadow stack"}
	errShadowAccess    = &kernel.Error{Module: "cfi", Message: "software shadow stack is not accessible"}
)

// Prologue emits the entry sequence of a protected non-leaf function: the
// return address is pushed onto the hardware shadow stack, spilled to the data
// stack and pushed onto the software shadow stack.
//
//	sspush   ra
//	addi     sp, sp, -16
//	sw       ra, 12(sp)
//	sw       ra, 0(gp)
//	addi     gp, gp, 4
func Prologue(b *isa.Builder) {
	b.Emit(
		isa.SSPushRA,
		isa.Addi(isa.SP, isa.SP, -FrameSize),
		isa.Sw(isa.RA, isa.SP, FrameSize-isa.WordSize),
		isa.Sw(isa.RA, ShadowPointerReg, 0),
		isa.Addi(ShadowPointerReg, ShadowPointerReg, isa.WordSize),
	)
}

// Epilogue emits the exit sequence matching Prologue. The software shadow
// stack is popped and compared with the spilled return address before the
// hardware shadow stack is checked; a mismatch jumps to a breakpoint stub.
//
//	addi     gp, gp, -4
//	lw       t0, 0(gp)
//	lw       ra, 12(sp)
//	bne      t0, ra, fault
//	addi     sp, sp, 16
//	sspopchk ra
//	ret
//	fault:
//	ebreak
func Epilogue(b *isa.Builder) {
	fault := b.NewLabel(shadowFaultPrefix)

	b.Emit(
		isa.Addi(ShadowPointerReg, ShadowPointerReg, -isa.WordSize),
		isa.Lw(isa.T0, ShadowPointerReg, 0),
		isa.Lw(isa.RA, isa.SP, FrameSize-isa.WordSize),
	)
	b.Bne(isa.T0, isa.RA, fault)
	b.Emit(
		isa.Addi(isa.SP, isa.SP, FrameSize),
		isa.SSPopChkRA,
		isa.Ret(),
	)
	b.Label(fault)
	b.Emit(isa.Ebreak)
}

// SoftShadowStack models the software shadow stack kept in a span of memory.
// The stack grows up from the base of the span; the pointer addresses the
// next free slot.
type SoftShadowStack struct {
	mem  Memory
	span mem.Span
	ptr  uint32
}

// NewSoftShadowStack returns a model of the software shadow stack in span
// whose pointer currently holds ptr.
func NewSoftShadowStack(m Memory, span mem.Span, ptr uint32) *SoftShadowStack {
	return &SoftShadowStack{mem: m, span: span, ptr: ptr}
}

// Pointer returns the address of the next free slot.
func (s *SoftShadowStack) Pointer() uint32 {
	return s.ptr
}

// Depth returns the number of entries on the stack. A pointer outside the
// span yields a negative depth or one larger than the span can hold.
func (s *SoftShadowStack) Depth() int {
	return int(int64(s.ptr)-int64(s.span.Base)) / isa.WordSize
}

// Capacity returns the number of entries the span can hold.
func (s *SoftShadowStack) Capacity() int {
	return int(s.span.Size) / isa.WordSize
}

// Push records ret as the return address of a new activation.
func (s *SoftShadowStack) Push(ret uint32) *kernel.Error {
	if s.Depth() < 0 || s.Depth() >= s.Capacity() {
		return errShadowOverflow
	}
	if !s.mem.Write32(s.ptr, ret) {
		return errShadowAccess
	}
	s.ptr += isa.WordSize
	return nil
}

// PopCheck pops the most recent entry and compares it with ret. On a
// mismatch the entry stays consumed, mirroring the hardware which faults
// after the pointer has been decremented.
func (s *SoftShadowStack) PopCheck(ret uint32) *kernel.Error {
	if s.Depth() <= 0 || s.Depth() > s.Capacity() {
		return errShadowUnderflow
	}
	s.ptr -= isa.WordSize
	v, ok := s.mem.Read32(s.ptr)
	if !ok {
		return errShadowAccess
	}
	if v != ret {
		return errShadowMismatch
	}
	return nil
}

// Entries returns the recorded return addresses from the oldest to the most
// recent. It returns nil if the pointer lies outside the span.
func (s *SoftShadowStack) Entries() []uint32 {
	depth := s.Depth()
	if depth < 0 || depth > s.Capacity() {
		return nil
	}

	out := make([]uint32, 0, depth)
	for addr := s.span.Base; addr < s.ptr; addr += isa.WordSize {
		v, _ := s.mem.Read32(addr)
		out = append(out, v)
	}
	return out
}
