package cpu

import (
	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

// Zicfiss operations living in the SYSTEM major opcode (funct3 = 0).
const (
	immSSPush     = isa.SSPushRA >> 20
	immSSPopChk   = isa.SSPopChkRA >> 20
	immEcall      = 0x000
	immEbreak     = 0x001
	immMret       = 0x302
	immWfi        = 0x105
	compressedNop = 0x0001
)

// exec executes a 32-bit instruction at h.pc.
func (h *Hart) exec(word uint32) {
	in := isa.Decode(word)
	next := h.pc + 4

	switch in.Op {
	case isa.OpLui:
		h.SetReg(in.Rd, uint32(in.Imm))
	case isa.OpAuipc:
		h.SetReg(in.Rd, h.pc+uint32(in.Imm))
	case isa.OpJal:
		h.SetReg(in.Rd, next)
		next = h.pc + uint32(in.Imm)
	case isa.OpJalr:
		target := (h.x[in.Rs1] + uint32(in.Imm)) &^ 1
		h.SetReg(in.Rd, next)
		next = target
		if h.landingPadsEnabled() && !(in.Rs1 == isa.RA && in.Rd == isa.Zero) {
			h.elp = true
		}
	case isa.OpBranch:
		if taken, ok := h.branch(in); !ok {
			h.raise(CauseIllegal, word)
			return
		} else if taken {
			next = h.pc + uint32(in.Imm)
		}
	case isa.OpLoad:
		h.load(in)
	case isa.OpStore:
		h.store(in)
	case isa.OpImm:
		if !h.opImm(in) {
			h.raise(CauseIllegal, word)
			return
		}
	case isa.OpReg:
		if !h.opReg(in) {
			h.raise(CauseIllegal, word)
			return
		}
	case isa.OpMisc:
		// fence and fence.i have no effect on a single in-order hart.
	case isa.OpSystem:
		if in.IsCSRAccess() {
			h.csrAccess(in)
		} else {
			h.system(in, &next)
		}
	default:
		h.raise(CauseIllegal, word)
	}

	if !h.trapped && !h.halted && !h.redirected {
		h.pc = next
	}
	h.redirected = false
}

func (h *Hart) branch(in isa.Inst) (bool, bool) {
	a, b := h.x[in.Rs1], h.x[in.Rs2]
	switch in.Funct3 {
	case 0:
		return a == b, true
	case 1:
		return a != b, true
	case 4:
		return int32(a) < int32(b), true
	case 5:
		return int32(a) >= int32(b), true
	case 6:
		return a < b, true
	case 7:
		return a >= b, true
	}
	return false, false
}

func (h *Hart) load(in isa.Inst) {
	addr := h.x[in.Rs1] + uint32(in.Imm)

	var width uint32
	switch in.Funct3 {
	case 0, 4:
		width = 1
	case 1, 5:
		width = 2
	case 2:
		width = 4
	default:
		h.raise(CauseIllegal, in.Raw)
		return
	}

	if addr&(width-1) != 0 {
		h.raise(CauseLoadMisaligned, addr)
		return
	}

	v, ok := h.LoadMem(addr, width)
	if !ok {
		h.raise(CauseLoadAccess, addr)
		return
	}

	switch in.Funct3 {
	case 0:
		v = uint32(int32(int8(v)))
	case 1:
		v = uint32(int32(int16(v)))
	}
	h.SetReg(in.Rd, v)
}

func (h *Hart) store(in isa.Inst) {
	addr := h.x[in.Rs1] + uint32(in.Imm)
	if in.Funct3 > 2 {
		h.raise(CauseIllegal, in.Raw)
		return
	}

	width := uint32(1) << in.Funct3
	if addr&(width-1) != 0 {
		h.raise(CauseStoreMisaligned, addr)
		return
	}

	if !h.StoreMem(addr, width, h.x[in.Rs2]) {
		h.raise(CauseStoreAccess, addr)
	}
}

func (h *Hart) opImm(in isa.Inst) bool {
	a, imm := h.x[in.Rs1], uint32(in.Imm)
	shamt := imm & 31

	var v uint32
	switch in.Funct3 {
	case 0:
		v = a + imm
	case 1:
		if in.Funct7 != 0 {
			return false
		}
		v = a << shamt
	case 2:
		v = boolWord(int32(a) < in.Imm)
	case 3:
		v = boolWord(a < imm)
	case 4:
		v = a ^ imm
	case 5:
		switch in.Funct7 {
		case 0:
			v = a >> shamt
		case 0x20:
			v = uint32(int32(a) >> shamt)
		default:
			return false
		}
	case 6:
		v = a | imm
	case 7:
		v = a & imm
	}

	h.SetReg(in.Rd, v)
	return true
}

func (h *Hart) opReg(in isa.Inst) bool {
	a, b := h.x[in.Rs1], h.x[in.Rs2]

	var v uint32
	switch in.Funct7 {
	case 0:
		switch in.Funct3 {
		case 0:
			v = a + b
		case 1:
			v = a << (b & 31)
		case 2:
			v = boolWord(int32(a) < int32(b))
		case 3:
			v = boolWord(a < b)
		case 4:
			v = a ^ b
		case 5:
			v = a >> (b & 31)
		case 6:
			v = a | b
		case 7:
			v = a & b
		}
	case 0x20:
		switch in.Funct3 {
		case 0:
			v = a - b
		case 5:
			v = uint32(int32(a) >> (b & 31))
		default:
			return false
		}
	case 1:
		v = mulDiv(in.Funct3, a, b)
	default:
		return false
	}

	h.SetReg(in.Rd, v)
	return true
}

// mulDiv implements the M extension, including the architecturally defined
// results for division by zero and signed overflow.
func mulDiv(funct3, a, b uint32) uint32 {
	sa, sb := int32(a), int32(b)
	switch funct3 {
	case 0:
		return a * b
	case 1:
		return uint32((int64(sa) * int64(sb)) >> 32)
	case 2:
		return uint32((int64(sa) * int64(b)) >> 32)
	case 3:
		return uint32((uint64(a) * uint64(b)) >> 32)
	case 4:
		switch {
		case b == 0:
			return 0xffffffff
		case sa == -1<<31 && sb == -1:
			return a
		}
		return uint32(sa / sb)
	case 5:
		if b == 0 {
			return 0xffffffff
		}
		return a / b
	case 6:
		switch {
		case b == 0:
			return a
		case sa == -1<<31 && sb == -1:
			return 0
		}
		return uint32(sa % sb)
	default:
		if b == 0 {
			return a
		}
		return a % b
	}
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// system executes the non-CSR SYSTEM instructions.
func (h *Hart) system(in isa.Inst, next *uint32) {
	if in.Funct3 != 0 || in.Rd != 0 {
		h.raise(CauseIllegal, in.Raw)
		return
	}

	switch in.Raw >> 20 {
	case immEcall:
		if in.Rs1 != 0 {
			break
		}
		if h.priv == User {
			h.raise(CauseEcallU, 0)
		} else {
			h.raise(CauseEcallM, 0)
		}
		return
	case immEbreak:
		if in.Rs1 != 0 {
			break
		}
		h.raise(CauseBreakpoint, h.pc)
		return
	case immMret:
		if h.priv != Machine || in.Rs1 != 0 {
			break
		}
		h.Mret()
		return
	case immWfi:
		if in.Rs1 != 0 {
			break
		}
		return
	case immSSPush:
		h.ssPush(isa.RA)
		return
	case immSSPopChk:
		h.ssPopChk(isa.RA)
		return
	}

	h.raise(CauseIllegal, in.Raw)
}

// execCompressed executes the 16-bit encodings the hart understands: c.nop
// and, with Zcmop, the may-be-operations that alias the shadow stack push and
// pop-check.
func (h *Hart) execCompressed(half uint16) {
	switch {
	case half == compressedNop:
	case isa.IsCMop(half) && h.caps.CompressedMOPs:
		switch half {
		case isa.CSSPushRA:
			h.ssPush(isa.RA)
		case isa.CSSPopChkT0:
			h.ssPopChk(isa.T0)
		}
	default:
		h.raise(CauseIllegal, uint32(half))
	}

	if !h.trapped {
		h.pc += 2
	}
}

// ssPush pushes the value of reg onto the hardware shadow stack. Without an
// enabled shadow stack it does nothing.
func (h *Hart) ssPush(reg isa.Reg) {
	if !h.shadowStackEnabled() {
		return
	}

	addr := h.csr.ssp - isa.WordSize
	if !h.pmp.Check(addr, isa.WordSize, mem.PermW, h.priv) || !h.bus.Store(addr, isa.WordSize, h.x[reg]) {
		h.raise(CauseStoreAccess, addr)
		return
	}
	h.csr.ssp = addr
}

// ssPopChk pops the hardware shadow stack and compares the value with reg.
// A mismatch raises a software-check exception and leaves ssp unchanged.
func (h *Hart) ssPopChk(reg isa.Reg) {
	if !h.shadowStackEnabled() {
		return
	}

	addr := h.csr.ssp
	v, ok := h.LoadMem(addr, isa.WordSize)
	if !ok {
		h.raise(CauseLoadAccess, addr)
		return
	}
	if v != h.x[reg] {
		h.raise(CauseSoftwareCheck, SoftwareCheckShadowStack)
		return
	}
	h.csr.ssp = addr + isa.WordSize
}
