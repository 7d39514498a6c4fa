package isa

// Inst is a decoded 32-bit instruction. Only the fields relevant to the
// instruction format are meaningful.
type Inst struct {
	Raw    uint32
	Op     uint32
	Rd     Reg
	Rs1    Reg
	Rs2    Reg
	Funct3 uint32
	Funct7 uint32
	Imm    int32
}

// Decode splits word into its fields and sign-extends the immediate according
// to the format implied by the major opcode.
func Decode(word uint32) Inst {
	in := Inst{
		Raw:    word,
		Op:     word & 0x7f,
		Rd:     Reg(word >> 7 & 31),
		Funct3: word >> 12 & 7,
		Rs1:    Reg(word >> 15 & 31),
		Rs2:    Reg(word >> 20 & 31),
		Funct7: word >> 25,
	}

	switch in.Op {
	case OpLoad, OpImm, OpJalr, OpSystem:
		in.Imm = int32(word) >> 20
	case OpStore:
		in.Imm = int32(word)>>25<<5 | int32(word>>7&0x1f)
	case OpBranch:
		in.Imm = int32(word)>>31<<12 | int32(word>>7&1)<<11 | int32(word>>25&0x3f)<<5 | int32(word>>8&0xf)<<1
	case OpLui, OpAuipc:
		in.Imm = int32(word & 0xfffff000)
	case OpJal:
		in.Imm = int32(word)>>31<<20 | int32(word>>12&0xff)<<12 | int32(word>>20&1)<<11 | int32(word>>21&0x3ff)<<1
	}

	return in
}

// CSR returns the CSR number addressed by a SYSTEM instruction.
func (in Inst) CSR() uint16 {
	return uint16(in.Raw >> 20)
}

// IsCSRAccess returns true for the Zicsr instructions (csrrw, csrrs, csrrc
// and their immediate forms).
func (in Inst) IsCSRAccess() bool {
	return in.Op == OpSystem && in.Funct3 != 0 && in.Funct3 != 4
}
