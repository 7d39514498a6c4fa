// Package isa provides the RV32 instruction encodings used by the kernel: the
// base integer set, the CSR instructions, the control-flow integrity
// extensions (Zicfilp, Zicfiss) and the handful of compressed encodings that
// the trap path has to recognize.
package isa

// Reg identifies one of the 32 integer registers.
type Reg uint8

// ABI register names.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

// WordSize is the width of a machine word in bytes.
const WordSize = 4

var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// String returns the ABI name of the register.
func (r Reg) String() string {
	return regNames[r&31]
}

// Major opcodes (bits 6:0 of a 32-bit instruction).
const (
	OpLoad   = 0x03
	OpMisc   = 0x0f
	OpImm    = 0x13
	OpAuipc  = 0x17
	OpStore  = 0x23
	OpReg    = 0x33
	OpLui    = 0x37
	OpBranch = 0x63
	OpJalr   = 0x67
	OpJal    = 0x6f
	OpSystem = 0x73
)

// Fixed SYSTEM encodings.
const (
	Ecall  uint32 = 0x00000073
	Ebreak uint32 = 0x00100073
	Mret   uint32 = 0x30200073
	Wfi    uint32 = 0x10500073

	// Illegal is the all-zero word; it is guaranteed to raise an illegal
	// instruction exception on every implementation.
	Illegal uint32 = 0x00000000
)

// RType encodes a register-register instruction.
func RType(op uint32, rd Reg, funct3 uint32, rs1, rs2 Reg, funct7 uint32) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | op
}

// IType encodes an instruction with a 12-bit signed immediate.
func IType(op uint32, rd Reg, funct3 uint32, rs1 Reg, imm int32) uint32 {
	return uint32(imm)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | op
}

// SType encodes a store.
func SType(op, funct3 uint32, rs1, rs2 Reg, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | (u&0x1f)<<7 | op
}

// BType encodes a conditional branch with a byte offset relative to the
// branch itself.
func BType(funct3 uint32, rs1, rs2 Reg, off int32) uint32 {
	u := uint32(off)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		funct3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | OpBranch
}

// UType encodes lui/auipc; only the upper 20 bits of imm are used.
func UType(op uint32, rd Reg, imm uint32) uint32 {
	return imm&0xfffff000 | uint32(rd)<<7 | op
}

// JType encodes jal with a byte offset relative to the jump itself.
func JType(rd Reg, off int32) uint32 {
	u := uint32(off)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | uint32(rd)<<7 | OpJal
}

// Base integer instructions.

func Addi(rd, rs1 Reg, imm int32) uint32 { return IType(OpImm, rd, 0, rs1, imm) }
func Slli(rd, rs1 Reg, sh uint32) uint32 { return IType(OpImm, rd, 1, rs1, int32(sh&31)) }
func Xori(rd, rs1 Reg, imm int32) uint32 { return IType(OpImm, rd, 4, rs1, imm) }
func Andi(rd, rs1 Reg, imm int32) uint32 { return IType(OpImm, rd, 7, rs1, imm) }
func Add(rd, rs1, rs2 Reg) uint32 { return RType(OpReg, rd, 0, rs1, rs2, 0) }
func Sub(rd, rs1, rs2 Reg) uint32 { return RType(OpReg, rd, 0, rs1, rs2, 0x20) }
func Xor(rd, rs1, rs2 Reg) uint32 { return RType(OpReg, rd, 4, rs1, rs2, 0) }
func And(rd, rs1, rs2 Reg) uint32 { return RType(OpReg, rd, 7, rs1, rs2, 0) }
func Mul(rd, rs1, rs2 Reg) uint32 { return RType(OpReg, rd, 0, rs1, rs2, 1) }
func Mv(rd, rs Reg) uint32 { return Addi(rd, rs, 0) }
func Nop() uint32 { return Addi(Zero, Zero, 0) }

func Lui(rd Reg, imm uint32) uint32 { return UType(OpLui, rd, imm) }
func Auipc(rd Reg, imm uint32) uint32 { return UType(OpAuipc, rd, imm) }

func Lb(rd, rs1 Reg, off int32) uint32 { return IType(OpLoad, rd, 0, rs1, off) }
func Lw(rd, rs1 Reg, off int32) uint32 { return IType(OpLoad, rd, 2, rs1, off) }
func Lbu(rd, rs1 Reg, off int32) uint32 { return IType(OpLoad, rd, 4, rs1, off) }
func Lhu(rd, rs1 Reg, off int32) uint32 { return IType(OpLoad, rd, 5, rs1, off) }
func Sb(rs2, rs1 Reg, off int32) uint32 { return SType(OpStore, 0, rs1, rs2, off) }
func Sw(rs2, rs1 Reg, off int32) uint32 { return SType(OpStore, 2, rs1, rs2, off) }

func Beq(rs1, rs2 Reg, off int32) uint32 { return BType(0, rs1, rs2, off) }
func Bne(rs1, rs2 Reg, off int32) uint32 { return BType(1, rs1, rs2, off) }
func Bltu(rs1, rs2 Reg, off int32) uint32 { return BType(6, rs1, rs2, off) }
func Bgeu(rs1, rs2 Reg, off int32) uint32 { return BType(7, rs1, rs2, off) }

func Jal(rd Reg, off int32) uint32 { return JType(rd, off) }
func Jalr(rd, rs1 Reg, off int32) uint32 { return IType(OpJalr, rd, 0, rs1, off) }
func Ret() uint32 { return Jalr(Zero, RA, 0) }
func Csrrw(rd Reg, csr uint16, rs1 Reg) uint32 { return IType(OpSystem, rd, 1, rs1, int32(csr)) }
func Csrrs(rd Reg, csr uint16, rs1 Reg) uint32 { return IType(OpSystem, rd, 2, rs1, int32(csr)) }
func Csrrc(rd Reg, csr uint16, rs1 Reg) uint32 { return IType(OpSystem, rd, 3, rs1, int32(csr)) }

// Csrr reads csr into rd.
func Csrr(rd Reg, csr uint16) uint32 { return Csrrs(rd, csr, Zero) }

// Csrw writes rs1 to csr.
func Csrw(csr uint16, rs1 Reg) uint32 { return Csrrw(Zero, csr, rs1) }

// Csrs sets the bits of rs1 in csr.
func Csrs(csr uint16, rs1 Reg) uint32 { return Csrrs(Zero, csr, rs1) }

// Csrc clears the bits of rs1 in csr.
func Csrc(csr uint16, rs1 Reg) uint32 { return Csrrc(Zero, csr, rs1) }

// SplitImm splits a 32-bit constant into the lui/addi pair that rebuilds it.
// The low part is sign-extended by addi, so the high part is rounded up
// whenever bit 11 of v is set.
func SplitImm(v uint32) (hi uint32, lo int32) {
	hi = (v + 0x800) & 0xfffff000
	lo = int32(v - hi)
	return hi, lo
}

// Li returns the two-instruction sequence that loads v into rd.
func Li(rd Reg, v uint32) [2]uint32 {
	hi, lo := SplitImm(v)
	return [2]uint32{Lui(rd, hi), Addi(rd, rd, lo)}
}
