package isa

// Control-flow integrity encodings. Every one of them lives in an encoding
// space that executes as a no-op on hardware without the extension: lpad is
// AUIPC x0 and the shadow-stack operations are may-be-operations.
const (
	// SSPushRA pushes ra onto the hardware shadow stack.
	SSPushRA uint32 = 0x60100073

	// SSPopChkRA pops the hardware shadow stack and compares the popped
	// value with ra.
	SSPopChkRA uint32 = 0x60500073

	// CSSPushRA is the compressed (c.mop.1) form of SSPushRA.
	CSSPushRA uint16 = 0x6081

	// CSSPopChkT0 is the compressed (c.mop.5) form of sspopchk t0.
	CSSPopChkT0 uint16 = 0x6281

	// LandingPadLabelReg holds the label expected by the target of an
	// indirect jump.
	LandingPadLabelReg = T2

	// MaxLandingPadLabel is the largest label an lpad can carry.
	MaxLandingPadLabel = 1<<20 - 1
)

// Lpad encodes a landing pad carrying label. A zero label matches any caller.
func Lpad(label uint32) uint32 {
	return (label&MaxLandingPadLabel)<<12 | OpAuipc
}

// IsLpad returns true if word is a landing pad (AUIPC with rd = x0).
func IsLpad(word uint32) bool {
	return word&0xfff == OpAuipc
}

// LpadLabel extracts the label of a landing pad.
func LpadLabel(word uint32) uint32 {
	return word >> 12
}

// IsCMop returns true if half is a compressed may-be-operation (c.mop.n).
func IsCMop(half uint16) bool {
	return half&0xf8ff == 0x6081
}

// IsCompressed returns true if half is the first halfword of a 16-bit
// instruction. Standard 32-bit instructions have both low bits set.
func IsCompressed(half uint16) bool {
	return half&3 != 3
}

// Length returns the length in bytes of the instruction whose first halfword
// is half.
func Length(half uint16) uint32 {
	if IsCompressed(half) {
		return 2
	}
	return 4
}
