package cfi

import (
	"rotos/kernel"
	"rotos/kernel/isa"
)

var (
	errMissingLandingPad = &kernel.Error{Module: "cfi", Message: "indirect-call target does not start with a landing pad"}
	errLabelMismatch     = &kernel.Error{Module: "cfi", Message: "landing pad label does not match the declared label"}
	errUnreadableTarget  = &kernel.Error{Module: "cfi", Message: "indirect-call target is not readable"}
)

// LandingPad returns the landing pad instruction carrying label. Label 0
// accepts any caller.
func LandingPad(label uint32) uint32 {
	return isa.Lpad(label)
}

// DecodeLandingPad returns the label of a landing pad instruction. The second
// result is false if word is not a landing pad.
func DecodeLandingPad(word uint32) (uint32, bool) {
	if !isa.IsLpad(word) {
		return 0, false
	}
	return isa.LpadLabel(word), true
}

// LabelValue returns the value a caller loads into the label register before
// an indirect call to a landing pad carrying label.
func LabelValue(label uint32) uint32 {
	return (label & isa.MaxLandingPadLabel) << 12
}

// VerifyTarget checks that the instruction at addr is a landing pad whose
// label admits callers that load label. An unlabeled pad admits every caller.
func VerifyTarget(m Memory, addr, label uint32) *kernel.Error {
	word, ok := m.Read32(addr)
	if !ok {
		return errUnreadableTarget
	}

	got, ok := DecodeLandingPad(word)
	switch {
	case !ok:
		return errMissingLandingPad
	case got != 0 && got != label:
		return errLabelMismatch
	}
	return nil
}

// IndirectCall emits an indirect call through target. The label register is
// loaded first so a labeled landing pad at the destination accepts the call.
func IndirectCall(b *isa.Builder, target isa.Reg, label uint32) {
	b.Li(isa.LandingPadLabelReg, LabelValue(label))
	b.Emit(isa.Jalr(isa.RA, target, 0))
}
