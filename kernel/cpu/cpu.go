// Package cpu models the single RV32 hart the kernel runs on: the integer
// register file, the machine-level CSRs, a physical memory protection unit
// and the control-flow integrity extensions. Code placed on the bus is
// executed instruction by instruction; selected ROM addresses are bound to
// native Go routines that run with machine privilege when fetched.
package cpu

import "rotos/kernel"

// Priv is a privilege level.
type Priv uint8

// Privilege levels implemented by the hart.
const (
	User    Priv = 0
	Machine Priv = 3
)

func (p Priv) String() string {
	switch p {
	case User:
		return "U"
	case Machine:
		return "M"
	}
	return "?"
}

// Caps lists the optional extensions a hart implements.
type Caps struct {
	// LandingPads enables the Zicfilp forward-edge checks.
	LandingPads bool `toml:"landing_pads"`

	// ShadowStack enables the Zicfiss hardware shadow stack.
	ShadowStack bool `toml:"shadow_stack"`

	// CFICSRs makes menvcfg, senvcfg, mseccfg and ssp accessible. Without
	// it every access to these registers raises an illegal instruction
	// exception.
	CFICSRs bool `toml:"cfi_csrs"`

	// CompressedMOPs enables the compressed may-be-operations (Zcmop). The
	// hart always executes c.nop.
	CompressedMOPs bool `toml:"compressed_mops"`
}

// FullCaps returns the capability set of a hart implementing every
// control-flow integrity extension.
func FullCaps() Caps {
	return Caps{LandingPads: true, ShadowStack: true, CFICSRs: true, CompressedMOPs: true}
}

var (
	// active is the hart the kernel is currently running on.
	active *Hart

	// ErrBudgetExhausted is returned by Run when the step budget runs out
	// before the hart halts.
	ErrBudgetExhausted = &kernel.Error{Module: "cpu", Message: "step budget exhausted"}
)

// Attach makes h the active hart.
func Attach(h *Hart) {
	active = h
}

// Active returns the active hart or nil if none has been attached.
func Active() *Hart {
	return active
}

// Halt stops instruction execution on the active hart.
func Halt() {
	if active != nil {
		active.Halt()
	}
}
