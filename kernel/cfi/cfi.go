// Package cfi implements the control-flow integrity protocol shared by the
// trust anchor and the application: landing pads on indirect-call targets,
// a dual hardware/software shadow stack around every non-leaf function and a
// type hash checked by the caller before every indirect call.
//
// The instruction blocks emitted by this package are exact: the protocol
// relies on every protected function entering and leaving through the same
// sequences, so they are produced here instead of being written by hand at
// each site.
package cfi

import (
	"strings"

	"rotos/kernel/isa"
)

// Memory is the view of physical memory needed to inspect instruction blocks
// and shadow stacks.
type Memory interface {
	Read32(addr uint32) (uint32, bool)
	Write32(addr, value uint32) bool
}

// FaultKind classifies the software fault stubs emitted by this package.
type FaultKind uint8

// Fault stub kinds.
const (
	FaultNone FaultKind = iota
	FaultSoftShadowStack
	FaultTypeHash
)

func (k FaultKind) String() string {
	switch k {
	case FaultSoftShadowStack:
		return "software shadow stack mismatch"
	case FaultTypeHash:
		return "type hash mismatch"
	}
	return "none"
}

// Label prefixes of the fault stubs; RegisterFaultSites uses them to find the
// stubs in an assembled block.
const (
	shadowFaultPrefix   = "cfi.ss-fault"
	typeHashFaultPrefix = "cfi.th-fault"
)

// faultSites maps the address of every fault stub to its kind.
var faultSites = map[uint32]FaultKind{}

// RegisterFaultSites records the fault stubs of an assembled block.
func RegisterFaultSites(blk *isa.Block) {
	for name, addr := range blk.Symbols {
		switch {
		case strings.HasPrefix(name, shadowFaultPrefix):
			faultSites[addr] = FaultSoftShadowStack
		case strings.HasPrefix(name, typeHashFaultPrefix):
			faultSites[addr] = FaultTypeHash
		}
	}
}

// FaultKindAt returns the kind of the fault stub at addr, or FaultNone if addr
// is not a registered stub.
func FaultKindAt(addr uint32) FaultKind {
	return faultSites[addr]
}

// ResetFaultSites forgets every registered fault stub.
func ResetFaultSites() {
	faultSites = map[uint32]FaultKind{}
}
