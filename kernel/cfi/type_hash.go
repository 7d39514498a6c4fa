package cfi

import (
	"github.com/cespare/xxhash/v2"

	"rotos/kernel"
	"rotos/kernel/isa"
)

// TypeHashOffset is the distance between a function's entry and the word that
// holds its type hash.
const TypeHashOffset = isa.WordSize

var (
	errTypeHashMismatch = &kernel.Error{Module: "cfi", Message: "type hash does not match the expected signature"}
	errTypeHashMissing  = &kernel.Error{Module: "cfi", Message: "type hash of indirect-call target is not readable"}
)

// TypeHash returns the hash stored in front of every function with the given
// canonical signature, e.g. "func(uint32) uint32".
func TypeHash(signature string) uint32 {
	return uint32(xxhash.Sum64String(signature))
}

// VerifyTypeHash checks that the word in front of entry holds expected.
func VerifyTypeHash(m Memory, entry, expected uint32) *kernel.Error {
	got, ok := m.Read32(entry - TypeHashOffset)
	switch {
	case !ok:
		return errTypeHashMissing
	case got != expected:
		return errTypeHashMismatch
	}
	return nil
}

// CheckedCall emits an indirect call through target guarded by a type hash
// check. The hash in front of the target is compared with expected before the
// label register is loaded and the call is made; a mismatch jumps to a
// breakpoint stub instead. target must not be t2, t4 or t5.
//
//	lw   t4, -4(target)
//	li   t5, expected
//	bne  t4, t5, fault
//	li   t2, label << 12
//	jalr ra, target
//	j    done
//	fault:
//	ebreak
//	done:
func CheckedCall(b *isa.Builder, target isa.Reg, expected, label uint32) {
	fault := b.NewLabel(typeHashFaultPrefix)
	done := b.NewLabel("cfi.call-done")

	b.Emit(isa.Lw(isa.T4, target, -TypeHashOffset))
	b.Li(isa.T5, expected)
	b.Bne(isa.T4, isa.T5, fault)
	IndirectCall(b, target, label)
	b.J(done)
	b.Label(fault)
	b.Emit(isa.Ebreak)
	b.Label(done)
}
