package cfi

import "rotos/kernel/isa"

// Function describes how a protected function is laid out.
type Function struct {
	// Name is the label of the function's entry.
	Name string

	// Indirect marks functions whose address escapes into a table or
	// pointer; their entry starts with a landing pad.
	Indirect bool

	// Label is carried by the landing pad of an indirect function.
	Label uint32

	// Signature, if set, places the function's type hash in front of its
	// entry.
	Signature string

	// Leaf functions make no calls and skip the shadow stack sequences.
	Leaf bool
}

// Emit lays out fn in b: the optional type hash word, the entry label, the
// optional landing pad, the prologue, the code emitted by body, the epilogue.
// For a leaf function body is followed by a plain return.
func (fn Function) Emit(b *isa.Builder, body func(b *isa.Builder)) {
	if fn.Signature != "" {
		b.Word(TypeHash(fn.Signature))
	}

	b.Label(fn.Name)
	if fn.Indirect {
		b.Emit(LandingPad(fn.Label))
	}

	if fn.Leaf {
		body(b)
		b.Emit(isa.Ret())
		return
	}

	Prologue(b)
	body(b)
	Epilogue(b)
}
