package cfi

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rotos/kernel"
	"rotos/kernel/cpu"
	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

const (
	codeBase   = 0x80000000
	dataBase   = 0x80010000
	trapVector = 0x80000f00
	stackTop   = dataBase + 0x1000
	shadowBase = dataBase + 0x2000
)

// wordMem is a sparse word-addressed memory.
type wordMem map[uint32]uint32

func (m wordMem) Read32(addr uint32) (uint32, bool) {
	v, ok := m[addr]
	return v, ok
}

func (m wordMem) Write32(addr, v uint32) bool {
	m[addr] = v
	return true
}

// machine assembles code at codeBase and runs it in machine mode until the
// final ecall or a fault. It returns the hart, the trap cause and the kind of
// fault stub that raised it.
func machine(t *testing.T, caps cpu.Caps, emit func(b *isa.Builder)) (*cpu.Hart, cpu.Cause, FaultKind) {
	t.Helper()
	defer ResetFaultSites()

	b := isa.NewBuilder(codeBase)
	b.Li(isa.SP, stackTop)
	b.Li(isa.GP, shadowBase)
	emit(b)

	blk, err := b.Assemble(nil)
	if err != nil {
		t.Fatal(err)
	}
	RegisterFaultSites(blk)

	bus := cpu.NewBus()
	bus.MapRAM(codeBase, 0x1000)
	bus.MapRAM(dataBase, 0x4000)
	bus.WriteBytes(codeBase, blk.Bytes())

	h := cpu.NewHart(bus, caps, codeBase)
	var cause cpu.Cause
	var kind FaultKind
	h.RegisterNative(trapVector, func(h *cpu.Hart) {
		mcause, _ := h.ReadCSR(isa.CSRMcause)
		mepc, _ := h.ReadCSR(isa.CSRMepc)
		cause = cpu.Cause(mcause)
		kind = FaultKindAt(mepc)
		h.Halt()
	})
	h.WriteCSR(isa.CSRMtvec, trapVector)

	if err := h.Run(context.Background(), 10000); err != nil {
		t.Fatal(err)
	}
	if cause == cpu.CauseBreakpoint && kind == FaultNone {
		t.Fatal("breakpoint outside a registered fault stub")
	}
	return h, cause, kind
}

func TestLandingPadEncoding(t *testing.T) {
	for _, label := range []uint32{0, 1, 7, 0xfffff} {
		got, ok := DecodeLandingPad(LandingPad(label))
		if !ok || got != label {
			t.Errorf("expected landing pad round trip for label %d; got %d, %t", label, got, ok)
		}
	}

	if _, ok := DecodeLandingPad(isa.Addi(isa.A0, isa.A0, 1)); ok {
		t.Error("expected addi not to decode as a landing pad")
	}
}

func TestVerifyTarget(t *testing.T) {
	m := wordMem{
		0x100: LandingPad(0),
		0x200: LandingPad(7),
		0x300: isa.Nop(),
	}

	specs := []struct {
		addr, label uint32
		exp         *kernel.Error
	}{
		{0x100, 0, nil},
		{0x100, 9, nil},
		{0x200, 7, nil},
		{0x200, 6, errLabelMismatch},
		{0x300, 0, errMissingLandingPad},
		{0x400, 0, errUnreadableTarget},
	}

	for specIndex, spec := range specs {
		if got := VerifyTarget(m, spec.addr, spec.label); got != spec.exp {
			t.Errorf("[spec %d] expected %v; got %v", specIndex, spec.exp, got)
		}
	}
}

func TestTypeHash(t *testing.T) {
	a, b := TypeHash("func(uint32) uint32"), TypeHash("func(uint32) uint32")
	if a != b {
		t.Fatal("type hash is not deterministic")
	}
	if a == TypeHash("func(uint32, uint32) uint32") {
		t.Fatal("distinct signatures share a type hash")
	}

	m := wordMem{0x100 - TypeHashOffset: a}
	if err := VerifyTypeHash(m, 0x100, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := VerifyTypeHash(m, 0x100, a+1); err != errTypeHashMismatch {
		t.Fatalf("expected errTypeHashMismatch; got %v", err)
	}
	if err := VerifyTypeHash(m, 0x200, a); err != errTypeHashMissing {
		t.Fatalf("expected errTypeHashMissing; got %v", err)
	}
}

func TestPrologueEpilogueEncoding(t *testing.T) {
	b := isa.NewBuilder(0)
	Prologue(b)
	Epilogue(b)
	blk, err := b.Assemble(nil)
	if err != nil {
		t.Fatal(err)
	}

	exp := []uint32{
		0x60100073, // sspush ra
		0xff010113, // addi sp,sp,-16
		0x00112623, // sw ra,12(sp)
		0x0011a023, // sw ra,0(gp)
		0x00418193, // addi gp,gp,4
		0xffc18193, // addi gp,gp,-4
		0x0001a283, // lw t0,0(gp)
		0x00c12083, // lw ra,12(sp)
		0x00129863, // bne t0,ra,+16
		0x01010113, // addi sp,sp,16
		0x60500073, // sspopchk ra
		0x00008067, // ret
		0x00100073, // ebreak
	}
	if diff := cmp.Diff(exp, blk.Words); diff != "" {
		t.Fatalf("prologue/epilogue mismatch (-want +got):\n%s", diff)
	}
}

// emitTriple emits a protected non-leaf "triple" function that calls a leaf
// "double" helper.
func emitTriple(b *isa.Builder, corrupt bool) {
	Function{Name: "triple", Indirect: true, Signature: "func(uint32) uint32"}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Mv(isa.S1, isa.A0))
		b.Call("double")
		b.Emit(isa.Add(isa.A0, isa.A0, isa.S1))
		if corrupt {
			b.Emit(
				isa.Addi(isa.T1, isa.Zero, 0x66),
				isa.Sw(isa.T1, ShadowPointerReg, -isa.WordSize),
			)
		}
	})
	Function{Name: "double", Leaf: true}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Slli(isa.A0, isa.A0, 1))
	})
}

func TestShadowStackDiscipline(t *testing.T) {
	for _, caps := range []cpu.Caps{{}, cpu.FullCaps()} {
		h, cause, _ := machine(t, caps, func(b *isa.Builder) {
			b.Emit(isa.Addi(isa.A0, isa.Zero, 7))
			b.Call("triple")
			b.Emit(isa.Ecall)
			b.J("end")
			emitTriple(b, false)
			b.Label("end")
		})

		if cause != cpu.CauseEcallM {
			t.Fatalf("caps %+v: expected the call to return normally; got %s", caps, cause)
		}
		if got := h.Reg(isa.A0); got != 21 {
			t.Fatalf("caps %+v: expected triple(7) = 21; got %d", caps, got)
		}
		if got := h.Reg(ShadowPointerReg); got != shadowBase {
			t.Fatalf("caps %+v: expected gp to return to 0x%x; got 0x%x", caps, shadowBase, got)
		}
		if got := h.Reg(isa.SP); got != stackTop {
			t.Fatalf("caps %+v: expected sp to return to 0x%x; got 0x%x", caps, stackTop, got)
		}
	}
}

func TestCorruptedShadowEntryFaults(t *testing.T) {
	_, cause, kind := machine(t, cpu.Caps{}, func(b *isa.Builder) {
		b.Emit(isa.Addi(isa.A0, isa.Zero, 7))
		b.Call("triple")
		b.Emit(isa.Ecall)
		emitTriple(b, true)
	})

	if cause != cpu.CauseBreakpoint || kind != FaultSoftShadowStack {
		t.Fatalf("expected a software shadow stack fault; got %s (%s)", cause, kind)
	}
}

func TestCheckedCall(t *testing.T) {
	specs := []struct {
		descr    string
		expected uint32
		expCause cpu.Cause
		expKind  FaultKind
	}{
		{"matching hash", TypeHash("func(uint32) uint32"), cpu.CauseEcallM, FaultNone},
		{"mismatched hash", TypeHash("func(uint32, uint32) uint32"), cpu.CauseBreakpoint, FaultTypeHash},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			h, cause, kind := machine(t, cpu.Caps{}, func(b *isa.Builder) {
				b.Emit(isa.Addi(isa.A0, isa.Zero, 10))
				b.La(isa.T1, "triple")
				CheckedCall(b, isa.T1, spec.expected, 0)
				b.Emit(isa.Ecall)
				emitTriple(b, false)
			})

			if cause != spec.expCause || kind != spec.expKind {
				t.Fatalf("expected %s (%s); got %s (%s)", spec.expCause, spec.expKind, cause, kind)
			}
			if cause == cpu.CauseEcallM {
				if got := h.Reg(isa.A0); got != 30 {
					t.Fatalf("expected triple(10) = 30; got %d", got)
				}
			} else if got := h.Reg(isa.A0); got != 10 {
				t.Fatalf("expected the call to be skipped; a0 = %d", got)
			}
		})
	}
}

func TestSoftShadowStack(t *testing.T) {
	m := wordMem{}
	span := mem.Span{Base: 0x1000, Size: 16}
	s := NewSoftShadowStack(m, span, span.Base)

	for _, ret := range []uint32{0x10, 0x20, 0x30, 0x40} {
		if err := s.Push(ret); err != nil {
			t.Fatalf("unexpected push error: %v", err)
		}
	}
	if err := s.Push(0x50); err != errShadowOverflow {
		t.Fatalf("expected errShadowOverflow; got %v", err)
	}
	if diff := cmp.Diff([]uint32{0x10, 0x20, 0x30, 0x40}, s.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	if err := s.PopCheck(0x40); err != nil {
		t.Fatalf("unexpected pop error: %v", err)
	}
	if err := s.PopCheck(0x99); err != errShadowMismatch {
		t.Fatalf("expected errShadowMismatch; got %v", err)
	}
	if s.Depth() != 2 {
		t.Fatalf("expected depth 2 after the mismatch; got %d", s.Depth())
	}

	for _, ret := range []uint32{0x20, 0x10} {
		if err := s.PopCheck(ret); err != nil {
			t.Fatalf("unexpected pop error: %v", err)
		}
	}
	if err := s.PopCheck(0); err != errShadowUnderflow {
		t.Fatalf("expected errShadowUnderflow; got %v", err)
	}
	if s.Pointer() != span.Base {
		t.Fatalf("expected the pointer to return to the base; got 0x%x", s.Pointer())
	}
}

func TestSoftShadowStackIdempotence(t *testing.T) {
	m := wordMem{}
	span := mem.Span{Base: 0x2000, Size: 256}
	s := NewSoftShadowStack(m, span, span.Base)

	// Nested activations: every push is matched by a pop in LIFO order.
	var recurse func(depth int)
	recurse = func(depth int) {
		if depth == 0 {
			return
		}
		before := s.Pointer()
		ret := uint32(0x80000000 + depth*4)
		if err := s.Push(ret); err != nil {
			t.Fatal(err)
		}
		recurse(depth - 1)
		if err := s.PopCheck(ret); err != nil {
			t.Fatal(err)
		}
		if s.Pointer() != before {
			t.Fatalf("depth %d: expected pointer 0x%x after return; got 0x%x", depth, before, s.Pointer())
		}
	}
	recurse(32)
}

func TestAuditTable(t *testing.T) {
	layout := mem.DefaultLayout()
	sig := TypeHash("func(uint32) uint32")

	const (
		table = mem.AppROData
		fnA   = mem.AppCode + 0x104
		fnB   = mem.AppCode + 0x204
	)

	newMem := func() wordMem {
		return wordMem{
			table:      2,
			table + 4:  fnA,
			table + 8:  0,
			table + 12: sig,
			table + 16: fnB,
			table + 20: 7,
			table + 24: sig,
			fnA - 4:    sig,
			fnA:        LandingPad(0),
			fnB - 4:    sig,
			fnB:        LandingPad(7),
		}
	}

	entries, err := AuditTable(newMem(), layout, mem.Application, table)
	if err != nil {
		t.Fatalf("unexpected audit failure: %v", err)
	}
	if len(entries) != 2 || entries[1].Label != 7 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	specs := []struct {
		descr  string
		mutate func(wordMem)
		expIdx int
		expErr *kernel.Error
	}{
		{"missing landing pad", func(m wordMem) { m[fnA] = isa.Nop() }, 0, errMissingLandingPad},
		{"label mismatch", func(m wordMem) { m[table+20] = 6 }, 1, errLabelMismatch},
		{"hash mismatch", func(m wordMem) { m[fnB-4] = sig ^ 1 }, 1, errTypeHashMismatch},
		{"entry outside application code", func(m wordMem) { m[table+4] = mem.ROMBase + 0x100 }, 0, errBadTable},
		{"oversized table", func(m wordMem) { m[table] = 1000 }, -1, errBadTable},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			m := newMem()
			spec.mutate(m)
			_, err := AuditTable(m, layout, mem.Application, table)
			if err == nil {
				t.Fatal("expected the audit to fail")
			}
			if err.Index != spec.expIdx || err.Err != spec.expErr {
				t.Fatalf("expected failure at %d with %v; got %d with %v", spec.expIdx, spec.expErr, err.Index, err.Err)
			}
		})
	}
}
