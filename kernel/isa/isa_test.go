package isa

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodings(t *testing.T) {
	specs := []struct {
		name string
		got  uint32
		exp  uint32
	}{
		{"addi sp,sp,-16", Addi(SP, SP, -16), 0xff010113},
		{"sw ra,12(sp)", Sw(RA, SP, 12), 0x00112623},
		{"lw ra,12(sp)", Lw(RA, SP, 12), 0x00c12083},
		{"ret", Ret(), 0x00008067},
		{"csrs menvcfg,t0", Csrs(CSRMenvcfg, T0), 0x30a2a073},
		{"csrw mtvec,t0", Csrw(CSRMtvec, T0), 0x30529073},
		{"lpad 0", Lpad(0), 0x00000017},
		{"lpad 7", Lpad(7), 0x00007017},
		{"slli t0,a0,1", Slli(T0, A0, 1), 0x00151293},
		{"add a0,t0,a0", Add(A0, T0, A0), 0x00a28533},
		{"mul a0,a0,a0", Mul(A0, A0, A0), 0x02a50533},
	}

	for _, spec := range specs {
		if spec.got != spec.exp {
			t.Errorf("[%s] expected encoding 0x%08x; got 0x%08x", spec.name, spec.exp, spec.got)
		}
	}
}

func TestDecodeImmediates(t *testing.T) {
	specs := []struct {
		word uint32
		exp  int32
	}{
		{Addi(A0, A0, -42), -42},
		{Sw(RA, GP, -4), -4},
		{Beq(T0, RA, -2048), -2048},
		{Bne(T0, RA, 4094), 4094},
		{Jal(RA, -1 << 20), -1 << 20},
		{Jal(Zero, 0x7fffe), 0x7fffe},
		{Lui(A0, 0xdead0000), int32(-0x21530000)},
	}

	for i, spec := range specs {
		if got := Decode(spec.word).Imm; got != spec.exp {
			t.Errorf("[spec %d] expected immediate %d; got %d", i, spec.exp, got)
		}
	}
}

func TestSplitImm(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7ff, 0x800, 0xfff, 0xdeadbeef, 0x80000000, 0xffffffff, 0xfffff800} {
		hi, lo := SplitImm(v)
		if got := hi + uint32(lo); got != v {
			t.Errorf("expected hi+lo to rebuild 0x%x; got 0x%x", v, got)
		}
		if lo < -2048 || lo > 2047 {
			t.Errorf("low part %d of 0x%x does not fit in 12 bits", lo, v)
		}
	}
}

func TestLength(t *testing.T) {
	specs := []struct {
		half uint16
		exp  uint32
	}{
		{uint16(Csrs(CSRMenvcfg, T0)), 4},
		{CSSPushRA, 2},
		{CSSPopChkT0, 2},
		{0x0001, 2},
		{0x0000, 2},
	}

	for _, spec := range specs {
		if got := Length(spec.half); got != spec.exp {
			t.Errorf("expected instruction starting with 0x%04x to be %d bytes; got %d", spec.half, spec.exp, got)
		}
	}

	if !IsCMop(CSSPushRA) || !IsCMop(CSSPopChkT0) || IsCMop(0x0001) {
		t.Error("c.mop classification mismatch")
	}
}

func TestLandingPadLabel(t *testing.T) {
	for _, label := range []uint32{0, 1, 7, MaxLandingPadLabel} {
		word := Lpad(label)
		if !IsLpad(word) {
			t.Fatalf("expected 0x%08x to be a landing pad", word)
		}
		if got := LpadLabel(word); got != label {
			t.Errorf("expected label %d; got %d", label, got)
		}
	}

	if IsLpad(Auipc(A0, 0x1000)) {
		t.Error("auipc with rd != x0 must not be treated as a landing pad")
	}
}

func TestIsCFICSR(t *testing.T) {
	for _, csr := range []uint16{CSRSsp, CSRSenvcfg, CSRMenvcfg, CSRMseccfg} {
		if !IsCFICSR(csr) {
			t.Errorf("expected CSR 0x%03x to be a CFI CSR", csr)
		}
	}
	for _, csr := range []uint16{CSRMstatus, CSRMtvec, CSRPmpcfg0} {
		if IsCFICSR(csr) {
			t.Errorf("expected CSR 0x%03x not to be a CFI CSR", csr)
		}
	}
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(0x80000000)
	b.Label("start")
	b.La(A0, "data")
	b.Bne(A0, Zero, "done")
	b.Emit(Ebreak)
	b.Label("done")
	b.Call("ext")
	b.Label("data")
	b.WordOf("start")

	blk, err := b.Assemble(map[string]uint32{"ext": 0x80000100})
	if err != nil {
		t.Fatal(err)
	}

	hiLo := Li(A0, 0x80000014)
	exp := []uint32{
		hiLo[0], hiLo[1],
		Bne(A0, Zero, 8),
		Ebreak,
		Jal(RA, 0x100-0x10),
		0x80000000,
	}
	if diff := cmp.Diff(exp, blk.Words); diff != "" {
		t.Fatalf("assembled block mismatch (-want +got):\n%s", diff)
	}

	if got := blk.Symbols["data"]; got != 0x80000014 {
		t.Errorf("expected data symbol at 0x80000014; got 0x%x", got)
	}

	t.Run("data", func(t *testing.T) {
		b := NewBuilder(0)
		b.Data([]byte("hello"))
		blk, err := b.Assemble(nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]uint32{0x6c6c6568, 0x6f}, blk.Words); diff != "" {
			t.Fatalf("data mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("undefined label", func(t *testing.T) {
		b := NewBuilder(0)
		b.Call("missing")
		if _, err := b.Assemble(nil); err == nil {
			t.Fatal("expected an error for an undefined label")
		}
	})

	t.Run("duplicate label", func(t *testing.T) {
		b := NewBuilder(0)
		b.Label("x")
		b.Label("x")
		if _, err := b.Assemble(nil); err == nil {
			t.Fatal("expected an error for a duplicate label")
		}
	})
}
