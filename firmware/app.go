package firmware

import (
	"rotos/kernel/cfi"
	"rotos/kernel/isa"
	"rotos/kernel/mem"
	"rotos/kernel/syscall"
)

// SelfTest lists the expected self-test results in the order the
// application stores them.
var SelfTest = []struct {
	Name string
	Want uint32
}{
	{"triple(7)", 21},
	{"table triple(10)", 30},
	{"callAndInc(triple, 4)", 13},
	{"table square(5)", 25},
	{"add42(8)", 50},
	{"double(25)", 50},
	{"syscall 99", syscall.Errno(syscall.ENOSYS)},
	{"fill-random", 0xaaaaaaaa},
}

// ScratchOffset locates the fill-random buffer in the application data
// region.
const ScratchOffset = 0x100

// Exported function table entries, in table order.
var exports = []struct {
	name  string
	label uint32
	sig   string
}{
	{"triple", 0, SigUnary},
	{"add42", 0, SigUnary},
	{"square", SealLabel, SigUnary},
}

// Messages placed in the application read-only data.
var messages = []struct {
	label string
	text  string
}{
	{"msg.start", "[app] running in user mode\n"},
	{"msg.pass", "[app] self-test passed\n"},
	{"msg.fail", "[app] self-test failed\n"},
	{"msg.echo", "[app] echo mode, q quits\n"},
}

type appImage struct {
	code   *isa.Block
	rodata *isa.Block
	table  uint32
}

// buildApp assembles the application. The read-only data refers to code
// addresses and the code refers to data addresses, so the data block is laid
// out once to learn its symbols and assembled again once the code is known.
func buildApp(layout *mem.Layout, rodataBase, dataBase uint32, opts Options) (*appImage, error) {
	placeholders := map[string]uint32{}
	for _, e := range exports {
		placeholders[e.name] = 0
	}
	draft, err := emitROData(rodataBase).Assemble(placeholders)
	if err != nil {
		return nil, err
	}

	code, err := emitCode(layout.Domain(mem.Application).Entry, dataBase, opts).Assemble(draft.Symbols)
	if err != nil {
		return nil, err
	}

	rodata, err := emitROData(rodataBase).Assemble(code.Symbols)
	if err != nil {
		return nil, err
	}
	return &appImage{code: code, rodata: rodata, table: rodata.Symbols["table"]}, nil
}

// emitROData lays out the exported function table followed by the messages.
func emitROData(base uint32) *isa.Builder {
	b := isa.NewBuilder(base)
	b.Label("table")
	b.Word(uint32(len(exports)))
	for _, e := range exports {
		b.WordOf(e.name)
		b.Word(e.label)
		b.Word(cfi.TypeHash(e.sig))
	}
	for _, m := range messages {
		b.Label(m.label)
		b.Data([]byte(m.text))
	}
	return b
}

func emitCode(entry, dataBase uint32, opts Options) *isa.Builder {
	b := isa.NewBuilder(entry)

	// s1 counts failures, s2 holds the table, s3 the result words.
	b.Label("entry")
	b.Emit(isa.Mv(isa.S1, isa.Zero))
	b.La(isa.S2, "table")
	b.Li(isa.S3, dataBase)
	puts(b, "msg.start")

	// Compressed shadow stack push and pop-check, each paired with c.nop.
	b.Emit(
		0x0001<<16|uint32(isa.CSSPushRA),
		isa.Mv(isa.T0, isa.RA),
		0x0001<<16|uint32(isa.CSSPopChkT0),
	)

	result := 0
	check := func() {
		b.Emit(isa.Sw(isa.A0, isa.S3, int32(result*isa.WordSize)))
		ok := b.NewLabel("check.ok")
		b.Li(isa.T0, SelfTest[result].Want)
		b.Beq(isa.A0, isa.T0, ok)
		b.Emit(isa.Addi(isa.S1, isa.S1, 1))
		b.Label(ok)
		result++
	}
	tableEntry := func(rd isa.Reg, i int) {
		b.Emit(isa.Lw(rd, isa.S2, int32(isa.WordSize+i*cfi.TableEntrySize)))
	}

	b.Li(isa.A0, 7)
	b.Call("triple")
	check()

	tableEntry(isa.T1, 0)
	b.Li(isa.A0, 10)
	cfi.CheckedCall(b, isa.T1, cfi.TypeHash(SigUnary), exports[0].label)
	check()

	b.La(isa.A0, "triple")
	b.Li(isa.A1, 4)
	b.Call("callAndInc")
	check()

	tableEntry(isa.T1, 2)
	b.Li(isa.A0, 5)
	cfi.CheckedCall(b, isa.T1, cfi.TypeHash(SigUnary), exports[2].label)
	check()

	b.Li(isa.A0, 8)
	b.Call("add42")
	check()

	b.Li(isa.A0, 25)
	b.Call("double")
	check()

	b.Li(isa.A7, 99)
	b.Emit(isa.Ecall)
	check()

	b.Li(isa.A0, dataBase+ScratchOffset)
	b.Li(isa.A1, isa.WordSize)
	b.Li(isa.A7, uint32(syscall.FillRandom))
	b.Emit(isa.Ecall)
	b.Li(isa.T0, dataBase+ScratchOffset)
	b.Emit(isa.Lw(isa.A0, isa.T0, 0))
	check()

	if opts.CorruptSoftShadow {
		b.Call("victim")
	}
	if opts.OverflowShadow {
		b.Call("recurse")
	}
	if opts.ForgeReturn {
		b.Call("forger")
	}
	if opts.BadLandingPad {
		tableEntry(isa.T1, 2)
		b.Li(isa.A0, 5)
		cfi.CheckedCall(b, isa.T1, cfi.TypeHash(SigUnary), SealLabel+1)
	}
	if opts.BadTypeHash {
		tableEntry(isa.T1, 1)
		cfi.CheckedCall(b, isa.T1, cfi.TypeHash(SigBinary), 0)
	}

	fail := b.NewLabel("selftest.fail")
	b.Bne(isa.S1, isa.Zero, fail)
	puts(b, "msg.pass")
	if opts.Echo {
		echo(b)
	}
	exit(b, 0)
	b.Label(fail)
	puts(b, "msg.fail")
	exit(b, 1)

	emitFunctions(b)
	return b
}

// puts writes the message starting at label.
func puts(b *isa.Builder, label string) {
	var n int
	for _, m := range messages {
		if m.label == label {
			n = len(m.text)
		}
	}
	b.La(isa.A0, label)
	b.Li(isa.A1, uint32(n))
	b.Li(isa.A7, uint32(syscall.WriteBuffer))
	b.Emit(isa.Ecall)
}

func exit(b *isa.Builder, code uint32) {
	b.Li(isa.A0, code)
	b.Li(isa.A7, uint32(syscall.Halt))
	b.Emit(isa.Ecall)
}

// echo copies console input to the console until it reads 'q'.
func echo(b *isa.Builder) {
	loop, done := b.NewLabel("echo.loop"), b.NewLabel("echo.done")
	puts(b, "msg.echo")
	b.Label(loop)
	b.Li(isa.A7, uint32(syscall.ReadChar))
	b.Emit(isa.Ecall)
	b.Li(isa.T0, syscall.Errno(syscall.EAGAIN))
	b.Beq(isa.A0, isa.T0, loop)
	b.Li(isa.T0, 'q')
	b.Beq(isa.A0, isa.T0, done)
	b.Li(isa.A7, uint32(syscall.WriteChar))
	b.Emit(isa.Ecall)
	b.J(loop)
	b.Label(done)
}

func emitFunctions(b *isa.Builder) {
	cfi.Function{Name: "triple", Indirect: true, Signature: SigUnary}.Emit(b, func(b *isa.Builder) {
		b.Emit(
			isa.Slli(isa.T0, isa.A0, 1),
			isa.Add(isa.A0, isa.T0, isa.A0),
		)
	})

	cfi.Function{Name: "add42", Indirect: true, Signature: SigUnary, Leaf: true}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Addi(isa.A0, isa.A0, 42))
	})

	cfi.Function{Name: "square", Indirect: true, Label: SealLabel, Signature: SigUnary, Leaf: true}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Mul(isa.A0, isa.A0, isa.A0))
	})

	// double(x) = triple(x) - x
	cfi.Function{Name: "double"}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Sw(isa.A0, isa.SP, 4))
		b.Call("triple")
		b.Emit(
			isa.Lw(isa.T0, isa.SP, 4),
			isa.Sub(isa.A0, isa.A0, isa.T0),
		)
	})

	cfi.Function{Name: "callAndInc", Indirect: true, Signature: SigCallAndInc}.Emit(b, func(b *isa.Builder) {
		b.Emit(
			isa.Mv(isa.T1, isa.A0),
			isa.Mv(isa.A0, isa.A1),
		)
		cfi.CheckedCall(b, isa.T1, cfi.TypeHash(SigUnary), 0)
		b.Emit(isa.Addi(isa.A0, isa.A0, 1))
	})

	// victim overwrites the software shadow stack entry of its own
	// activation.
	cfi.Function{Name: "victim"}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Sw(isa.Zero, cfi.ShadowPointerReg, -isa.WordSize))
	})

	cfi.Function{Name: "recurse"}.Emit(b, func(b *isa.Builder) {
		b.Call("recurse")
	})

	// forger returns to forged instead of its caller.
	cfi.Function{Name: "forger"}.Emit(b, func(b *isa.Builder) {
		b.La(isa.T1, "forged")
		b.Emit(
			isa.Sw(isa.T1, isa.SP, cfi.FrameSize-isa.WordSize),
			isa.Sw(isa.T1, cfi.ShadowPointerReg, -isa.WordSize),
		)
	})
	b.Label("forged")
	exit(b, HijackedCode)
}
