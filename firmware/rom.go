package firmware

import (
	"fmt"

	"rotos/kernel/cfi"
	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

// buildROM assembles the trust anchor ROM. The boot block walks the
// privilege isolation protocol in order, calling a native routine at the end
// of every step so the kernel can check and record its outcome:
//
//  1. install the trap vector
//  2. zero writable state
//  3. enable the control-flow integrity controls and the trust anchor's
//     shadow stacks
//  4. install the region table
//  5. audit the application table, measure the application code and seal
//     the demo secret
//  6. set up the application stacks
//  7. drop to user mode at the application entry
func buildROM(layout *mem.Layout, appCode mem.Region, table uint32) (*isa.Block, Natives, error) {
	ta := layout.Domain(mem.TrustAnchor)
	app := layout.Domain(mem.Application)
	natives := NativesAt(ta.Entry)

	b := isa.NewBuilder(ta.Entry)
	b.Label("boot")

	// 1
	b.Li(isa.T0, natives.TrapVector)
	b.Emit(isa.Csrw(isa.CSRMtvec, isa.T0))
	b.Call("native.trap-installed")

	// 2
	b.Li(isa.SP, ta.Stack.Top())
	b.Call("native.zero-state")

	// 3; every CSR access may be skipped by the trap router
	b.Li(isa.T0, isa.EnvcfgLPE|isa.EnvcfgSSE)
	b.Emit(
		isa.Csrs(isa.CSRMenvcfg, isa.T0),
		isa.Csrs(isa.CSRSenvcfg, isa.T0),
	)
	b.Li(isa.T0, isa.MseccfgMLPE)
	b.Emit(isa.Csrs(isa.CSRMseccfg, isa.T0))
	b.Li(isa.T0, ta.ShadowStack.Top())
	b.Emit(isa.Csrw(isa.CSRSsp, isa.T0))
	b.Li(cfi.ShadowPointerReg, ta.SoftShadowStack.Base)
	b.Call("native.cfi-enabled")

	// 4
	b.Call("native.install-regions")

	// 5
	b.Li(isa.A0, table)
	b.Call("native.audit")
	b.Li(isa.A0, appCode.Base)
	b.Li(isa.A1, uint32(appCode.Size))
	b.Call("measure")
	b.Emit(isa.Mv(isa.S0, isa.A0))
	b.La(isa.T1, "seal")
	b.Li(isa.A0, SealSecret)
	b.Li(isa.A1, SealKey)
	cfi.CheckedCall(b, isa.T1, cfi.TypeHash(SigBinary), SealLabel)
	b.Emit(
		isa.Mv(isa.A1, isa.A0),
		isa.Mv(isa.A0, isa.S0),
	)
	b.Call("native.record")

	// 6
	b.Li(isa.SP, app.Stack.Top())
	b.Li(isa.T0, app.ShadowStack.Top())
	b.Emit(isa.Csrw(isa.CSRSsp, isa.T0))
	b.Li(cfi.ShadowPointerReg, app.SoftShadowStack.Base)
	b.Call("native.context-ready")

	// 7
	b.Li(isa.T0, isa.MstatusMPPMask)
	b.Emit(isa.Csrc(isa.CSRMstatus, isa.T0))
	b.Li(isa.T0, app.Entry)
	b.Emit(isa.Csrw(isa.CSRMepc, isa.T0))
	b.Call("native.commit-drop")
	b.Emit(isa.Mret)

	// measure(base, len) folds the words of [base, base+len) with xor.
	cfi.Function{Name: "measure", Leaf: true}.Emit(b, func(b *isa.Builder) {
		loop, done := b.NewLabel("measure.loop"), b.NewLabel("measure.done")
		b.Emit(
			isa.Mv(isa.T0, isa.Zero),
			isa.Add(isa.T1, isa.A0, isa.A1),
		)
		b.Label(loop)
		b.Bgeu(isa.A0, isa.T1, done)
		b.Emit(
			isa.Lw(isa.T2, isa.A0, 0),
			isa.Xor(isa.T0, isa.T0, isa.T2),
			isa.Addi(isa.A0, isa.A0, isa.WordSize),
		)
		b.J(loop)
		b.Label(done)
		b.Emit(isa.Mv(isa.A0, isa.T0))
	})

	// seal(data, key) is a stub: data ^ key.
	cfi.Function{Name: "seal", Indirect: true, Label: SealLabel, Signature: SigBinary}.Emit(b, func(b *isa.Builder) {
		b.Emit(isa.Xor(isa.A0, isa.A0, isa.A1))
	})

	if b.PC() > natives.TrapVector {
		return nil, natives, fmt.Errorf("firmware: ROM code overlaps the native routines at 0x%x", natives.TrapVector)
	}

	blk, err := b.Assemble(natives.symbols())
	if err != nil {
		return nil, natives, err
	}
	return blk, natives, nil
}
