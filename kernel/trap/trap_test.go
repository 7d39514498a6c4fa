package trap

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rotos/device"
	"rotos/kernel/cfi"
	"rotos/kernel/cpu"
	"rotos/kernel/hal"
	"rotos/kernel/isa"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
)

const (
	testROM  = 0x80000000
	testUser = 0x80000400
	testVec  = 0x80000f00
	testRAM  = 0x80010000
)

type fakeExit struct {
	codes []uint32
}

func (e *fakeExit) Pass()            { e.codes = append(e.codes, 0) }
func (e *fakeExit) Fail(code uint32) { e.codes = append(e.codes, code) }

// setup installs the router over a default layout and replaces the exit
// device and the panic path with recorders.
func setup(t *testing.T) (*fakeExit, *[]interface{}, func()) {
	t.Helper()

	exit := &fakeExit{}
	var panics []interface{}
	exitDeviceFn = func() device.ExitDevice { return exit }
	panicFn = func(e interface{}) { panics = append(panics, e) }
	kfmt.SetOutputSink(&bytes.Buffer{})
	Init(mem.DefaultLayout())

	return exit, &panics, func() {
		exitDeviceFn = hal.ActiveExit
		panicFn = kfmt.Panic
		kfmt.SetOutputSink(nil)
		cfi.ResetFaultSites()
		Init(nil)
	}
}

// newHart maps a ROM holding prog and a RAM window and binds Dispatch to the
// trap vector.
func newHart(t *testing.T, caps cpu.Caps, prog ...uint32) *cpu.Hart {
	t.Helper()

	bus := cpu.NewBus()
	if err := bus.MapRAM(testROM, 0x10000); err != nil {
		t.Fatal(err)
	}
	if err := bus.MapRAM(testRAM, 0x10000); err != nil {
		t.Fatal(err)
	}
	for i, w := range prog {
		bus.Write32(testROM+uint32(i)*4, w)
	}

	h := cpu.NewHart(bus, caps, testROM)
	h.RegisterNative(testVec, Dispatch)
	h.WriteCSR(isa.CSRMtvec, testVec)
	return h
}

func run(t *testing.T, h *cpu.Hart) {
	t.Helper()
	if err := h.Run(context.Background(), 10000); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func haltOnMachineEcall(h *cpu.Hart, _ *Frame) {
	h.Halt()
}

func TestSkipDegradableInstructions(t *testing.T) {
	_, panics, restore := setup(t)
	defer restore()
	HandleTrap(cpu.CauseEcallM, haltOnMachineEcall)

	li := isa.Li(isa.T0, isa.EnvcfgLPE|isa.EnvcfgSSE)
	h := newHart(t, cpu.Caps{},
		li[0], li[1],
		isa.Csrs(isa.CSRMenvcfg, isa.T0),
		isa.Addi(isa.A1, isa.Zero, 9),
		isa.Csrr(isa.A1, isa.CSRMseccfg),
		// c.mop.1 followed by c.nop
		0x0001<<16|uint32(isa.CSSPushRA),
		isa.Addi(isa.A0, isa.Zero, 5),
		isa.Ecall,
	)
	run(t, h)

	if got := h.Reg(isa.A0); got != 5 {
		t.Errorf("expected execution to continue past skipped instructions; a0 = %d", got)
	}
	if got := h.Reg(isa.A1); got != 9 {
		t.Errorf("expected a skipped CSR read to leave rd untouched; a1 = %d", got)
	}
	if diff := cmp.Diff(Stats{Skipped: 3}, CurrentStats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if len(*panics) != 0 {
		t.Errorf("unexpected fatal path: %v", *panics)
	}
}

func TestDegradable(t *testing.T) {
	specs := []struct {
		word   uint32
		prev   cpu.Priv
		expLen uint32
		expOK  bool
	}{
		{isa.Csrw(isa.CSRSsp, isa.T0), cpu.Machine, 4, true},
		{isa.Csrw(isa.CSRSsp, isa.T0), cpu.User, 4, true},
		{isa.Csrs(isa.CSRSenvcfg, isa.T0), cpu.Machine, 4, true},
		{isa.Csrs(isa.CSRSenvcfg, isa.T0), cpu.User, 4, false},
		{isa.Csrr(isa.A0, isa.CSRMseccfg), cpu.Machine, 4, true},
		{isa.Csrw(isa.CSRMseccfg, isa.T0), cpu.User, 4, false},
		{isa.Csrs(isa.CSRMenvcfg, isa.T0), cpu.User, 4, false},
		{isa.Csrr(isa.A0, isa.CSRMstatus), cpu.Machine, 4, false},
		{uint32(isa.CSSPopChkT0), cpu.Machine, 2, true},
		{uint32(isa.CSSPushRA), cpu.User, 2, true},
		{isa.Illegal, cpu.Machine, 2, false},
		{0xffffffff, cpu.Machine, 4, false},
	}

	h := newHart(t, cpu.Caps{})
	for specIndex, spec := range specs {
		h.Bus().Write32(testRAM, spec.word)
		n, ok := Degradable(h, testRAM, spec.prev)
		if ok != spec.expOK || (ok && n != spec.expLen) {
			t.Errorf("[spec %d] expected (%d, %t); got (%d, %t)", specIndex, spec.expLen, spec.expOK, n, ok)
		}
	}

	if _, ok := Degradable(h, 0x1000, cpu.Machine); ok {
		t.Error("expected an unmapped address not to be degradable")
	}
}

// enterUser places prog at testUser, grants user mode read and execute access
// to the ROM and drops the hart to user mode.
func enterUser(t *testing.T, caps cpu.Caps, prog ...uint32) *cpu.Hart {
	t.Helper()

	h := newHart(t, caps, append(make([]uint32, (testUser-testROM)/4), prog...)...)
	h.WriteCSR(isa.PmpaddrCSR(0), mem.NAPOTAddr(testROM, 64*mem.Kb))
	h.WriteCSR(isa.PmpcfgCSR(0), uint32(mem.PmpR|mem.PmpX|mem.PmpNAPOT))
	h.WriteCSR(isa.CSRMepc, testUser)
	h.Mret()
	if h.Priv() != cpu.User {
		t.Fatal("expected the hart to run in user mode")
	}
	return h
}

func TestUserAccessToMachineCFICSRIsFatal(t *testing.T) {
	specs := []uint32{
		isa.Csrw(isa.CSRMseccfg, isa.T0),
		isa.Csrs(isa.CSRMenvcfg, isa.T0),
	}

	for specIndex, spec := range specs {
		exit, panics, restore := setup(t)
		HandleTrap(cpu.CauseEcallU, func(h *cpu.Hart, _ *Frame) { h.Halt() })

		h := enterUser(t, cpu.FullCaps(), spec, isa.Addi(isa.A0, isa.A0, 5), isa.Ecall)
		run(t, h)

		if got := h.Reg(isa.A0); got != 0 {
			t.Errorf("[spec %d] expected execution to stop at the CSR access; a0 = %d", specIndex, got)
		}
		if diff := cmp.Diff(Stats{Fatal: 1}, CurrentStats()); diff != "" {
			t.Errorf("[spec %d] stats mismatch (-want +got):\n%s", specIndex, diff)
		}
		if diff := cmp.Diff([]uint32{ViolationUnknown.ExitCode()}, exit.codes); diff != "" {
			t.Errorf("[spec %d] exit codes mismatch (-want +got):\n%s", specIndex, diff)
		}
		if len(*panics) != 1 {
			t.Errorf("[spec %d] expected one panic; got %d", specIndex, len(*panics))
		}
		restore()
	}
}

func TestUserSkipsUnsupportedCFI(t *testing.T) {
	_, panics, restore := setup(t)
	defer restore()
	HandleTrap(cpu.CauseEcallU, func(h *cpu.Hart, _ *Frame) { h.Halt() })

	h := enterUser(t, cpu.Caps{},
		isa.Csrw(isa.CSRSsp, isa.T0),
		// c.mop.1 followed by c.nop
		0x0001<<16|uint32(isa.CSSPushRA),
		isa.Addi(isa.A0, isa.A0, 5),
		isa.Ecall,
	)
	run(t, h)

	if got := h.Reg(isa.A0); got != 5 {
		t.Errorf("expected execution to continue past skipped instructions; a0 = %d", got)
	}
	if got := CurrentStats().Skipped; got != 2 {
		t.Errorf("expected two skipped instructions; got %d", got)
	}
	if len(*panics) != 0 {
		t.Errorf("unexpected fatal path: %v", *panics)
	}
}

func TestIllegalInstructionIsFatal(t *testing.T) {
	exit, panics, restore := setup(t)
	defer restore()

	h := newHart(t, cpu.Caps{}, isa.Addi(isa.A0, isa.Zero, 1), isa.Illegal)
	run(t, h)

	if !h.Halted() {
		t.Fatal("expected the hart to halt")
	}
	if got := LastViolation(); got != ViolationUnknown {
		t.Errorf("expected an unknown violation; got %s", got)
	}
	if diff := cmp.Diff([]uint32{ViolationUnknown.ExitCode()}, exit.codes); diff != "" {
		t.Errorf("exit codes mismatch (-want +got):\n%s", diff)
	}
	if len(*panics) != 1 || (*panics)[0] != errViolation[ViolationUnknown] {
		t.Errorf("expected a single panic with the unknown-violation error; got %v", *panics)
	}
	if got := CurrentStats().Fatal; got != 1 {
		t.Errorf("expected one fatal trap; got %d", got)
	}
}

func TestUserEcallIsForwarded(t *testing.T) {
	_, _, restore := setup(t)
	defer restore()

	HandleTrap(cpu.CauseEcallU, func(h *cpu.Hart, f *Frame) {
		if f.Prev != cpu.User {
			t.Errorf("expected the frame to record user mode; got %s", f.Prev)
		}
		if f.Reg(isa.A7) == 0 {
			h.Halt()
			return
		}
		f.SetReg(isa.A0, f.Reg(isa.A7)*2)
		f.Mepc += 4
	})

	li21 := isa.Li(isa.A7, 21)
	h := enterUser(t, cpu.Caps{},
		li21[0], li21[1],
		isa.Ecall,
		isa.Addi(isa.A0, isa.A0, 1),
		isa.Addi(isa.A7, isa.Zero, 0),
		isa.Ecall,
	)
	run(t, h)

	if got := h.Reg(isa.A0); got != 43 {
		t.Errorf("expected a0 = 43; got %d", got)
	}
	if got := CurrentStats().Syscalls; got != 1 {
		t.Errorf("expected one serviced syscall; got %d", got)
	}
}

func TestClassify(t *testing.T) {
	_, _, restore := setup(t)
	defer restore()

	b := isa.NewBuilder(testROM)
	cfi.Epilogue(b)
	cfi.CheckedCall(b, isa.T0, 1, 0)
	blk, err := b.Assemble(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfi.RegisterFaultSites(blk)

	var stubs []uint32
	for i, w := range blk.Words {
		if w == isa.Ebreak {
			stubs = append(stubs, blk.Base+uint32(i)*4)
		}
	}
	if len(stubs) != 2 {
		t.Fatalf("expected two fault stubs; got %d", len(stubs))
	}

	specs := []struct {
		cause cpu.Cause
		epc   uint32
		tval  uint32
		exp   Violation
	}{
		{cpu.CauseSoftwareCheck, 0, cpu.SoftwareCheckLandingPad, ViolationLandingPad},
		{cpu.CauseSoftwareCheck, 0, cpu.SoftwareCheckShadowStack, ViolationHWShadowStack},
		{cpu.CauseSoftwareCheck, 0, 9, ViolationUnknown},
		{cpu.CauseBreakpoint, stubs[0], 0, ViolationSWShadowStack},
		{cpu.CauseBreakpoint, stubs[1], 0, ViolationTypeHash},
		{cpu.CauseBreakpoint, testROM, 0, ViolationUnknown},
		{cpu.CauseStoreAccess, 0, mem.AppGuard, ViolationSWShadowStack},
		{cpu.CauseStoreAccess, 0, mem.AppShadow - 4, ViolationHWShadowStack},
		{cpu.CauseStoreAccess, 0, mem.AppCode, ViolationMemoryProtection},
		{cpu.CauseFetchAccess, 0, mem.TAData, ViolationMemoryProtection},
		{cpu.CauseLoadMisaligned, 0, 0, ViolationUnknown},
		{cpu.CauseEcallM, 0, 0, ViolationUnknown},
	}

	for specIndex, spec := range specs {
		f := &Frame{Mcause: uint32(spec.cause), Mepc: spec.epc, Mtval: spec.tval}
		if got := Classify(f); got != spec.exp {
			t.Errorf("[spec %d] expected %s; got %s", specIndex, spec.exp, got)
		}
	}
}

func TestFatalReport(t *testing.T) {
	exit, panics, restore := setup(t)
	defer restore()

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	bus := cpu.NewBus()
	bus.MapRAM(mem.AppShadow, uint32(8*mem.Kb))
	soft := mem.DefaultDomains()[mem.Application].SoftShadowStack
	bus.Write32(soft.Base, 0x80020010)
	bus.Write32(soft.Base+4, 0x80020020)
	h := cpu.NewHart(bus, cpu.Caps{}, testROM)

	f := &Frame{
		Mepc:   0x80020040,
		Mcause: uint32(cpu.CauseSoftwareCheck),
		Mtval:  cpu.SoftwareCheckLandingPad,
		Prev:   cpu.User,
	}
	f.SetReg(isa.RA, 0x80020020)
	f.SetReg(isa.GP, soft.Base+8)

	Fatal(h, f, Classify(f), nil)

	if !h.Halted() {
		t.Fatal("expected the hart to halt")
	}
	if diff := cmp.Diff([]uint32{ViolationLandingPad.ExitCode()}, exit.codes); diff != "" {
		t.Errorf("exit codes mismatch (-want +got):\n%s", diff)
	}
	if len(*panics) != 1 {
		t.Fatalf("expected one panic; got %d", len(*panics))
	}

	got := out.String()
	for _, exp := range []string{
		"[trap] fatal landing pad violation at 0x80020040\n",
		"[trap]   ra = 80020020   sp = 00000000\n",
		"[trap]   t6 = 00000000\n",
		"[trap] mcause = 18 (software check) from U-mode\n",
		"[trap] shadow stack depth 2\n",
		"[trap]   #0 0x80020020\n",
		"[trap]   #1 0x80020010\n",
	} {
		if !strings.Contains(got, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, got)
		}
	}
}

func TestFatalReportWithCorruptShadowPointer(t *testing.T) {
	_, _, restore := setup(t)
	defer restore()

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	h := cpu.NewHart(cpu.NewBus(), cpu.Caps{}, testROM)
	f := &Frame{Mcause: uint32(cpu.CauseBreakpoint), Prev: cpu.User}
	f.SetReg(isa.GP, 0x1234)
	Fatal(h, f, ViolationSWShadowStack, nil)

	if exp := "shadow stack pointer 0x1234 outside 0x80063000-0x80064000"; !strings.Contains(out.String(), exp) {
		t.Errorf("expected output to contain %q; got:\n%s", exp, out.String())
	}
}

func TestViolationString(t *testing.T) {
	if got := ViolationHWShadowStack.String(); got != "hardware shadow stack" {
		t.Errorf("unexpected name %q", got)
	}
	if got := Violation(200).String(); got != "unknown" {
		t.Errorf("unexpected name %q", got)
	}
}
