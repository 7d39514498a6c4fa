package cpu

import (
	"context"

	"rotos/kernel/isa"
	"rotos/kernel/mem"
)

// NativeFn is a Go routine bound to a ROM address. It runs with machine
// privilege and returns to the address in ra unless it redirects the hart
// through SetPC, Mret or Halt.
type NativeFn func(h *Hart)

// csrFile holds the machine-level CSRs implemented by the hart.
type csrFile struct {
	mstatus  uint32
	mtvec    uint32
	mscratch uint32
	mepc     uint32
	mcause   uint32
	mtval    uint32
	menvcfg  uint32
	senvcfg  uint32
	mseccfg  uint32
	ssp      uint32
}

// Hart is a single RV32IM hart with machine and user privilege levels.
type Hart struct {
	x    [32]uint32
	pc   uint32
	priv Priv

	caps Caps
	bus  *Bus
	pmp  PMP
	csr  csrFile

	// elp is set by an indirect jump when landing pads are enabled; the
	// next instruction must be a landing pad.
	elp bool

	natives    map[uint32]NativeFn
	resetPC    uint32
	halted     bool
	redirected bool
	trapped    bool

	retired uint64

	// lastCause and lastTval record the most recent exception; they survive
	// a halt so the host can report why execution stopped.
	lastCause Cause
	lastTval  uint32
	trapCount uint64
}

// NewHart returns a hart attached to bus that starts executing at resetPC in
// machine mode.
func NewHart(bus *Bus, caps Caps, resetPC uint32) *Hart {
	h := &Hart{
		bus:     bus,
		caps:    caps,
		resetPC: resetPC,
		natives: make(map[uint32]NativeFn),
	}
	h.Reset()
	return h
}

// Reset puts the hart in its power-on state. Registered native routines and
// the bus contents are preserved.
func (h *Hart) Reset() {
	h.x = [32]uint32{}
	h.pc = h.resetPC
	h.priv = Machine
	h.csr = csrFile{}
	h.pmp.reset()
	h.elp = false
	h.halted = false
	h.retired = 0
	h.trapCount = 0
}

// Caps returns the extensions implemented by the hart.
func (h *Hart) Caps() Caps { return h.caps }

// Bus returns the physical bus of the hart.
func (h *Hart) Bus() *Bus { return h.bus }

// PMP returns the protection unit of the hart.
func (h *Hart) PMP() *PMP { return &h.pmp }

// PC returns the address of the next instruction.
func (h *Hart) PC() uint32 { return h.pc }

// SetPC redirects execution to pc.
func (h *Hart) SetPC(pc uint32) {
	h.pc = pc
	h.redirected = true
}

// Priv returns the current privilege level.
func (h *Hart) Priv() Priv { return h.priv }

// Reg returns the value of register r.
func (h *Hart) Reg(r isa.Reg) uint32 { return h.x[r&31] }

// SetReg updates register r. Writes to x0 are discarded.
func (h *Hart) SetReg(r isa.Reg, v uint32) {
	if r&31 != 0 {
		h.x[r&31] = v
	}
}

// Regs returns a copy of the register file.
func (h *Hart) Regs() [32]uint32 { return h.x }

// Retired returns the number of instructions and native routines executed
// since reset.
func (h *Hart) Retired() uint64 { return h.retired }

// Halted returns true once the hart has stopped.
func (h *Hart) Halted() bool { return h.halted }

// Halt stops the hart. A halted hart ignores Step.
func (h *Hart) Halt() {
	h.halted = true
	h.redirected = true
}

// LastTrap returns the cause and trap value of the most recent exception and
// the number of exceptions taken since reset.
func (h *Hart) LastTrap() (Cause, uint32, uint64) {
	return h.lastCause, h.lastTval, h.trapCount
}

// ExpectingLandingPad returns true if the next instruction must be a landing
// pad.
func (h *Hart) ExpectingLandingPad() bool { return h.elp }

// RegisterNative binds fn to addr. The routine only runs when addr is fetched
// in machine mode.
func (h *Hart) RegisterNative(addr uint32, fn NativeFn) {
	h.natives[addr] = fn
}

// Mret returns from a trap: the privilege level is restored from
// mstatus.MPP, which is reset to the least privileged level, and execution
// continues at mepc.
func (h *Hart) Mret() {
	h.priv = Priv((h.csr.mstatus & isa.MstatusMPPMask) >> isa.MstatusMPPShift)
	h.csr.mstatus &^= isa.MstatusMPPMask
	h.SetPC(h.csr.mepc)
}

// landingPadsEnabled reports whether forward-edge checks apply at the current
// privilege level.
func (h *Hart) landingPadsEnabled() bool {
	if !h.caps.LandingPads {
		return false
	}
	if h.priv == Machine {
		return h.csr.mseccfg&isa.MseccfgMLPE != 0
	}
	return h.csr.menvcfg&isa.EnvcfgLPE != 0
}

// shadowStackEnabled reports whether the hardware shadow stack is active at
// the current privilege level. Machine mode has no hardware shadow stack.
func (h *Hart) shadowStackEnabled() bool {
	return h.caps.ShadowStack && h.priv == User && h.csr.menvcfg&isa.EnvcfgSSE != 0
}

// raise takes a synchronous exception. If no trap vector has been installed
// the hart halts instead of jumping to address zero.
func (h *Hart) raise(cause Cause, tval uint32) {
	h.trapped = true
	h.lastCause, h.lastTval = cause, tval
	h.trapCount++

	if h.csr.mtvec == 0 {
		h.halted = true
		return
	}

	h.csr.mepc = h.pc
	h.csr.mcause = uint32(cause)
	h.csr.mtval = tval
	h.csr.mstatus = h.csr.mstatus&^isa.MstatusMPPMask | uint32(h.priv)<<isa.MstatusMPPShift
	h.priv = Machine
	h.elp = false
	h.pc = h.csr.mtvec &^ 3
}

// Raise injects an exception as if the current instruction had caused it.
func (h *Hart) Raise(cause Cause, tval uint32) {
	h.raise(cause, tval)
	h.redirected = true
}

// LoadMem reads width bytes at addr honoring the protection unit.
func (h *Hart) LoadMem(addr, width uint32) (uint32, bool) {
	if !h.pmp.Check(addr, width, mem.PermR, h.priv) {
		return 0, false
	}
	return h.bus.Load(addr, width)
}

// StoreMem writes width bytes at addr honoring the protection unit.
func (h *Hart) StoreMem(addr, width, value uint32) bool {
	if !h.pmp.Check(addr, width, mem.PermW, h.priv) {
		return false
	}
	return h.bus.Store(addr, width, value)
}

// Step executes a single instruction or native routine.
func (h *Hart) Step() {
	if h.halted {
		return
	}

	h.trapped = false
	h.redirected = false
	if fn, ok := h.natives[h.pc]; ok && h.priv == Machine {
		if h.elp {
			h.raise(CauseSoftwareCheck, SoftwareCheckLandingPad)
			return
		}
		fn(h)
		h.retired++
		if !h.redirected && !h.halted {
			h.pc = h.x[isa.RA]
		}
		return
	}

	if h.pc&1 != 0 {
		h.raise(CauseFetchMisaligned, h.pc)
		return
	}

	half, ok := h.fetch(h.pc, 2)
	if !ok {
		h.raise(CauseFetchAccess, h.pc)
		return
	}

	if isa.IsCompressed(uint16(half)) {
		if h.elp {
			h.raise(CauseSoftwareCheck, SoftwareCheckLandingPad)
			return
		}
		h.execCompressed(uint16(half))
	} else {
		word, ok := h.fetch(h.pc, 4)
		if !ok {
			h.raise(CauseFetchAccess, h.pc)
			return
		}
		if h.elp {
			h.elp = false
			if !h.landingPadMatches(word) {
				h.raise(CauseSoftwareCheck, SoftwareCheckLandingPad)
				return
			}
		}
		h.exec(word)
	}

	if !h.trapped {
		h.retired++
	}
}

func (h *Hart) fetch(addr, width uint32) (uint32, bool) {
	if !h.pmp.Check(addr, width, mem.PermX, h.priv) {
		return 0, false
	}
	return h.bus.Load(addr, width)
}

func (h *Hart) landingPadMatches(word uint32) bool {
	if !isa.IsLpad(word) {
		return false
	}
	label := isa.LpadLabel(word)
	return label == 0 || label == h.x[isa.LandingPadLabelReg]>>12
}

// Run steps the hart until it halts, ctx is cancelled or maxSteps
// instructions have been executed. A zero maxSteps removes the limit.
func (h *Hart) Run(ctx context.Context, maxSteps uint64) error {
	for steps := uint64(0); !h.halted; steps++ {
		if maxSteps != 0 && steps >= maxSteps {
			return ErrBudgetExhausted
		}
		if steps&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		h.Step()
	}
	return nil
}

// RunUntil steps the hart until pc reaches addr. It returns false if the hart
// halted or maxSteps elapsed first.
func (h *Hart) RunUntil(addr uint32, maxSteps uint64) bool {
	for steps := uint64(0); steps < maxSteps; steps++ {
		if h.halted {
			return false
		}
		if h.pc == addr {
			return true
		}
		h.Step()
	}
	return h.pc == addr && !h.halted
}
