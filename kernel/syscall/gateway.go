package syscall

import (
	"rotos/device"
	"rotos/kernel/cpu"
	"rotos/kernel/hal"
	"rotos/kernel/isa"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
	"rotos/kernel/trap"
)

// randomFill is the byte produced by the entropy stub.
const randomFill = 0xaa

// MaxHaltCode is the largest failure code a halt request reports; larger
// codes are clamped so they never collide with violation codes.
const MaxHaltCode = trap.ViolationCodeBase - 1

var (
	layout *mem.Layout

	// The following functions are mocked by tests.
	consoleFn = hal.ActiveConsole
	exitFn    = hal.ActiveExit
)

// Init installs the gateway as the handler for environment calls from user
// mode. Buffer arguments are validated against l.
func Init(l *mem.Layout) {
	layout = l
	trap.HandleTrap(cpu.CauseEcallU, handleEcall)
}

func handleEcall(h *cpu.Hart, f *trap.Frame) {
	n := Number(f.Reg(isa.A7))
	args := Arguments{f.Reg(isa.A0), f.Reg(isa.A1), f.Reg(isa.A2)}

	var ret uint32
	if fn := Services.Lookup(n); fn != nil {
		ret = fn(h, args)
	} else {
		ret = Services.Missing(h, n, args)
	}

	if h.Halted() {
		return
	}
	f.SetReg(isa.A0, ret)
	f.Mepc += isa.WordSize
}

// checkBuffer validates a user buffer. It returns 0 if the buffer may be
// accessed with need, or the errno describing why not.
func checkBuffer(ptr, length uint32, need mem.Perm) int32 {
	switch {
	case length > MaxLength:
		return EINVAL
	case length == 0:
		return 0
	case layout == nil || !layout.CheckRange(ptr, length, mem.Application, need):
		return EFAULT
	}
	return 0
}

func console() device.CharDevice {
	if cons := consoleFn(); cons != nil {
		return cons
	}
	return discard{}
}

func writeChar(_ *cpu.Hart, args Arguments) uint32 {
	console().Write([]byte{byte(args[0])})
	return 0
}

func writeBuffer(h *cpu.Hart, args Arguments) uint32 {
	ptr, length := args[0], args[1]
	if errno := checkBuffer(ptr, length, mem.PermR); errno != 0 {
		return Errno(errno)
	}
	if length == 0 {
		return 0
	}

	data, ok := h.Bus().ReadBytes(ptr, length)
	if !ok {
		return Errno(EFAULT)
	}
	console().Write(data)
	return length
}

func halt(h *cpu.Hart, args Arguments) uint32 {
	code := args[0]
	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[syscall] ")}
	kfmt.Fprintf(&w, "halt(%d)\n", code)

	if exit := exitFn(); exit != nil {
		if code == 0 {
			exit.Pass()
		} else {
			if code > MaxHaltCode {
				code = MaxHaltCode
			}
			exit.Fail(code)
		}
	}
	h.Halt()
	return 0
}

func fillRandom(h *cpu.Hart, args Arguments) uint32 {
	ptr, length := args[0], args[1]
	if errno := checkBuffer(ptr, length, mem.PermW); errno != 0 {
		return Errno(errno)
	}
	if length > 0 && !h.Bus().Memset(ptr, randomFill, length) {
		return Errno(EFAULT)
	}
	return length
}

func readChar(_ *cpu.Hart, _ Arguments) uint32 {
	b, ok := console().TryReadByte()
	if !ok {
		return Errno(EAGAIN)
	}
	return uint32(b)
}

// discard stands in for the console before one is detected.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) TryReadByte() (byte, bool) { return 0, false }
