// Package trap implements the single trap vector of the trust anchor. Every
// exception taken by the hart enters Dispatch, which routes it by cause:
// illegal instructions that merely probe for optional control-flow integrity
// support are skipped, environment calls from user mode are forwarded to the
// syscall gateway and every other exception ends the run.
package trap

import (
	"rotos/kernel/cpu"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
)

// Handler services a trap. It may modify the frame; if the hart is still
// running when the handler returns, the frame is written back and the hart
// returns from the trap.
type Handler func(h *cpu.Hart, f *Frame)

// Stats counts the traps serviced by the router.
type Stats struct {
	Skipped  uint64
	Syscalls uint64
	Fatal    uint64
}

var (
	handlers = map[cpu.Cause]Handler{}
	layout   *mem.Layout
	stats    Stats
)

// Init resets the router and installs the default handlers. The layout is
// used to classify faults and to locate the application's shadow stack when
// reporting a fatal trap.
func Init(l *mem.Layout) {
	layout = l
	stats = Stats{}
	lastViolation = ViolationNone
	handlers = map[cpu.Cause]Handler{
		cpu.CauseIllegal: handleIllegal,
	}
}

// HandleTrap registers handler for cause, replacing any previous one.
func HandleTrap(cause cpu.Cause, handler Handler) {
	handlers[cause] = handler
}

// CurrentStats returns the router counters.
func CurrentStats() Stats {
	return stats
}

// Dispatch is the trap vector. It is bound to the address held in mtvec.
func Dispatch(h *cpu.Hart) {
	f := NewFrame(h)

	handler, ok := handlers[f.Cause()]
	if !ok {
		handler = handleFatal
	}
	handler(h, f)

	if h.Halted() {
		return
	}
	if f.Cause() == cpu.CauseEcallU {
		stats.Syscalls++
	}
	f.restore(h)
	h.Mret()
}

// ReportStats prints the router counters.
func ReportStats() {
	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[trap] ")}
	kfmt.Fprintf(&w, "skipped %d syscalls %d fatal %d\n", stats.Skipped, stats.Syscalls, stats.Fatal)
}
