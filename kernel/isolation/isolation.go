// Package isolation drives the boot protocol that separates the trust anchor
// from the application. The ROM boot block performs each step and then calls
// the matching routine of this package, which checks the outcome and moves
// the protocol to the next phase. Steps must arrive in order and the drop to
// user mode happens once; anything else is a protocol violation that halts
// the machine.
package isolation

import (
	"rotos/kernel"
	"rotos/kernel/cpu"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
	"rotos/kernel/trap"
)

// Phase is a step of the boot protocol.
type Phase uint8

// Boot phases, in order.
const (
	PhaseReset Phase = iota
	PhaseTrapInstalled
	PhaseStateZeroed
	PhaseCFIEnabled
	PhaseRegionsInstalled
	PhaseDomainReady
	PhaseContextReady
	PhaseDropped
)

var phaseNames = [...]string{
	PhaseReset:            "reset",
	PhaseTrapInstalled:    "trap-installed",
	PhaseStateZeroed:      "state-zeroed",
	PhaseCFIEnabled:       "cfi-enabled",
	PhaseRegionsInstalled: "regions-installed",
	PhaseDomainReady:      "domain-ready",
	PhaseContextReady:     "context-ready",
	PhaseDropped:          "dropped",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "invalid"
}

// CFIStatus records which control-flow integrity controls took effect.
type CFIStatus struct {
	// CSRs is false if the hart does not implement the CFI control
	// registers; the enabling writes were skipped.
	CSRs bool

	MachineLandingPads bool
	UserLandingPads    bool
	UserShadowStack    bool
}

// Context is the state the application starts with after the drop to user
// mode.
type Context struct {
	PC  uint32
	SP  uint32
	SSP uint32
	GP  uint32

	// Layout is the sealed layout the application runs under.
	Layout *mem.Layout
}

// Report summarizes the boot.
type Report struct {
	Phase       Phase
	CFI         CFIStatus
	Audited     int
	Measurement uint32
	Sealed      uint32
	Context     *Context
}

var (
	errOutOfOrder = &kernel.Error{Module: "isolation", Message: "boot step invoked out of order"}
	errDropTwice  = &kernel.Error{Module: "isolation", Message: "privilege drop requested twice"}

	layout   *mem.Layout
	appTable uint32
	audited  bool
	report   Report

	// fatalFn is mocked by tests.
	fatalFn = trap.Fatal

	w = kfmt.PrefixWriter{Prefix: []byte("[boot] ")}
)

// Init resets the protocol for a boot under l. table is the address of the
// application's exported function table.
func Init(l *mem.Layout, table uint32) {
	layout = l
	appTable = table
	audited = false
	report = Report{}
}

// CurrentReport returns the boot summary so far.
func CurrentReport() Report {
	return report
}

// CurrentPhase returns the phase the protocol has reached.
func CurrentPhase() Phase {
	return report.Phase
}

// ActiveContext returns the application context, or nil before the drop.
func ActiveContext() *Context {
	return report.Context
}

// logf writes a line tagged with the boot prefix to the console.
func logf(format string, args ...interface{}) {
	w.Sink = kfmt.GetOutputSink()
	kfmt.Fprintf(&w, format, args...)
}

// violation ends the boot with a protocol violation.
func violation(h *cpu.Hart, err *kernel.Error) {
	fatalFn(h, trap.CurrentFrame(h), trap.ViolationProtocol, err)
}

// expect checks that the protocol is at phase want.
func expect(h *cpu.Hart, want Phase) bool {
	if report.Phase == PhaseDropped {
		violation(h, errDropTwice)
		return false
	}
	if report.Phase != want {
		logf("expected phase %s; protocol is at %s\n", want, report.Phase)
		violation(h, errOutOfOrder)
		return false
	}
	return true
}

func advance() {
	report.Phase++
	logf("phase %s\n", report.Phase)
}
