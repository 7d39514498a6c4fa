// Package finisher provides the SiFive test finisher used to end a run: the
// device model mapped on the machine bus and the kernel driver for it.
package finisher

import (
	"io"

	"rotos/device"
	"rotos/kernel"
	"rotos/kernel/kfmt"
)

// Values written to the finisher register.
const (
	StatusFail  = 0x3333
	StatusPass  = 0x5555
	StatusReset = 0x7777
)

// WindowSize is the size of the register window.
const WindowSize = 4

// EncodeFail returns the register value reporting failure with code.
func EncodeFail(code uint32) uint32 {
	return code<<16 | StatusFail
}

// Result is the outcome recorded by the finisher.
type Result struct {
	// Done is set once a pass or fail status has been written.
	Done bool

	// Passed is true if the run ended with StatusPass.
	Passed bool

	// Code is the failure code; zero on success.
	Code uint32

	// Raw is the value that was written.
	Raw uint32
}

// Model is the finisher hardware. The first pass or fail write is latched
// and reported to the OnExit callback.
type Model struct {
	result Result

	// OnExit is invoked once, when the run ends.
	OnExit func(Result)
}

// ReadReg implements cpu.Device.
func (m *Model) ReadReg(_, _ uint32) uint32 {
	return 0
}

// WriteReg implements cpu.Device.
func (m *Model) WriteReg(offset, width, value uint32) {
	if offset != 0 || width != 4 || m.result.Done {
		return
	}

	switch value & 0xffff {
	case StatusPass:
		m.result = Result{Done: true, Passed: true, Raw: value}
	case StatusFail:
		m.result = Result{Done: true, Code: value >> 16, Raw: value}
	default:
		return
	}

	if m.OnExit != nil {
		m.OnExit(m.result)
	}
}

// Result returns the latched outcome.
func (m *Model) Result() Result {
	return m.result
}

var (
	errNoBus = &kernel.Error{Module: "finisher", Message: "no bus attached"}

	// platformFn is mocked by tests.
	platformFn = device.Platform
)

// Driver writes pass and fail statuses to the finisher.
type Driver struct {
	bus  device.Bus
	base uint32
}

// NewDriver returns a driver for the finisher at base.
func NewDriver(bus device.Bus, base uint32) *Driver {
	return &Driver{bus: bus, base: base}
}

// DriverName returns the name of this driver.
func (d *Driver) DriverName() string {
	return "sifive_test"
}

// DriverVersion returns the version of this driver.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	if d.bus == nil {
		return errNoBus
	}
	kfmt.Fprintf(w, "register at 0x%x\n", d.base)
	return nil
}

// Pass reports a successful run.
func (d *Driver) Pass() {
	d.bus.Store(d.base, 4, StatusPass)
}

// Fail reports a failed run with code.
func (d *Driver) Fail(code uint32) {
	d.bus.Store(d.base, 4, EncodeFail(code))
}

func probeForFinisher() device.Driver {
	bus, base, ok := platformFn("exit")
	if !ok {
		return nil
	}
	return NewDriver(bus, base)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForFinisher,
	})
}
