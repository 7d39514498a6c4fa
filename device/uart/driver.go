package uart

import (
	"io"

	"rotos/device"
	"rotos/kernel"
	"rotos/kernel/kfmt"
)

// maxTxPolls bounds the wait for the transmitter to become ready.
const maxTxPolls = 1 << 16

var (
	errNoScratch = &kernel.Error{Module: "uart", Message: "scratch register test failed"}
	errTxTimeout = &kernel.Error{Module: "uart", Message: "transmitter never became ready"}

	// platformFn is mocked by tests.
	platformFn = device.Platform
)

// Driver drives a 16550-compatible UART through the machine bus.
type Driver struct {
	bus  device.Bus
	base uint32
}

// NewDriver returns a driver for the UART whose registers start at base.
func NewDriver(bus device.Bus, base uint32) *Driver {
	return &Driver{bus: bus, base: base}
}

// DriverName returns the name of this driver.
func (d *Driver) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit checks that a UART answers at the configured address and
// disables its interrupts.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	for _, pattern := range []uint32{0x55, 0xaa} {
		d.bus.Store(d.base+RegScratch, 1, pattern)
		if got, ok := d.bus.Load(d.base+RegScratch, 1); !ok || got != pattern {
			return errNoScratch
		}
	}
	d.bus.Store(d.base+RegIER, 1, 0)

	kfmt.Fprintf(w, "registers at 0x%x\n", d.base)
	return nil
}

// WriteByte transmits b once the holding register is empty.
func (d *Driver) WriteByte(b byte) error {
	for polls := 0; ; polls++ {
		lsr, ok := d.bus.Load(d.base+RegLSR, 1)
		if !ok || polls == maxTxPolls {
			return errTxTimeout
		}
		if lsr&LSRTHREmpty != 0 {
			break
		}
	}
	d.bus.Store(d.base+RegData, 1, uint32(b))
	return nil
}

// Write implements io.Writer.
func (d *Driver) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := d.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// TryReadByte returns the next received byte if one is available.
func (d *Driver) TryReadByte() (byte, bool) {
	lsr, ok := d.bus.Load(d.base+RegLSR, 1)
	if !ok || lsr&LSRDataReady == 0 {
		return 0, false
	}
	v, _ := d.bus.Load(d.base+RegData, 1)
	return byte(v), true
}

// probeForUART returns a driver if the platform maps a UART.
func probeForUART() device.Driver {
	bus, base, ok := platformFn("uart")
	if !ok {
		return nil
	}
	return NewDriver(bus, base)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForUART,
	})
}
