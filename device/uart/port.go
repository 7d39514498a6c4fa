// Package uart provides a 16550-compatible serial port: the register model
// mapped on the machine bus and the kernel driver that talks to it.
package uart

import (
	"io"

	"rotos/kernel/sync"
)

// Register offsets.
const (
	RegData    = 0 // THR on write, RBR on read
	RegIER     = 1
	RegLSR     = 5
	RegScratch = 7
)

// Line status bits.
const (
	LSRDataReady = 1 << 0
	LSRTHREmpty  = 1 << 5
	LSRTxIdle    = 1 << 6
)

// WindowSize is the size of the register window.
const WindowSize = 8

const rxFIFOSize = 256

// Port models the UART hardware. Bytes written to THR go to the host writer;
// bytes supplied through Feed are returned by RBR in order.
type Port struct {
	out     io.Writer
	ier     uint8
	scratch uint8

	rxLock sync.Spinlock
	rx     [rxFIFOSize]byte
	rxHead int
	rxLen  int
}

// NewPort returns a port that transmits to out. A nil out discards output.
func NewPort(out io.Writer) *Port {
	if out == nil {
		out = io.Discard
	}
	return &Port{out: out}
}

// Feed queues bytes for reception. Bytes that do not fit in the receive FIFO
// are dropped; the number of queued bytes is returned.
func (p *Port) Feed(data []byte) int {
	p.rxLock.Acquire()
	defer p.rxLock.Release()

	n := 0
	for _, b := range data {
		if p.rxLen == rxFIFOSize {
			break
		}
		p.rx[(p.rxHead+p.rxLen)%rxFIFOSize] = b
		p.rxLen++
		n++
	}
	return n
}

// Pending returns the number of received bytes not yet read.
func (p *Port) Pending() int {
	p.rxLock.Acquire()
	defer p.rxLock.Release()
	return p.rxLen
}

func (p *Port) pop() (byte, bool) {
	p.rxLock.Acquire()
	defer p.rxLock.Release()

	if p.rxLen == 0 {
		return 0, false
	}
	b := p.rx[p.rxHead]
	p.rxHead = (p.rxHead + 1) % rxFIFOSize
	p.rxLen--
	return b, true
}

// ReadReg implements cpu.Device.
func (p *Port) ReadReg(offset, _ uint32) uint32 {
	switch offset {
	case RegData:
		b, _ := p.pop()
		return uint32(b)
	case RegIER:
		return uint32(p.ier)
	case RegLSR:
		lsr := uint32(LSRTHREmpty | LSRTxIdle)
		if p.Pending() > 0 {
			lsr |= LSRDataReady
		}
		return lsr
	case RegScratch:
		return uint32(p.scratch)
	}
	return 0
}

// WriteReg implements cpu.Device.
func (p *Port) WriteReg(offset, _ uint32, value uint32) {
	switch offset {
	case RegData:
		p.out.Write([]byte{byte(value)})
	case RegIER:
		p.ier = uint8(value)
	case RegScratch:
		p.scratch = uint8(value)
	}
}
