package cpu

import (
	"encoding/binary"

	"rotos/kernel"
)

// Device is implemented by memory-mapped peripherals. Offsets are relative to
// the base address the device is mapped at; width is 1, 2 or 4.
type Device interface {
	ReadReg(offset, width uint32) uint32
	WriteReg(offset, width, value uint32)
}

type ramBank struct {
	base uint32
	data []byte
}

type mmioWindow struct {
	base, size uint32
	dev        Device
}

// Bus is the physical address space of the hart: a set of RAM banks and
// memory-mapped device windows. Accesses to unmapped addresses fail.
type Bus struct {
	banks   []ramBank
	windows []mmioWindow
}

var errBusOverlap = &kernel.Error{Module: "cpu", Message: "bus mapping overlaps an existing mapping"}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) overlaps(base, size uint32) bool {
	end := uint64(base) + uint64(size)
	for _, bank := range b.banks {
		if uint64(base) < uint64(bank.base)+uint64(len(bank.data)) && uint64(bank.base) < end {
			return true
		}
	}
	for _, w := range b.windows {
		if uint64(base) < uint64(w.base)+uint64(w.size) && uint64(w.base) < end {
			return true
		}
	}
	return false
}

// MapRAM attaches size bytes of zeroed RAM at base.
func (b *Bus) MapRAM(base, size uint32) *kernel.Error {
	if b.overlaps(base, size) {
		return errBusOverlap
	}
	b.banks = append(b.banks, ramBank{base: base, data: make([]byte, size)})
	return nil
}

// MapDevice attaches dev to the size bytes starting at base.
func (b *Bus) MapDevice(base, size uint32, dev Device) *kernel.Error {
	if b.overlaps(base, size) {
		return errBusOverlap
	}
	b.windows = append(b.windows, mmioWindow{base: base, size: size, dev: dev})
	return nil
}

// ram returns the backing slice for the n bytes at addr if they are all
// inside one RAM bank.
func (b *Bus) ram(addr, n uint32) []byte {
	for _, bank := range b.banks {
		if addr < bank.base {
			continue
		}
		off := uint64(addr - bank.base)
		if off+uint64(n) <= uint64(len(bank.data)) {
			return bank.data[off : off+uint64(n)]
		}
	}
	return nil
}

func (b *Bus) window(addr, n uint32) *mmioWindow {
	for i := range b.windows {
		w := &b.windows[i]
		if addr >= w.base && uint64(addr-w.base)+uint64(n) <= uint64(w.size) {
			return w
		}
	}
	return nil
}

// Load reads a little-endian value of the given width.
func (b *Bus) Load(addr, width uint32) (uint32, bool) {
	if buf := b.ram(addr, width); buf != nil {
		switch width {
		case 1:
			return uint32(buf[0]), true
		case 2:
			return uint32(binary.LittleEndian.Uint16(buf)), true
		default:
			return binary.LittleEndian.Uint32(buf), true
		}
	}
	if w := b.window(addr, width); w != nil {
		return w.dev.ReadReg(addr-w.base, width), true
	}
	return 0, false
}

// Store writes a little-endian value of the given width.
func (b *Bus) Store(addr, width, value uint32) bool {
	if buf := b.ram(addr, width); buf != nil {
		switch width {
		case 1:
			buf[0] = byte(value)
		case 2:
			binary.LittleEndian.PutUint16(buf, uint16(value))
		default:
			binary.LittleEndian.PutUint32(buf, value)
		}
		return true
	}
	if w := b.window(addr, width); w != nil {
		w.dev.WriteReg(addr-w.base, width, value)
		return true
	}
	return false
}

// Read32 reads a word from RAM or a device.
func (b *Bus) Read32(addr uint32) (uint32, bool) {
	return b.Load(addr, 4)
}

// Write32 writes a word to RAM or a device.
func (b *Bus) Write32(addr, value uint32) bool {
	return b.Store(addr, 4, value)
}

// ReadBytes copies n bytes of RAM starting at addr.
func (b *Bus) ReadBytes(addr, n uint32) ([]byte, bool) {
	buf := b.ram(addr, n)
	if buf == nil {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, true
}

// WriteBytes copies data into RAM starting at addr.
func (b *Bus) WriteBytes(addr uint32, data []byte) bool {
	buf := b.ram(addr, uint32(len(data)))
	if buf == nil {
		return false
	}
	copy(buf, data)
	return true
}

// Memset sets size bytes of RAM at addr to value. Instead of a byte loop it
// performs log2(size) copy calls, each one doubling the initialized prefix.
func (b *Bus) Memset(addr uint32, value byte, size uint32) bool {
	if size == 0 {
		return true
	}

	target := b.ram(addr, size)
	if target == nil {
		return false
	}

	target[0] = value
	for index := uint32(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
	return true
}
