package device

import "io"

// Bus gives drivers access to the physical address space of the hart.
type Bus interface {
	Load(addr, width uint32) (uint32, bool)
	Store(addr, width, value uint32) bool
}

var (
	bus      Bus
	mmioBase = map[string]uint32{}
)

// SetPlatform records the bus drivers use and the MMIO base address of each
// named device. It must be called before hardware detection.
func SetPlatform(b Bus, bases map[string]uint32) {
	bus = b
	mmioBase = make(map[string]uint32, len(bases))
	for name, addr := range bases {
		mmioBase[name] = addr
	}
}

// Platform returns the bus and the MMIO base address of the named device.
// The bool result is false if either is unknown.
func Platform(name string) (Bus, uint32, bool) {
	addr, ok := mmioBase[name]
	if !ok || bus == nil {
		return nil, 0, false
	}
	return bus, addr, true
}

// CharDevice is implemented by drivers for byte-oriented devices.
type CharDevice interface {
	io.Writer

	// TryReadByte returns the next received byte. The bool result is false
	// if no byte is available.
	TryReadByte() (byte, bool)
}

// ExitDevice is implemented by drivers for devices that terminate
// execution.
type ExitDevice interface {
	// Pass reports successful completion.
	Pass()

	// Fail reports failure with the given code.
	Fail(code uint32)
}
