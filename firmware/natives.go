package firmware

// NativeOffset is the distance from the start of the trust anchor ROM to
// the first native routine.
const NativeOffset = 0xf000

// nativeStride separates consecutive native routines.
const nativeStride = 0x10

// Natives lists the ROM addresses bound to kernel routines. The ROM word at
// each address is zero, so user mode can never execute them.
type Natives struct {
	TrapVector     uint32
	TrapInstalled  uint32
	ZeroState      uint32
	CFIEnabled     uint32
	InstallRegions uint32
	Audit          uint32
	Record         uint32
	ContextReady   uint32
	CommitDrop     uint32
}

// NativesAt returns the native addresses for a ROM starting at base.
func NativesAt(base uint32) Natives {
	at := func(i uint32) uint32 { return base + NativeOffset + i*nativeStride }
	return Natives{
		TrapVector:     at(0),
		TrapInstalled:  at(1),
		ZeroState:      at(2),
		CFIEnabled:     at(3),
		InstallRegions: at(4),
		Audit:          at(5),
		Record:         at(6),
		ContextReady:   at(7),
		CommitDrop:     at(8),
	}
}

// symbols exposes the natives as assembler externals.
func (n Natives) symbols() map[string]uint32 {
	return map[string]uint32{
		"native.trap-installed":  n.TrapInstalled,
		"native.zero-state":      n.ZeroState,
		"native.cfi-enabled":     n.CFIEnabled,
		"native.install-regions": n.InstallRegions,
		"native.audit":           n.Audit,
		"native.record":          n.Record,
		"native.context-ready":   n.ContextReady,
		"native.commit-drop":     n.CommitDrop,
	}
}
