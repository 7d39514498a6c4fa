package cpu

import "rotos/kernel/mem"

const (
	pmpEntries = mem.MaxRegions

	pmpOff   uint8 = 0 << 3
	pmpTOR   uint8 = 1 << 3
	pmpNA4   uint8 = 2 << 3
	pmpNAPOT       = mem.PmpNAPOT
)

// PMP models the physical memory protection unit of the hart. Entries are
// matched in index order and the lowest-numbered match decides the outcome.
type PMP struct {
	cfg  [pmpEntries]uint8
	addr [pmpEntries]uint32
}

// Entry returns the raw configuration byte and address register of entry i.
func (p *PMP) Entry(i int) (uint8, uint32) {
	return p.cfg[i], p.addr[i]
}

func (p *PMP) locked(i int) bool {
	return p.cfg[i]&mem.PmpLock != 0
}

// readCfg returns the pmpcfg register holding entries 4*reg..4*reg+3.
func (p *PMP) readCfg(reg int) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(p.cfg[reg*4+i]) << (8 * uint(i))
	}
	return v
}

// writeCfg updates the unlocked entries covered by a pmpcfg register.
func (p *PMP) writeCfg(reg int, v uint32) {
	for i := 0; i < 4; i++ {
		idx := reg*4 + i
		if p.locked(idx) {
			continue
		}
		p.cfg[idx] = uint8(v >> (8 * uint(i)))
	}
}

// writeAddr updates pmpaddr i unless the entry is locked or the next entry is
// a locked TOR entry using it as its lower bound.
func (p *PMP) writeAddr(i int, v uint32) {
	if p.locked(i) {
		return
	}
	if i+1 < pmpEntries && p.locked(i+1) && p.cfg[i+1]&mem.PmpAMask == pmpTOR {
		return
	}
	p.addr[i] = v
}

// bounds returns the [lo, hi) range matched by entry i.
func (p *PMP) bounds(i int) (uint64, uint64, bool) {
	switch p.cfg[i] & mem.PmpAMask {
	case pmpTOR:
		lo := uint64(0)
		if i > 0 {
			lo = uint64(p.addr[i-1]) << 2
		}
		return lo, uint64(p.addr[i]) << 2, true
	case pmpNA4:
		lo := uint64(p.addr[i]) << 2
		return lo, lo + 4, true
	case pmpNAPOT:
		base, size := mem.NAPOTRange(p.addr[i])
		return uint64(base), uint64(base) + uint64(size), true
	}
	return 0, 0, false
}

// Check returns true if an access of width bytes at addr requiring the
// permissions in need is allowed at privilege priv.
func (p *PMP) Check(addr, width uint32, need mem.Perm, priv Priv) bool {
	start, end := uint64(addr), uint64(addr)+uint64(width)
	for i := 0; i < pmpEntries; i++ {
		lo, hi, ok := p.bounds(i)
		if !ok || end <= lo || start >= hi {
			continue
		}

		// An access straddling the boundary of the first matching entry
		// fails regardless of permissions.
		if start < lo || end > hi {
			return false
		}
		if priv == Machine && !p.locked(i) {
			return true
		}
		return mem.Perm(p.cfg[i]).Allows(need)
	}

	// Machine mode is unrestricted when no entry matches; the less
	// privileged level is denied.
	return priv == Machine
}

func (p *PMP) reset() {
	*p = PMP{}
}
