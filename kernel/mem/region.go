package mem

// PMP configuration byte fields.
const (
	PmpR     uint8 = 1 << 0
	PmpW     uint8 = 1 << 1
	PmpX     uint8 = 1 << 2
	PmpNAPOT uint8 = 3 << 3
	PmpAMask uint8 = 3 << 3
	PmpLock  uint8 = 1 << 7

	// MaxRegions is the number of PMP entries of the hart; every region
	// occupies exactly one entry.
	MaxRegions = 16
)

// Perms holds the permissions a region grants to each privilege level.
type Perms struct {
	Machine Perm `toml:"machine"`
	User    Perm `toml:"user"`
}

// Region is a contiguous naturally aligned block of physical memory owned by
// one domain.
type Region struct {
	Name  string `toml:"name"`
	Base  uint32 `toml:"base"`
	Size  Size   `toml:"size"`
	Owner Domain `toml:"owner"`
	Perms Perms  `toml:"perms"`
	Lock  bool   `toml:"lock"`
}

// End returns the first address past the region. The result is 64 bits wide
// so that a region ending at the top of the address space is representable.
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Contains returns true if addr lies inside the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Base && uint64(addr) < r.End()
}

// ContainsRange returns true if the length bytes starting at addr lie inside
// the region. An empty range is contained if addr is.
func (r Region) ContainsRange(addr uint32, length uint32) bool {
	return r.Contains(addr) && uint64(addr)+uint64(length) <= r.End()
}

// Overlaps returns true if the two regions share at least one byte.
func (r Region) Overlaps(other Region) bool {
	return uint64(r.Base) < other.End() && uint64(other.Base) < r.End()
}

// PmpAddr returns the NAPOT-encoded pmpaddr value for the region.
func (r Region) PmpAddr() uint32 {
	return NAPOTAddr(r.Base, r.Size)
}

// PmpCfg returns the PMP configuration byte for the region. The R/W/X bits
// carry the user permissions; for a locked region they bind machine mode too.
func (r Region) PmpCfg() uint8 {
	cfg := PmpNAPOT | uint8(r.Perms.User)&(PmpR|PmpW|PmpX)
	if r.Lock {
		cfg |= PmpLock
	}
	return cfg
}

// NAPOTAddr encodes a naturally aligned power-of-two block as a pmpaddr value.
func NAPOTAddr(base uint32, size Size) uint32 {
	return base>>2 | (uint32(size>>GranuleShift) - 1)
}

// NAPOTRange decodes a pmpaddr value holding a NAPOT encoding into the base
// address and size of the block it describes.
func NAPOTRange(pmpaddr uint32) (uint32, Size) {
	// The number of trailing ones selects the block size.
	ones := uint(0)
	for ones < 32 && pmpaddr&(1<<ones) != 0 {
		ones++
	}

	size := Size(1) << (ones + GranuleShift)
	base := uint64(pmpaddr&^(1<<ones-1)) << 2
	return uint32(base), size
}
