package mem

import (
	"fmt"

	"rotos/kernel"
)

var (
	errLayoutSealed = &kernel.Error{Module: "mem", Message: "layout is sealed"}
	errNoRegions    = &kernel.Error{Module: "mem", Message: "layout defines no regions"}
	errTooManyRegs  = &kernel.Error{Module: "mem", Message: "layout defines more regions than protection entries"}
)

// Span is a block of memory reserved for a specific purpose inside a region.
type Span struct {
	Base uint32
	Size Size
}

// Top returns the first address past the span; downward-growing stacks start
// here.
func (s Span) Top() uint32 {
	return s.Base + uint32(s.Size)
}

// DomainLayout describes where a domain keeps its execution state.
type DomainLayout struct {
	// Entry is the address at which the domain starts executing.
	Entry uint32

	// Stack is the data stack; it grows down from Stack.Top().
	Stack Span

	// ShadowStack backs the hardware shadow stack; it grows down from
	// ShadowStack.Top().
	ShadowStack Span

	// SoftShadowStack backs the software shadow stack; it grows up from
	// SoftShadowStack.Base and the pointer to its next free slot lives in gp.
	SoftShadowStack Span
}

// Devices holds the MMIO base addresses of the devices the kernel drives.
type Devices struct {
	UART uint32
	Exit uint32
}

// Layout is the region table of the machine together with the per-domain
// spans carved out of it. A layout is assembled and validated once; after
// Seal is called any attempt to modify it fails.
type Layout struct {
	regions []Region
	domains [2]DomainLayout
	devices Devices
	sealed  bool
}

// NewLayout returns an empty, unsealed layout.
func NewLayout() *Layout {
	return &Layout{}
}

// AddRegion appends r to the region table. Regions are matched in the order
// they were added.
func (l *Layout) AddRegion(r Region) *kernel.Error {
	if l.sealed {
		return errLayoutSealed
	}
	l.regions = append(l.regions, r)
	return nil
}

// SetDomain records the execution spans of domain d.
func (l *Layout) SetDomain(d Domain, dl DomainLayout) *kernel.Error {
	if l.sealed {
		return errLayoutSealed
	}
	if int(d) >= len(l.domains) {
		return errBadDomain
	}
	l.domains[d] = dl
	return nil
}

// SetDevices records the MMIO addresses of the character and exit devices.
func (l *Layout) SetDevices(dev Devices) *kernel.Error {
	if l.sealed {
		return errLayoutSealed
	}
	l.devices = dev
	return nil
}

// Seal validates the layout and makes it immutable.
func (l *Layout) Seal() *kernel.Error {
	if l.sealed {
		return nil
	}
	if err := l.Validate(); err != nil {
		return err
	}
	l.sealed = true
	return nil
}

// Sealed returns true if the layout can no longer be modified.
func (l *Layout) Sealed() bool {
	return l.sealed
}

// Regions returns a copy of the region table.
func (l *Layout) Regions() []Region {
	out := make([]Region, len(l.regions))
	copy(out, l.regions)
	return out
}

// Domain returns the execution spans of domain d.
func (l *Layout) Domain(d Domain) DomainLayout {
	return l.domains[d&1]
}

// Devices returns the device addresses of the layout.
func (l *Layout) Devices() Devices {
	return l.devices
}

// Region looks up a region by name.
func (l *Layout) Region(name string) (Region, bool) {
	for _, r := range l.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Lookup returns the region that contains addr.
func (l *Layout) Lookup(addr uint32) (Region, bool) {
	for _, r := range l.regions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}

// CheckRange returns true if the length bytes starting at addr lie inside a
// single region owned by owner whose user permissions include need.
func (l *Layout) CheckRange(addr, length uint32, owner Domain, need Perm) bool {
	r, ok := l.Lookup(addr)
	if !ok || r.Owner != owner || !r.Perms.User.Allows(need) {
		return false
	}
	return r.ContainsRange(addr, length)
}

// Validate checks the region table and the domain spans against the
// constraints of the protection hardware:
//   - there is at least one and at most MaxRegions regions;
//   - every size is a power of two no smaller than Granule and every base is
//     aligned to its size;
//   - no two regions overlap and names are unique;
//   - an unlocked region grants the machine level full access while a locked
//     region applies the same permissions to both levels;
//   - every span lies inside a region owned by its domain and the device
//     addresses lie inside some region.
func (l *Layout) Validate() *kernel.Error {
	switch {
	case len(l.regions) == 0:
		return errNoRegions
	case len(l.regions) > MaxRegions:
		return errTooManyRegs
	}

	for i, r := range l.regions {
		if err := validateRegion(r); err != nil {
			return err
		}

		for _, other := range l.regions[:i] {
			if other.Name == r.Name {
				return layoutErr("duplicate region name %q", r.Name)
			}
			if other.Overlaps(r) {
				return layoutErr("region %q [0x%08x-0x%08x) overlaps region %q [0x%08x-0x%08x)",
					r.Name, r.Base, r.End(), other.Name, other.Base, other.End())
			}
		}
	}

	for d := TrustAnchor; d <= Application; d++ {
		dl := l.domains[d]
		spans := []struct {
			name string
			span Span
		}{
			{"stack", dl.Stack},
			{"shadow stack", dl.ShadowStack},
			{"soft shadow stack", dl.SoftShadowStack},
		}
		for _, s := range spans {
			if s.span.Size == 0 || s.span.Base%WordAlign != 0 || s.span.Size%WordAlign != 0 {
				return layoutErr("%s %s span is empty or misaligned", d, s.name)
			}
			r, ok := l.Lookup(s.span.Base)
			if !ok || r.Owner != d || !r.ContainsRange(s.span.Base, uint32(s.span.Size)) {
				return layoutErr("%s %s span [0x%08x-0x%08x) is not inside a region owned by the domain",
					d, s.name, s.span.Base, uint64(s.span.Base)+uint64(s.span.Size))
			}
		}

		if r, ok := l.Lookup(dl.Entry); !ok || r.Owner != d {
			return layoutErr("%s entry 0x%08x is not inside a region owned by the domain", d, dl.Entry)
		}
	}

	if r, ok := l.Lookup(l.domains[Application].Entry); !ok || !r.Perms.User.Allows(PermX) {
		return layoutErr("application entry is not executable at the user level")
	}

	if _, ok := l.Lookup(l.devices.UART); !ok {
		return layoutErr("character device at 0x%08x is not covered by a region", l.devices.UART)
	}
	if _, ok := l.Lookup(l.devices.Exit); !ok {
		return layoutErr("exit device at 0x%08x is not covered by a region", l.devices.Exit)
	}

	return nil
}

// WordAlign is the alignment required for spans.
const WordAlign = 4

func validateRegion(r Region) *kernel.Error {
	switch {
	case r.Name == "":
		return layoutErr("region at 0x%08x has no name", r.Base)
	case !r.Size.IsPowerOfTwo() || r.Size < Granule:
		return layoutErr("region %q: size %d is not a power of two >= %d", r.Name, r.Size, Granule)
	case uint64(r.Base)%uint64(r.Size) != 0:
		return layoutErr("region %q: base 0x%08x is not aligned to its size %s", r.Name, r.Base, r.Size)
	case r.End() > 1<<32:
		return layoutErr("region %q extends past the end of the address space", r.Name)
	case r.Lock && r.Perms.Machine != r.Perms.User:
		return layoutErr("region %q is locked but grants machine %s and user %s", r.Name, r.Perms.Machine, r.Perms.User)
	case !r.Lock && r.Perms.Machine != PermRWX:
		return layoutErr("region %q is unlocked so the machine level must have RWX, not %s", r.Name, r.Perms.Machine)
	}
	return nil
}

func layoutErr(format string, args ...interface{}) *kernel.Error {
	return &kernel.Error{Module: "mem", Message: fmt.Sprintf(format, args...)}
}
