package mem

import "rotos/kernel"

// Perm is a set of access permissions. The bit values match the R, W and X
// bits of a PMP configuration byte.
type Perm uint8

// Access permissions.
const (
	PermR Perm = 1 << iota
	PermW
	PermX

	PermNone Perm = 0
	PermRW        = PermR | PermW
	PermRX        = PermR | PermX
	PermRWX       = PermR | PermW | PermX
)

var errBadPerm = &kernel.Error{Module: "mem", Message: "malformed permission string"}

// Allows returns true if p grants every permission in need.
func (p Perm) Allows(need Perm) bool {
	return p&need == need
}

// String returns the permissions in "RWX" form with '-' for missing bits.
func (p Perm) String() string {
	out := []byte("---")
	if p&PermR != 0 {
		out[0] = 'R'
	}
	if p&PermW != 0 {
		out[1] = 'W'
	}
	if p&PermX != 0 {
		out[2] = 'X'
	}
	return string(out)
}

// MarshalText implements encoding.TextMarshaler.
func (p Perm) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses permissions in the form produced by String. Letters
// may appear in any order and dashes are ignored.
func (p *Perm) UnmarshalText(text []byte) error {
	var out Perm
	for _, c := range text {
		switch c {
		case 'r', 'R':
			out |= PermR
		case 'w', 'W':
			out |= PermW
		case 'x', 'X':
			out |= PermX
		case '-':
		default:
			return errBadPerm
		}
	}
	*p = out
	return nil
}

// Domain identifies the owner of a memory region.
type Domain uint8

// The two protection domains of the system.
const (
	TrustAnchor Domain = iota
	Application
)

var errBadDomain = &kernel.Error{Module: "mem", Message: "unknown domain"}

func (d Domain) String() string {
	switch d {
	case TrustAnchor:
		return "trust-anchor"
	case Application:
		return "application"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (d Domain) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Domain) UnmarshalText(text []byte) error {
	switch string(text) {
	case "trust-anchor", "ta":
		*d = TrustAnchor
	case "application", "app":
		*d = Application
	default:
		return errBadDomain
	}
	return nil
}
