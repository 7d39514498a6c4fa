package mem

import (
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"rotos/kernel"
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// GranuleShift is equal to log2(Granule).
	GranuleShift = 3

	// Granule is the smallest block a NAPOT protection entry can describe.
	Granule = Size(1 << GranuleShift)
)

var errBadSize = &kernel.Error{Module: "mem", Message: "malformed size"}

// IsPowerOfTwo returns true if s is a non-zero power of two.
func (s Size) IsPowerOfTwo() bool {
	return s != 0 && s&(s-1) == 0
}

// String formats s using the largest unit that divides it exactly.
func (s Size) String() string {
	switch {
	case s != 0 && s%Gb == 0:
		return strconv.FormatUint(uint64(s/Gb), 10) + "G"
	case s != 0 && s%Mb == 0:
		return strconv.FormatUint(uint64(s/Mb), 10) + "M"
	case s != 0 && s%Kb == 0:
		return strconv.FormatUint(uint64(s/Kb), 10) + "K"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// maxSize is the size of the whole 32-bit physical address space.
const maxSize = Size(1) << 32

// UnmarshalText accepts hexadecimal byte counts ("0x1000") as well as the
// decimal counts with an optional binary unit understood by units.RAMInBytes
// ("4096", "64K", "1MiB").
func (s *Size) UnmarshalText(text []byte) error {
	str := strings.TrimSpace(string(text))
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		v, err := strconv.ParseUint(str, 0, 32)
		if err != nil {
			return errBadSize
		}
		*s = Size(v)
		return nil
	}

	v, err := units.RAMInBytes(str)
	if err != nil || v < 0 || Size(v) > maxSize {
		return errBadSize
	}
	*s = Size(v)
	return nil
}
