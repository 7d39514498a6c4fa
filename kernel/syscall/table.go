// Package syscall implements the gateway through which the application asks
// the trust anchor for service. The application places the call number in a7
// and up to three arguments in a0-a2, then executes ecall; the result is
// returned in a0. Errors are reported as negated errno values and never end
// the run.
package syscall

import (
	"rotos/kernel/cpu"
)

// Number identifies a service.
type Number uint32

// Service numbers.
const (
	WriteChar   Number = 0
	WriteBuffer Number = 1
	Halt        Number = 2
	FillRandom  Number = 3
	ReadChar    Number = 4
)

// Errno values returned, negated, in a0.
const (
	EAGAIN = 11
	EFAULT = 14
	EINVAL = 22
	ENOSYS = 38
)

// MaxLength is the largest buffer a single call may transfer.
const MaxLength = 4096

// Arguments holds the values of a0, a1 and a2.
type Arguments [3]uint32

// Fn implements a service. The returned word is stored in a0 unless the
// service halted the hart.
type Fn func(h *cpu.Hart, args Arguments) uint32

// Syscall describes a service.
type Syscall struct {
	Name string
	Fn   Fn
}

// Table maps service numbers to their implementation.
type Table struct {
	Table map[Number]Syscall

	// Missing is called for numbers absent from Table.
	Missing func(h *cpu.Hart, n Number, args Arguments) uint32
}

// Lookup returns the implementation of n, or nil if the table has none.
func (t *Table) Lookup(n Number) Fn {
	if s, ok := t.Table[n]; ok {
		return s.Fn
	}
	return nil
}

// Name returns the name of n.
func (t *Table) Name(n Number) string {
	if s, ok := t.Table[n]; ok {
		return s.Name
	}
	return "unknown"
}

// Errno returns the a0 encoding of a failure with errno.
func Errno(errno int32) uint32 {
	return uint32(-errno)
}

// Services is the table served to the application.
var Services = &Table{
	Table: map[Number]Syscall{
		WriteChar:   {Name: "write-char", Fn: writeChar},
		WriteBuffer: {Name: "write-buffer", Fn: writeBuffer},
		Halt:        {Name: "halt", Fn: halt},
		FillRandom:  {Name: "fill-random", Fn: fillRandom},
		ReadChar:    {Name: "read-char", Fn: readChar},
	},
	Missing: func(*cpu.Hart, Number, Arguments) uint32 {
		return Errno(ENOSYS)
	},
}
