package cfi

import (
	"rotos/kernel"
	"rotos/kernel/mem"
)

// Layout of an exported function table: a count word followed by one
// TableEntrySize record per function holding its entry address, the landing
// pad label callers load and the expected type hash.
const (
	TableEntrySize = 12
	maxTableLen    = 64
)

// TableEntry is a record of an exported function table.
type TableEntry struct {
	Entry    uint32
	Label    uint32
	TypeHash uint32
}

var errBadTable = &kernel.Error{Module: "cfi", Message: "exported function table is malformed"}

// AuditError identifies the table entry that failed the audit.
type AuditError struct {
	Index int
	Entry TableEntry
	Err   *kernel.Error
}

// Error implements the error interface.
func (e *AuditError) Error() string {
	return e.Err.Error()
}

// ReadTable reads the exported function table at addr.
func ReadTable(m Memory, addr uint32) ([]TableEntry, *kernel.Error) {
	count, ok := m.Read32(addr)
	if !ok || count > maxTableLen {
		return nil, errBadTable
	}

	entries := make([]TableEntry, count)
	for i := range entries {
		rec := addr + 4 + uint32(i)*TableEntrySize
		var words [3]uint32
		for j := range words {
			if words[j], ok = m.Read32(rec + uint32(j)*4); !ok {
				return nil, errBadTable
			}
		}
		entries[i] = TableEntry{Entry: words[0], Label: words[1], TypeHash: words[2]}
	}
	return entries, nil
}

// AuditTable checks every entry of the exported function table at addr: the
// entry must lie in a region of owner executable at the user level, start
// with a landing pad admitting the declared label and be preceded by the
// declared type hash.
func AuditTable(m Memory, layout *mem.Layout, owner mem.Domain, addr uint32) ([]TableEntry, *AuditError) {
	entries, err := ReadTable(m, addr)
	if err != nil {
		return nil, &AuditError{Index: -1, Err: err}
	}

	for i, e := range entries {
		if !layout.CheckRange(e.Entry-TypeHashOffset, TypeHashOffset+4, owner, mem.PermX) {
			return entries, &AuditError{Index: i, Entry: e, Err: errBadTable}
		}
		if err := VerifyTarget(m, e.Entry, e.Label); err != nil {
			return entries, &AuditError{Index: i, Entry: e, Err: err}
		}
		if err := VerifyTypeHash(m, e.Entry, e.TypeHash); err != nil {
			return entries, &AuditError{Index: i, Entry: e, Err: err}
		}
	}
	return entries, nil
}
