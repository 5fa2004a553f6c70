package mm

import (
	"encoding/binary"

	"rvmm/kernel"
)

var (
	errBadTableSize = &kernel.Error{Module: "mm", Message: "page table storage must be exactly one page"}
)

// PageTable is a view over the contents of a physical frame that is
// interpreted as a page table for a particular paging mode. Entries are
// stored little-endian using the entry width of the mode.
type PageTable struct {
	mode Mode
	data []byte
}

// NewPageTable returns a PageTable view over data which must be PageSize
// bytes long.
func NewPageTable(mode Mode, data []byte) *PageTable {
	if uintptr(len(data)) != PageSize {
		panic(errBadTableSize)
	}

	return &PageTable{mode: mode, data: data}
}

// Mode returns the paging mode used to interpret the table.
func (t *PageTable) Mode() Mode {
	return t.mode
}

// Len returns the number of entries in the table.
func (t *PageTable) Len() uint {
	return t.mode.Entries()
}

// Entry returns the entry at index.
func (t *PageTable) Entry(index uint) PageTableEntry {
	off := uintptr(index) << t.mode.EntryShift
	if t.mode.EntryShift == 2 {
		return PageTableEntry(binary.LittleEndian.Uint32(t.data[off:]))
	}
	return PageTableEntry(binary.LittleEndian.Uint64(t.data[off:]))
}

// SetEntry stores pte at index.
func (t *PageTable) SetEntry(index uint, pte PageTableEntry) {
	off := uintptr(index) << t.mode.EntryShift
	if t.mode.EntryShift == 2 {
		binary.LittleEndian.PutUint32(t.data[off:], uint32(pte))
		return
	}
	binary.LittleEndian.PutUint64(t.data[off:], uint64(pte))
}

// Update applies fn to the entry at index and stores the result.
func (t *PageTable) Update(index uint, fn func(pte *PageTableEntry)) {
	pte := t.Entry(index)
	fn(&pte)
	t.SetEntry(index, pte)
}

// Zero marks all entries as unused.
func (t *PageTable) Zero() {
	clear(t.data)
}

// Entries returns a copy of all table entries.
func (t *PageTable) Entries() []PageTableEntry {
	entries := make([]PageTableEntry, t.Len())
	for index := range entries {
		entries[index] = t.Entry(uint(index))
	}
	return entries
}
