package mm

import (
	"strings"

	"rvmm/kernel"
)

var (
	errUnknownMode = &kernel.Error{Module: "mm", Message: "unknown paging mode"}
)

// Mode describes a multi-level paging scheme. Page table levels are numbered
// by their distance from the root: level 0 is the root table and level
// Levels-1 holds the leaf entries that point to data frames.
type Mode struct {
	// Name is the lower-case name of the mode (e.g. "sv39").
	Name string

	// Levels is the number of page table levels walked by the MMU.
	Levels uint8

	// LevelBits is the number of virtual address bits that index each table.
	LevelBits uint8

	// EntryShift is equal to log2(size of a page table entry in bytes).
	EntryShift uint8

	// VirtAddrBits is the number of significant virtual address bits.
	VirtAddrBits uint8

	// PhysAddrBits is the number of physical address bits an entry can encode.
	PhysAddrBits uint8

	// SignExtend is set when virtual addresses must have all bits above
	// VirtAddrBits-1 equal to bit VirtAddrBits-1.
	SignExtend bool

	// ReservedMask selects the entry bits that must be zero.
	ReservedMask uint64
}

var (
	// Sv32 is the 2-level RISC-V paging mode with 1024 4-byte entries per table.
	Sv32 = Mode{Name: "sv32", Levels: 2, LevelBits: 10, EntryShift: 2, VirtAddrBits: 32, PhysAddrBits: 34}

	// Sv39 is the 3-level RISC-V paging mode with 512 8-byte entries per table.
	Sv39 = Mode{Name: "sv39", Levels: 3, LevelBits: 9, EntryShift: 3, VirtAddrBits: 39, PhysAddrBits: 56, SignExtend: true, ReservedMask: 0xffc0000000000000}

	// Sv48 is the 4-level RISC-V paging mode with 512 8-byte entries per table.
	Sv48 = Mode{Name: "sv48", Levels: 4, LevelBits: 9, EntryShift: 3, VirtAddrBits: 48, PhysAddrBits: 56, SignExtend: true, ReservedMask: 0xffc0000000000000}

	// Modes lists all supported paging modes.
	Modes = []Mode{Sv32, Sv39, Sv48}
)

// ModeByName looks up a supported paging mode by its (case-insensitive) name.
func ModeByName(name string) (Mode, error) {
	for _, mode := range Modes {
		if strings.EqualFold(mode.Name, name) {
			return mode, nil
		}
	}

	return Mode{}, errUnknownMode
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return m.Name
}

// Entries returns the number of entries in a page table.
func (m Mode) Entries() uint {
	return 1 << m.LevelBits
}

// EntrySize returns the size of a page table entry in bytes.
func (m Mode) EntrySize() uintptr {
	return 1 << m.EntryShift
}

// LevelShift returns the shift required to access the table index for the
// given level from a virtual address.
func (m Mode) LevelShift(level uint8) uint {
	return uint(PageShift) + uint(m.LevelBits)*uint(m.Levels-1-level)
}

// LevelSpan returns the number of bytes mapped by a single entry of a table
// at the given level.
func (m Mode) LevelSpan(level uint8) uintptr {
	return uintptr(1) << m.LevelShift(level)
}

// Index extracts the table index for the given level from a virtual address.
func (m Mode) Index(virtAddr uintptr, level uint8) uint {
	return uint(virtAddr>>m.LevelShift(level)) & (m.Entries() - 1)
}

// PageIndex extracts the table index for the given level from a page.
func (m Mode) PageIndex(page Page, level uint8) uint {
	return m.Index(page.Address(), level)
}

// TableIndices returns the per-level table indices for page, root first.
func (m Mode) TableIndices(page Page) []uint {
	indices := make([]uint, m.Levels)
	for level := uint8(0); level < m.Levels; level++ {
		indices[level] = m.PageIndex(page, level)
	}
	return indices
}

// PageFromTableIndices assembles the page whose per-level table indices
// (root first) match the supplied ones. It panics if the number of indices
// does not match the number of levels or if an index is out of range.
func (m Mode) PageFromTableIndices(indices ...uint) Page {
	if len(indices) != int(m.Levels) {
		panic(&kernel.Error{Module: "mm", Message: "table index count does not match paging levels"})
	}

	var virtAddr uintptr
	for level, index := range indices {
		if index >= m.Entries() {
			panic(&kernel.Error{Module: "mm", Message: "table index out of range"})
		}
		virtAddr |= uintptr(index) << m.LevelShift(uint8(level))
	}

	return PageFromAddress(m.canonicalize(virtAddr))
}

// Canonical returns true if virtAddr is a valid virtual address for this mode.
func (m Mode) Canonical(virtAddr uintptr) bool {
	return m.canonicalize(virtAddr) == virtAddr
}

// canonicalize sign-extends (or truncates) virtAddr to the mode's virtual
// address width.
func (m Mode) canonicalize(virtAddr uintptr) uintptr {
	mask := (uintptr(1) << m.VirtAddrBits) - 1
	virtAddr &= mask

	if m.SignExtend && virtAddr&(uintptr(1)<<(m.VirtAddrBits-1)) != 0 {
		virtAddr |= ^mask
	}

	return virtAddr
}

// ValidPhysAddr returns true if physAddr can be encoded in a page table entry.
func (m Mode) ValidPhysAddr(physAddr uintptr) bool {
	return uint64(physAddr)>>m.PhysAddrBits == 0
}
