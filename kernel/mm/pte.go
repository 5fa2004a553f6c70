package mm

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

const (
	// FlagValid is set when the entry points to a table or a frame.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagReadable is set if the mapped page can be read.
	FlagReadable

	// FlagWritable is set if the mapped page can be written to.
	FlagWritable

	// FlagExecutable is set if the mapped page can be executed.
	FlagExecutable

	// FlagUser is set if user-mode code can access this page. If not set
	// only supervisor code can access this page.
	FlagUser

	// FlagGlobal marks a mapping that exists in all address spaces.
	FlagGlobal

	// FlagAccessed is set when the page is accessed.
	FlagAccessed

	// FlagDirty is set when the page is modified.
	FlagDirty

	// FlagCopyOnWrite lives in the first software-reserved bit and is used
	// to implement copy-on-write functionality. This flag and
	// FlagWritable are mutually exclusive.
	FlagCopyOnWrite

	// FlagSoftware is the second software-reserved bit.
	FlagSoftware
)

const (
	// FlagReadWrite grants software read/write access through an entry.
	FlagReadWrite = FlagReadable | FlagWritable

	// FlagLeafMask selects the permission bits. A valid entry with any of
	// them set terminates the hardware walk (a leaf or a huge page); an
	// entry with none of them set points to the next table.
	FlagLeafMask = FlagReadable | FlagWritable | FlagExecutable

	pteFlagMask  = uint64(1<<10) - 1
	ptePPNShift  = 10
	ptePPNMask   = uint64(1<<44) - 1
	flagNotation = "VRWXUGADCS"
)

// String returns the flags using the single-letter notation of the RISC-V
// privileged architecture (e.g. "VRW-------").
func (f PageTableEntryFlag) String() string {
	buf := []byte("----------")
	for bit := 0; bit < len(flagNotation); bit++ {
		if f&(1<<bit) != 0 {
			buf[bit] = flagNotation[bit]
		}
	}
	return string(buf)
}

// PageTableEntry describes a page table entry. These entries encode
// a physical frame number and a set of flags using the RISC-V layout:
// flags in bits 0-9 and the physical page number starting at bit 10.
type PageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// Flags returns the flags set on this entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) & pteFlagMask)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() Frame {
	return Frame((uint64(pte) >> ptePPNShift) & ptePPNMask)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PageTableEntry) SetFrame(frame Frame) {
	*pte = (PageTableEntry)((uint64(*pte) &^ (ptePPNMask << ptePPNShift)) | ((uint64(frame) & ptePPNMask) << ptePPNShift))
}

// Set overwrites the entry so it points to frame with exactly the given flags.
func (pte *PageTableEntry) Set(frame Frame, flags PageTableEntryFlag) {
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)
}

// IsUnused returns true if the entry is all zeroes.
func (pte PageTableEntry) IsUnused() bool {
	return pte == 0
}

// SetUnused clears the entry.
func (pte *PageTableEntry) SetUnused() {
	*pte = 0
}

// IsLeaf returns true if the entry is valid and terminates the hardware walk.
func (pte PageTableEntry) IsLeaf() bool {
	return pte.HasFlags(FlagValid) && pte.HasAnyFlag(FlagLeafMask)
}
