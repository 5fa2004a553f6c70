package vmm

import "rvmm/kernel/mm"

// PhysicalMemory provides direct access to page tables stored in physical
// frames. It is only used to bootstrap root tables that are not yet active.
type PhysicalMemory interface {
	PageTable(frame mm.Frame, mode mm.Mode) (*mm.PageTable, error)
}

// PDTSwitcher loads a root page table into the hardware.
type PDTSwitcher interface {
	SwitchPDT(frame mm.Frame)
}

// PageDirectoryTable describes the top-most table in a recursively mapped
// multi-level paging scheme.
type PageDirectoryTable struct {
	pdtFrame       mm.Frame
	mode           mm.Mode
	recursiveIndex uint
}

// Init sets up a new page directory table at the supplied physical frame.
// The frame contents are cleared and the two recursive mapping entries are
// installed: entry recursiveIndex points back to the table with only the
// valid bit set and entry recursiveIndex+1 aliases the table with read and
// write permissions.
func (pdt *PageDirectoryTable) Init(mem PhysicalMemory, pdtFrame mm.Frame, mode mm.Mode, recursiveIndex uint) error {
	if recursiveIndex+1 >= mode.Entries() {
		return errBadRecursiveIndex
	}

	if !pdtFrame.Valid() || !mode.ValidPhysAddr(pdtFrame.Address()) {
		return errUnencodableFrame
	}

	tbl, err := mem.PageTable(pdtFrame, mode)
	if err != nil {
		return err
	}

	tbl.Zero()
	tbl.Update(recursiveIndex, func(pte *mm.PageTableEntry) { pte.Set(pdtFrame, mm.FlagValid) })
	tbl.Update(recursiveIndex+1, func(pte *mm.PageTableEntry) { pte.Set(pdtFrame, mm.FlagValid|mm.FlagReadWrite) })

	pdt.pdtFrame = pdtFrame
	pdt.mode = mode
	pdt.recursiveIndex = recursiveIndex
	return nil
}

// Frame returns the physical frame that holds the table.
func (pdt PageDirectoryTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// VirtAddr returns the virtual address at which the table can be accessed
// once it becomes active.
func (pdt PageDirectoryTable) VirtAddr() uintptr {
	return rootTableAddr(pdt.mode, pdt.recursiveIndex)
}

// Activate enables this page directory table and flushes the TLB.
func (pdt PageDirectoryTable) Activate(sw PDTSwitcher) {
	sw.SwitchPDT(pdt.pdtFrame)
}

// Mapper returns a RecursivePageTable for this table. The table must be
// active.
func (pdt PageDirectoryTable) Mapper(mmu MMU) (*RecursivePageTable, error) {
	return New(mmu, pdt.VirtAddr())
}

// rootTableAddr returns the address with table indices (r, ..., r, r+1).
func rootTableAddr(mode mm.Mode, recursiveIndex uint) uintptr {
	indices := make([]uint, mode.Levels)
	for level := range indices {
		indices[level] = recursiveIndex
	}
	indices[len(indices)-1]++

	return mode.PageFromTableIndices(indices...).Address()
}
