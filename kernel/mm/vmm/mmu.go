package vmm

import "rvmm/kernel/mm"

// TLB invalidates cached address translations.
type TLB interface {
	// FlushTLBEntry invalidates the cached translation for the page that
	// contains virtAddr.
	FlushTLBEntry(virtAddr uintptr)

	// FlushTLB invalidates all cached translations.
	FlushTLB()
}

// MMU describes the hardware capabilities required to walk and edit a
// recursively mapped page table. It is implemented by *cpu.Hart.
type MMU interface {
	TLB

	// Mode returns the paging mode used by the hardware.
	Mode() mm.Mode

	// ActivePDT returns the frame of the active root page table.
	ActivePDT() mm.Frame

	// PageTableAt translates virtAddr using the active page table and
	// returns a view of the frame it maps to as a page table. It fails if
	// the hardware cannot both read and write virtAddr.
	PageTableAt(virtAddr uintptr) (*mm.PageTable, error)
}
