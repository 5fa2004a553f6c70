package vmm

import (
	"rvmm/kernel"
	"rvmm/kernel/mm"
)

var (
	errReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// RegionReserver hands out page-aligned virtual regions from a fixed
// window of the address space. Regions are reserved starting at the end of
// the window and moving towards its start. Reserved regions are never
// returned to the reserver.
type RegionReserver struct {
	start    uintptr
	lastUsed uintptr
}

// NewRegionReserver returns a reserver for the virtual window [start, end).
func NewRegionReserver(start, end uintptr) *RegionReserver {
	return &RegionReserver{start: start, lastUsed: end}
}

// ReserveRegion reserves a region with the requested size and returns its
// first page. If size is not a multiple of mm.PageSize it will be
// automatically rounded up.
func (r *RegionReserver) ReserveRegion(size uintptr) (mm.Page, error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	// reserving a region of the requested size would cross the window start
	if size == 0 || size > r.lastUsed-r.start {
		return 0, errReserveNoSpace
	}

	r.lastUsed -= size
	return mm.PageFromAddress(r.lastUsed), nil
}

// Remaining returns the number of bytes that can still be reserved.
func (r *RegionReserver) Remaining() uintptr {
	return r.lastUsed - r.start
}

// KernelRegionReserver returns a reserver for the part of the address space
// that sits right below the region used by the recursive mapping. The
// window extends down to the start of the canonical half that contains the
// recursive region.
func (pt *RecursivePageTable) KernelRegionReserver() *RegionReserver {
	indices := make([]uint, pt.mode.Levels)
	indices[0] = pt.recursiveIndex
	end := pt.mode.PageFromTableIndices(indices...).Address()

	var start uintptr
	if pt.mode.SignExtend && end>>(pt.mode.VirtAddrBits-1)&1 != 0 {
		start = ^uintptr(0) << (pt.mode.VirtAddrBits - 1)
	}

	return NewRegionReserver(start, end)
}
