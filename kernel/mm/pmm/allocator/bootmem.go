// Package allocator provides physical frame allocators that hand out frames
// from a list of available memory regions.
package allocator

import (
	"github.com/sirupsen/logrus"

	"rvmm/kernel"
	"rvmm/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// Region describes a contiguous range of available physical memory.
type Region struct {
	PhysAddress uintptr
	Length      uintptr
}

// frames returns the first and last (inclusive) frame fully contained in the
// region. Reported addresses may not be page-aligned; the start is rounded up
// and the end is rounded down. ok is false if the region does not contain a
// whole frame.
func (r Region) frames() (start, end mm.Frame, ok bool) {
	pageSizeMinus1 := mm.PageSize - 1
	startAddr := (r.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1
	endAddr := (r.PhysAddress + r.Length) & ^pageSizeMinus1
	if endAddr <= startAddr {
		return 0, 0, false
	}

	return mm.Frame(startAddr >> mm.PageShift), mm.Frame(endAddr>>mm.PageShift) - 1, true
}

// BootMemAllocator implements a rudimentary physical memory allocator that
// walks the available memory regions in ascending order and returns the next
// free frame. Allocations are tracked via an internal counter that contains
// the last allocated frame.
//
// Due to the way that the allocator works, it is not possible to free
// allocated frames.
type BootMemAllocator struct {
	regions []Region

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame mm.Frame

	// Frames in [reservedStartFrame, reservedEndFrame] are never
	// returned (e.g. the root page table or a loaded image).
	hasReserved                          bool
	reservedStartFrame, reservedEndFrame mm.Frame

	log logrus.FieldLogger
}

// NewBootMemAllocator returns an allocator for the supplied regions which
// must be sorted by address. The physical range [reservedStart, reservedEnd)
// is excluded from allocations; pass equal values to reserve nothing.
func NewBootMemAllocator(regions []Region, reservedStart, reservedEnd uintptr) *BootMemAllocator {
	alloc := &BootMemAllocator{
		regions: regions,
		log:     logrus.StandardLogger(),
	}

	if reservedEnd > reservedStart {
		pageSizeMinus1 := mm.PageSize - 1
		alloc.hasReserved = true
		alloc.reservedStartFrame = mm.Frame((reservedStart & ^pageSizeMinus1) >> mm.PageShift)
		alloc.reservedEndFrame = mm.Frame(((reservedEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mm.PageShift) - 1
	}

	return alloc
}

// SetLogger overrides the logger used by the allocator.
func (alloc *BootMemAllocator) SetLogger(log logrus.FieldLogger) {
	alloc.log = log
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// AllocFrame scans the memory regions and reserves the next available free
// frame. AllocFrame returns an error if no more memory can be allocated.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, error) {
	candidate := alloc.lastAllocFrame + 1
	if alloc.allocCount == 0 {
		candidate = 0
	}

	for _, region := range alloc.regions {
		regionStartFrame, regionEndFrame, ok := region.frames()
		if !ok || candidate > regionEndFrame {
			continue
		}

		// we are in a previous region and need to jump to this one
		if candidate < regionStartFrame {
			candidate = regionStartFrame
		}

		// jump to the frame following the reserved range
		if alloc.hasReserved && candidate >= alloc.reservedStartFrame && candidate <= alloc.reservedEndFrame {
			candidate = alloc.reservedEndFrame + 1
		}

		// The above adjustment might push the candidate outside of the
		// region end (e.g. reserved range ends at last page in the region)
		if candidate > regionEndFrame {
			continue
		}

		alloc.lastAllocFrame = candidate
		alloc.allocCount++
		return candidate, nil
	}

	alloc.log.WithField("alloc_count", alloc.allocCount).Warn("boot memory allocator exhausted")
	return mm.InvalidFrame, errBootAllocOutOfMemory
}

// LogMemoryMap prints the regions managed by the allocator.
func (alloc *BootMemAllocator) LogMemoryMap() {
	var totalFree uintptr
	for _, region := range alloc.regions {
		alloc.log.Infof("[boot_mem_alloc] [0x%10x - 0x%10x], size: %10d", region.PhysAddress, region.PhysAddress+region.Length, region.Length)
		totalFree += region.Length
	}
	alloc.log.Infof("[boot_mem_alloc] available memory: %dKb", totalFree>>10)

	if alloc.hasReserved {
		alloc.log.Infof("[boot_mem_alloc] reserved frames: %d - %d", alloc.reservedStartFrame, alloc.reservedEndFrame)
	}
}
