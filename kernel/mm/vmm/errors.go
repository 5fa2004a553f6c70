package vmm

import (
	"fmt"

	"rvmm/kernel"
)

var (
	// ErrFrameAllocationFailed is returned by MapTo when a frame is needed
	// for a missing intermediate table but the frame allocator is exhausted.
	ErrFrameAllocationFailed = &kernel.Error{Module: "vmm", Message: "frame allocation failed while creating a page table"}

	// ErrParentEntryHugePage is returned when an upper level entry along the
	// path of a page already maps a huge page.
	ErrParentEntryHugePage = &kernel.Error{Module: "vmm", Message: "page is part of an already mapped huge page"}

	// ErrPageAlreadyMapped is returned by MapTo when the page is already
	// mapped to a physical frame.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	// ErrPageNotMapped is returned when the page is not mapped to a
	// physical frame.
	ErrPageNotMapped = &kernel.Error{Module: "vmm", Message: "page is not mapped"}

	// ErrInvalidFrameAddress is matched by every InvalidFrameAddressError.
	ErrInvalidFrameAddress = &kernel.Error{Module: "vmm", Message: "page table entry points to an invalid physical address"}

	// ErrNotRecursivelyMapped is returned by New when the active root table
	// does not implement the recursive mapping scheme.
	ErrNotRecursivelyMapped = &kernel.Error{Module: "vmm", Message: "page table is not recursively mapped"}

	errReservedIndex      = &kernel.Error{Module: "vmm", Message: "table index is reserved for the recursive mapping"}
	errMissingTable       = &kernel.Error{Module: "vmm", Message: "attempted to edit a page table that does not exist"}
	errHugePageTable      = &kernel.Error{Module: "vmm", Message: "attempted to edit a huge page as a page table"}
	errTableNotAccessible = &kernel.Error{Module: "vmm", Message: "page table is not accessible through the recursive mapping"}
	errIndexCount         = &kernel.Error{Module: "vmm", Message: "table index count does not match paging levels"}
	errNonCanonicalPage   = &kernel.Error{Module: "vmm", Message: "page address is not canonical"}
	errUnencodableFrame   = &kernel.Error{Module: "vmm", Message: "frame cannot be encoded in a page table entry"}
	errBadLeafFlags       = &kernel.Error{Module: "vmm", Message: "leaf flags must grant read or execute access and may only grant write access together with read access"}
	errBadRecursiveIndex  = &kernel.Error{Module: "vmm", Message: "recursive index must leave room for the root alias entry"}
)

// InvalidFrameAddressError is returned by Unmap when the leaf entry for a
// page stores a physical address that fails validation.
type InvalidFrameAddressError struct {
	// Addr is the physical address stored in the entry.
	Addr uintptr
}

// Error implements the error interface.
func (e *InvalidFrameAddressError) Error() string {
	return fmt.Sprintf("%s: 0x%x", ErrInvalidFrameAddress.Message, e.Addr)
}

// Is allows errors.Is(err, ErrInvalidFrameAddress) to match.
func (e *InvalidFrameAddressError) Is(target error) bool {
	return target == ErrInvalidFrameAddress
}
