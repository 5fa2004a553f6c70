package cpu

import (
	"fmt"

	"rvmm/kernel"
)

var (
	// ErrPageFault is matched (via errors.Is) by every *PageFault.
	ErrPageFault = &kernel.Error{Module: "cpu", Message: "page fault"}
)

// Access describes the type of a memory access.
type Access uint8

const (
	// AccessRead is a load.
	AccessRead Access = 1 << iota

	// AccessWrite is a store.
	AccessWrite

	// AccessExecute is an instruction fetch.
	AccessExecute
)

// String implements fmt.Stringer.
func (a Access) String() string {
	buf := []byte("---")
	if a&AccessRead != 0 {
		buf[0] = 'r'
	}
	if a&AccessWrite != 0 {
		buf[1] = 'w'
	}
	if a&AccessExecute != 0 {
		buf[2] = 'x'
	}
	return string(buf)
}

// FaultReason describes why a translation failed.
type FaultReason uint8

const (
	// FaultNotPresent is raised when the walk reaches an entry without
	// the valid bit or a pointer entry at the last level.
	FaultNotPresent FaultReason = iota

	// FaultProtection is raised when the leaf entry does not permit the access.
	FaultProtection

	// FaultMisalignedSuperpage is raised when a leaf entry above the last
	// level points to a frame that is not aligned to the span of the level.
	FaultMisalignedSuperpage

	// FaultReservedBits is raised when an entry uses a reserved encoding.
	FaultReservedBits

	// FaultNonCanonical is raised for virtual addresses that are not
	// properly sign-extended.
	FaultNonCanonical

	// FaultBadTable is raised when the walk references a table frame
	// outside of installed memory.
	FaultBadTable
)

var faultReasonNames = []string{
	"page not present",
	"page protection violation",
	"misaligned superpage",
	"page table entry has reserved bits set",
	"non-canonical address",
	"page table outside of physical memory",
}

// String implements fmt.Stringer.
func (r FaultReason) String() string {
	if int(r) < len(faultReasonNames) {
		return faultReasonNames[r]
	}
	return "unknown"
}

// PageFault describes a failed address translation.
type PageFault struct {
	// Addr is the faulting virtual address.
	Addr uintptr

	// Access is the type of access that triggered the fault.
	Access Access

	// Reason describes why the translation failed.
	Reason FaultReason

	// Level is the page table level where the walk stopped.
	Level uint8
}

// Error implements the error interface.
func (f *PageFault) Error() string {
	return fmt.Sprintf("page fault (%s) while accessing address 0x%x at level %d: %s", f.Access, f.Addr, f.Level, f.Reason)
}

// Is allows errors.Is(err, ErrPageFault) to match any page fault.
func (f *PageFault) Is(target error) bool {
	return target == ErrPageFault
}
