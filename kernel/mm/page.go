package mm

import (
	"math"
)

// Frame describes a physical memory page index. For the RISC-V paging modes
// the frame index is identical to the physical page number (PPN) stored in
// page table entries.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// FrameAllocator is implemented by physical frame allocators. AllocFrame
// returns an error when no more frames can be reserved.
type FrameAllocator interface {
	AllocFrame() (Frame, error)
}

// FrameAllocatorFn adapts a plain function to the FrameAllocator interface.
type FrameAllocatorFn func() (Frame, error)

// AllocFrame implements FrameAllocator.
func (fn FrameAllocatorFn) AllocFrame() (Frame, error) { return fn() }

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}
