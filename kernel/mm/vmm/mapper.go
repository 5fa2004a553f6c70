package vmm

import (
	"github.com/sirupsen/logrus"

	"rvmm/kernel/mm"
)

// Mapper is implemented by page tables that can establish and remove
// page mappings.
type Mapper interface {
	// MapTo maps page to frame using the supplied flags. Missing
	// intermediate tables are allocated from alloc. At most one frame per
	// non-root level is required.
	MapTo(page mm.Page, frame mm.Frame, flags mm.PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlush, error)

	// Unmap removes the mapping for page and returns the frame it used to
	// map to. Page tables are never freed.
	Unmap(page mm.Page) (mm.Frame, MapperFlush, error)

	// TranslatePage returns the frame that page is mapped to.
	TranslatePage(page mm.Page) (mm.Frame, bool)

	// IdentityMap maps frame to the page with the same address.
	IdentityMap(frame mm.Frame, flags mm.PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlush, error)

	// Mode returns the paging mode used by the mapper.
	Mode() mm.Mode
}

var _ Mapper = (*RecursivePageTable)(nil)

// MapTo establishes a mapping between page and frame. The valid flag is
// always added to flags. MapTo never overwrites an existing mapping; it
// returns ErrPageAlreadyMapped instead. The returned MapperFlush must be
// used to invalidate any stale TLB entry for page.
//
// MapTo panics if page is not canonical, if frame cannot be encoded in a
// page table entry, if flags do not describe a valid leaf (no read or
// execute permission, or write without read) or if page falls in the
// region reserved for the recursive mapping.
func (pt *RecursivePageTable) MapTo(page mm.Page, frame mm.Frame, flags mm.PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlush, error) {
	if !pt.mode.Canonical(page.Address()) {
		panic(errNonCanonicalPage)
	}
	pt.checkFrame(frame)
	checkLeafFlags(flags)

	var (
		indices = pt.mode.TableIndices(page)
		last    = len(indices) - 1
		err     error
	)

	if err = pt.createP1IfNotExist(indices[:last], alloc); err != nil {
		return MapperFlush{}, err
	}

	pt.editP1(indices[:last], func(p1 *mm.PageTable) {
		if !p1.Entry(indices[last]).IsUnused() {
			err = ErrPageAlreadyMapped
			return
		}

		p1.Update(indices[last], func(pte *mm.PageTableEntry) { pte.Set(frame, flags|mm.FlagValid) })
	})

	if err != nil {
		return MapperFlush{}, err
	}

	pt.log.WithFields(logrus.Fields{
		"page":  page,
		"frame": frame,
		"flags": (flags | mm.FlagValid).String(),
	}).Debug("mapped page")

	return newMapperFlush(page, pt.mmu), nil
}

// Unmap removes the mapping for page and returns the frame it was mapped
// to. It returns ErrPageNotMapped if page is not mapped,
// ErrParentEntryHugePage if page is part of a huge page and an
// *InvalidFrameAddressError if the leaf entry for the page stores an
// address that cannot be a valid physical address. The returned
// MapperFlush must be used to invalidate the stale TLB entry for page.
func (pt *RecursivePageTable) Unmap(page mm.Page) (mm.Frame, MapperFlush, error) {
	var (
		indices = pt.mode.TableIndices(page)
		last    = len(indices) - 1
		path    = indices[:last]
	)

	if !pt.mode.Canonical(page.Address()) {
		return mm.InvalidFrame, MapperFlush{}, ErrPageNotMapped
	}
	pt.checkRootIndex(path[0])

	if depth := pt.descend(path); depth < len(path) {
		if pt.isHugePage(path, depth) {
			return mm.InvalidFrame, MapperFlush{}, ErrParentEntryHugePage
		}
		return mm.InvalidFrame, MapperFlush{}, ErrPageNotMapped
	}

	var (
		p1    = pt.table(path)
		pte   = p1.Entry(indices[last])
		frame = pte.Frame()
		err   error
	)

	switch {
	case !pte.HasFlags(mm.FlagValid):
		err = ErrPageNotMapped
	case uint64(pte)&pt.mode.ReservedMask != 0 || !pt.mode.ValidPhysAddr(frame.Address()):
		err = &InvalidFrameAddressError{Addr: frame.Address()}
	default:
		p1.Update(indices[last], func(pte *mm.PageTableEntry) { pte.SetUnused() })
	}

	pt.release(path, len(path))

	if err != nil {
		return mm.InvalidFrame, MapperFlush{}, err
	}

	pt.log.WithFields(logrus.Fields{
		"page":  page,
		"frame": frame,
	}).Debug("unmapped page")

	return frame, newMapperFlush(page, pt.mmu), nil
}

// TranslatePage returns the frame that page is mapped to. If page is part
// of a huge page, the frame within the huge page that backs page is
// returned. Pages within the region reserved for the recursive mapping are
// never reported as mapped.
func (pt *RecursivePageTable) TranslatePage(page mm.Page) (mm.Frame, bool) {
	var (
		indices = pt.mode.TableIndices(page)
		last    = len(indices) - 1
		path    = indices[:last]
	)

	if !pt.mode.Canonical(page.Address()) || path[0] == pt.recursiveIndex || path[0] == pt.recursiveIndex+1 {
		return mm.InvalidFrame, false
	}

	depth := pt.descend(path)
	if depth < len(path) {
		return pt.translateHugePage(page, path, depth)
	}

	pte := pt.table(path).Entry(indices[last])
	pt.release(path, len(path))

	if !pte.HasFlags(mm.FlagValid) {
		return mm.InvalidFrame, false
	}

	return pte.Frame(), true
}

// translateHugePage returns the frame backing page if entry path[depth]
// maps a huge page.
func (pt *RecursivePageTable) translateHugePage(page mm.Page, path []uint, depth int) (mm.Frame, bool) {
	pt.access(path, depth)
	pte := pt.table(path[:depth]).Entry(path[depth])
	pt.release(path, depth)

	if !pte.IsLeaf() {
		return mm.InvalidFrame, false
	}

	span := pt.mode.LevelSpan(uint8(depth))
	return pte.Frame() + mm.Frame((page.Address()&(span-1))>>mm.PageShift), true
}

// IdentityMap maps frame to the page whose address equals the physical
// address of frame.
func (pt *RecursivePageTable) IdentityMap(frame mm.Frame, flags mm.PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlush, error) {
	return pt.MapTo(mm.PageFromAddress(frame.Address()), frame, flags, alloc)
}

// Translate returns the physical address that virtAddr is mapped to or
// ErrPageNotMapped if virtAddr is not mapped.
func (pt *RecursivePageTable) Translate(virtAddr uintptr) (uintptr, error) {
	frame, ok := pt.TranslatePage(mm.PageFromAddress(virtAddr))
	if !ok {
		return 0, ErrPageNotMapped
	}

	return frame.Address() + (virtAddr & (mm.PageSize - 1)), nil
}

// checkLeafFlags panics unless flags form a leaf encoding that the MMU
// accepts. An entry without R, W or X points to another table and W
// without R is reserved.
func checkLeafFlags(flags mm.PageTableEntryFlag) {
	if flags&mm.FlagLeafMask == 0 || flags&mm.FlagReadWrite == mm.FlagWritable {
		panic(errBadLeafFlags)
	}
}
