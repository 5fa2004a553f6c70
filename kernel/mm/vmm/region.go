package vmm

import "rvmm/kernel/mm"

// pageCount returns the number of pages needed to cover size bytes.
func pageCount(size uintptr) uintptr {
	return uintptr(mm.Size(size).Pages())
}

// MapRegion maps the physical memory region which starts at frame and
// spans size bytes (rounded up to the nearest page boundary) to the
// virtual region that starts at page. If a mapping fails, the pages that
// were mapped by this call are unmapped before returning the error. The
// returned MapperFlushAll covers every page that was mapped.
//
// MapRegion panics before mapping anything if any page of the virtual
// region is not canonical.
func MapRegion(m Mapper, tlb TLB, page mm.Page, frame mm.Frame, size uintptr, flags mm.PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlushAll, error) {
	count := pageCount(size)
	if count != 0 && !regionCanonical(m.Mode(), page, count) {
		panic(errNonCanonicalPage)
	}

	for index := uintptr(0); index < count; index++ {
		flush, err := m.MapTo(page+mm.Page(index), frame+mm.Frame(index), flags, alloc)
		if err != nil {
			rollback(m, page, index)
			return MapperFlushAll{tlb: tlb, count: int(index)}, err
		}
		flush.Ignore()
	}

	return MapperFlushAll{tlb: tlb, count: int(count)}, nil
}

// regionCanonical reports whether all count pages starting at page are
// canonical. Each sign-extended half is a single contiguous range.
func regionCanonical(mode mm.Mode, page mm.Page, count uintptr) bool {
	lastPage := page + mm.Page(count-1)
	if lastPage < page || uintptr(lastPage) > ^uintptr(0)>>mm.PageShift {
		return false
	}

	first, last := page.Address(), lastPage.Address()
	if !mode.Canonical(first) || !mode.Canonical(last) {
		return false
	}

	if !mode.SignExtend {
		return true
	}

	signBit := uintptr(1) << (mode.VirtAddrBits - 1)
	return first&signBit == last&signBit
}

// IdentityMapRegion establishes an identity mapping for the physical memory
// region which starts at startFrame and spans size bytes (rounded up to the
// nearest page boundary). It returns the page that corresponds to the
// region start.
func IdentityMapRegion(m Mapper, tlb TLB, startFrame mm.Frame, size uintptr, flags mm.PageTableEntryFlag, alloc mm.FrameAllocator) (mm.Page, MapperFlushAll, error) {
	startPage := mm.PageFromAddress(startFrame.Address())
	flush, err := MapRegion(m, tlb, startPage, startFrame, size, flags, alloc)
	return startPage, flush, err
}

// UnmapRegion removes the mappings for the pages in the virtual region that
// starts at page and spans size bytes. Pages that are not mapped are
// skipped. UnmapRegion stops at the first other error.
func UnmapRegion(m Mapper, tlb TLB, page mm.Page, size uintptr) (MapperFlushAll, error) {
	var (
		count    = pageCount(size)
		unmapped int
	)

	for index := uintptr(0); index < count; index++ {
		_, flush, err := m.Unmap(page + mm.Page(index))
		switch err {
		case nil:
			flush.Ignore()
			unmapped++
		case ErrPageNotMapped:
		default:
			return MapperFlushAll{tlb: tlb, count: unmapped}, err
		}
	}

	return MapperFlushAll{tlb: tlb, count: unmapped}, nil
}

// rollback unmaps the first count pages of a partially mapped region.
func rollback(m Mapper, page mm.Page, count uintptr) {
	for index := uintptr(0); index < count; index++ {
		if _, flush, err := m.Unmap(page + mm.Page(index)); err == nil {
			flush.Ignore()
		}
	}
}
