package vmm

import "rvmm/kernel/mm"

// MapperFlush is returned by operations that change a page mapping. The
// caller must either call Flush to invalidate the stale TLB entry for the
// page or Ignore to state that no flush is needed (e.g. because several
// changes will be flushed at once). Dropping a MapperFlush is reported by
// the flushcheck analyzer.
type MapperFlush struct {
	page mm.Page
	tlb  TLB
}

func newMapperFlush(page mm.Page, tlb TLB) MapperFlush {
	return MapperFlush{page: page, tlb: tlb}
}

// Page returns the page whose mapping changed.
func (f MapperFlush) Page() mm.Page {
	return f.page
}

// Flush invalidates the TLB entry for the changed page so the new mapping
// is used.
func (f MapperFlush) Flush() {
	if f.tlb != nil {
		f.tlb.FlushTLBEntry(f.page.Address())
	}
}

// Ignore discards the flush obligation without touching the TLB.
func (f MapperFlush) Ignore() {}

// MapperFlushAll is returned by operations that change the mappings of a
// range of pages. Flush invalidates the whole TLB once.
type MapperFlushAll struct {
	tlb   TLB
	count int
}

// Count returns the number of page mappings that changed.
func (f MapperFlushAll) Count() int {
	return f.count
}

// Flush invalidates all TLB entries.
func (f MapperFlushAll) Flush() {
	if f.tlb != nil && f.count != 0 {
		f.tlb.FlushTLB()
	}
}

// Ignore discards the flush obligation without touching the TLB.
func (f MapperFlushAll) Ignore() {}
