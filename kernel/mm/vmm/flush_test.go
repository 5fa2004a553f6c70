package vmm

import (
	"testing"

	"rvmm/kernel/mm"
)

type tlbRecorder struct {
	entries []uintptr
	flushes int
}

func (r *tlbRecorder) FlushTLBEntry(virtAddr uintptr) { r.entries = append(r.entries, virtAddr) }
func (r *tlbRecorder) FlushTLB()                      { r.flushes++ }

func TestMapperFlush(t *testing.T) {
	var (
		rec  tlbRecorder
		page = mm.Page(0x1234)
	)

	newMapperFlush(page, &rec).Flush()
	newMapperFlush(page+1, &rec).Ignore()

	if len(rec.entries) != 1 || rec.entries[0] != page.Address() {
		t.Fatalf("expected a single flush for address 0x%x; got %v", page.Address(), rec.entries)
	}

	if rec.flushes != 0 {
		t.Fatalf("expected no full TLB flushes; got %d", rec.flushes)
	}

	// Flushing a zero value is a no-op
	MapperFlush{}.Flush()
}

func TestMapperFlushAll(t *testing.T) {
	var rec tlbRecorder

	MapperFlushAll{tlb: &rec, count: 3}.Flush()
	MapperFlushAll{tlb: &rec, count: 0}.Flush()
	MapperFlushAll{tlb: &rec, count: 3}.Ignore()

	if rec.flushes != 1 {
		t.Fatalf("expected 1 full TLB flush; got %d", rec.flushes)
	}

	if len(rec.entries) != 0 {
		t.Fatalf("expected no single entry flushes; got %v", rec.entries)
	}
}

func TestMapperFlushInvalidatesStaleEntry(t *testing.T) {
	env := newTestEnv(t, mm.Sv39, 510)
	page := env.page(3, 7, 9)

	flush, err := env.pt.MapTo(page, testDataFrame, mm.FlagReadWrite, env.alloc)
	if err != nil {
		t.Fatal(err)
	}

	before := env.hart.Stats().TLBEntryFlushes
	flush.Flush()

	if exp, got := before+1, env.hart.Stats().TLBEntryFlushes; got != exp {
		t.Fatalf("expected %d TLB entry flushes; got %d", exp, got)
	}
}
