package vmm

import (
	"testing"

	"rvmm/kernel/mm"
)

func TestMapRegion(t *testing.T) {
	for _, spec := range testModes {
		t.Run(spec.mode.Name, func(t *testing.T) {
			var (
				env       = newTestEnv(t, spec.mode, spec.recursiveIndex)
				rec       tlbRecorder
				startPage = env.page(3, 7, 9, 11)
			)

			// Rounded up to 3 pages
			flush, err := MapRegion(env.pt, &rec, startPage, testDataFrame, 2*mm.PageSize+1, mm.FlagReadWrite, env.alloc)
			if err != nil {
				t.Fatal(err)
			}

			if exp, got := 3, flush.Count(); got != exp {
				t.Fatalf("expected %d mapped pages; got %d", exp, got)
			}
			flush.Flush()

			if rec.flushes != 1 {
				t.Fatalf("expected region flush to invalidate the TLB once; got %d", rec.flushes)
			}

			for index := 0; index < 3; index++ {
				exp := testDataFrame + mm.Frame(index)
				if got, ok := env.pt.TranslatePage(startPage + mm.Page(index)); !ok || got != exp {
					t.Fatalf("expected page %d of region to map to frame %d; got %d, %t", index, exp, got, ok)
				}
			}

			if _, ok := env.pt.TranslatePage(startPage + 3); ok {
				t.Fatal("expected page past the region end to be unmapped")
			}

			unmapFlush, err := UnmapRegion(env.pt, &rec, startPage, 4*mm.PageSize)
			if err != nil {
				t.Fatal(err)
			}

			if exp, got := 3, unmapFlush.Count(); got != exp {
				t.Fatalf("expected %d unmapped pages; got %d", exp, got)
			}
			unmapFlush.Flush()

			for index := 0; index < 3; index++ {
				if _, ok := env.pt.TranslatePage(startPage + mm.Page(index)); ok {
					t.Fatalf("expected page %d of region to be unmapped", index)
				}
			}

			env.checkPermissionWindow(t)
		})
	}
}

func TestMapRegionRollback(t *testing.T) {
	env := newTestEnv(t, mm.Sv39, 510)
	startPage := env.page(3, 7, 9)

	flush, err := env.pt.MapTo(startPage+2, testDataFrame+10, mm.FlagReadable, env.alloc)
	if err != nil {
		t.Fatal(err)
	}
	flush.Flush()

	regionFlush, err := MapRegion(env.pt, env.hart, startPage, testDataFrame, 4*mm.PageSize, mm.FlagReadWrite, env.alloc)
	if err != ErrPageAlreadyMapped {
		t.Fatalf("expected ErrPageAlreadyMapped; got %v", err)
	}
	regionFlush.Flush()

	for index := 0; index < 2; index++ {
		if _, ok := env.pt.TranslatePage(startPage + mm.Page(index)); ok {
			t.Fatalf("expected page %d to be unmapped after rollback", index)
		}
	}

	if got, ok := env.pt.TranslatePage(startPage + 2); !ok || got != testDataFrame+10 {
		t.Fatalf("expected pre-existing mapping to survive; got %d, %t", got, ok)
	}

	env.checkPermissionWindow(t)
}

func TestIdentityMapRegion(t *testing.T) {
	env := newTestEnv(t, mm.Sv48, 510)

	page, flush, err := IdentityMapRegion(env.pt, env.hart, testDataFrame, 2*mm.PageSize, mm.FlagReadable, env.alloc)
	if err != nil {
		t.Fatal(err)
	}
	flush.Flush()

	if exp := mm.PageFromAddress(testDataFrame.Address()); page != exp {
		t.Fatalf("expected region to start at page %d; got %d", exp, page)
	}

	for index := mm.Frame(0); index < 2; index++ {
		frame := testDataFrame + index
		if got, ok := env.pt.TranslatePage(mm.PageFromAddress(frame.Address())); !ok || got != frame {
			t.Fatalf("expected identity mapping for frame %d; got %d, %t", frame, got, ok)
		}
	}
}

func TestUnmapRegionHugePage(t *testing.T) {
	env := newTestEnv(t, mm.Sv39, 510)

	env.physTable(t, testRootFrame).Update(5, func(pte *mm.PageTableEntry) {
		pte.Set(mm.Frame(0), mm.FlagValid|mm.FlagReadable)
	})
	env.hart.FlushTLB()

	flush, err := UnmapRegion(env.pt, env.hart, env.page(5, 0, 0), mm.PageSize)
	if err != ErrParentEntryHugePage {
		t.Fatalf("expected ErrParentEntryHugePage; got %v", err)
	}

	if flush.Count() != 0 {
		t.Fatalf("expected no unmapped pages; got %d", flush.Count())
	}
}

func TestMapRegionNonCanonical(t *testing.T) {
	specs := []struct {
		descr string
		mode  mm.Mode
		addr  uintptr
		size  uintptr
	}{
		{"sv32 region past the address space end", mm.Sv32, 0xffffe000, 3 * mm.PageSize},
		{"sv39 region running into the hole", mm.Sv39, 1<<38 - mm.PageSize, 2 * mm.PageSize},
		{"sv39 region spanning the hole", mm.Sv39, 1<<38 - mm.PageSize, 0xffffffc000000000 - (1<<38 - mm.PageSize) + mm.PageSize},
		{"sv48 region running into the hole", mm.Sv48, 1<<47 - 2*mm.PageSize, 4 * mm.PageSize},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			env := newTestEnv(t, spec.mode, spec.mode.Entries()-2)
			page := mm.PageFromAddress(spec.addr)

			expectPanic(t, errNonCanonicalPage, func() {
				flush, _ := MapRegion(env.pt, env.hart, page, testDataFrame, spec.size, mm.FlagReadWrite, env.alloc)
				flush.Ignore()
			})

			if _, ok := env.pt.TranslatePage(page); ok {
				t.Fatal("expected the first page of the region to remain unmapped")
			}
			if env.alloc.count != 0 {
				t.Fatalf("expected no table allocations; got %d", env.alloc.count)
			}

			env.checkPermissionWindow(t)
		})
	}
}

func TestRegionCanonical(t *testing.T) {
	specs := []struct {
		mode  mm.Mode
		addr  uintptr
		count uintptr
		exp   bool
	}{
		{mm.Sv32, 0, 1 << 20, true},
		{mm.Sv32, 0xfffff000, 1, true},
		{mm.Sv32, 0xfffff000, 2, false},
		{mm.Sv39, 1<<38 - mm.PageSize, 1, true},
		{mm.Sv39, 0xffffffc000000000, 1 << 26, true},
		{mm.Sv39, 0xfffffffffffff000, 2, false},
		{mm.Sv48, 0xffff800000000000, 4, true},
		{mm.Sv48, 1<<47 - mm.PageSize, 2, false},
	}

	for specIndex, spec := range specs {
		if got := regionCanonical(spec.mode, mm.PageFromAddress(spec.addr), spec.count); got != spec.exp {
			t.Errorf("[spec %d] expected regionCanonical to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}
