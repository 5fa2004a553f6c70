package allocator

import (
	"testing"

	"rvmm/kernel/mm"
)

func TestBitmapAllocator(t *testing.T) {
	regions := []Region{
		{PhysAddress: 0x1000, Length: 70 << mm.PageShift},
		{PhysAddress: 0x100000, Length: 3 << mm.PageShift},
	}

	alloc := NewBitmapAllocator(regions)
	alloc.SetLogger(quietLogger())

	if exp, got := uint32(73), alloc.TotalPages(); got != exp {
		t.Fatalf("expected total pages to be %d; got %d", exp, got)
	}

	seen := make(map[mm.Frame]bool)
	for i := uint32(0); i < alloc.TotalPages(); i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}

		if seen[frame] {
			t.Fatalf("[alloc %d] frame %d allocated twice", i, frame)
		}
		seen[frame] = true

		if (frame < 1 || frame > 70) && (frame < 256 || frame > 258) {
			t.Fatalf("[alloc %d] frame %d is outside the managed regions", i, frame)
		}
	}

	if _, err := alloc.AllocFrame(); err != errBitmapAllocOutOfMemory {
		t.Fatalf("expected errBitmapAllocOutOfMemory; got %v", err)
	}

	if exp, got := alloc.TotalPages(), alloc.ReservedPages(); got != exp {
		t.Fatalf("expected %d reserved pages; got %d", exp, got)
	}

	// Free a frame and expect the allocator to hand it out again
	if err := alloc.FreeFrame(mm.Frame(66)); err != nil {
		t.Fatal(err)
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.Frame(66); frame != exp {
		t.Fatalf("expected re-allocated frame to be %d; got %d", exp, frame)
	}
}

func TestBitmapAllocatorErrors(t *testing.T) {
	alloc := NewBitmapAllocator([]Region{{PhysAddress: 0, Length: 4 << mm.PageShift}})
	alloc.SetLogger(quietLogger())

	if err := alloc.FreeFrame(mm.Frame(10)); err != errBitmapAllocFrameNotManaged {
		t.Errorf("expected errBitmapAllocFrameNotManaged; got %v", err)
	}

	if err := alloc.FreeFrame(mm.Frame(1)); err != errBitmapAllocDoubleFree {
		t.Errorf("expected errBitmapAllocDoubleFree; got %v", err)
	}

	if err := alloc.MarkReserved(mm.Frame(10)); err != errBitmapAllocFrameNotManaged {
		t.Errorf("expected errBitmapAllocFrameNotManaged; got %v", err)
	}
}

func TestBitmapAllocatorMarkReserved(t *testing.T) {
	alloc := NewBitmapAllocator([]Region{{PhysAddress: 0, Length: 4 << mm.PageShift}})
	alloc.SetLogger(quietLogger())

	for _, frame := range []mm.Frame{0, 1, 1} {
		if err := alloc.MarkReserved(frame); err != nil {
			t.Fatal(err)
		}
	}

	if exp, got := uint32(2), alloc.ReservedPages(); got != exp {
		t.Fatalf("expected %d reserved pages; got %d", exp, got)
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.Frame(2); frame != exp {
		t.Fatalf("expected allocator to skip reserved frames and return %d; got %d", exp, frame)
	}
}
