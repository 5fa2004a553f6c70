package vmm

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"rvmm/kernel"
	"rvmm/kernel/cpu"
	"rvmm/kernel/mm"
	"rvmm/kernel/mm/pmm"
)

const (
	testMemoryFrames = 4096
	testRootFrame    = mm.Frame(8)
	testTableFrame   = mm.Frame(16)
	testDataFrame    = mm.Frame(2048)
)

var (
	errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

	testModes = []struct {
		mode           mm.Mode
		recursiveIndex uint
	}{
		{mm.Sv32, 1022},
		{mm.Sv39, 510},
		{mm.Sv39, 1},
		{mm.Sv48, 510},
	}
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testAllocator hands out consecutive frames. A negative limit means that
// the allocator never runs out of frames.
type testAllocator struct {
	next  mm.Frame
	limit int
	count int
}

func (a *testAllocator) AllocFrame() (mm.Frame, error) {
	if a.limit == 0 {
		return mm.InvalidFrame, errTestOutOfFrames
	}
	if a.limit > 0 {
		a.limit--
	}

	a.count++
	frame := a.next
	a.next++
	return frame, nil
}

type testEnv struct {
	mode  mm.Mode
	mem   *pmm.Memory
	hart  *cpu.Hart
	pdt   PageDirectoryTable
	pt    *RecursivePageTable
	alloc *testAllocator
}

// newTestEnv bootstraps a recursively mapped root table in poisoned memory
// and activates it.
func newTestEnv(t *testing.T, mode mm.Mode, recursiveIndex uint) *testEnv {
	t.Helper()

	env := &testEnv{
		mode:  mode,
		mem:   pmm.NewMemory(testMemoryFrames, pmm.WithPoison()),
		alloc: &testAllocator{next: testTableFrame, limit: -1},
	}

	env.hart = cpu.NewHart(mode, env.mem)
	env.hart.SetLogger(quietLogger())

	if err := env.pdt.Init(env.mem, testRootFrame, mode, recursiveIndex); err != nil {
		t.Fatal(err)
	}
	env.pdt.Activate(env.hart)

	var err error
	if env.pt, err = env.pdt.Mapper(env.hart); err != nil {
		t.Fatal(err)
	}
	env.pt.SetLogger(quietLogger())

	return env
}

// page returns the page selected by the first Levels indices.
func (env *testEnv) page(indices ...uint) mm.Page {
	return env.mode.PageFromTableIndices(indices[:env.mode.Levels]...)
}

// sibling returns the page selected by the next entry of the leaf table
// that maps page.
func (env *testEnv) sibling(page mm.Page) mm.Page {
	indices := env.mode.TableIndices(page)
	indices[len(indices)-1]++
	return env.mode.PageFromTableIndices(indices...)
}

// physTable reads a table directly from physical memory.
func (env *testEnv) physTable(t *testing.T, frame mm.Frame) *mm.PageTable {
	t.Helper()

	tbl, err := env.mem.PageTable(frame, env.mode)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

// physEntry follows path from the root table using physical memory and
// returns the entry selected by the last index.
func (env *testEnv) physEntry(t *testing.T, path ...uint) mm.PageTableEntry {
	t.Helper()

	frame := testRootFrame
	for depth, index := range path {
		pte := env.physTable(t, frame).Entry(index)
		if depth == len(path)-1 {
			return pte
		}
		frame = pte.Frame()
	}

	return 0
}

// checkPermissionWindow verifies that no intermediate entry carries read or
// write permissions and that the recursive entries are intact.
func (env *testEnv) checkPermissionWindow(t *testing.T) {
	t.Helper()

	r := env.pt.RecursiveIndex()
	root := env.physTable(t, testRootFrame)

	if exp, got := mm.FlagValid, root.Entry(r).Flags(); got != exp || root.Entry(r).Frame() != testRootFrame {
		t.Errorf("expected recursive entry to point to the root with flags %s; got %s", exp, got)
	}
	if exp, got := mm.FlagValid|mm.FlagReadWrite, root.Entry(r+1).Flags(); got != exp || root.Entry(r+1).Frame() != testRootFrame {
		t.Errorf("expected root alias entry to point to the root with flags %s; got %s", exp, got)
	}

	lastIntermediate := int(env.mode.Levels) - 2

	var visit func(frame mm.Frame, depth int)
	visit = func(frame mm.Frame, depth int) {
		tbl := env.physTable(t, frame)
		for index := uint(0); index < tbl.Len(); index++ {
			if depth == 0 && (index == r || index == r+1) {
				continue
			}

			pte := tbl.Entry(index)
			if !pte.HasFlags(mm.FlagValid) {
				continue
			}

			if pte.HasAnyFlag(mm.FlagReadWrite) {
				t.Errorf("entry %d of the table at depth %d (frame %d) has flags %s", index, depth, frame, pte.Flags())
				continue
			}

			if depth < lastIntermediate {
				visit(pte.Frame(), depth+1)
			}
		}
	}
	visit(testRootFrame, 0)
}

// snapshot returns a copy of every materialized frame.
func (env *testEnv) snapshot() map[mm.Frame][]byte {
	snap := make(map[mm.Frame][]byte)
	env.mem.VisitFrames(func(frame mm.Frame, data []byte) bool {
		snap[frame] = bytes.Clone(data)
		return true
	})
	return snap
}

func expectPanic(t *testing.T, exp error, fn func()) {
	t.Helper()

	defer func() {
		if err := recover(); err != exp {
			t.Fatalf("expected panic with %v; got %v", exp, err)
		}
	}()

	fn()
}
