package vmm

import (
	"github.com/sirupsen/logrus"

	"rvmm/kernel/mm"
)

// RecursivePageTable edits the page tables of the active address space
// through a recursive mapping installed in the root table.
//
// Root entry r (the recursive index) points back to the root table with
// only the valid bit set, so the hardware walker treats it as a pointer to
// the next level. Entry r+1 points to the root table with read and write
// permissions so the root table itself can be accessed at the virtual
// address with indices (r, ..., r, r+1).
//
// The table at depth d (the root being at depth 0) along the index path
// p[0..d-1] lives at the virtual address with indices
// (r x (levels-d), p[0], ..., p[d-1]). Since any entry with read or write
// permissions terminates the hardware walk, that address is only usable
// while p[d-1] is the single entry along the path that carries read and
// write permissions. The walker grants and revokes these permissions one
// hop at a time and invalidates the TLB after each change. Outside of a
// RecursivePageTable call no intermediate entry carries them.
//
// RecursivePageTable performs no locking; callers must serialize all calls
// that target the same address space.
type RecursivePageTable struct {
	mmu            MMU
	mode           mm.Mode
	recursiveIndex uint
	log            logrus.FieldLogger
}

// New returns a RecursivePageTable for the active root table which must be
// accessible at rootAddr. It returns ErrNotRecursivelyMapped unless:
//   - rootAddr decomposes into the table indices (r, ..., r, r+1).
//   - root entries r and r+1 both point to the active root frame.
//   - entry r has the valid bit set and no permissions.
//   - entry r+1 has the valid, readable and writable bits set.
func New(mmu MMU, rootAddr uintptr) (*RecursivePageTable, error) {
	mode := mmu.Mode()
	if rootAddr&(mm.PageSize-1) != 0 || !mode.Canonical(rootAddr) {
		return nil, ErrNotRecursivelyMapped
	}

	var (
		indices        = mode.TableIndices(mm.PageFromAddress(rootAddr))
		last           = len(indices) - 1
		recursiveIndex = indices[0]
	)

	for level := 1; level < last; level++ {
		if indices[level] != recursiveIndex {
			return nil, ErrNotRecursivelyMapped
		}
	}

	if indices[last] != recursiveIndex+1 {
		return nil, ErrNotRecursivelyMapped
	}

	root, err := mmu.PageTableAt(rootAddr)
	if err != nil {
		return nil, ErrNotRecursivelyMapped
	}

	var (
		activeFrame = mmu.ActivePDT()
		selfEntry   = root.Entry(recursiveIndex)
		aliasEntry  = root.Entry(recursiveIndex + 1)
	)

	if selfEntry.Frame() != activeFrame ||
		aliasEntry.Frame() != activeFrame ||
		!selfEntry.HasFlags(mm.FlagValid) ||
		selfEntry.HasAnyFlag(mm.FlagLeafMask) ||
		!aliasEntry.HasFlags(mm.FlagValid|mm.FlagReadWrite) {
		return nil, ErrNotRecursivelyMapped
	}

	return NewUnchecked(mmu, recursiveIndex), nil
}

// NewUnchecked returns a RecursivePageTable that uses recursiveIndex
// without validating the root table. The caller is responsible for
// ensuring that the recursive mapping is in place.
func NewUnchecked(mmu MMU, recursiveIndex uint) *RecursivePageTable {
	mode := mmu.Mode()
	if recursiveIndex+1 >= mode.Entries() {
		panic(errBadRecursiveIndex)
	}

	return &RecursivePageTable{
		mmu:            mmu,
		mode:           mode,
		recursiveIndex: recursiveIndex,
		log:            logrus.StandardLogger(),
	}
}

// SetLogger overrides the logger used by the page table.
func (pt *RecursivePageTable) SetLogger(log logrus.FieldLogger) {
	pt.log = log
}

// Mode returns the paging mode of the page table.
func (pt *RecursivePageTable) Mode() mm.Mode {
	return pt.mode
}

// RecursiveIndex returns the root table index used for the recursive mapping.
func (pt *RecursivePageTable) RecursiveIndex() uint {
	return pt.recursiveIndex
}

// RootAddr returns the virtual address of the root table alias.
func (pt *RecursivePageTable) RootAddr() uintptr {
	return pt.tableAddr(nil)
}

// IsMapped returns true if the page selected by the supplied table indices
// (root first) is mapped by a leaf table entry. Pages that are part of a
// huge page are not reported as mapped. IsMapped panics if the number of
// indices does not match the paging levels or if the root index is
// reserved for the recursive mapping.
func (pt *RecursivePageTable) IsMapped(indices ...uint) bool {
	if len(indices) != int(pt.mode.Levels) {
		panic(errIndexCount)
	}
	pt.checkRootIndex(indices[0])

	var (
		last  = len(indices) - 1
		path  = indices[:last]
		depth = pt.descend(path)
	)

	if depth < last {
		return false
	}

	present := pt.table(path).Entry(indices[last]).HasFlags(mm.FlagValid)
	pt.release(path, last)
	return present
}

// createP1IfNotExist ensures that every table along path up to and
// including the leaf table exists, allocating and zeroing the missing ones.
// Permissions granted during the walk are revoked before returning, even
// when allocation fails.
func (pt *RecursivePageTable) createP1IfNotExist(path []uint, alloc mm.FrameAllocator) error {
	pt.checkRootIndex(path[0])

	for depth := 0; depth < len(path); depth++ {
		var (
			tbl = pt.table(path[:depth])
			pte = tbl.Entry(path[depth])
		)

		switch {
		case pte.IsLeaf():
			pt.release(path, depth)
			return ErrParentEntryHugePage
		case !pte.HasFlags(mm.FlagValid):
			frame, err := alloc.AllocFrame()
			if err == nil && !frame.Valid() {
				err = ErrFrameAllocationFailed
			}
			if err != nil {
				pt.log.WithFields(logrus.Fields{
					"depth": depth,
					"err":   err,
				}).Debug("unable to allocate page table")
				pt.release(path, depth)
				return ErrFrameAllocationFailed
			}
			pt.checkFrame(frame)

			tbl.Update(path[depth], func(pte *mm.PageTableEntry) { pte.Set(frame, mm.FlagValid) })
			pt.advance(path, depth)
			pt.table(path[:depth+1]).Zero()
		default:
			pt.advance(path, depth)
		}
	}

	pt.release(path, len(path))
	return nil
}

// editP1 grants access to the leaf table along path, invokes fn with it and
// revokes access before returning. It panics if any table along path does
// not exist or if an upper level entry maps a huge page.
func (pt *RecursivePageTable) editP1(path []uint, fn func(p1 *mm.PageTable)) {
	pt.checkRootIndex(path[0])

	if depth := pt.descend(path); depth < len(path) {
		// descend has already revoked any granted permissions.
		if pt.isHugePage(path, depth) {
			panic(errHugePageTable)
		}
		panic(errMissingTable)
	}

	fn(pt.table(path))
	pt.release(path, len(path))
}

// descend walks towards the leaf table along path and returns the depth
// it reached. If the returned depth equals len(path) the leaf table is left
// accessible and the caller must release it. Otherwise the entry path[depth]
// in the table at that depth is either unused or maps a huge page and all
// permissions have already been revoked.
func (pt *RecursivePageTable) descend(path []uint) int {
	for depth := 0; depth < len(path); depth++ {
		pte := pt.table(path[:depth]).Entry(path[depth])
		if !pte.HasFlags(mm.FlagValid) || pte.IsLeaf() {
			pt.release(path, depth)
			return depth
		}

		pt.advance(path, depth)
	}

	return len(path)
}

// isHugePage reports whether entry path[depth] maps a huge page. It must
// be called in the released state.
func (pt *RecursivePageTable) isHugePage(path []uint, depth int) bool {
	pt.access(path, depth)
	huge := pt.table(path[:depth]).Entry(path[depth]).IsLeaf()
	pt.release(path, depth)
	return huge
}

// access makes the table at the given depth along path accessible so that
// path[depth-1] is the only entry along path with read and write
// permissions. The root table is always accessible.
func (pt *RecursivePageTable) access(path []uint, depth int) {
	if depth == 0 {
		return
	}

	pt.access(path, depth-1)
	pt.advance(path, depth-1)
}

// advance moves from the state established by access(path, depth) to the
// state established by access(path, depth+1).
func (pt *RecursivePageTable) advance(path []uint, depth int) {
	pt.table(path[:depth]).Update(path[depth], func(pte *mm.PageTableEntry) { pte.SetFlags(mm.FlagReadWrite) })
	pt.mmu.FlushTLB()
	pt.release(path, depth)
}

// release undoes access(path, depth), leaving no entry along path with
// read and write permissions.
func (pt *RecursivePageTable) release(path []uint, depth int) {
	if depth == 0 {
		return
	}

	pt.access(path, depth-1)
	pt.table(path[:depth-1]).Update(path[depth-1], func(pte *mm.PageTableEntry) { pte.ClearFlags(mm.FlagReadWrite) })
	pt.mmu.FlushTLB()
	pt.release(path, depth-1)
}

// table returns the table reached by following path from the root. The
// table must have been made accessible by a call to access.
func (pt *RecursivePageTable) table(path []uint) *mm.PageTable {
	virtAddr := pt.tableAddr(path)
	tbl, err := pt.mmu.PageTableAt(virtAddr)
	if err != nil {
		pt.log.WithFields(logrus.Fields{
			"addr": virtAddr,
			"path": path,
			"err":  err,
		}).Error("page table lookup through the recursive mapping failed")
		panic(errTableNotAccessible)
	}

	return tbl
}

// tableAddr returns the virtual address of the table reached by following
// path from the root.
func (pt *RecursivePageTable) tableAddr(path []uint) uintptr {
	if len(path) == 0 {
		return rootTableAddr(pt.mode, pt.recursiveIndex)
	}

	var (
		indices   = make([]uint, pt.mode.Levels)
		recursive = len(indices) - len(path)
	)
	for level := 0; level < recursive; level++ {
		indices[level] = pt.recursiveIndex
	}
	copy(indices[recursive:], path)

	return pt.mode.PageFromTableIndices(indices...).Address()
}

func (pt *RecursivePageTable) checkRootIndex(index uint) {
	if index == pt.recursiveIndex || index == pt.recursiveIndex+1 {
		panic(errReservedIndex)
	}
}

func (pt *RecursivePageTable) checkFrame(frame mm.Frame) {
	if !frame.Valid() || !pt.mode.ValidPhysAddr(frame.Address()) {
		panic(errUnencodableFrame)
	}
}
