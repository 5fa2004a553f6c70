package allocator

import (
	"github.com/sirupsen/logrus"

	"rvmm/kernel"
	"rvmm/kernel/mm"
)

var (
	errBitmapAllocOutOfMemory     = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}
	errBitmapAllocFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame not managed by this allocator"}
	errBitmapAllocDoubleFree      = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free"}
)

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool. The total number of
	// frames is given by: (endFrame - startFrame) + 1
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. Unlike the
// BootMemAllocator, frames can be returned to the allocator.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools []framePool

	log logrus.FieldLogger
}

// NewBitmapAllocator creates a bitmap allocator managing the supplied regions.
func NewBitmapAllocator(regions []Region) *BitmapAllocator {
	alloc := &BitmapAllocator{log: logrus.StandardLogger()}

	for _, region := range regions {
		regionStartFrame, regionEndFrame, ok := region.frames()
		if !ok {
			continue
		}

		pageCount := uint32(regionEndFrame - regionStartFrame + 1)
		alloc.totalPages += pageCount

		// To represent the free page bitmap we need pageCount bits. Since our
		// slice uses uint64 for storing the bitmap we need to round up the
		// required bits so they are a multiple of 64 bits
		alloc.pools = append(alloc.pools, framePool{
			startFrame: regionStartFrame,
			endFrame:   regionEndFrame,
			freeCount:  pageCount,
			freeBitmap: make([]uint64, (pageCount+63)>>6),
		})
	}

	return alloc
}

// SetLogger overrides the logger used by the allocator.
func (alloc *BitmapAllocator) SetLogger(log logrus.FieldLogger) {
	alloc.log = log
}

// TotalPages returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalPages() uint32 {
	return alloc.totalPages
}

// ReservedPages returns the number of frames currently allocated.
func (alloc *BitmapAllocator) ReservedPages() uint32 {
	return alloc.reservedPages
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not managed by this allocator.
func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame mm.Frame, flag markAs) {
	pool := &alloc.pools[poolIndex]
	relFrame := frame - pool.startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))

	switch flag {
	case markFree:
		pool.freeBitmap[block] &^= mask
		pool.freeCount++
		alloc.reservedPages--
	case markReserved:
		pool.freeBitmap[block] |= mask
		pool.freeCount--
		alloc.reservedPages++
	}
}

func (alloc *BitmapAllocator) isReserved(poolIndex int, frame mm.Frame) bool {
	pool := &alloc.pools[poolIndex]
	relFrame := frame - pool.startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	return pool.freeBitmap[block]&mask != 0
}

// MarkReserved flags frame as allocated without returning it. It is used to
// exclude frames (e.g. the root page table) that were set up before the
// allocator took over.
func (alloc *BitmapAllocator) MarkReserved(frame mm.Frame) error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errBitmapAllocFrameNotManaged
	}

	if !alloc.isReserved(poolIndex, frame) {
		alloc.markFrame(poolIndex, frame, markReserved)
	}
	return nil
}

// AllocFrame reserves and returns the lowest free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, error) {
	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for blockIndex, block := range pool.freeBitmap {
			if block == ^uint64(0) {
				continue
			}

			for bit := 0; bit < 64; bit++ {
				if block&(1<<(63-bit)) != 0 {
					continue
				}

				frame := pool.startFrame + mm.Frame(blockIndex<<6+bit)
				if frame > pool.endFrame {
					break
				}

				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	alloc.log.WithField("total_pages", alloc.totalPages).Warn("bitmap allocator exhausted")
	return mm.InvalidFrame, errBitmapAllocOutOfMemory
}

// FreeFrame releases a frame previously allocated via a call to AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errBitmapAllocFrameNotManaged
	}

	if !alloc.isReserved(poolIndex, frame) {
		return errBitmapAllocDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}
