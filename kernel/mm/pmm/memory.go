// Package pmm simulates the physical memory of a machine. Frames are
// materialized lazily and kept in a B-tree ordered by frame number so page
// tables can be inspected in physical address order.
package pmm

import (
	"github.com/NebulousLabs/fastrand"
	"github.com/google/btree"

	"rvmm/kernel"
	"rvmm/kernel/mm"
)

const btreeDegree = 32

var (
	errFrameOutOfRange = &kernel.Error{Module: "pmm", Message: "frame is outside of installed physical memory"}
)

type physFrame struct {
	num  mm.Frame
	data []byte
}

func lessFrame(a, b *physFrame) bool {
	return a.num < b.num
}

// Memory models the installed physical memory as an arena of frames indexed
// by frame number. Frames that have never been touched are not backed by any
// storage.
type Memory struct {
	frames     *btree.BTreeG[*physFrame]
	frameCount uint64
	poison     bool
}

// Option configures a Memory instance.
type Option func(*Memory)

// WithPoison fills each frame with random bytes the first time it is
// touched, mimicking the contents of uninitialized RAM.
func WithPoison() Option {
	return func(m *Memory) { m.poison = true }
}

// NewMemory creates a physical memory arena with frameCount frames
// (frame numbers 0 to frameCount-1).
func NewMemory(frameCount uint64, opts ...Option) *Memory {
	m := &Memory{
		frames:     btree.NewG[*physFrame](btreeDegree, lessFrame),
		frameCount: frameCount,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FrameCount returns the number of installed frames.
func (m *Memory) FrameCount() uint64 {
	return m.frameCount
}

// Contains returns true if frame refers to installed memory.
func (m *Memory) Contains(frame mm.Frame) bool {
	return frame.Valid() && uint64(frame) < m.frameCount
}

// FrameData returns the PageSize bytes backing frame.
func (m *Memory) FrameData(frame mm.Frame) ([]byte, error) {
	if !m.Contains(frame) {
		return nil, errFrameOutOfRange
	}

	if f, ok := m.frames.Get(&physFrame{num: frame}); ok {
		return f.data, nil
	}

	f := &physFrame{num: frame, data: make([]byte, mm.PageSize)}
	if m.poison {
		copy(f.data, fastrand.Bytes(len(f.data)))
	}
	m.frames.ReplaceOrInsert(f)
	return f.data, nil
}

// PageTable returns a view of frame as a page table for the given mode.
func (m *Memory) PageTable(frame mm.Frame, mode mm.Mode) (*mm.PageTable, error) {
	data, err := m.FrameData(frame)
	if err != nil {
		return nil, err
	}

	return mm.NewPageTable(mode, data), nil
}

// Memset sets every byte of frame to value. Instead of using a for loop,
// this function uses log2(PageSize) copy calls.
func (m *Memory) Memset(frame mm.Frame, value byte) error {
	target, err := m.FrameData(frame)
	if err != nil {
		return err
	}

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}

	return nil
}

// VisitFrames invokes visitor for every materialized frame in ascending
// frame order. Returning false from visitor stops the iteration.
func (m *Memory) VisitFrames(visitor func(frame mm.Frame, data []byte) bool) {
	m.frames.Ascend(func(f *physFrame) bool {
		return visitor(f.num, f.data)
	})
}

// ResidentFrames returns the number of frames that are backed by storage.
func (m *Memory) ResidentFrames() int {
	return m.frames.Len()
}
