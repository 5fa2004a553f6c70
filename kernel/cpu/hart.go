// Package cpu simulates the address translation hardware of a RISC-V hart:
// the satp register, the hardware page table walker and a TLB that keeps
// serving stale translations until it is explicitly flushed.
package cpu

import (
	"github.com/sirupsen/logrus"

	"rvmm/kernel/mm"
	"rvmm/kernel/mm/pmm"
)

type tlbEntry struct {
	// frame is the 4K frame that backs the cached page.
	frame mm.Frame
	flags mm.PageTableEntryFlag
}

// Stats contains counters for the translation events observed by a hart.
type Stats struct {
	Walks           uint64
	TLBHits         uint64
	TLBEntryFlushes uint64
	TLBFlushes      uint64
	Faults          uint64
}

// Hart is a single simulated hardware thread. While no root table has been
// installed with SwitchPDT the hart runs in bare mode and virtual addresses
// are identical to physical addresses.
type Hart struct {
	mode   mm.Mode
	mem    *pmm.Memory
	satp   mm.Frame
	paging bool
	tlb    map[mm.Page]tlbEntry
	stats  Stats
	log    logrus.FieldLogger
}

// NewHart creates a hart that translates addresses using the given paging
// mode on top of mem.
func NewHart(mode mm.Mode, mem *pmm.Memory) *Hart {
	return &Hart{
		mode: mode,
		mem:  mem,
		satp: mm.InvalidFrame,
		tlb:  make(map[mm.Page]tlbEntry),
		log:  logrus.StandardLogger(),
	}
}

// SetLogger overrides the logger used by the hart.
func (h *Hart) SetLogger(log logrus.FieldLogger) {
	h.log = log
}

// Mode returns the paging mode implemented by the hart.
func (h *Hart) Mode() mm.Mode {
	return h.mode
}

// Memory returns the physical memory attached to the hart.
func (h *Hart) Memory() *pmm.Memory {
	return h.mem
}

// Stats returns a snapshot of the hart's translation counters.
func (h *Hart) Stats() Stats {
	return h.stats
}

// ActivePDT returns the frame of the active root page table or
// mm.InvalidFrame if paging is disabled.
func (h *Hart) ActivePDT() mm.Frame {
	return h.satp
}

// SwitchPDT installs the root page table stored at frame, enables paging
// and discards all cached translations.
func (h *Hart) SwitchPDT(frame mm.Frame) {
	h.log.WithFields(logrus.Fields{
		"mode": h.mode.Name,
		"root": frame,
	}).Debug("switching page directory table")

	h.satp = frame
	h.paging = true
	clear(h.tlb)
	h.stats.TLBFlushes++
}

// FlushTLBEntry drops the cached translation for the page that contains
// virtAddr.
func (h *Hart) FlushTLBEntry(virtAddr uintptr) {
	delete(h.tlb, mm.PageFromAddress(virtAddr))
	h.stats.TLBEntryFlushes++
}

// FlushTLB drops every cached translation.
func (h *Hart) FlushTLB() {
	clear(h.tlb)
	h.stats.TLBFlushes++
}

// Translate returns the physical address that virtAddr maps to, checking
// that the mapping permits the requested access. Cached translations are
// used when available.
func (h *Hart) Translate(virtAddr uintptr, access Access) (uintptr, error) {
	if !h.paging {
		return virtAddr, nil
	}

	if !h.mode.Canonical(virtAddr) {
		return 0, h.fault(virtAddr, access, FaultNonCanonical, 0)
	}

	var (
		page   = mm.PageFromAddress(virtAddr)
		offset = virtAddr & (mm.PageSize - 1)
	)

	entry, ok := h.tlb[page]
	if ok {
		h.stats.TLBHits++
	} else {
		var err error
		if entry, err = h.walk(virtAddr, access); err != nil {
			return 0, err
		}
		h.tlb[page] = entry
	}

	if !permits(entry.flags, access) {
		return 0, h.fault(virtAddr, access, FaultProtection, h.mode.Levels-1)
	}

	return entry.frame.Address() + offset, nil
}

// walk performs the hardware page table walk for virtAddr.
func (h *Hart) walk(virtAddr uintptr, access Access) (tlbEntry, error) {
	h.stats.Walks++

	tableFrame := h.satp
	for level := uint8(0); level < h.mode.Levels; level++ {
		table, err := h.mem.PageTable(tableFrame, h.mode)
		if err != nil {
			return tlbEntry{}, h.fault(virtAddr, access, FaultBadTable, level)
		}

		pte := table.Entry(h.mode.Index(virtAddr, level))
		switch {
		case !pte.HasFlags(mm.FlagValid):
			return tlbEntry{}, h.fault(virtAddr, access, FaultNotPresent, level)
		case uint64(pte)&h.mode.ReservedMask != 0:
			return tlbEntry{}, h.fault(virtAddr, access, FaultReservedBits, level)
		case pte.HasFlags(mm.FlagWritable) && !pte.HasFlags(mm.FlagReadable):
			return tlbEntry{}, h.fault(virtAddr, access, FaultReservedBits, level)
		case !pte.IsLeaf():
			tableFrame = pte.Frame()
			continue
		}

		// Leaf entries above the last level map superpages that must be
		// aligned to the span of their level.
		span := h.mode.LevelSpan(level)
		spanFrames := mm.Frame(span >> mm.PageShift)
		if pte.Frame()%spanFrames != 0 {
			return tlbEntry{}, h.fault(virtAddr, access, FaultMisalignedSuperpage, level)
		}

		return tlbEntry{
			frame: pte.Frame() + mm.Frame((virtAddr&(span-1))>>mm.PageShift),
			flags: pte.Flags(),
		}, nil
	}

	// Ran out of levels while following pointer entries.
	return tlbEntry{}, h.fault(virtAddr, access, FaultNotPresent, h.mode.Levels-1)
}

// PageTableAt translates virtAddr and returns a view of the frame it maps
// to as a page table. Page table access through the recursive mapping
// requires both read and write permissions.
func (h *Hart) PageTableAt(virtAddr uintptr) (*mm.PageTable, error) {
	physAddr, err := h.Translate(virtAddr, AccessRead|AccessWrite)
	if err != nil {
		return nil, err
	}

	return h.mem.PageTable(mm.FrameFromAddress(physAddr), h.mode)
}

// Load reads the byte at virtAddr.
func (h *Hart) Load(virtAddr uintptr) (byte, error) {
	physAddr, err := h.Translate(virtAddr, AccessRead)
	if err != nil {
		return 0, err
	}

	data, err := h.mem.FrameData(mm.FrameFromAddress(physAddr))
	if err != nil {
		return 0, err
	}

	return data[physAddr&(mm.PageSize-1)], nil
}

// Store writes value to virtAddr.
func (h *Hart) Store(virtAddr uintptr, value byte) error {
	physAddr, err := h.Translate(virtAddr, AccessWrite)
	if err != nil {
		return err
	}

	data, err := h.mem.FrameData(mm.FrameFromAddress(physAddr))
	if err != nil {
		return err
	}

	data[physAddr&(mm.PageSize-1)] = value
	return nil
}

func (h *Hart) fault(virtAddr uintptr, access Access, reason FaultReason, level uint8) error {
	h.stats.Faults++
	f := &PageFault{Addr: virtAddr, Access: access, Reason: reason, Level: level}
	h.log.WithFields(logrus.Fields{
		"addr":   virtAddr,
		"access": access.String(),
		"level":  level,
	}).Debug(reason.String())
	return f
}

func permits(flags mm.PageTableEntryFlag, access Access) bool {
	if access&AccessRead != 0 && flags&mm.FlagReadable == 0 {
		return false
	}
	if access&AccessWrite != 0 && flags&mm.FlagWritable == 0 {
		return false
	}
	if access&AccessExecute != 0 && flags&mm.FlagExecutable == 0 {
		return false
	}
	return true
}
