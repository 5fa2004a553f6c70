package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"rvmm/kernel/cpu"
	"rvmm/kernel/mm"
	"rvmm/kernel/mm/pmm"
	"rvmm/kernel/mm/pmm/allocator"
	"rvmm/kernel/mm/vmm"
)

var (
	errMissingAddr = errors.New("operation requires an addr")
	errUnexpected  = errors.New("operation did not fail")
)

// simulator runs scenario operations against a simulated hart whose active
// address space is edited through a recursive page table.
type simulator struct {
	mode     mm.Mode
	mem      *pmm.Memory
	hart     *cpu.Hart
	pt       *vmm.RecursivePageTable
	alloc    mm.FrameAllocator
	reserver *vmm.RegionReserver

	out io.Writer
	log logrus.FieldLogger
}

// newSimulator boots the machine described by sc: it installs a recursively
// mapped root table, switches the hart to it and sets up the frame
// allocator used for new page tables.
func newSimulator(sc *scenario, out io.Writer, log logrus.FieldLogger) (*simulator, error) {
	mode, recursiveIndex, err := sc.paging()
	if err != nil {
		return nil, err
	}

	frames := sc.MemoryFrames
	if frames == 0 {
		frames = defaultMemoryFrames
	}
	if sc.RootFrame >= frames {
		return nil, fmt.Errorf("root frame %d is outside of installed memory (%d frames)", sc.RootFrame, frames)
	}

	var opts []pmm.Option
	if sc.Poison {
		opts = append(opts, pmm.WithPoison())
	}

	s := &simulator{
		mode: mode,
		mem:  pmm.NewMemory(frames, opts...),
		out:  out,
		log:  log,
	}

	s.hart = cpu.NewHart(mode, s.mem)
	s.hart.SetLogger(log)

	rootFrame := mm.Frame(sc.RootFrame)

	var pdt vmm.PageDirectoryTable
	if err = pdt.Init(s.mem, rootFrame, mode, recursiveIndex); err != nil {
		return nil, err
	}
	pdt.Activate(s.hart)

	if s.pt, err = pdt.Mapper(s.hart); err != nil {
		return nil, err
	}
	s.pt.SetLogger(log)
	s.reserver = s.pt.KernelRegionReserver()

	regions := []allocator.Region{{PhysAddress: 0, Length: uintptr(frames) << mm.PageShift}}
	switch kind := sc.Allocator; kind {
	case "", defaultAllocator:
		alloc := allocator.NewBootMemAllocator(regions, rootFrame.Address(), rootFrame.Address()+mm.PageSize)
		alloc.SetLogger(log)
		alloc.LogMemoryMap()
		s.alloc = alloc
	case "bitmap":
		alloc := allocator.NewBitmapAllocator(regions)
		alloc.SetLogger(log)
		if err = alloc.MarkReserved(rootFrame); err != nil {
			return nil, err
		}
		s.alloc = alloc
	default:
		return nil, fmt.Errorf("unknown allocator %q", kind)
	}

	log.WithFields(logrus.Fields{
		"mode":            mode,
		"recursive_index": recursiveIndex,
		"root_frame":      rootFrame,
		"frames":          frames,
		"memory":          mm.Size(frames << mm.PageShift).String(),
	}).Info("machine ready")

	return s, nil
}

// run executes ops in order and reports the outcome of each one. It returns
// the number of operations whose outcome did not match the scenario.
func (s *simulator) run(ops []op) int {
	var mismatches int

	for index, o := range ops {
		result, err := s.exec(o)

		status := "ok"
		switch {
		case err != nil && o.Fail:
			status = "failed as expected"
			result = err.Error()
		case err != nil:
			status = "FAIL"
			result = err.Error()
			mismatches++
		case o.Fail:
			status = "FAIL"
			result = fmt.Sprintf("%s: %v", result, errUnexpected)
			mismatches++
		}

		fmt.Fprintf(s.out, "%3d %-12s %-18s %s\n", index, o.Kind, status, result)
	}

	stats := s.hart.Stats()
	s.log.WithFields(logrus.Fields{
		"walks":       stats.Walks,
		"tlb_hits":    stats.TLBHits,
		"tlb_flushes": stats.TLBFlushes,
		"faults":      stats.Faults,
		"resident":    s.mem.ResidentFrames(),
	}).Info("scenario complete")

	return mismatches
}

// exec runs a single operation. Contract violations reported by the page
// table through a panic are converted to errors.
func (s *simulator) exec(o op) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract violation: %v", r)
		}
	}()

	flags, err := parseFlags(o.Flags)
	if err != nil {
		return "", err
	}

	if o.Addr == nil && o.Kind != "map_region" && o.Kind != "identity_map" {
		return "", errMissingAddr
	}

	switch o.Kind {
	case "map":
		page, frame := mm.PageFromAddress(uintptr(*o.Addr)), mm.FrameFromAddress(uintptr(o.Phys))
		flush, err := s.pt.MapTo(page, frame, flags, s.alloc)
		if err != nil {
			return "", err
		}
		flush.Flush()
		return fmt.Sprintf("%s -> %s [%s]", *o.Addr, o.Phys, (flags | mm.FlagValid).String()), nil
	case "identity_map":
		flush, err := s.pt.IdentityMap(mm.FrameFromAddress(uintptr(o.Phys)), flags, s.alloc)
		if err != nil {
			return "", err
		}
		flush.Flush()
		return fmt.Sprintf("%s -> %s", o.Phys, o.Phys), nil
	case "unmap":
		frame, flush, err := s.pt.Unmap(mm.PageFromAddress(uintptr(*o.Addr)))
		if err != nil {
			return "", err
		}
		flush.Flush()
		return fmt.Sprintf("%s (was %s)", *o.Addr, address(frame.Address())), nil
	case "translate":
		physAddr, err := s.pt.Translate(uintptr(*o.Addr))
		if err != nil {
			return "", err
		}
		if o.Want != nil && address(physAddr) != *o.Want {
			return "", fmt.Errorf("%s translates to %s; want %s", *o.Addr, address(physAddr), *o.Want)
		}
		return fmt.Sprintf("%s -> %s", *o.Addr, address(physAddr)), nil
	case "map_region":
		return s.mapRegion(o, flags)
	case "unmap_region":
		flushAll, err := vmm.UnmapRegion(s.pt, s.hart, mm.PageFromAddress(uintptr(*o.Addr)), uintptr(o.Size))
		flushAll.Flush()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%d pages unmapped)", *o.Addr, flushAll.Count()), nil
	case "load":
		value, err := s.hart.Load(uintptr(*o.Addr))
		if err != nil {
			return "", err
		}
		if value != o.Value {
			return "", fmt.Errorf("%s holds 0x%02x; want 0x%02x", *o.Addr, value, o.Value)
		}
		return fmt.Sprintf("%s = 0x%02x", *o.Addr, value), nil
	case "store":
		if err := s.hart.Store(uintptr(*o.Addr), o.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = 0x%02x", *o.Addr, o.Value), nil
	default:
		return "", fmt.Errorf("unknown operation %q", o.Kind)
	}
}

// mapRegion maps a physical region either at the requested address or at a
// region reserved below the recursive mapping.
func (s *simulator) mapRegion(o op, flags mm.PageTableEntryFlag) (string, error) {
	var page mm.Page
	if o.Addr != nil {
		page = mm.PageFromAddress(uintptr(*o.Addr))
	} else {
		var err error
		if page, err = s.reserver.ReserveRegion(uintptr(o.Size)); err != nil {
			return "", err
		}
	}

	flushAll, err := vmm.MapRegion(s.pt, s.hart, page, mm.FrameFromAddress(uintptr(o.Phys)), uintptr(o.Size), flags, s.alloc)
	flushAll.Flush()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s -> %s (%s, %d pages)", address(page.Address()), o.Phys, mm.Size(o.Size), flushAll.Count()), nil
}
