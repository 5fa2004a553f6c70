package main

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"

	"rvmm/kernel/mm"
)

const (
	defaultMemoryFrames = 1024
	defaultAllocator    = "bootmem"
	defaultFlags        = "rw"
)

// address is a virtual or physical address. Addresses are written as TOML
// strings since high-half virtual addresses do not fit in a TOML integer.
type address uintptr

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *address) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", text, err)
	}

	*a = address(v)
	return nil
}

// String implements fmt.Stringer.
func (a address) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// scenario describes a simulated machine and the list of page table
// operations to run against it.
type scenario struct {
	// Mode is the paging mode name (sv32, sv39 or sv48).
	Mode string `toml:"mode"`

	// RecursiveIndex selects the root table entry used for the recursive
	// mapping. It defaults to the third to last entry so that the alias
	// entry does not occupy the last slot.
	RecursiveIndex *uint `toml:"recursive_index"`

	// MemoryFrames is the number of installed physical frames.
	MemoryFrames uint64 `toml:"memory_frames"`

	// RootFrame is the frame that holds the root table.
	RootFrame uint64 `toml:"root_frame"`

	// Allocator selects the frame allocator used for page tables: bootmem
	// or bitmap.
	Allocator string `toml:"allocator"`

	// Poison fills frames with random data before their first use.
	Poison bool `toml:"poison"`

	Ops []op `toml:"op"`
}

// op is a single page table operation.
type op struct {
	// Kind is one of map, unmap, translate, identity_map, map_region,
	// unmap_region, load or store.
	Kind string `toml:"kind"`

	// Addr is the virtual address the operation applies to. map_region
	// reserves a region below the recursive mapping when Addr is omitted.
	Addr *address `toml:"addr"`

	// Phys is the physical address used by map, identity_map and
	// map_region.
	Phys address `toml:"phys"`

	// Size is the region size in bytes for map_region and unmap_region.
	Size uint64 `toml:"size"`

	// Flags lists the permissions of a new mapping using the letters
	// r, w, x, u and g. It defaults to "rw".
	Flags string `toml:"flags"`

	// Value is the byte written by store or expected by load.
	Value uint8 `toml:"value"`

	// Want is the physical address translate is expected to return.
	Want *address `toml:"want"`

	// Fail marks operations that are expected to return an error.
	Fail bool `toml:"fail"`
}

// loadScenario decodes the scenario stored at path.
func loadScenario(path string) (*scenario, error) {
	var sc scenario
	md, err := toml.DecodeFile(path, &sc)
	if err != nil {
		return nil, err
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("unknown scenario keys: %v", undecoded)
	}

	return &sc, nil
}

// parseScenario decodes a scenario from its TOML text.
func parseScenario(data string) (*scenario, error) {
	var sc scenario
	if _, err := toml.Decode(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// paging returns the paging mode and recursive index used by the scenario.
func (sc *scenario) paging() (mm.Mode, uint, error) {
	mode, err := mm.ModeByName(sc.Mode)
	if err != nil {
		return mm.Mode{}, 0, fmt.Errorf("mode %q: %v", sc.Mode, err)
	}

	recursiveIndex := mode.Entries() - 2
	if sc.RecursiveIndex != nil {
		recursiveIndex = *sc.RecursiveIndex
	}

	return mode, recursiveIndex, nil
}

// parseFlags converts the letter notation used in scenarios to page table
// entry flags.
func parseFlags(s string) (mm.PageTableEntryFlag, error) {
	if s == "" {
		s = defaultFlags
	}

	var flags mm.PageTableEntryFlag
	for _, r := range s {
		switch r {
		case 'r':
			flags |= mm.FlagReadable
		case 'w':
			flags |= mm.FlagWritable
		case 'x':
			flags |= mm.FlagExecutable
		case 'u':
			flags |= mm.FlagUser
		case 'g':
			flags |= mm.FlagGlobal
		default:
			return 0, fmt.Errorf("unknown flag %q in %q", r, s)
		}
	}

	return flags, nil
}
