// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package hunk

import (
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// Loaded is a hunk File after its segments have been allocated,
// written, relocated, and chained together as a BPTR segment list
// (spec.md §4.4).
type Loaded struct {
	// CodeAddrs[i] is the address of hunk i's actual code/data/bss —
	// four bytes past its allocation, which reserves room for the
	// segment-list link word each Amiga loaded segment carries.
	CodeAddrs []uint32
	// SegListBPTR is the BPTR to the first segment's link word, the
	// conventional handle to the whole chain.
	SegListBPTR uint32
	// EntryPoint is where execution should start: CodeAddrs of the
	// first segment in load order.
	EntryPoint uint32
}

// Load allocates, writes, and relocates every segment of f into arena's
// segment region, and returns the resulting addresses.
func Load(mem *memlayout.Memory, arena *memlayout.Arena, f *File) (*Loaded, error) {
	segBases := make([]uint32, len(f.Segments))
	codeAddrs := make([]uint32, len(f.Segments))

	for i, seg := range f.Segments {
		addr, err := arena.Alloc(memlayout.RegionSegments, seg.Size+4, 4)
		if err != nil {
			return nil, err
		}
		segBases[i] = addr
		codeAddrs[i] = addr + 4
		if seg.Data != nil {
			if err := mem.WriteBytes(codeAddrs[i], seg.Data); err != nil {
				return nil, err
			}
		}
	}

	// Link the segment chain: each link word is the BPTR to the next
	// segment's link word, terminated by 0 (AmigaDOS's BNULL).
	for i := 0; i < len(segBases); i++ {
		var next uint32
		if i+1 < len(segBases) {
			next = memlayout.AddrToBPTR(segBases[i+1])
		}
		if err := mem.WriteU32(segBases[i], next); err != nil {
			return nil, err
		}
	}

	for i, seg := range f.Segments {
		for _, rel := range seg.Relocs {
			targetAddr := codeAddrs[rel.TargetHunk]
			for _, off := range rel.Offsets {
				at := codeAddrs[i] + off
				existing, err := mem.ReadU32(at)
				if err != nil {
					return nil, err
				}
				if err := mem.WriteU32(at, existing+targetAddr); err != nil {
					return nil, err
				}
			}
		}
	}

	var segListBPTR uint32
	if len(segBases) > 0 {
		segListBPTR = memlayout.AddrToBPTR(segBases[0])
	}

	return &Loaded{
		CodeAddrs:   codeAddrs,
		SegListBPTR: segListBPTR,
		EntryPoint:  codeAddrs[0],
	}, nil
}
