// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package hunk

import (
	"encoding/binary"
	"fmt"

	"github.com/reinauer/AmiFUSE/internal/amierr"
)

// Hunk type codes (spec.md §8 glossary / §6 on-disk format).
const (
	typeHeader  uint32 = 0x3F3
	typeCode    uint32 = 0x3E9
	typeData    uint32 = 0x3EA
	typeBSS     uint32 = 0x3EB
	typeReloc32 uint32 = 0x3EC
	typeEnd     uint32 = 0x3F2
)

// SegmentKind distinguishes how a Segment's memory should be prepared.
type SegmentKind int

const (
	SegmentCode SegmentKind = iota
	SegmentData
	SegmentBSS
)

// Reloc32 is one HUNK_RELOC32 block: at each offset in Offsets (within
// this segment), add the load address of segment TargetHunk.
type Reloc32 struct {
	TargetHunk int
	Offsets    []uint32
}

// Segment is one loaded hunk: its kind, its contents (empty for BSS,
// which is size-only), and the relocations to apply once every
// segment's load address is known.
type Segment struct {
	Kind    SegmentKind
	Size    uint32 // bytes
	Data    []byte // nil for BSS
	Relocs  []Reloc32
}

// File is a parsed hunk executable: its segments in load order.
type File struct {
	Segments []Segment
}

// Parse parses a hunk executable. It implements exactly the subset
// spec.md §6 names: HUNK_HEADER, HUNK_CODE, HUNK_DATA, HUNK_BSS,
// HUNK_RELOC32, HUNK_END. A resident library name list in the header is
// skipped; overlay hunks and any other hunk type are rejected as
// malformed, since no handler in this bridge's target set uses them.
func Parse(path string, data []byte) (*File, error) {
	r := &reader{data: data}

	magic, err := r.u32()
	if err != nil || magic != typeHeader {
		return nil, loadErr(path, fmt.Errorf("expected HUNK_HEADER (0x%x), got 0x%x", typeHeader, magic))
	}

	// Resident library name list: a sequence of (length, name-longwords)
	// entries terminated by a zero length. This bridge's handlers never
	// carry one, but the loop must still be there to skip past it.
	for {
		n, err := r.u32()
		if err != nil {
			return nil, loadErr(path, err)
		}
		if n == 0 {
			break
		}
		if err := r.skip(int(n) * 4); err != nil {
			return nil, loadErr(path, err)
		}
	}

	tableSize, err := r.u32()
	if err != nil {
		return nil, loadErr(path, err)
	}
	firstHunk, err := r.u32()
	if err != nil {
		return nil, loadErr(path, err)
	}
	lastHunk, err := r.u32()
	if err != nil {
		return nil, loadErr(path, err)
	}
	if lastHunk < firstHunk || tableSize == 0 {
		return nil, loadErr(path, fmt.Errorf("invalid hunk range [%d,%d] of %d", firstHunk, lastHunk, tableSize))
	}

	sizes := make([]uint32, tableSize)
	for i := range sizes {
		longs, err := r.u32()
		if err != nil {
			return nil, loadErr(path, err)
		}
		sizes[i] = longs * 4
	}

	f := &File{Segments: make([]Segment, tableSize)}
	for idx := firstHunk; idx <= lastHunk; idx++ {
		seg, err := parseSegment(r, sizes[idx])
		if err != nil {
			return nil, loadErr(path, fmt.Errorf("hunk %d: %w", idx, err))
		}
		f.Segments[idx] = seg
	}
	return f, nil
}

func parseSegment(r *reader, declaredSize uint32) (Segment, error) {
	hunkType, err := r.u32()
	if err != nil {
		return Segment{}, err
	}

	var seg Segment
	switch hunkType {
	case typeCode, typeData:
		if hunkType == typeCode {
			seg.Kind = SegmentCode
		} else {
			seg.Kind = SegmentData
		}
		longs, err := r.u32()
		if err != nil {
			return Segment{}, err
		}
		data, err := r.bytes(int(longs) * 4)
		if err != nil {
			return Segment{}, err
		}
		seg.Data = data
		seg.Size = uint32(len(data))
	case typeBSS:
		seg.Kind = SegmentBSS
		longs, err := r.u32()
		if err != nil {
			return Segment{}, err
		}
		seg.Size = longs * 4
	default:
		return Segment{}, fmt.Errorf("unsupported leading hunk type 0x%x", hunkType)
	}
	if seg.Size < declaredSize {
		seg.Size = declaredSize
	}

	for {
		marker, err := r.u32()
		if err != nil {
			return Segment{}, err
		}
		if marker == typeEnd {
			return seg, nil
		}
		if marker != typeReloc32 {
			return Segment{}, fmt.Errorf("unexpected hunk type 0x%x before HUNK_END", marker)
		}
		for {
			count, err := r.u32()
			if err != nil {
				return Segment{}, err
			}
			if count == 0 {
				break
			}
			target, err := r.u32()
			if err != nil {
				return Segment{}, err
			}
			offsets := make([]uint32, count)
			for i := range offsets {
				offsets[i], err = r.u32()
				if err != nil {
					return Segment{}, err
				}
			}
			seg.Relocs = append(seg.Relocs, Reloc32{TargetHunk: int(target), Offsets: offsets})
		}
	}
}

func loadErr(path string, err error) error {
	return &amierr.HandlerLoadError{Path: path, Err: err}
}

// reader is a forward-only big-endian cursor over a hunk file's bytes.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("truncated hunk file at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("truncated hunk file at offset %d, need %d bytes", r.pos, n)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) skip(n int) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("truncated hunk file at offset %d, need to skip %d bytes", r.pos, n)
	}
	r.pos += n
	return nil
}
