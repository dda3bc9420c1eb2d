// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package hunk

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// DefaultInspectBase is the relocation base Inspect uses when the caller
// doesn't need a particular address. It is a fixed scratch address, not
// the base cmd/amifuse gives RegionSegments for a real mount.
const DefaultInspectBase = 0x100000

// SegmentReport is one segment's entry in a Report.
type SegmentReport struct {
	ID         int
	Kind       SegmentKind
	Size       uint32
	RelocsTo   []int
	FirstBytes string // hex of up to the first 16 bytes, empty for BSS
}

// Report is a hunk file's relocation-readiness summary: segment sizes,
// types, and cross-references, and the memory footprint the file would
// occupy once loaded at BaseAddr. It never touches execkernel or emu —
// Inspect only needs internal/hunk's own Parse and Load.
type Report struct {
	Path         string
	BaseAddr     uint32
	FootprintLen uint32
	Segments     []SegmentReport
}

func (k SegmentKind) String() string {
	switch k {
	case SegmentCode:
		return "CODE"
	case SegmentData:
		return "DATA"
	case SegmentBSS:
		return "BSS"
	default:
		return "???"
	}
}

// Inspect parses path's hunk contents, relocates it against a scratch
// address space starting at baseAddr, and reports the result without
// booting anything — the standalone "-inspect" CLI mode's engine.
func Inspect(path string, data []byte, baseAddr uint32) (*Report, error) {
	f, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	var total uint32
	for _, seg := range f.Segments {
		total += seg.Size + 4
	}

	mem := memlayout.New(int(baseAddr) + int(total))
	arena, err := memlayout.NewArena(mem, baseAddr, total, 0, 0)
	if err != nil {
		return nil, err
	}
	loaded, err := Load(mem, arena, f)
	if err != nil {
		return nil, err
	}

	report := &Report{Path: path, BaseAddr: baseAddr, Segments: make([]SegmentReport, len(f.Segments))}
	for i, seg := range f.Segments {
		var relocs []int
		for _, r := range seg.Relocs {
			relocs = append(relocs, r.TargetHunk)
		}
		firstBytes := ""
		if seg.Data != nil {
			n := len(seg.Data)
			if n > 16 {
				n = 16
			}
			firstBytes = hex.EncodeToString(seg.Data[:n])
		}
		report.Segments[i] = SegmentReport{
			ID:         i,
			Kind:       seg.Kind,
			Size:       seg.Size,
			RelocsTo:   relocs,
			FirstBytes: firstBytes,
		}
	}
	if len(f.Segments) > 0 {
		lastIdx := len(f.Segments) - 1
		report.FootprintLen = (loaded.CodeAddrs[lastIdx] + f.Segments[lastIdx].Size) - loaded.CodeAddrs[0]
	}
	return report, nil
}

// Print writes r in the multi-line form cmd/amifuse's "-inspect" flag
// shows on stdout.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Binary: %s\n", r.Path)
	fmt.Fprintf(w, "Segments: %d  base=0x%x  footprint=%d bytes\n", len(r.Segments), r.BaseAddr, r.FootprintLen)
	for _, seg := range r.Segments {
		relocs := "-"
		if len(seg.RelocsTo) > 0 {
			relocs = ""
			for i, t := range seg.RelocsTo {
				if i > 0 {
					relocs += ","
				}
				relocs += fmt.Sprintf("%d", t)
			}
		}
		fmt.Fprintf(w, "  #%02d %-4s size=%6d relocs->%s first16=%s\n", seg.ID, seg.Kind, seg.Size, relocs, seg.FirstBytes)
	}
}
