// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/reinauer/AmiFUSE/internal/emu"
)

// newCPU constructs the real m68k core that decodes and executes the
// handler binary's own instructions between trap calls. It is the one
// piece this binary never ships: spec.md treats the CPU core as an
// external collaborator, and internal/emu's FakeEmulator only dispatches
// installed traps, so it cannot run arbitrary compiled code (see
// internal/emu's package doc).
//
// A deployment that links a real core replaces this file (same build
// constraints, same signature) with one that returns a working
// emu.Emulator backed by that core's AddressBus, reading and writing
// through mem.
func newCPU(mem cpuMemory) (emu.Emulator, error) {
	return nil, fmt.Errorf("amifuse: no m68k CPU core linked into this binary; internal/emu.Emulator needs a concrete implementation (spec.md §1, §6)")
}

// cpuMemory is the memory access a real core's AddressBus would need.
// newCPU's stub does not use it; it is declared so a real
// implementation's signature doesn't require touching callers.
type cpuMemory interface {
	ReadU32(addr uint32) (uint32, error)
	WriteU32(addr uint32, v uint32) error
}
