// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package emu

import "fmt"

// trapCost is the cycle cost FakeEmulator charges for each trap
// dispatch. It has no bearing on real m68k timing; it only needs to be
// large enough that a bounded RunCycles budget advances in a small,
// predictable number of dispatches, so tests can assert on budgets
// without tuning magic numbers.
const trapCost = 20

// stack is the minimal memory access FakeEmulator needs: reading the
// return address a JSR left on top of the stack, so it can emulate RTS
// after a trap returns.
type stack interface {
	ReadU32(addr uint32) (uint32, error)
}

// FakeEmulator is a scripted stand-in for a real m68k core, used by
// internal/execkernel, internal/hunk, and internal/bridge tests. It
// does not decode m68k instructions: every program counter value it is
// ever asked to run at must have a trap installed there, reached (as on
// real hardware) by the caller's own JSR pushing a return address onto
// the stack first. After the trap returns, FakeEmulator pops that
// address and resumes there, exactly as RTS would.
type FakeEmulator struct {
	regs  Registers
	mem   stack
	traps map[uint32]TrapFunc
}

// NewFake returns a FakeEmulator with no traps installed. mem is used
// only to read return addresses off the stack after a trap completes.
func NewFake(mem stack) *FakeEmulator {
	return &FakeEmulator{mem: mem, traps: make(map[uint32]TrapFunc)}
}

func (f *FakeEmulator) Reset() {
	f.regs = Registers{}
}

func (f *FakeEmulator) Registers() *Registers { return &f.regs }

func (f *FakeEmulator) InstallTrap(addr uint32, h TrapFunc) {
	f.traps[addr] = h
}

func (f *FakeEmulator) RunCycles(n uint64) (used uint64, idle bool, err error) {
	for used < n {
		h, ok := f.traps[f.regs.PC]
		if !ok {
			return used, false, fmt.Errorf("emu: no trap installed at pc %#x", f.regs.PC)
		}
		idle, err = h(&f.regs)
		used += trapCost
		if err != nil {
			return used, idle, err
		}
		if idle {
			return used, true, nil
		}
		ret, err := f.mem.ReadU32(f.regs.SP())
		if err != nil {
			return used, false, fmt.Errorf("emu: popping return address: %w", err)
		}
		f.regs.SetSP(f.regs.SP() + 4)
		f.regs.PC = ret
	}
	return used, false, nil
}
