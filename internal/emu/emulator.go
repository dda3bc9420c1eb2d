// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package emu defines the contract this module expects from an m68k CPU
// emulator. The emulator itself — decoding and executing real m68k
// instructions — is an excluded external collaborator (spec.md §1, §6):
// this package only names what internal/execkernel, internal/hunk, and
// internal/bridge need from one, so they can be built and tested against
// a Fake implementation without linking a real core.
package emu

// Registers is the m68k register file an Emulator exposes for trap
// handlers and bootstrap setup to read and write: eight data registers,
// eight address registers (A7 doubling as the stack pointer), and the
// program counter.
type Registers struct {
	D  [8]uint32
	A  [8]uint32
	PC uint32
}

// SP returns the stack pointer, A7.
func (r *Registers) SP() uint32 { return r.A[7] }

// SetSP sets the stack pointer, A7.
func (r *Registers) SetSP(v uint32) { r.A[7] = v }

// TrapFunc is a host-implemented library or device vector. It receives
// the live register file (arguments arrive in the registers the AmigaOS
// calling convention for that vector specifies, typically D0/A0/A1/A6)
// and returns whether the calling task should be considered idle
// afterward — true when a WaitPort/Wait found nothing to wake it and the
// emulator should stop driving this task until something else changes.
//
// A TrapFunc never touches PC. The caller reached the trap address via
// JSR, which already pushed a return address onto the stack; after a
// TrapFunc returns, the Emulator performs the equivalent of RTS itself
// (pop the return address, jump to it) before resuming, exactly as if
// the trapped address held real code ending in RTS.
type TrapFunc func(regs *Registers) (idle bool, err error)

// Emulator is the subset of a real m68k core this module drives. A CPU
// implementing it is single-owner per spec.md §3: nothing calls its
// methods concurrently, which is why Emulator itself does not need to be
// safe for concurrent use.
type Emulator interface {
	// Reset clears registers and any internal CPU state.
	Reset()

	// Registers returns a pointer to the live register file. Callers may
	// mutate it directly, e.g. to seed A0/A6/A7 before starting a task
	// (spec.md §4.4).
	Registers() *Registers

	// InstallTrap registers h to run whenever the CPU's program counter
	// reaches addr, in place of decoding whatever instruction word is
	// there — standing in for the real A-line trap mechanism spec.md §6
	// describes (opcodes 0xA000–0xAFFF).
	InstallTrap(addr uint32, h TrapFunc)

	// RunCycles executes at most n cycles starting from the current
	// register state, stopping early if a trap reports idle or returns
	// an error. used reports how many cycles were actually consumed;
	// idle reports whether the run stopped because the running task had
	// nothing left to do (the cooperative-yield point described in
	// spec.md §5's "suspension points").
	RunCycles(n uint64) (used uint64, idle bool, err error)
}
