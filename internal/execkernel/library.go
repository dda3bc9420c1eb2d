// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package execkernel

import (
	"github.com/reinauer/AmiFUSE/internal/emu"
)

// vectorSlotSize is the byte size of one library jump-table slot: a
// trap opcode word followed by the absolute address the real jump
// table would hold, matching the 6-byte JMP-sized slots AmigaOS
// libraries use.
const vectorSlotSize = 6

// trapOpcodeBase is the low word of the A-line opcode range spec.md §6
// assigns to host traps (0xA000–0xAFFF). Each installed vector gets a
// distinct opcode only so a memory dump is self-describing; the
// dispatch itself is keyed by address, not by decoding this word.
const trapOpcodeBase = 0xA000

// Exec vector indices this kernel implements, in installation order.
const (
	vecAllocMem = iota
	vecFreeMem
	vecFindTask
	vecCreatePort
	vecDeletePort
	vecFindPort
	vecPutMsg
	vecGetMsg
	vecWaitPort
	vecWait
	vecReplyMsg
	vecOpenLibrary
	execVectorCount
)

// execVectorOffset returns the byte offset (negative, from the library
// base) of vector index idx, using this kernel's own self-consistent
// slot assignment. It does not reproduce the historical AmigaOS
// exec_lib.i offsets: the real CPU core that would make that matter is
// outside this repository (spec.md §1), and nothing in this bridge
// needs byte-for-byte agreement with it — only internal consistency
// between the table InstallExecLibrary writes and the dispatch it
// installs.
func execVectorOffset(idx int) int32 {
	return -int32((idx + 1) * vectorSlotSize)
}

// InstallExecLibrary writes the jump table for exec.library's subset
// implemented by this kernel, starting at base, and installs a trap at
// each slot. It also registers "exec.library" for OpenLibrary lookups.
func (k *Kernel) InstallExecLibrary(em emu.Emulator, base uint32) error {
	handlers := [execVectorCount]emu.TrapFunc{
		vecAllocMem:    k.trapAllocMem,
		vecFreeMem:     k.trapFreeMem,
		vecFindTask:    k.trapFindTask,
		vecCreatePort:  k.trapCreatePort,
		vecDeletePort:  k.trapDeletePort,
		vecFindPort:    k.trapFindPort,
		vecPutMsg:      k.trapPutMsg,
		vecGetMsg:      k.trapGetMsg,
		vecWaitPort:    k.trapWaitPort,
		vecWait:        k.trapWait,
		vecReplyMsg:    k.trapReplyMsg,
		vecOpenLibrary: k.trapOpenLibrary,
	}
	for idx, h := range handlers {
		addr := uint32(int32(base) + execVectorOffset(idx))
		if err := k.mem.WriteU16(addr, trapOpcodeBase+uint16(idx)); err != nil {
			return err
		}
		em.InstallTrap(addr, h)
	}
	k.mu.Lock()
	k.libraries["exec.library"] = base
	k.mu.Unlock()
	return nil
}

// RegisterStubLibrary makes OpenLibrary(name) succeed with a base
// address that resolves, but whose vector table is empty: used for
// libraries (dos.library, utility.library) a handler opens defensively
// but whose functions this bridge's target handlers never actually
// call, since their real work arrives as DosPackets, not library
// calls.
func (k *Kernel) RegisterStubLibrary(name string, base uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.libraries[name] = base
}

func (k *Kernel) trapAllocMem(regs *emu.Registers) (idle bool, err error) {
	size := regs.D[0]
	addr, err := k.AllocMem(size)
	if err != nil {
		return false, err
	}
	regs.D[0] = addr
	return false, nil
}

func (k *Kernel) trapFreeMem(regs *emu.Registers) (idle bool, err error) {
	k.FreeMem(regs.A[1], regs.D[0])
	return false, nil
}

func (k *Kernel) trapFindTask(regs *emu.Registers) (idle bool, err error) {
	regs.D[0] = k.FindTask()
	return false, nil
}

func (k *Kernel) trapCreatePort(regs *emu.Registers) (idle bool, err error) {
	name, err := k.readOptionalName(regs.A[0])
	if err != nil {
		return false, err
	}
	addr, err := k.CreatePort(name)
	if err != nil {
		return false, err
	}
	regs.D[0] = addr
	return false, nil
}

func (k *Kernel) trapDeletePort(regs *emu.Registers) (idle bool, err error) {
	k.DeletePort(regs.A[0])
	return false, nil
}

func (k *Kernel) trapFindPort(regs *emu.Registers) (idle bool, err error) {
	name, err := k.readOptionalName(regs.A[0])
	if err != nil {
		return false, err
	}
	regs.D[0] = k.FindPort(name)
	return false, nil
}

func (k *Kernel) trapPutMsg(regs *emu.Registers) (idle bool, err error) {
	if err := k.PutMsg(regs.A[0], regs.A[1]); err != nil {
		return false, err
	}
	return false, nil
}

func (k *Kernel) trapGetMsg(regs *emu.Registers) (idle bool, err error) {
	msg, err := k.GetMsg(regs.A[0])
	if err != nil {
		return false, err
	}
	regs.D[0] = msg
	return false, nil
}

func (k *Kernel) trapWaitPort(regs *emu.Registers) (idle bool, err error) {
	ok, err := k.WaitPort(regs.A[0])
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	head, err := k.GetMsg(regs.A[0])
	if err != nil {
		return false, err
	}
	// WaitPort leaves the message queued; put it back at the front.
	k.mu.Lock()
	k.portQueue[regs.A[0]] = append([]uint32{head}, k.portQueue[regs.A[0]]...)
	k.mu.Unlock()
	regs.D[0] = head
	return false, nil
}

func (k *Kernel) trapWait(regs *emu.Registers) (idle bool, err error) {
	received, waiting := k.Wait(regs.D[0])
	if waiting {
		return true, nil
	}
	regs.D[0] = received
	return false, nil
}

func (k *Kernel) trapReplyMsg(regs *emu.Registers) (idle bool, err error) {
	if err := k.ReplyMsg(regs.A[1]); err != nil {
		return false, err
	}
	return false, nil
}

func (k *Kernel) trapOpenLibrary(regs *emu.Registers) (idle bool, err error) {
	name, err := k.mem.ReadCString(regs.A[1])
	if err != nil {
		return false, err
	}
	k.mu.Lock()
	base := k.libraries[name]
	k.mu.Unlock()
	regs.D[0] = base
	return false, nil
}

func (k *Kernel) readOptionalName(addr uint32) (string, error) {
	if addr == 0 {
		return "", nil
	}
	return k.mem.ReadCString(addr)
}
