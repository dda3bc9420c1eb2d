// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package execkernel

import (
	"fmt"
	"sync"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// Kernel is the virtual Exec microkernel a loaded handler's traps are
// wired against. It owns the handler's one Task, its message ports, and
// memory allocation out of the shared Arena.
//
// mp_MsgList is never walked by real m68k code in this bridge: every
// access to a port's queue goes through PutMsg/GetMsg/WaitPort, all of
// which are host traps. Kernel therefore keeps each port's queue as a
// plain Go slice rather than threading an Amiga List through RAM — a
// deliberate simplification, not a faithfulness gap, since nothing ever
// inspects mp_MsgList's bytes directly.
type Kernel struct {
	mem   *memlayout.Memory
	arena *memlayout.Arena

	mu sync.Mutex

	task Task

	namedPorts map[string]uint32
	portBits   map[uint32]uint
	portQueue  map[uint32][]uint32
	hostPorts  map[uint32]bool

	libraries map[string]uint32
	devices   map[string]Device
	openReqs  map[uint32]Device

	anyPortCreated bool
	onFirstPort    func(portAddr uint32)
}

// New creates a Kernel backed by mem/arena, with its single Task placed
// at taskAddr (a caller-chosen spot, in the kernel region for every
// caller in this module; the handler
// never dereferences its own Task struct fields, so no further layout
// is required there).
func New(mem *memlayout.Memory, arena *memlayout.Arena, taskAddr uint32) *Kernel {
	return &Kernel{
		mem:        mem,
		arena:      arena,
		task:       Task{Addr: taskAddr, State: TaskReady},
		namedPorts: make(map[string]uint32),
		portBits:   make(map[uint32]uint),
		portQueue:  make(map[uint32][]uint32),
		hostPorts:  make(map[uint32]bool),
		libraries:  make(map[string]uint32),
		devices:    make(map[string]Device),
		openReqs:   make(map[uint32]Device),
	}
}

// OnFirstPort installs a callback fired synchronously the first time
// the handler successfully creates a named port. internal/hunk's
// bootstrap uses this to learn the handler's input port address the
// instant it exists, so it can deliver the startup packet without
// polling (spec.md §4.4).
func (k *Kernel) OnFirstPort(fn func(portAddr uint32)) {
	k.onFirstPort = fn
}

// RegisterHostPort marks addr as a valid PutMsg/GetMsg target that
// belongs to the host side, not the emulated task — internal/hunk's
// bootstrap uses this for the reply port it watches while waiting for
// the startup packet to come back, and internal/bridge uses it for the
// reply port each packet call watches. Such a port never has a signal
// bit and never wakes the task; only the host polls it directly via
// GetMsg.
func (k *Kernel) RegisterHostPort(addr uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hostPorts[addr] = true
	k.portQueue[addr] = nil
}

// TaskState reports the handler task's current run state.
func (k *Kernel) TaskState() TaskState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.task.State
}

// AllocMem implements exec.library's AllocMem: size bytes out of the
// heap region, pre-zeroed by Arena.Alloc regardless of whether the
// caller asked for MEMF_CLEAR, matching this bridge's simplified
// allocator (spec.md §3).
func (k *Kernel) AllocMem(size uint32) (uint32, error) {
	return k.arena.Alloc(memlayout.RegionHeap, size, 4)
}

// FreeMem implements exec.library's FreeMem. The arena frees on a
// best-effort basis only; see memlayout.Arena.Free.
func (k *Kernel) FreeMem(addr, size uint32) {
	k.arena.Free(memlayout.RegionHeap, addr, size)
}

// FindTask implements exec.library's FindTask(NULL): this bridge never
// runs more than one task, so it always returns the handler's own Task.
func (k *Kernel) FindTask() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.task.Addr
}

// CreatePort implements exec.library's CreatePort: allocates a MsgPort,
// assigns it a fresh signal bit, binds it to the handler task, and (for
// a named port) registers it for FindPort lookups.
func (k *Kernel) CreatePort(name string) (uint32, error) {
	k.mu.Lock()

	bit, ok := k.task.allocSignalBit()
	if !ok {
		k.mu.Unlock()
		return 0, fmt.Errorf("execkernel: no free signal bits for port %q", name)
	}

	addr, err := k.arena.Alloc(memlayout.RegionHeap, dos.MsgPortSize, 2)
	if err != nil {
		k.task.freeSignalBit(bit)
		k.mu.Unlock()
		return 0, err
	}
	port := dos.MsgPort{Addr: addr}
	if err := port.SetSigTask(k.mem, k.task.Addr); err != nil {
		k.mu.Unlock()
		return 0, err
	}
	if err := port.Node().SetType(k.mem, dos.NTMsgPort); err != nil {
		k.mu.Unlock()
		return 0, err
	}

	k.portBits[addr] = bit
	k.portQueue[addr] = nil
	firstPort := !k.anyPortCreated
	k.anyPortCreated = true
	if name != "" {
		k.namedPorts[name] = addr
	}
	hook := k.onFirstPort
	k.mu.Unlock()

	// Fired outside the lock: the hook (internal/hunk's bootstrap) calls
	// back into PutMsg to deliver the startup packet, which needs k.mu
	// itself.
	if firstPort && hook != nil {
		hook(addr)
	}
	return addr, nil
}

// DeletePort implements exec.library's DeletePort.
func (k *Kernel) DeletePort(addr uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if bit, ok := k.portBits[addr]; ok {
		k.task.freeSignalBit(bit)
		delete(k.portBits, addr)
	}
	delete(k.portQueue, addr)
	for name, a := range k.namedPorts {
		if a == addr {
			delete(k.namedPorts, name)
		}
	}
}

// FindPort implements exec.library's FindPort.
func (k *Kernel) FindPort(name string) uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.namedPorts[name]
}

// PutMsg implements exec.library's PutMsg: enqueues msgAddr on portAddr
// and, if the handler task is waiting on that port's signal bit, wakes
// it.
func (k *Kernel) PutMsg(portAddr, msgAddr uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	bit, isTaskPort := k.portBits[portAddr]
	if !isTaskPort && !k.hostPorts[portAddr] {
		return &amierr.ProtocolViolation{Detail: fmt.Sprintf("PutMsg to unknown port %#x", portAddr)}
	}
	k.portQueue[portAddr] = append(k.portQueue[portAddr], msgAddr)
	if isTaskPort {
		k.task.post(bit)
	}
	return nil
}

// GetMsg implements exec.library's GetMsg: pops the oldest message on
// portAddr, or returns 0 if the port is empty.
func (k *Kernel) GetMsg(portAddr uint32) (uint32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	q := k.portQueue[portAddr]
	if len(q) == 0 {
		return 0, nil
	}
	k.portQueue[portAddr] = q[1:]
	return q[0], nil
}

// WaitPort implements exec.library's WaitPort: blocks (from the
// caller's perspective) until portAddr has a message, returning once
// one is available. ok is false if none was available and the task
// should be reported idle to the driving emu.Emulator.
func (k *Kernel) WaitPort(portAddr uint32) (ok bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	bit, known := k.portBits[portAddr]
	if !known {
		return false, &amierr.ProtocolViolation{Detail: fmt.Sprintf("WaitPort on unknown port %#x", portAddr)}
	}
	_, woke := k.task.wait(uint32(1) << bit)
	return woke, nil
}

// Wait implements exec.library's Wait: like WaitPort but against an
// arbitrary signal mask, returning the subset of mask that was set.
func (k *Kernel) Wait(mask uint32) (received uint32, idle bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	received, ok := k.task.wait(mask)
	return received, !ok
}

// ReplyMsg implements exec.library's ReplyMsg: delivers msgAddr back to
// its mn_ReplyPort. Used by this bridge to carry a completed DosPacket
// back to the host side (internal/bridge), not to another emulated
// task.
func (k *Kernel) ReplyMsg(msgAddr uint32) error {
	replyPort, err := dos.Message{Addr: msgAddr}.ReplyPort(k.mem)
	if err != nil {
		return err
	}
	return k.PutMsg(replyPort, msgAddr)
}

// Library and device vector tables adapt the Kernel methods above to
// emu.TrapFunc signatures; see library.go and device.go.
