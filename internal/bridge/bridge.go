// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"sync"
	"time"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/clock"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/emu"
	"github.com/reinauer/AmiFUSE/internal/execkernel"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
	"github.com/reinauer/AmiFUSE/internal/trace"
)

// DefaultCallCycles and DefaultCallTimeout are the per-packet budgets
// when Bridge is constructed without overrides (spec.md §4.5, §7).
const (
	DefaultCallCycles  uint64        = 100_000_000
	DefaultCallTimeout time.Duration = 10 * time.Second

	callSlice = 10_000
)

// Bridge drives the synchronous AmigaDOS packet RPC against a booted
// handler. One Bridge serves one mount; HandlerPort is the port the
// handler created at startup (internal/hunk.Boot's return value) and
// every packet Call delivers to.
type Bridge struct {
	em    emu.Emulator
	k     *execkernel.Kernel
	mem   *memlayout.Memory
	clk   clock.Clock
	trace *trace.Writer

	handlerPort uint32
	replyPort   uint32
	pool        *packetPool

	maxCycles uint64
	timeout   time.Duration

	// cpuLock serializes every Call: spec.md §4.5's "the bridge is not
	// re-entrant" rule. FUSE requests arriving in parallel queue here.
	cpuLock sync.Mutex
}

// Config carries the pieces New needs beyond the handler port, plus
// optional overrides.
type Config struct {
	MaxCycles uint64
	Timeout   time.Duration
	// Trace, if non-nil, receives one Record per Call.
	Trace *trace.Writer
}

// New constructs a Bridge targeting handlerPort, the port the handler
// created during internal/hunk.Boot.
func New(em emu.Emulator, k *execkernel.Kernel, mem *memlayout.Memory, arena *memlayout.Arena, clk clock.Clock, handlerPort uint32, cfg Config) (*Bridge, error) {
	replyPort, err := arena.Alloc(memlayout.RegionHeap, dos.MsgPortSize, 2)
	if err != nil {
		return nil, err
	}
	k.RegisterHostPort(replyPort)

	maxCycles := cfg.MaxCycles
	if maxCycles == 0 {
		maxCycles = DefaultCallCycles
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	return &Bridge{
		em:          em,
		k:           k,
		mem:         mem,
		clk:         clk,
		trace:       cfg.Trace,
		handlerPort: handlerPort,
		replyPort:   replyPort,
		pool:        newPacketPool(arena),
		maxCycles:   maxCycles,
		timeout:     timeout,
	}, nil
}

// Outstanding reports how many packets are currently allocated from the
// pool and not yet returned — zero at quiescence is the invariant
// spec.md §5 names.
func (b *Bridge) Outstanding() int {
	b.cpuLock.Lock()
	defer b.cpuLock.Unlock()
	return b.pool.Outstanding()
}

// Call builds a DosPacket with the given action and arguments, delivers
// it to the handler's port, drives the emulator until the handler
// replies, and returns dp_Res1/dp_Res2. It holds the CPU lock for its
// entire duration.
func (b *Bridge) Call(action int32, args [7]int32) (res1, res2 int32, err error) {
	b.cpuLock.Lock()
	defer b.cpuLock.Unlock()

	pktMemAddr, err := b.pool.get()
	if err != nil {
		return 0, 0, err
	}

	sp, err := dos.NewStandardPacket(b.mem, pktMemAddr)
	if err != nil {
		return 0, 0, err
	}
	pkt := sp.Packet()
	if err := pkt.SetType(b.mem, action); err != nil {
		return 0, 0, err
	}
	if err := pkt.SetPort(b.mem, b.replyPort); err != nil {
		return 0, 0, err
	}
	for i, a := range args {
		if err := pkt.SetArg(b.mem, i+1, a); err != nil {
			return 0, 0, err
		}
	}
	if err := sp.Message().SetReplyPort(b.mem, b.replyPort); err != nil {
		return 0, 0, err
	}

	if err := b.k.PutMsg(b.handlerPort, sp.MsgAddr); err != nil {
		b.pool.put(pktMemAddr)
		return 0, 0, err
	}

	res1, res2, cycles, callErr := b.drive(action)
	b.pool.put(pktMemAddr)

	if b.trace != nil {
		rec := trace.Record{
			Action:     action,
			Args:       args,
			Result1:    res1,
			Result2:    res2,
			CyclesUsed: cycles,
		}
		if callErr != nil {
			rec.Err = callErr.Error()
		}
		if werr := b.trace.Write(rec); werr != nil && callErr == nil {
			return res1, res2, werr
		}
	}
	return res1, res2, callErr
}

// drive resumes the emulator in bounded slices until pkt's reply
// arrives on the bridge's reply port or a budget runs out.
func (b *Bridge) drive(action int32) (res1, res2 int32, cyclesSpent uint64, err error) {
	deadline := b.clk.Now().Add(b.timeout)

	for cyclesSpent < b.maxCycles {
		if b.clk.Now().After(deadline) {
			return 0, 0, cyclesSpent, &amierr.PacketTimeout{Action: action, CyclesSpent: cyclesSpent}
		}

		slice := uint64(callSlice)
		if remaining := b.maxCycles - cyclesSpent; remaining < slice {
			slice = remaining
		}
		used, _, err := b.em.RunCycles(slice)
		cyclesSpent += used
		if err != nil {
			return 0, 0, cyclesSpent, err
		}

		msg, err := b.k.GetMsg(b.replyPort)
		if err != nil {
			return 0, 0, cyclesSpent, err
		}
		if msg == 0 {
			continue
		}
		replyPkt, err := dos.PacketFromMessage(b.mem, dos.Message{Addr: msg})
		if err != nil {
			return 0, 0, cyclesSpent, err
		}
		res1, err = replyPkt.Res1(b.mem)
		if err != nil {
			return 0, 0, cyclesSpent, err
		}
		res2, err = replyPkt.Res2(b.mem)
		if err != nil {
			return 0, 0, cyclesSpent, err
		}
		return res1, res2, cyclesSpent, nil
	}
	return 0, 0, cyclesSpent, &amierr.PacketTimeout{Action: action, CyclesSpent: cyclesSpent}
}
