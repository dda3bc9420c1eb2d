// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package hunk

import (
	"time"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/clock"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/emu"
	"github.com/reinauer/AmiFUSE/internal/execkernel"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// DefaultBootCycles and DefaultBootTimeout are the bootstrap's budgets
// when BootConfig leaves them zero (spec.md §4.4).
const (
	DefaultBootCycles  uint64        = 200_000_000
	DefaultBootTimeout time.Duration = 5 * time.Second

	bootSlice = 10_000
)

// BootConfig describes the startup DosPacket the bootstrap delivers to
// a freshly loaded handler.
type BootConfig struct {
	// DeviceName is the AmigaDOS device name the handler is mounting
	// itself as (e.g. "DH0"), carried as both dp_Arg1 and
	// fssm_Device.
	DeviceName string
	// Unit is fssm_Unit, conventionally the partition's unit number.
	Unit uint32
	// Flags is fssm_Flags; this bridge never sets any, but the field
	// exists for a handler that inspects it.
	Flags uint32
	// Envec is the environment vector: geometry and DosType, from
	// internal/trackdisk's RDB parse or a synthesized fallback.
	Envec [dos.DosEnvecFieldCount]uint32

	// MaxCycles and Timeout override the defaults above when nonzero.
	MaxCycles uint64
	Timeout   time.Duration
}

// Boot places cfg's startup packet on the handler's first message port
// the instant the handler creates one, then drives em in bounded slices
// until the handler replies or one of cfg's budgets runs out. On
// success it returns dp_Res2 from the reply (the root lock, by AmigaDOS
// convention for ActionStartup) and the handler port address, which
// internal/bridge reuses as the target of every later packet call —
// real filesystem handlers service all DosPackets on the one port they
// created at startup.
func Boot(em emu.Emulator, k *execkernel.Kernel, mem *memlayout.Memory, arena *memlayout.Arena, clk clock.Clock, cfg BootConfig) (rootLock int32, handlerPort uint32, err error) {
	maxCycles := cfg.MaxCycles
	if maxCycles == 0 {
		maxCycles = DefaultBootCycles
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultBootTimeout
	}

	envecAddr, err := arena.Alloc(memlayout.RegionHeap, dos.DosEnvecSize, 4)
	if err != nil {
		return 0, 0, err
	}
	envec := dos.DosEnvec{Addr: envecAddr}
	for i, v := range cfg.Envec {
		if err := envec.SetField(mem, i, v); err != nil {
			return 0, 0, err
		}
	}

	deviceNameAddr, err := arena.Alloc(memlayout.RegionHeap, uint32(len(cfg.DeviceName))+1, 2)
	if err != nil {
		return 0, 0, err
	}
	if err := mem.WriteBSTR(deviceNameAddr, cfg.DeviceName); err != nil {
		return 0, 0, err
	}

	fssmAddr, err := arena.Alloc(memlayout.RegionHeap, dos.FileSysStartupMsgSize, 4)
	if err != nil {
		return 0, 0, err
	}
	fssm := dos.FileSysStartupMsg{Addr: fssmAddr}
	if err := fssm.SetUnit(mem, cfg.Unit); err != nil {
		return 0, 0, err
	}
	if err := fssm.SetDevice(mem, memlayout.AddrToBPTR(deviceNameAddr)); err != nil {
		return 0, 0, err
	}
	if err := fssm.SetEnviron(mem, memlayout.AddrToBPTR(envecAddr)); err != nil {
		return 0, 0, err
	}
	if err := fssm.SetFlags(mem, cfg.Flags); err != nil {
		return 0, 0, err
	}

	pktMemAddr, err := arena.Alloc(memlayout.RegionHeap, dos.StandardPacketSize, 4)
	if err != nil {
		return 0, 0, err
	}
	sp, err := dos.NewStandardPacket(mem, pktMemAddr)
	if err != nil {
		return 0, 0, err
	}
	pkt := sp.Packet()
	if err := pkt.SetType(mem, dos.ActionStartup); err != nil {
		return 0, 0, err
	}
	if err := pkt.SetArg(mem, 1, int32(memlayout.AddrToBPTR(deviceNameAddr))); err != nil {
		return 0, 0, err
	}
	if err := pkt.SetArg(mem, 2, int32(memlayout.AddrToBPTR(envecAddr))); err != nil {
		return 0, 0, err
	}
	if err := pkt.SetArg(mem, 3, int32(fssmAddr)); err != nil {
		return 0, 0, err
	}

	// replyPortAddr is host-owned: the bootstrap polls it directly via
	// GetMsg rather than waking any task, since the host isn't a Task
	// this kernel schedules.
	replyPortAddr, err := arena.Alloc(memlayout.RegionHeap, dos.MsgPortSize, 2)
	if err != nil {
		return 0, 0, err
	}
	k.RegisterHostPort(replyPortAddr)
	if err := sp.Message().SetReplyPort(mem, replyPortAddr); err != nil {
		return 0, 0, err
	}

	delivered := false
	var deliverErr error
	k.OnFirstPort(func(portAddr uint32) {
		if delivered {
			return
		}
		delivered = true
		handlerPort = portAddr
		if err := pkt.SetPort(mem, replyPortAddr); err != nil {
			deliverErr = err
			return
		}
		deliverErr = k.PutMsg(portAddr, sp.MsgAddr)
	})

	deadline := clk.Now().Add(timeout)
	var cyclesSpent uint64
	for cyclesSpent < maxCycles {
		if deliverErr != nil {
			return 0, 0, deliverErr
		}
		if clk.Now().After(deadline) {
			return 0, 0, &amierr.HandlerBootFailed{Reason: "wall-clock timeout waiting for startup packet reply"}
		}

		slice := uint64(bootSlice)
		if remaining := maxCycles - cyclesSpent; remaining < slice {
			slice = remaining
		}
		used, _, err := em.RunCycles(slice)
		cyclesSpent += used
		if err != nil {
			return 0, 0, err
		}

		msg, err := k.GetMsg(replyPortAddr)
		if err != nil {
			return 0, 0, err
		}
		if msg != 0 {
			replyPkt, err := dos.PacketFromMessage(mem, dos.Message{Addr: msg})
			if err != nil {
				return 0, 0, err
			}
			res1, err := replyPkt.Res1(mem)
			if err != nil {
				return 0, 0, err
			}
			res2, err := replyPkt.Res2(mem)
			if err != nil {
				return 0, 0, err
			}
			if res1 == 0 {
				return 0, 0, &amierr.HandlerBootFailed{Result1: res1, Result2: res2}
			}
			return res2, handlerPort, nil
		}
	}
	return 0, 0, &amierr.HandlerBootFailed{Reason: "cycle budget exhausted waiting for startup packet reply"}
}
