// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"testing"
	"time"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/clock"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/emu"
	"github.com/reinauer/AmiFUSE/internal/execkernel"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
	"github.com/reinauer/AmiFUSE/internal/trace"
)

var bridgeEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// scriptedResponder answers whatever packet it finds on handlerPort
// with a fixed result, standing in for a handler binary without
// decoding any real instructions.
type scriptedResponder struct {
	k           *execkernel.Kernel
	mem         *memlayout.Memory
	handlerPort uint32
	res1, res2  int32
}

func (s *scriptedResponder) Reset()                                {}
func (s *scriptedResponder) Registers() *emu.Registers              { return &emu.Registers{} }
func (s *scriptedResponder) InstallTrap(addr uint32, h emu.TrapFunc) {}

func (s *scriptedResponder) RunCycles(n uint64) (used uint64, idle bool, err error) {
	msg, err := s.k.GetMsg(s.handlerPort)
	if err != nil {
		return n, false, err
	}
	if msg == 0 {
		return n, true, nil
	}
	pkt, err := dos.PacketFromMessage(s.mem, dos.Message{Addr: msg})
	if err != nil {
		return n, false, err
	}
	if err := pkt.SetRes1(s.mem, s.res1); err != nil {
		return n, false, err
	}
	if err := pkt.SetRes2(s.mem, s.res2); err != nil {
		return n, false, err
	}
	if err := s.k.ReplyMsg(msg); err != nil {
		return n, false, err
	}
	return n, false, nil
}

type neverRepliesHandler struct{}

func (neverRepliesHandler) Reset()                                {}
func (neverRepliesHandler) Registers() *emu.Registers              { return &emu.Registers{} }
func (neverRepliesHandler) InstallTrap(addr uint32, h emu.TrapFunc) {}
func (neverRepliesHandler) RunCycles(n uint64) (used uint64, idle bool, err error) {
	return n, true, nil
}

func newBridgeTestKernel(t *testing.T) (*execkernel.Kernel, *memlayout.Memory, *memlayout.Arena, uint32) {
	t.Helper()
	mem := memlayout.New(memlayout.DefaultSize)
	arena, err := memlayout.NewArena(mem, 0x1000, 0x1000, 0x1000, 0x20000)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	taskAddr, err := arena.Alloc(memlayout.RegionKernel, 64, 4)
	if err != nil {
		t.Fatalf("allocating task: %v", err)
	}
	k := execkernel.New(mem, arena, taskAddr)
	handlerPort, err := k.CreatePort("handler.msgport")
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}
	return k, mem, arena, handlerPort
}

func TestCallRoundTrip(t *testing.T) {
	k, mem, arena, handlerPort := newBridgeTestKernel(t)
	responder := &scriptedResponder{k: k, mem: mem, handlerPort: handlerPort, res1: -1, res2: 99}

	br, err := New(responder, k, mem, arena, clock.Fake(bridgeEpoch), handlerPort, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res1, res2, err := br.Call(dos.ActionIsFileSystem, [7]int32{1, 2, 3, 4, 5, 6, 7})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res1 != -1 || res2 != 99 {
		t.Fatalf("Call returned (%d, %d), want (-1, 99)", res1, res2)
	}
	if got := br.Outstanding(); got != 0 {
		t.Fatalf("Outstanding after Call = %d, want 0", got)
	}
}

func TestCallTimesOutOnCycleBudget(t *testing.T) {
	k, mem, arena, handlerPort := newBridgeTestKernel(t)

	br, err := New(neverRepliesHandler{}, k, mem, arena, clock.Fake(bridgeEpoch), handlerPort, Config{
		MaxCycles: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _, err = br.Call(dos.ActionRead, [7]int32{})
	if !amierr.IsPacketTimeout(err) {
		t.Fatalf("Call with exhausted cycle budget: got %v, want *amierr.PacketTimeout", err)
	}
	if got := br.Outstanding(); got != 0 {
		t.Fatalf("Outstanding after a timed-out Call = %d, want 0 (packet still returned to the pool)", got)
	}
}

func TestCallWritesTraceRecord(t *testing.T) {
	k, mem, arena, handlerPort := newBridgeTestKernel(t)
	responder := &scriptedResponder{k: k, mem: mem, handlerPort: handlerPort, res1: -1, res2: 7}

	var buf bytes.Buffer
	br, err := New(responder, k, mem, arena, clock.Fake(bridgeEpoch), handlerPort, Config{
		Trace: trace.NewWriter(&buf),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, err := br.Call(dos.ActionLocateObject, [7]int32{}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	rec, err := trace.NewReader(&buf).Next()
	if err != nil {
		t.Fatalf("reading trace record: %v", err)
	}
	if rec.Action != dos.ActionLocateObject || rec.Result1 != -1 || rec.Result2 != 7 {
		t.Fatalf("trace record = %+v, want action=%d result1=-1 result2=7", rec, dos.ActionLocateObject)
	}
}

func TestCallReusesPooledPacket(t *testing.T) {
	k, mem, arena, handlerPort := newBridgeTestKernel(t)
	responder := &scriptedResponder{k: k, mem: mem, handlerPort: handlerPort, res1: -1, res2: 1}
	br, err := New(responder, k, mem, arena, clock.Fake(bridgeEpoch), handlerPort, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The first call makes the one allocation the pool then reuses.
	if _, _, err := br.Call(dos.ActionExamineObject, [7]int32{}); err != nil {
		t.Fatalf("first Call: %v", err)
	}
	before := arena.Used(memlayout.RegionHeap)
	for i := 0; i < 5; i++ {
		if _, _, err := br.Call(dos.ActionExamineObject, [7]int32{}); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	after := arena.Used(memlayout.RegionHeap)
	if after != before {
		t.Fatalf("heap grew by %d bytes over 5 calls, want 0 (packet pool should reuse the first allocation)", after-before)
	}
}
