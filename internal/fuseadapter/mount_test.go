// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package fuseadapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/bridge"
	"github.com/reinauer/AmiFUSE/internal/clock"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/emu"
	"github.com/reinauer/AmiFUSE/internal/execkernel"
	"github.com/reinauer/AmiFUSE/internal/lockcache"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

const testRootLock int32 = 1

// fuseAvailable skips the calling test when /dev/fuse is absent —
// real mounting needs it and the test sandbox may not provide it.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// fakeHandler is a cut-down copy of the in-memory AmigaDOS handler
// internal/lockcache's test suite uses, serving one file at the root.
type fakeHandler struct {
	t    *testing.T
	k    *execkernel.Kernel
	mem  *memlayout.Memory
	port uint32

	locks    map[int32]string
	nextLock int32

	examineIdx map[int32]int

	handles map[int32]int64
	nextFH  int32
}

func newFakeHandler(t *testing.T, k *execkernel.Kernel, mem *memlayout.Memory, port uint32) *fakeHandler {
	return &fakeHandler{
		t: t, k: k, mem: mem, port: port,
		locks:      map[int32]string{testRootLock: ""},
		nextLock:   100,
		examineIdx: make(map[int32]int),
		handles:    make(map[int32]int64),
		nextFH:     200,
	}
}

var fakeFileContent = []byte("hello amifuse\n")

func (h *fakeHandler) Reset()                                 {}
func (h *fakeHandler) Registers() *emu.Registers               { return &emu.Registers{} }
func (h *fakeHandler) InstallTrap(addr uint32, fn emu.TrapFunc) {}

func (h *fakeHandler) RunCycles(n uint64) (used uint64, idle bool, err error) {
	msg, err := h.k.GetMsg(h.port)
	if err != nil {
		return n, false, err
	}
	if msg == 0 {
		return n, true, nil
	}
	pkt, err := dos.PacketFromMessage(h.mem, dos.Message{Addr: msg})
	if err != nil {
		return n, false, err
	}
	action, err := pkt.Type(h.mem)
	if err != nil {
		return n, false, err
	}

	var res1, res2 int32
	switch action {
	case dos.ActionLocateObject:
		res1, res2 = h.locate(pkt)
	case dos.ActionFreeLock:
		res1, res2 = h.freeLockOp(pkt)
	case dos.ActionExamineObject:
		res1, res2 = h.examineObject(pkt)
	case dos.ActionExamineNext:
		res1, res2 = h.examineNext(pkt)
	case dos.ActionFindInput:
		res1, res2 = h.findInput(pkt)
	case dos.ActionRead:
		res1, res2 = h.read(pkt)
	case dos.ActionEnd:
		res1, res2 = h.end(pkt)
	default:
		res1, res2 = 0, amierr.ErrorActionNotKnown
	}

	if err := pkt.SetRes1(h.mem, res1); err != nil {
		return n, false, err
	}
	if err := pkt.SetRes2(h.mem, res2); err != nil {
		return n, false, err
	}
	if err := h.k.ReplyMsg(msg); err != nil {
		return n, false, err
	}
	return n, false, nil
}

func (h *fakeHandler) locate(pkt dos.DosPacket) (int32, int32) {
	nameArg, err := pkt.Arg(h.mem, 2)
	if err != nil {
		h.t.Fatalf("locate: %v", err)
	}
	name, err := h.mem.ReadBSTR(memlayout.BPTRToAddr(uint32(nameArg)))
	if err != nil {
		h.t.Fatalf("locate: %v", err)
	}
	if name != "hello.txt" {
		return 0, amierr.ErrorObjectNotFound
	}
	id := h.nextLock
	h.nextLock++
	h.locks[id] = name
	return id, 0
}

func (h *fakeHandler) freeLockOp(pkt dos.DosPacket) (int32, int32) {
	lockArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("freeLock: %v", err)
	}
	delete(h.locks, lockArg)
	return 1, 0
}

func (h *fakeHandler) writeFIB(fibAddr uint32, name string, isDir bool, size int) {
	fib := dos.FileInfoBlock{Addr: fibAddr}
	entryType := dos.STFile
	if isDir {
		entryType = dos.STUserDir
	}
	if err := h.mem.WriteU32(fibAddr+4, uint32(entryType)); err != nil {
		h.t.Fatalf("writeFIB: %v", err)
	}
	base := name
	if base == "" {
		base = "Work"
	}
	if err := fib.SetFileName(h.mem, base); err != nil {
		h.t.Fatalf("writeFIB: %v", err)
	}
	if err := fib.SetSize(h.mem, int32(size)); err != nil {
		h.t.Fatalf("writeFIB: %v", err)
	}
}

func (h *fakeHandler) examineObject(pkt dos.DosPacket) (int32, int32) {
	lockArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("examineObject: %v", err)
	}
	fibArg, err := pkt.Arg(h.mem, 2)
	if err != nil {
		h.t.Fatalf("examineObject: %v", err)
	}
	path, ok := h.locks[lockArg]
	if !ok {
		return 0, amierr.ErrorObjectNotFound
	}
	fibAddr := memlayout.BPTRToAddr(uint32(fibArg))
	if path == "" {
		h.writeFIB(fibAddr, path, true, 0)
	} else {
		h.writeFIB(fibAddr, path, false, len(fakeFileContent))
	}
	h.examineIdx[lockArg] = 0
	return 1, 0
}

func (h *fakeHandler) examineNext(pkt dos.DosPacket) (int32, int32) {
	lockArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("examineNext: %v", err)
	}
	fibArg, err := pkt.Arg(h.mem, 2)
	if err != nil {
		h.t.Fatalf("examineNext: %v", err)
	}
	path := h.locks[lockArg]
	idx := h.examineIdx[lockArg]
	if path != "" || idx >= 1 {
		return 0, amierr.ErrorNoMoreEntries
	}
	h.examineIdx[lockArg] = idx + 1
	fibAddr := memlayout.BPTRToAddr(uint32(fibArg))
	h.writeFIB(fibAddr, "hello.txt", false, len(fakeFileContent))
	return 1, 0
}

func (h *fakeHandler) findInput(pkt dos.DosPacket) (int32, int32) {
	fhBufArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("findInput: %v", err)
	}
	nameArg, err := pkt.Arg(h.mem, 3)
	if err != nil {
		h.t.Fatalf("findInput: %v", err)
	}
	name, err := h.mem.ReadBSTR(memlayout.BPTRToAddr(uint32(nameArg)))
	if err != nil {
		h.t.Fatalf("findInput: %v", err)
	}
	if name != "hello.txt" {
		return 0, amierr.ErrorObjectNotFound
	}
	id := h.nextFH
	h.nextFH++
	h.handles[id] = 0
	if err := h.mem.WriteU32(uint32(fhBufArg)+36, uint32(id)); err != nil {
		h.t.Fatalf("findInput: %v", err)
	}
	return 1, 0
}

func (h *fakeHandler) read(pkt dos.DosPacket) (int32, int32) {
	fhArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("read: %v", err)
	}
	bufArg, err := pkt.Arg(h.mem, 2)
	if err != nil {
		h.t.Fatalf("read: %v", err)
	}
	lenArg, err := pkt.Arg(h.mem, 3)
	if err != nil {
		h.t.Fatalf("read: %v", err)
	}
	pos, ok := h.handles[fhArg]
	if !ok {
		return -1, amierr.ErrorObjectNotFound
	}
	remaining := int64(len(fakeFileContent)) - pos
	if remaining < 0 {
		remaining = 0
	}
	count := int64(lenArg)
	if count > remaining {
		count = remaining
	}
	if count > 0 {
		if err := h.mem.WriteBytes(uint32(bufArg), fakeFileContent[pos:pos+count]); err != nil {
			h.t.Fatalf("read: %v", err)
		}
	}
	h.handles[fhArg] = pos + count
	return int32(count), 0
}

func (h *fakeHandler) end(pkt dos.DosPacket) (int32, int32) {
	fhArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("end: %v", err)
	}
	delete(h.handles, fhArg)
	return 1, 0
}

func newTestCache(t *testing.T) *lockcache.Cache {
	t.Helper()
	mem := memlayout.New(memlayout.DefaultSize)
	arena, err := memlayout.NewArena(mem, 0x1000, 0x1000, 0x1000, 0x40000)
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
	handler := newFakeHandler(t, k, mem, handlerPort)

	br, err := bridge.New(handler, k, mem, arena, clock.Fake(time.Unix(0, 0)), handlerPort, bridge.Config{})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return lockcache.New(br, mem, arena, testRootLock)
}

func TestMountListStatAndRead(t *testing.T) {
	fuseAvailable(t)

	cache := newTestCache(t)
	mountpoint := filepath.Join(t.TempDir(), "mnt")
	if err := os.Mkdir(mountpoint, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	server, err := Mount(Options{Mountpoint: mountpoint, Cache: cache, VolumeName: "Work"})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	}()

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "hello.txt" {
		t.Fatalf("ReadDir(mnt) = %v, want [hello.txt]", entries)
	}

	info, err := os.Stat(filepath.Join(mountpoint, "hello.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(fakeFileContent)) {
		t.Fatalf("Stat(hello.txt).Size = %d, want %d", info.Size(), len(fakeFileContent))
	}
	if info.Mode().Perm() != 0o444 {
		t.Fatalf("Stat(hello.txt).Mode = %v, want 0444", info.Mode().Perm())
	}

	data, err := os.ReadFile(filepath.Join(mountpoint, "hello.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != string(fakeFileContent) {
		t.Fatalf("ReadFile = %q, want %q", data, fakeFileContent)
	}

	if _, err := os.Stat(filepath.Join(mountpoint, ".DS_Store")); err == nil {
		t.Fatalf("Stat(.DS_Store) succeeded, want ENOENT")
	}
}
