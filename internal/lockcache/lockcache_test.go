// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package lockcache

import (
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/bridge"
	"github.com/reinauer/AmiFUSE/internal/clock"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/emu"
	"github.com/reinauer/AmiFUSE/internal/execkernel"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

const fakeRootLock int32 = 1

// fakeHandler is a minimal in-memory AmigaDOS handler standing in for
// a real hunk binary: a fixed directory tree of
//
//	/file.txt        ("Hello Amiga\n", 12 bytes)
//	/Sub/inner.txt    ("inner contents")
//
// serviced directly against execkernel's port primitives, the same
// no-CPU test style internal/bridge and internal/hunk use.
type fakeHandler struct {
	t    *testing.T
	k    *execkernel.Kernel
	mem  *memlayout.Memory
	port uint32

	dirs  map[string][]string
	files map[string][]byte

	locks    map[int32]string
	nextLock int32

	examineIdx map[int32]int

	handles map[int32]*fakeFH
	nextFH  int32

	seekSupported bool
	callCount     int
}

type fakeFH struct {
	path string
	pos  int64
}

func newFakeHandler(t *testing.T, k *execkernel.Kernel, mem *memlayout.Memory, port uint32) *fakeHandler {
	return &fakeHandler{
		t:    t,
		k:    k,
		mem:  mem,
		port: port,
		dirs: map[string][]string{
			"":    {"file.txt", "Sub"},
			"Sub": {"inner.txt"},
		},
		files: map[string][]byte{
			"file.txt":      []byte("Hello Amiga\n"),
			"Sub/inner.txt": []byte("inner contents"),
		},
		locks:         map[int32]string{fakeRootLock: ""},
		nextLock:      100,
		examineIdx:    make(map[int32]int),
		handles:       make(map[int32]*fakeFH),
		nextFH:        200,
		seekSupported: true,
	}
}

func (h *fakeHandler) Reset()                                {}
func (h *fakeHandler) Registers() *emu.Registers              { return &emu.Registers{} }
func (h *fakeHandler) InstallTrap(addr uint32, fn emu.TrapFunc) {}

func (h *fakeHandler) isDir(path string) bool {
	_, ok := h.dirs[path]
	return ok
}

func (h *fakeHandler) RunCycles(n uint64) (used uint64, idle bool, err error) {
	msg, err := h.k.GetMsg(h.port)
	if err != nil {
		return n, false, err
	}
	if msg == 0 {
		return n, true, nil
	}
	h.callCount++

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
	case dos.ActionSeek:
		res1, res2 = h.seek(pkt)
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
	if !h.isDir(name) {
		if _, ok := h.files[name]; !ok {
			return 0, amierr.ErrorObjectNotFound
		}
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
	if err := fib.SetProtection(h.mem, 0); err != nil {
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
	if h.isDir(path) {
		h.writeFIB(fibAddr, path, true, 0)
	} else {
		h.writeFIB(fibAddr, path, false, len(h.files[path]))
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
	children := h.dirs[path]
	idx := h.examineIdx[lockArg]
	if idx >= len(children) {
		return 0, amierr.ErrorNoMoreEntries
	}
	name := children[idx]
	h.examineIdx[lockArg] = idx + 1

	childPath := name
	if path != "" {
		childPath = path + "/" + name
	}
	fibAddr := memlayout.BPTRToAddr(uint32(fibArg))
	if h.isDir(childPath) {
		h.writeFIB(fibAddr, name, true, 0)
	} else {
		h.writeFIB(fibAddr, name, false, len(h.files[childPath]))
	}
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
	if _, ok := h.files[name]; !ok {
		return 0, amierr.ErrorObjectNotFound
	}
	id := h.nextFH
	h.nextFH++
	h.handles[id] = &fakeFH{path: name}
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
	fh, ok := h.handles[fhArg]
	if !ok {
		return -1, amierr.ErrorObjectNotFound
	}
	data := h.files[fh.path]
	remaining := int64(len(data)) - fh.pos
	if remaining < 0 {
		remaining = 0
	}
	n := int64(lenArg)
	if n > remaining {
		n = remaining
	}
	if n > 0 {
		if err := h.mem.WriteBytes(uint32(bufArg), data[fh.pos:fh.pos+n]); err != nil {
			h.t.Fatalf("read: %v", err)
		}
	}
	fh.pos += n
	return int32(n), 0
}

func (h *fakeHandler) seek(pkt dos.DosPacket) (int32, int32) {
	if !h.seekSupported {
		return -1, amierr.ErrorActionNotKnown
	}
	fhArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("seek: %v", err)
	}
	offArg, err := pkt.Arg(h.mem, 2)
	if err != nil {
		h.t.Fatalf("seek: %v", err)
	}
	fh, ok := h.handles[fhArg]
	if !ok {
		return -1, amierr.ErrorObjectNotFound
	}
	old := fh.pos
	fh.pos = int64(offArg)
	return int32(old), 0
}

func (h *fakeHandler) end(pkt dos.DosPacket) (int32, int32) {
	fhArg, err := pkt.Arg(h.mem, 1)
	if err != nil {
		h.t.Fatalf("end: %v", err)
	}
	delete(h.handles, fhArg)
	return 1, 0
}

func newLockcacheTest(t *testing.T) (*Cache, *fakeHandler) {
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
	return New(br, mem, arena, fakeRootLock), handler
}

func TestStatRoot(t *testing.T) {
	c, _ := newLockcacheTest(t)
	attr, err := c.Stat("")
	if err != nil {
		t.Fatalf("Stat(\"\"): %v", err)
	}
	if attr.Kind != KindDir {
		t.Fatalf("Stat(\"\").Kind = %v, want KindDir", attr.Kind)
	}
}

func TestStatFile(t *testing.T) {
	c, _ := newLockcacheTest(t)
	attr, err := c.Stat("file.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attr.Kind != KindFile || attr.Size != 12 {
		t.Fatalf("Stat(file.txt) = %+v, want Kind=File Size=12", attr)
	}
}

func TestReaddirRoot(t *testing.T) {
	c, _ := newLockcacheTest(t)
	entries, err := c.Readdir("")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "file.txt" || entries[1].Name != "Sub" {
		t.Fatalf("Readdir(\"\") = %+v, want [file.txt Sub]", entries)
	}
	if entries[1].Attr.Kind != KindDir {
		t.Fatalf("Sub kind = %v, want KindDir", entries[1].Attr.Kind)
	}
}

func TestReaddirPopulatesChildStatCache(t *testing.T) {
	c, handler := newLockcacheTest(t)
	if _, err := c.Readdir(""); err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	before := handler.callCount
	attr, err := c.Stat("file.txt")
	if err != nil {
		t.Fatalf("Stat after Readdir: %v", err)
	}
	if attr.Size != 12 {
		t.Fatalf("Stat(file.txt).Size = %d, want 12", attr.Size)
	}
	if handler.callCount != before {
		t.Fatalf("Stat after Readdir issued %d packets, want 0 (cache hit)", handler.callCount-before)
	}
}

func TestStatMetadataPathZeroRoundTrip(t *testing.T) {
	c, handler := newLockcacheTest(t)
	_, err := c.Stat(".DS_Store")
	if err != syscall.ENOENT {
		t.Fatalf("Stat(.DS_Store) = %v, want syscall.ENOENT", err)
	}
	if handler.callCount != 0 {
		t.Fatalf("Stat(.DS_Store) issued %d packets, want 0", handler.callCount)
	}
}

func TestStatNameTooLongZeroRoundTrip(t *testing.T) {
	c, handler := newLockcacheTest(t)
	_, err := c.Stat(strings.Repeat("a", 200))
	if err != syscall.ENOENT {
		t.Fatalf("Stat(long name) = %v, want syscall.ENOENT", err)
	}
	if handler.callCount != 0 {
		t.Fatalf("Stat(long name) issued %d packets, want 0", handler.callCount)
	}
}

func TestStatNonexistentMapsToENOENT(t *testing.T) {
	c, _ := newLockcacheTest(t)
	_, err := c.Stat("NonExistent")
	if ToErrno(err, false) != syscall.ENOENT {
		t.Fatalf("Stat(NonExistent) errno = %v, want ENOENT", ToErrno(err, false))
	}
}

func TestOpenReadToEOF(t *testing.T) {
	c, _ := newLockcacheTest(t)
	id, err := c.Open("file.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var got []byte
	buf := make([]byte, 5)
	off := int64(0)
	for {
		n, err := c.Read(id, off, buf)
		if err != nil {
			t.Fatalf("Read at %d: %v", off, err)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
		off += int64(n)
	}
	if string(got) != "Hello Amiga\n" {
		t.Fatalf("read content = %q, want %q", got, "Hello Amiga\n")
	}
	if err := c.Release(id); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestReadSeeksToRandomOffset(t *testing.T) {
	c, _ := newLockcacheTest(t)
	id, err := c.Open("Sub/inner.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 5)
	n, err := c.Read(id, 6, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "conte" {
		t.Fatalf("Read at offset 6 = %q, want %q", buf[:n], "conte")
	}
}

func TestReadFallsBackWhenSeekUnsupported(t *testing.T) {
	c, handler := newLockcacheTest(t)
	handler.seekSupported = false
	id, err := c.Open("Sub/inner.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 5)
	n, err := c.Read(id, 6, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "conte" {
		t.Fatalf("Read at offset 6 (no seek) = %q, want %q", buf[:n], "conte")
	}
}

func TestLRUEvictsLeastRecentlyUsedHandle(t *testing.T) {
	c, handler := newLockcacheTest(t)
	var ids []int
	for i := 0; i < maxHandles+1; i++ {
		id, err := c.Open("file.txt")
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if len(handler.handles) != maxHandles {
		t.Fatalf("handler has %d live handles, want %d", len(handler.handles), maxHandles)
	}
	if _, err := c.Read(ids[0], 0, make([]byte, 1)); err != syscall.EBADF {
		t.Fatalf("Read on evicted handle = %v, want syscall.EBADF", err)
	}
	if _, err := c.Read(ids[len(ids)-1], 0, make([]byte, 1)); err != nil {
		t.Fatalf("Read on most recently opened handle: %v", err)
	}
}

func TestReleaseClosesHandle(t *testing.T) {
	c, handler := newLockcacheTest(t)
	id, err := c.Open("file.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Release(id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(handler.handles) != 0 {
		t.Fatalf("handler has %d live handles after Release, want 0", len(handler.handles))
	}
	if err := c.Release(id); err != syscall.EBADF {
		t.Fatalf("double Release = %v, want syscall.EBADF", err)
	}
}

func TestCloseReleasesRootLockAndOpenHandles(t *testing.T) {
	c, handler := newLockcacheTest(t)
	if _, err := c.Open("file.txt"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(handler.handles) != 0 {
		t.Fatalf("handler has %d live handles after Close, want 0", len(handler.handles))
	}
	if _, ok := handler.locks[fakeRootLock]; ok {
		t.Fatalf("root lock still held after Close")
	}
}
