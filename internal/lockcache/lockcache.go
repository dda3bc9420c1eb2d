// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package lockcache

import (
	"errors"
	stdpath "path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/bridge"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// maxHandles bounds the open-file LRU (spec.md §4.6, MODULE NOTES' C6
// entry): opening a ninth handle closes the least recently used one.
const maxHandles = 8

var amigaEpoch = time.Date(dos.AmigaEpochYear, time.Month(dos.AmigaEpochMonth), dos.AmigaEpochDay, 0, 0, 0, 0, time.Local)

// Kind distinguishes a directory from a plain file, derived from a
// FileInfoBlock's fib_DirEntryType sign.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
)

// Attr is the host-side view of an AmigaDOS object's attributes.
type Attr struct {
	Kind       Kind
	Size       int64
	Protection uint32
	ModTime    time.Time
}

// DirEntry is one child of a directory listing.
type DirEntry struct {
	Name string
	Attr Attr
}

// entry is one path's cached state: attributes, and — for a
// completely-listed directory — its children. There is no held lock
// here; Stat and Readdir each acquire, use, and free their own lock,
// per spec.md §4.6 (the speculative-hold heuristic it describes as
// optional is not implemented: releasing promptly is simpler and
// never violates the "purge before discard" invariant since nothing
// is ever held).
type entry struct {
	path     string
	attr     Attr
	complete bool
	children []DirEntry
}

type handleEntry struct {
	path string
	fh   int32
	pos  int64
}

// Cache maps host paths to AmigaDOS locks and tracks a bounded set of
// open file handles, minimizing internal/bridge round-trips (spec.md
// §4.6, component C6).
type Cache struct {
	br      *bridge.Bridge
	mem     *memlayout.Memory
	scratch *scratchPool

	rootLock int32

	mu         sync.Mutex
	entries    map[string]*entry
	handles    map[int]*handleEntry
	lru        []int
	nextHandle int
}

// New constructs a Cache over an already-booted bridge. rootLock is
// the value internal/hunk.Boot returned; Close releases it at
// unmount.
func New(br *bridge.Bridge, mem *memlayout.Memory, arena *memlayout.Arena, rootLock int32) *Cache {
	return &Cache{
		br:       br,
		mem:      mem,
		scratch:  newScratchPool(arena),
		rootLock: rootLock,
		entries:  make(map[string]*entry),
		handles:  make(map[int]*handleEntry),
	}
}

// ToErrno maps a lockcache error to the POSIX errno a FUSE adapter
// should surface: *amierr.PacketError through its own Errno mapping,
// a bare syscall.Errno (the zero-round-trip rejections below) as-is,
// anything else to EIO.
func ToErrno(err error, dirContext bool) syscall.Errno {
	if err == nil {
		return 0
	}
	var perr *amierr.PacketError
	if errors.As(err, &perr) {
		return perr.Errno(dirContext)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

// normalize cleans a host path into the AmigaDOS-relative form this
// cache keys on: no leading or trailing slash, "" for the volume
// root. ok is false if the final component exceeds the BSTR name
// limit (spec.md §4.5's "names > 107 bytes" rule) — the caller
// returns ENOENT without ever building a packet.
func normalize(p string) (norm string, ok bool) {
	clean := stdpath.Clean("/" + p)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." {
		clean = ""
	}
	if clean != "" && len(stdpath.Base(clean)) > maxNameLength {
		return "", false
	}
	return clean, true
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Stat resolves path's attributes, consulting the cache first.
func (c *Cache) Stat(path string) (Attr, error) {
	norm, ok := normalize(path)
	if !ok {
		return Attr{}, syscall.ENOENT
	}
	if norm != "" && isMetadataPath(stdpath.Base(norm)) {
		return Attr{}, syscall.ENOENT
	}
	lower := strings.ToLower(norm)

	c.mu.Lock()
	if e, found := c.entries[lower]; found {
		attr := e.attr
		c.mu.Unlock()
		return attr, nil
	}
	c.mu.Unlock()

	attr, err := c.fetchAttr(norm)
	if err != nil {
		return Attr{}, err
	}

	c.mu.Lock()
	c.entries[lower] = &entry{path: norm, attr: attr}
	c.mu.Unlock()
	return attr, nil
}

// fetchAttr issues LOCATE_OBJECT (unless norm is the volume root) and
// EXAMINE_OBJECT, freeing the lock it acquired before returning.
func (c *Cache) fetchAttr(norm string) (Attr, error) {
	if norm == "" {
		return c.examineNew(c.rootLock)
	}
	lock, code, err := c.locate(norm)
	if err != nil {
		return Attr{}, err
	}
	if lock == 0 {
		return Attr{}, &amierr.PacketError{Action: dos.ActionLocateObject, Code: code}
	}
	attr, err := c.examineNew(lock)
	c.freeLock(lock)
	return attr, err
}

// locate acquires a shared lock on norm (an AmigaDOS path string
// relative to the volume root, which the handler itself walks
// component by component — one round trip regardless of depth).
func (c *Cache) locate(norm string) (lock, code int32, err error) {
	nameSize := uint32(len(norm) + 1)
	nameAddr, err := c.scratch.get(nameSize)
	if err != nil {
		return 0, 0, err
	}
	defer c.scratch.put(nameSize, nameAddr)

	if err := c.mem.WriteBSTR(nameAddr, norm); err != nil {
		return 0, 0, err
	}
	res1, res2, err := c.br.Call(dos.ActionLocateObject, [7]int32{
		c.rootLock, int32(memlayout.AddrToBPTR(nameAddr)), dos.SharedLock,
	})
	if err != nil {
		return 0, 0, err
	}
	return res1, res2, nil
}

// freeLock releases a lock acquired by locate. Errors are not
// actionable here — the caller is already returning its own result —
// so they are dropped rather than threaded back through every call
// site that defers a free.
func (c *Cache) freeLock(lock int32) {
	if lock == 0 || lock == c.rootLock {
		return
	}
	c.br.Call(dos.ActionFreeLock, [7]int32{lock})
}

// examineNew allocates its own FileInfoBlock buffer for a single
// EXAMINE_OBJECT call — the standalone-attributes case (Stat, or
// Readdir's initial probe before it starts threading EXAMINE_NEXT
// through the same buffer).
func (c *Cache) examineNew(lock int32) (Attr, error) {
	fibAddr, err := c.scratch.get(dos.FileInfoBlockSize)
	if err != nil {
		return Attr{}, err
	}
	defer c.scratch.put(dos.FileInfoBlockSize, fibAddr)
	return c.examineInto(lock, fibAddr)
}

func (c *Cache) examineInto(lock int32, fibAddr uint32) (Attr, error) {
	res1, res2, err := c.br.Call(dos.ActionExamineObject, [7]int32{
		lock, int32(memlayout.AddrToBPTR(fibAddr)),
	})
	if err != nil {
		return Attr{}, err
	}
	if res1 == 0 {
		return Attr{}, &amierr.PacketError{Action: dos.ActionExamineObject, Code: res2}
	}
	return c.decodeFIB(fibAddr)
}

func (c *Cache) decodeFIB(fibAddr uint32) (Attr, error) {
	fib := dos.FileInfoBlock{Addr: fibAddr}
	entryType, err := fib.DirEntryType(c.mem)
	if err != nil {
		return Attr{}, err
	}
	size, err := fib.Size(c.mem)
	if err != nil {
		return Attr{}, err
	}
	prot, err := fib.Protection(c.mem)
	if err != nil {
		return Attr{}, err
	}
	days, err := fib.Date().Days(c.mem)
	if err != nil {
		return Attr{}, err
	}
	minute, err := fib.Date().Minute(c.mem)
	if err != nil {
		return Attr{}, err
	}
	tick, err := fib.Date().Tick(c.mem)
	if err != nil {
		return Attr{}, err
	}

	kind := KindFile
	if entryType > 0 {
		kind = KindDir
	}
	modTime := amigaEpoch.AddDate(0, 0, int(days)).Add(
		time.Duration(minute)*time.Minute + time.Duration(tick)*(time.Second/50),
	)
	return Attr{Kind: kind, Size: int64(size), Protection: prot, ModTime: modTime}, nil
}

// Readdir lists path's children, consulting the cache first.
func (c *Cache) Readdir(path string) ([]DirEntry, error) {
	norm, ok := normalize(path)
	if !ok {
		return nil, syscall.ENOENT
	}
	if norm != "" && isMetadataPath(stdpath.Base(norm)) {
		return nil, syscall.ENOENT
	}
	lower := strings.ToLower(norm)

	c.mu.Lock()
	if e, found := c.entries[lower]; found && e.complete {
		children := append([]DirEntry(nil), e.children...)
		c.mu.Unlock()
		return children, nil
	}
	c.mu.Unlock()

	var lock int32
	if norm == "" {
		lock = c.rootLock
	} else {
		l, code, err := c.locate(norm)
		if err != nil {
			return nil, err
		}
		if l == 0 {
			return nil, &amierr.PacketError{Action: dos.ActionLocateObject, Code: code}
		}
		lock = l
	}

	fibAddr, err := c.scratch.get(dos.FileInfoBlockSize)
	if err != nil {
		c.freeLock(lock)
		return nil, err
	}
	defer c.scratch.put(dos.FileInfoBlockSize, fibAddr)

	dirAttr, err := c.examineInto(lock, fibAddr)
	if err != nil {
		c.freeLock(lock)
		return nil, err
	}

	children, err := c.examineNextAll(lock, fibAddr)
	c.freeLock(lock)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[lower] = &entry{path: norm, attr: dirAttr, complete: true, children: children}
	for _, ch := range children {
		childPath := joinPath(norm, ch.Name)
		childLower := strings.ToLower(childPath)
		if _, exists := c.entries[childLower]; !exists {
			c.entries[childLower] = &entry{path: childPath, attr: ch.Attr}
		}
	}
	c.mu.Unlock()
	return children, nil
}

// examineNextAll drives EXAMINE_NEXT to exhaustion against the same
// fibAddr examineInto seeded, since the handler tracks iteration
// position via fib_DiskKey inside that buffer, not via any state this
// bridge owns.
func (c *Cache) examineNextAll(lock int32, fibAddr uint32) ([]DirEntry, error) {
	var out []DirEntry
	for {
		res1, res2, err := c.br.Call(dos.ActionExamineNext, [7]int32{
			lock, int32(memlayout.AddrToBPTR(fibAddr)),
		})
		if err != nil {
			return nil, err
		}
		if res1 == 0 {
			if res2 == amierr.ErrorNoMoreEntries {
				return out, nil
			}
			return nil, &amierr.PacketError{Action: dos.ActionExamineNext, Code: res2}
		}
		name, err := dos.FileInfoBlock{Addr: fibAddr}.FileName(c.mem)
		if err != nil {
			return nil, err
		}
		attr, err := c.decodeFIB(fibAddr)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{Name: name, Attr: attr})
	}
}

// Open acquires a file handle for sequential or seeked reading,
// evicting the least-recently-used handle if the LRU is already at
// capacity.
func (c *Cache) Open(path string) (int, error) {
	norm, ok := normalize(path)
	if !ok || norm == "" {
		return 0, syscall.ENOENT
	}
	if isMetadataPath(stdpath.Base(norm)) {
		return 0, syscall.ENOENT
	}

	fh, err := c.openHandle(norm)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.nextHandle++
	id := c.nextHandle
	c.handles[id] = &handleEntry{path: norm, fh: fh}
	c.touchLRU(id)
	evicted := c.evictIfNeeded()
	c.mu.Unlock()

	if evicted != nil {
		c.br.Call(dos.ActionEnd, [7]int32{evicted.fh})
	}
	return id, nil
}

// openHandle performs the FINDINPUT exchange and returns the
// handler-assigned fh_Arg1 value later calls present as dp_Arg1.
func (c *Cache) openHandle(norm string) (int32, error) {
	nameSize := uint32(len(norm) + 1)
	nameAddr, err := c.scratch.get(nameSize)
	if err != nil {
		return 0, err
	}
	defer c.scratch.put(nameSize, nameAddr)
	if err := c.mem.WriteBSTR(nameAddr, norm); err != nil {
		return 0, err
	}

	fhBufAddr, err := c.scratch.get(dos.FileHandleSize)
	if err != nil {
		return 0, err
	}
	defer c.scratch.put(dos.FileHandleSize, fhBufAddr)

	res1, res2, err := c.br.Call(dos.ActionFindInput, [7]int32{
		int32(fhBufAddr), c.rootLock, int32(memlayout.AddrToBPTR(nameAddr)),
	})
	if err != nil {
		return 0, err
	}
	if res1 == 0 {
		return 0, &amierr.PacketError{Action: dos.ActionFindInput, Code: res2}
	}
	return dos.FileHandle{Addr: fhBufAddr}.Arg1(c.mem)
}

// touchLRU moves id to the front of the LRU, the caller already
// holding c.mu.
func (c *Cache) touchLRU(id int) {
	for i, v := range c.lru {
		if v == id {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
	c.lru = append([]int{id}, c.lru...)
}

// evictIfNeeded drops the least-recently-used handle once the LRU
// exceeds maxHandles and returns it for the caller to END outside the
// lock (the ACTION_END call must not happen while c.mu is held).
func (c *Cache) evictIfNeeded() *handleEntry {
	if len(c.lru) <= maxHandles {
		return nil
	}
	last := len(c.lru) - 1
	id := c.lru[last]
	c.lru = c.lru[:last]
	hd := c.handles[id]
	delete(c.handles, id)
	return hd
}

func (c *Cache) removeLRU(id int) {
	for i, v := range c.lru {
		if v == id {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			return
		}
	}
}

// Read reads up to len(buf) bytes at offset from handle id, seeking
// first if the handle's tracked position has drifted.
func (c *Cache) Read(id int, offset int64, buf []byte) (int, error) {
	c.mu.Lock()
	hd, found := c.handles[id]
	if !found {
		c.mu.Unlock()
		return 0, syscall.EBADF
	}
	c.touchLRU(id)
	needSeek := hd.pos != offset
	c.mu.Unlock()

	if needSeek {
		if err := c.seekOrReread(hd, offset); err != nil {
			return 0, err
		}
	}

	if len(buf) == 0 {
		return 0, nil
	}
	dataAddr, err := c.scratch.get(uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	defer c.scratch.put(uint32(len(buf)), dataAddr)

	res1, res2, err := c.br.Call(dos.ActionRead, [7]int32{hd.fh, int32(dataAddr), int32(len(buf))})
	if err != nil {
		return 0, err
	}
	if res1 < 0 {
		return 0, &amierr.PacketError{Action: dos.ActionRead, Code: res2}
	}
	n := int(res1)
	if n > 0 {
		data, err := c.mem.ReadBytes(dataAddr, n)
		if err != nil {
			return 0, err
		}
		copy(buf, data)
	}

	c.mu.Lock()
	hd.pos += int64(n)
	c.mu.Unlock()
	return n, nil
}

// seekOrReread issues ACTION_SEEK to reposition hd at offset. If the
// handler does not implement SEEK (surfaced as a PacketError, per
// spec.md's supplemented ACTION_SEEK note), it falls back to
// reopening the file and discarding bytes up to offset instead of
// failing the read outright.
func (c *Cache) seekOrReread(hd *handleEntry, offset int64) error {
	res1, res2, err := c.br.Call(dos.ActionSeek, [7]int32{hd.fh, int32(offset), dos.OffsetBeginning})
	if err != nil {
		return err
	}
	if res1 >= 0 {
		hd.pos = offset
		return nil
	}
	if res2 != amierr.ErrorActionNotKnown {
		return &amierr.PacketError{Action: dos.ActionSeek, Code: res2}
	}

	newFH, err := c.openHandle(hd.path)
	if err != nil {
		return err
	}
	c.br.Call(dos.ActionEnd, [7]int32{hd.fh})
	hd.fh = newFH
	hd.pos = 0
	return c.discardTo(hd, offset)
}

const discardChunk = 4096

func (c *Cache) discardTo(hd *handleEntry, target int64) error {
	for hd.pos < target {
		chunk := uint32(discardChunk)
		if remaining := target - hd.pos; remaining < int64(chunk) {
			chunk = uint32(remaining)
		}
		dataAddr, err := c.scratch.get(chunk)
		if err != nil {
			return err
		}
		res1, res2, err := c.br.Call(dos.ActionRead, [7]int32{hd.fh, int32(dataAddr), int32(chunk)})
		c.scratch.put(chunk, dataAddr)
		if err != nil {
			return err
		}
		if res1 < 0 {
			return &amierr.PacketError{Action: dos.ActionRead, Code: res2}
		}
		if res1 == 0 {
			return nil
		}
		hd.pos += int64(res1)
	}
	return nil
}

// Release closes an open handle.
func (c *Cache) Release(id int) error {
	c.mu.Lock()
	hd, found := c.handles[id]
	if found {
		delete(c.handles, id)
		c.removeLRU(id)
	}
	c.mu.Unlock()
	if !found {
		return syscall.EBADF
	}
	_, _, err := c.br.Call(dos.ActionEnd, [7]int32{hd.fh})
	return err
}

// Close flushes every open handle and releases the volume root lock,
// for an orderly unmount (spec.md §5).
func (c *Cache) Close() error {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[int]*handleEntry)
	c.lru = nil
	c.mu.Unlock()

	var firstErr error
	for _, hd := range handles {
		if _, _, err := c.br.Call(dos.ActionEnd, [7]int32{hd.fh}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if _, _, err := c.br.Call(dos.ActionFreeLock, [7]int32{c.rootLock}); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
