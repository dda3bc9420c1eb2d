// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package lockcache

import (
	"sync"

	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// scratchPool hands out fixed-size heap buffers for packet arguments
// (FileInfoBlocks, FileHandles, BSTR name buffers) and reuses freed
// ones by size, the same size-pooling discipline internal/bridge's
// packetPool applies to DosPackets — without it, every Stat or
// Readdir call would bump the heap region forward forever. Unlike
// packetPool, get/put here are not already serialized by a single
// Call's CPU lock (a Stat does several Calls in sequence, each
// releasing the lock in between), so the pool carries its own mutex.
type scratchPool struct {
	mu    sync.Mutex
	arena *memlayout.Arena
	free  map[uint32][]uint32
}

func newScratchPool(arena *memlayout.Arena) *scratchPool {
	return &scratchPool{arena: arena, free: make(map[uint32][]uint32)}
}

func (p *scratchPool) get(size uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if list := p.free[size]; len(list) > 0 {
		addr := list[len(list)-1]
		p.free[size] = list[:len(list)-1]
		return addr, nil
	}
	return p.arena.Alloc(memlayout.RegionHeap, size, 4)
}

func (p *scratchPool) put(size, addr uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[size] = append(p.free[size], addr)
}
