// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// packetPool hands out StandardPacket-sized allocations, reusing freed
// ones instead of growing the heap region on every call — the "packet
// conservation" invariant (spec.md §5) depends on calls returning their
// packet to the pool rather than leaking arena space per call.
type packetPool struct {
	arena  *memlayout.Arena
	free   []uint32
	issued int
}

func newPacketPool(arena *memlayout.Arena) *packetPool {
	return &packetPool{arena: arena}
}

func (p *packetPool) get() (uint32, error) {
	p.issued++
	if n := len(p.free); n > 0 {
		addr := p.free[n-1]
		p.free = p.free[:n-1]
		return addr, nil
	}
	return p.arena.Alloc(memlayout.RegionHeap, dos.StandardPacketSize, 4)
}

func (p *packetPool) put(addr uint32) {
	p.issued--
	p.free = append(p.free, addr)
}

// Outstanding reports how many packets this pool has handed out and
// not yet gotten back — the quantity spec.md §5's packet-conservation
// property checks at quiescence.
func (p *packetPool) Outstanding() int {
	return p.issued
}
