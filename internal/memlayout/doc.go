// Package memlayout implements the big-endian memory and endian layer
// (spec.md §4.1, component C1) that every other package in this module
// reads and writes emulator RAM through.
//
// Memory is a flat byte slice standing in for the m68k address space. All
// multi-byte access is big-endian, matching the m68k. Addresses stored as
// BPTRs (BCPL pointers) are byte addresses divided by 4; this package
// provides the conversions but does not check alignment — callers keep
// any address they store as a BPTR 4-byte aligned.
//
// Allocation is a three-region bump allocator (segments, kernel, heap)
// with best-effort freeing: callers that need to reuse space (packets,
// I/O requests) pool by size rather than relying on Free actually
// reclaiming the bump pointer.
package memlayout
