// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package memlayout

import (
	"fmt"

	"github.com/reinauer/AmiFUSE/internal/amierr"
)

// DefaultSize is the default emulator address space size (spec.md §3):
// 16 MiB.
const DefaultSize = 16 * 1024 * 1024

// Memory is a flat big-endian byte-addressable address space. It is the
// single owner of the byte slice a CPU emulator collaborator would
// execute against; nothing about Memory assumes a particular emulator is
// attached, which is what lets this package be unit tested without one.
type Memory struct {
	bytes []byte
}

// New allocates a zeroed address space of the given size.
func New(size int) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Bytes returns the backing slice. A real Emulator collaborator executes
// instructions against this same slice; callers must not retain the
// slice across a CPU run without holding whatever lock serializes access
// to it (spec.md §5's "CPU lock").
func (m *Memory) Bytes() []byte { return m.bytes }

// Len returns the address space size in bytes.
func (m *Memory) Len() int { return len(m.bytes) }

func (m *Memory) checkBounds(addr uint32, length int, op string) error {
	if int64(addr)+int64(length) > int64(len(m.bytes)) {
		return &amierr.BusError{Addr: addr, Op: op}
	}
	return nil
}

// ReadU8 reads a byte at addr.
func (m *Memory) ReadU8(addr uint32) (uint8, error) {
	if err := m.checkBounds(addr, 1, "read"); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

// WriteU8 writes a byte at addr.
func (m *Memory) WriteU8(addr uint32, v uint8) error {
	if err := m.checkBounds(addr, 1, "write"); err != nil {
		return err
	}
	m.bytes[addr] = v
	return nil
}

// ReadU16 reads a big-endian uint16 at addr.
func (m *Memory) ReadU16(addr uint32) (uint16, error) {
	if err := m.checkBounds(addr, 2, "read"); err != nil {
		return 0, err
	}
	return uint16(m.bytes[addr])<<8 | uint16(m.bytes[addr+1]), nil
}

// WriteU16 writes a big-endian uint16 at addr.
func (m *Memory) WriteU16(addr uint32, v uint16) error {
	if err := m.checkBounds(addr, 2, "write"); err != nil {
		return err
	}
	m.bytes[addr] = byte(v >> 8)
	m.bytes[addr+1] = byte(v)
	return nil
}

// ReadU32 reads a big-endian uint32 at addr.
func (m *Memory) ReadU32(addr uint32) (uint32, error) {
	if err := m.checkBounds(addr, 4, "read"); err != nil {
		return 0, err
	}
	b := m.bytes[addr : addr+4]
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// WriteU32 writes a big-endian uint32 at addr.
func (m *Memory) WriteU32(addr uint32, v uint32) error {
	if err := m.checkBounds(addr, 4, "write"); err != nil {
		return err
	}
	b := m.bytes[addr : addr+4]
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	return nil
}

// ReadBytes returns a copy of length bytes starting at addr.
func (m *Memory) ReadBytes(addr uint32, length int) ([]byte, error) {
	if err := m.checkBounds(addr, length, "read"); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.bytes[addr:addr+uint32(length)])
	return out, nil
}

// WriteBytes writes data starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	if err := m.checkBounds(addr, len(data), "write"); err != nil {
		return err
	}
	copy(m.bytes[addr:addr+uint32(len(data))], data)
	return nil
}

// ReadCString reads a NUL-terminated string starting at addr.
func (m *Memory) ReadCString(addr uint32) (string, error) {
	end := addr
	for {
		b, err := m.ReadU8(end)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		end++
	}
	data, err := m.ReadBytes(addr, int(end-addr))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadBSTR reads an Amiga BCPL string at a byte address: one length byte
// followed by that many characters. addr is a plain byte address, not a
// BPTR — callers holding a BPTR must call BPTRToAddr first.
func (m *Memory) ReadBSTR(addr uint32) (string, error) {
	length, err := m.ReadU8(addr)
	if err != nil {
		return "", err
	}
	data, err := m.ReadBytes(addr+1, int(length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteBSTR writes s as a BCPL string at addr: one length byte followed
// by the characters. s longer than 255 bytes is an error — BSTR length
// is a single byte.
func (m *Memory) WriteBSTR(addr uint32, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("memlayout: BSTR %q exceeds 255 bytes", s)
	}
	if err := m.WriteU8(addr, uint8(len(s))); err != nil {
		return err
	}
	return m.WriteBytes(addr+1, []byte(s))
}

// BPTRToAddr converts a BCPL pointer (byte address divided by 4) to a
// plain byte address.
func BPTRToAddr(b uint32) uint32 { return b << 2 }

// AddrToBPTR converts a byte address to a BCPL pointer. addr must be
// 4-byte aligned; callers that stored the address as a BPTR are
// responsible for that alignment (spec.md §4.1).
func AddrToBPTR(addr uint32) uint32 { return addr >> 2 }
