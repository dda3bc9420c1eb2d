// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package trackdisk

import (
	"fmt"
	"io"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// trackdisk.device/io.device command codes, per AmigaOS
// devices/trackdisk.h.
const (
	cmdReset  uint16 = 1
	cmdRead   uint16 = 2
	cmdWrite  uint16 = 3
	cmdUpdate uint16 = 4

	tdChangeNum     uint16 = 13
	tdProtStatus    uint16 = 15
	tdGetGeometry   uint16 = 22
	tdAddChangeInt  uint16 = 20
	tdRemChangeInt  uint16 = 21
)

// io_Flags bit indicating the request uses NSD (block, not byte)
// addressing. This bridge never opens with NSCMD_DEVICEQUERY itself,
// but honors the flag if the handler sets it on a request.
const flagsNSD uint8 = 0x01

// ioErrNoCmd mirrors the sibling constant in internal/execkernel; kept
// local since this device never imports execkernel (device.Perform is
// called by it, not the other way around).
const ioErrNoCmd int8 = -3

// changeNum is the constant TD_CHANGENUM reports: this image never
// changes out from under the mount, so the disk-change counter never
// advances.
const changeNum = 1

// Device is the virtual trackdisk.device backing a read-only host
// image file (spec.md §4.3). It is bound into internal/execkernel via
// Kernel.InstallDevice("trackdisk.device", dev) (and again under
// "amifuse.device", per spec.md §4.2's OpenDevice rule).
type Device struct {
	image     io.ReaderAt
	size      int64
	blockSize uint32
	geometry  Geometry
}

// Geometry is the disk geometry TD_GETGEOMETRY reports, always
// synthesized from the image size and block size; an RDB's own
// cylinder and head values are not used here.
type Geometry struct {
	TotalBlocks uint32
	BlockSize   uint32
	Cylinders   uint32
	Heads       uint32
	SectorsPerTrack uint32
}

// New creates a Device serving image, sized bytes long, using
// blockSize for geometry reporting and NSD offset calculations.
func New(image io.ReaderAt, size int64, blockSize uint32) *Device {
	return &Device{
		image:     image,
		size:      size,
		blockSize: blockSize,
		geometry:  synthesizeGeometry(size, blockSize),
	}
}

// synthesizeGeometry invents a plausible cylinders/heads/sectors split
// for TD_GETGEOMETRY: one head, a 32-sector track, and however many
// cylinders the image size implies. No handler in this bridge's target
// set makes placement decisions from this; it only needs a consistent,
// non-zero geometry to display and sanity-check against.
func synthesizeGeometry(size int64, blockSize uint32) Geometry {
	const sectorsPerTrack = 32
	totalBlocks := uint32(size / int64(blockSize))
	trackBlocks := uint32(sectorsPerTrack)
	cylinders := totalBlocks / trackBlocks
	if cylinders == 0 {
		cylinders = 1
	}
	return Geometry{
		TotalBlocks:     totalBlocks,
		BlockSize:       blockSize,
		Cylinders:       cylinders,
		Heads:           1,
		SectorsPerTrack: sectorsPerTrack,
	}
}

// Geometry returns the geometry synthesized at construction, for
// callers outside the emulator (internal/fuseadapter's statfs) that
// need total block counts without going through a TD_GETGEOMETRY
// round trip.
func (d *Device) Geometry() Geometry {
	return d.geometry
}

// Perform implements execkernel.Device.
func (d *Device) Perform(mem *memlayout.Memory, ioReq dos.IOStdReq) (int8, error) {
	cmd, err := ioReq.Command(mem)
	if err != nil {
		return 0, err
	}
	switch cmd {
	case cmdReset, cmdUpdate:
		return 0, nil
	case cmdRead:
		return d.read(mem, ioReq)
	case cmdWrite:
		return ioErrNoCmd, nil
	case tdChangeNum:
		return 0, writeActual(mem, ioReq, changeNum)
	case tdProtStatus:
		return 0, writeActual(mem, ioReq, 1)
	case tdGetGeometry:
		return 0, d.writeGeometry(mem, ioReq)
	case tdAddChangeInt, tdRemChangeInt:
		return 0, nil
	default:
		return ioErrNoCmd, nil
	}
}

func (d *Device) read(mem *memlayout.Memory, ioReq dos.IOStdReq) (int8, error) {
	length, err := ioReq.Length(mem)
	if err != nil {
		return 0, err
	}
	offsetField, err := ioReq.Offset(mem)
	if err != nil {
		return 0, err
	}
	flags, err := ioReq.Flags(mem)
	if err != nil {
		return 0, err
	}
	dataAddr, err := ioReq.Data(mem)
	if err != nil {
		return 0, err
	}

	offset := int64(offsetField)
	if flags&flagsNSD != 0 {
		offset *= int64(d.blockSize)
	}
	if offset < 0 || offset+int64(length) > d.size {
		return 0, &amierr.ImageError{Path: "<image>", Err: fmt.Errorf("read at %d length %d exceeds image size %d", offset, length, d.size)}
	}

	buf := make([]byte, length)
	n, err := d.image.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return 0, err
	}
	if err := mem.WriteBytes(dataAddr, buf[:n]); err != nil {
		return 0, err
	}
	if err := ioReq.SetActual(mem, uint32(n)); err != nil {
		return 0, err
	}
	return 0, nil
}

func writeActual(mem *memlayout.Memory, ioReq dos.IOStdReq, v uint32) error {
	return ioReq.SetActual(mem, v)
}

func (d *Device) writeGeometry(mem *memlayout.Memory, ioReq dos.IOStdReq) error {
	addr, err := ioReq.Data(mem)
	if err != nil {
		return err
	}
	// DriveGeometry layout (devices/trackdisk.h): four uint32s
	// (SectorSize, TotalSectors, Cylinders, TrackSectors) followed by
	// Heads and CylSectors; this bridge's handlers only read the
	// fields a read-only mount needs, but the full 24-byte record is
	// written for compatibility.
	fields := []uint32{
		d.geometry.BlockSize,
		d.geometry.TotalBlocks,
		d.geometry.Cylinders,
		d.geometry.SectorsPerTrack,
		d.geometry.Heads,
		d.geometry.SectorsPerTrack * d.geometry.Heads,
	}
	for i, v := range fields {
		if err := mem.WriteU32(addr+uint32(i*4), v); err != nil {
			return err
		}
	}
	return ioReq.SetActual(mem, uint32(len(fields)*4))
}
