// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package trackdisk

import (
	"errors"
	"fmt"
	"io"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/dos"
)

// RDB block layout, per the published Rigid Disk Block structure
// (AmigaOS hardware/rdbbase.h / lddev RDB documentation).
const (
	rdbMagic  = "RDSK"
	partMagic = "PART"

	rdbBlockBytesOffset    = 16
	rdbPartitionListOffset = 28

	partNextOffset        = 12
	partFlagsOffset       = 20
	partDriveNameOffset   = 36
	partEnvironmentOffset = 128

	// endOfChain is the RDB convention for "no next block" in a
	// pointer-by-block-number field.
	endOfChain = 0xFFFFFFFF
)

// Partition is one entry from the RDB's PartitionBlock chain: enough of
// it to build a handler's startup DosEnvec and report geometry.
type Partition struct {
	DriveName string
	BlockSize uint32
	LowCyl    uint32
	HighCyl   uint32
	DosType   uint32
	// Envec holds the partition's full 17-longword environment vector
	// (spec.md §3's DosEnvec layout), for direct use when building the
	// handler's startup packet.
	Envec [dos.DosEnvecFieldCount]uint32
}

// RigidDiskBlock is the parsed RDB partition table (spec.md §4.3):
// block size from the RDB header, and the single first partition this
// bridge's Non-goals limit it to.
type RigidDiskBlock struct {
	BlockSize       uint32
	FirstPartition  Partition
}

// ErrNoRDB reports that block 0 does not carry an "RDSK" signature;
// callers should fall back to CLI-override or default block size
// (spec.md §4.3's RDB > CLI > 512 precedence).
var ErrNoRDB = errors.New("trackdisk: no RDSK signature at block 0")

// ParseRDB reads and parses the Rigid Disk Block at block 0 of image,
// returning ErrNoRDB if the signature is absent. image must support
// reads of at least one block (512 bytes) to check the signature.
func ParseRDB(image io.ReaderAt) (*RigidDiskBlock, error) {
	header := make([]byte, 512)
	if _, err := image.ReadAt(header, 0); err != nil && err != io.EOF {
		return nil, &amierr.ImageError{Path: "<image>", Err: fmt.Errorf("reading RDB header: %w", err)}
	}
	if string(header[0:4]) != rdbMagic {
		return nil, ErrNoRDB
	}

	blockSize := be32(header, rdbBlockBytesOffset)
	if blockSize == 0 {
		return nil, &amierr.ImageError{Path: "<image>", Err: errors.New("RDB block size is zero")}
	}

	partBlockNum := be32(header, rdbPartitionListOffset)
	if partBlockNum == endOfChain {
		return nil, &amierr.ImageError{Path: "<image>", Err: errors.New("RDB has no partitions")}
	}

	part, err := readPartition(image, blockSize, partBlockNum)
	if err != nil {
		return nil, err
	}

	return &RigidDiskBlock{BlockSize: blockSize, FirstPartition: *part}, nil
}

func readPartition(image io.ReaderAt, blockSize, blockNum uint32) (*Partition, error) {
	buf := make([]byte, blockSize)
	if _, err := image.ReadAt(buf, int64(blockNum)*int64(blockSize)); err != nil && err != io.EOF {
		return nil, &amierr.ImageError{Path: "<image>", Err: fmt.Errorf("reading partition block %d: %w", blockNum, err)}
	}
	if string(buf[0:4]) != partMagic {
		return nil, &amierr.ImageError{Path: "<image>", Err: fmt.Errorf("block %d is not a PART block", blockNum)}
	}

	p := &Partition{
		DriveName: readBSTR(buf, partDriveNameOffset),
	}
	for i := 0; i < dos.DosEnvecFieldCount; i++ {
		p.Envec[i] = be32(buf, partEnvironmentOffset+i*4)
	}
	p.BlockSize = p.Envec[dos.DeSizeBlock] * 4
	if p.BlockSize == 0 {
		p.BlockSize = blockSize
	}
	p.LowCyl = p.Envec[dos.DeLowCyl]
	p.HighCyl = p.Envec[dos.DeHighCyl]
	p.DosType = p.Envec[dos.DeDosType]
	return p, nil
}

func be32(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}

func readBSTR(b []byte, off int) string {
	n := int(b[off])
	if off+1+n > len(b) {
		n = len(b) - off - 1
	}
	return string(b[off+1 : off+1+n])
}
