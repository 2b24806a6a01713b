// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 blockimg contributors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// MagicNumber identifies this on-disk format ("FSFS"). spec.md §6
	// documents a second prototype magic, 0x5844494E, found in
	// original_source/23.c; this implementation picks 0x46534653, the
	// one asfs.c uses, and never accepts the other.
	MagicNumber uint32 = 0x46534653

	// DefaultBlockSize is used by Format when the caller doesn't
	// override it. Must be a multiple of 512.
	DefaultBlockSize = 4096

	// InodeRecordSize is the fixed on-disk size of one inode record.
	InodeRecordSize = 512

	// MaxNameLen is the usable filename length: 223 bytes plus a NUL
	// terminator inside a 224-byte field.
	MaxNameLen = 223

	// MaxInlineSize is the largest payload stored inline inside an
	// inode record rather than in data blocks.
	MaxInlineSize = 256

	// MaxDirectBlocks is the number of direct block slots in a
	// block-mapped inode. The single-indirect slot that would extend
	// this is reserved in the on-disk layout but not implemented by
	// this generation (spec.md §1 Non-goals).
	MaxDirectBlocks = 12

	// MaxSnapshots bounds the persisted snapshot table.
	MaxSnapshots = 32

	// snapshotTableBlockOffset is how many blocks past the first data
	// block the snapshot table is reserved at.
	snapshotTableBlockOffset = 10

	// RootInode is always inode 0 and is never freed.
	RootInode = 0
)

// SuperBlock is the fixed on-disk header at offset 0 of the image. It
// always occupies exactly one block; unused header space is zero-padded.
// Field order here is also the on-disk wire order via encoding/binary,
// the way the teacher's erofs.SuperBlock is laid out and checksummed.
type SuperBlock struct {
	Magic    uint32
	Checksum uint32

	BlockSize      uint32
	TotalBlocks    uint32
	InodeCount     uint32
	FreeBlocks     uint32
	FreeInodes     uint32
	FirstDataBlock uint32

	// BitmapRegionBlock is the block index where the block bitmap
	// begins; the inode bitmap starts on the first block after the
	// block bitmap's blocks.
	BitmapRegionBlock uint32
	// InodeBitmapBlock is the block index where the inode bitmap
	// begins (derivable from BitmapRegionBlock and the block bitmap's
	// length in blocks, but persisted directly to avoid recomputation on
	// every mount).
	InodeBitmapBlock uint32
	InodeTableBlock  uint32

	RootInode uint32

	CacheCapacity uint32

	SnapshotCount  uint32
	NextSnapshotID uint32
	FreeInodeHint  uint32
}

// superBlockWireSize is the number of bytes SuperBlock actually marshals
// to; the remainder of the block is zero-padding included in the
// checksum, matching the teacher's checksum() convention.
func superBlockWireSize() int64 {
	var sb SuperBlock
	return int64(binary.Size(sb))
}

// writeSuperBlock marshals sb, computes its checksum over the marshaled
// header plus zero-padding to blockSize, and persists it to dev at offset
// 0.
func writeSuperBlock(dev Device, sb *SuperBlock, blockSize uint32) error {
	sb.Checksum = 0

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return fmt.Errorf("blockimg: marshal superblock: %w", err)
	}

	padded := make([]byte, blockSize)
	copy(padded, buf.Bytes())

	table := crc32.MakeTable(crc32.Castagnoli)
	sb.Checksum = crc32.Checksum(padded, table)

	// Re-marshal now that Checksum is populated; the checksum field
	// itself reads as zero during its own computation, matching the
	// teacher's SuperBlock.checksum().
	buf.Reset()
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return fmt.Errorf("blockimg: marshal superblock: %w", err)
	}
	copy(padded, buf.Bytes())

	if _, err := dev.WriteAt(padded, 0); err != nil {
		return fmt.Errorf("blockimg: %w: write superblock: %v", ErrIO, err)
	}
	return nil
}

// readSuperBlock reads and validates the superblock at offset 0.
func readSuperBlock(dev Device) (SuperBlock, error) {
	var sb SuperBlock
	wireSize := superBlockWireSize()

	buf := make([]byte, wireSize)
	if _, err := dev.ReadAt(buf, 0); err != nil {
		return sb, fmt.Errorf("blockimg: %w: read superblock: %v", ErrIO, err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &sb); err != nil {
		return sb, fmt.Errorf("blockimg: unmarshal superblock: %w", err)
	}

	if sb.Magic != MagicNumber {
		return sb, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrBadMagic, sb.Magic, MagicNumber)
	}

	if err := verifySuperBlockChecksum(dev, sb); err != nil {
		return sb, err
	}

	return sb, nil
}

func verifySuperBlockChecksum(dev Device, sb SuperBlock) error {
	want := sb.Checksum
	sb.Checksum = 0

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &sb); err != nil {
		return fmt.Errorf("blockimg: marshal superblock: %w", err)
	}

	padded := make([]byte, sb.BlockSize)
	copy(padded, buf.Bytes())

	table := crc32.MakeTable(crc32.Castagnoli)
	got := crc32.Checksum(padded, table)

	if got != want {
		return fmt.Errorf("blockimg: superblock checksum mismatch: got 0x%08x, want 0x%08x", got, want)
	}
	return nil
}

func blockOffset(blockSize uint32, block uint32) int64 {
	return int64(block) * int64(blockSize)
}

func ceilDiv(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

func bitmapByteLen(bits uint32) uint32 {
	return ceilDiv(bits, 8)
}
