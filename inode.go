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
	"time"
)

// Inode flag bits, packed into rawInode.Flags the way the teacher packs
// erofs layout/format tags into a single byte rather than one bool field
// per bit.
const (
	flagUsed uint8 = 1 << iota
	flagDir
	flagBlockMapped
	flagIsSnapshot
)

// rawInode is the exact 512-byte on-disk record described in spec.md §3.
// Data is a tagged union selected by flagBlockMapped: either a raw
// inline payload (≤ MaxInlineSize bytes) or MaxDirectBlocks little-endian
// uint32 block indices followed by one reserved (unimplemented)
// single-indirect slot, the rest zero-padded. This mirrors the teacher's
// InodeCompact/InodeExtended dual-shape-by-tag modeling, collapsed here
// into one fixed-size struct since both shapes are already the same size.
type rawInode struct {
	Name              [MaxNameLen + 1]byte
	Size              uint32
	Flags             uint8
	Created           int64
	Modified          int64
	SnapshotParent    uint32
	SnapshotCount     uint16
	AccessPattern     uint16
	LastAccessedBlock uint16
	_                 uint8 // reserved, always zero
	Data              [MaxInlineSize]byte
}

func init() {
	if binary.Size(rawInode{}) != InodeRecordSize {
		panic(fmt.Sprintf("blockimg: rawInode size is %d, want %d", binary.Size(rawInode{}), InodeRecordSize))
	}
}

// Inode is the in-memory, easier-to-use view of a rawInode: block indices
// decoded into a slice, name decoded into a string, flags exploded into
// bools.
type Inode struct {
	Index uint32

	Name     string
	Size     uint32
	Used     bool
	IsDir    bool
	Inline   bool
	Created  time.Time
	Modified time.Time

	SnapshotParent uint32
	IsSnapshot     bool
	SnapshotCount  uint16

	AccessPattern     uint16
	LastAccessedBlock uint16

	// InlineData holds the payload when Inline is true, always
	// len <= MaxInlineSize.
	InlineData []byte

	// Blocks holds direct block indices when Inline is false. A zero
	// entry is never stored here; len(Blocks) is the number of blocks
	// actually held.
	Blocks []uint32
}

func inodeFromRaw(index uint32, raw *rawInode) *Inode {
	in := &Inode{
		Index:             index,
		Size:              raw.Size,
		Used:              raw.Flags&flagUsed != 0,
		IsDir:             raw.Flags&flagDir != 0,
		Inline:            raw.Flags&flagBlockMapped == 0,
		Created:           time.Unix(raw.Created, 0).UTC(),
		Modified:          time.Unix(raw.Modified, 0).UTC(),
		SnapshotParent:    raw.SnapshotParent,
		IsSnapshot:        raw.Flags&flagIsSnapshot != 0,
		SnapshotCount:     raw.SnapshotCount,
		AccessPattern:     raw.AccessPattern,
		LastAccessedBlock: raw.LastAccessedBlock,
	}

	if nul := bytes.IndexByte(raw.Name[:], 0); nul >= 0 {
		in.Name = string(raw.Name[:nul])
	} else {
		in.Name = string(raw.Name[:])
	}

	if in.Inline {
		in.InlineData = append([]byte(nil), raw.Data[:raw.Size]...)
	} else {
		in.Blocks = decodeBlockList(&raw.Data)
	}

	return in
}

func (in *Inode) toRaw() (*rawInode, error) {
	if len(in.Name) > MaxNameLen {
		return nil, ErrNameTooLong
	}

	var raw rawInode
	copy(raw.Name[:], in.Name)

	raw.Size = in.Size
	raw.Created = in.Created.Unix()
	raw.Modified = in.Modified.Unix()
	raw.SnapshotParent = in.SnapshotParent
	raw.SnapshotCount = in.SnapshotCount
	raw.AccessPattern = in.AccessPattern
	raw.LastAccessedBlock = in.LastAccessedBlock

	if in.Used {
		raw.Flags |= flagUsed
	}
	if in.IsDir {
		raw.Flags |= flagDir
	}
	if in.IsSnapshot {
		raw.Flags |= flagIsSnapshot
	}

	if in.Inline {
		if len(in.InlineData) > MaxInlineSize {
			return nil, fmt.Errorf("blockimg: inline payload of %d bytes exceeds %d", len(in.InlineData), MaxInlineSize)
		}
		copy(raw.Data[:], in.InlineData)
	} else {
		raw.Flags |= flagBlockMapped
		if len(in.Blocks) > MaxDirectBlocks {
			return nil, fmt.Errorf("blockimg: %d direct blocks exceeds %d", len(in.Blocks), MaxDirectBlocks)
		}
		encodeBlockList(&raw.Data, in.Blocks)
	}

	return &raw, nil
}

// decodeBlockList reads MaxDirectBlocks little-endian uint32 slots from
// the front of data, stopping at (and not including) the first zero
// slot, since 0 is the sentinel "no block" value used throughout the
// allocator.
func decodeBlockList(data *[MaxInlineSize]byte) []uint32 {
	var blocks []uint32
	for i := 0; i < MaxDirectBlocks; i++ {
		v := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		if v == 0 {
			break
		}
		blocks = append(blocks, v)
	}
	return blocks
}

func encodeBlockList(data *[MaxInlineSize]byte, blocks []uint32) {
	for i := range data {
		data[i] = 0
	}
	for i, b := range blocks {
		binary.LittleEndian.PutUint32(data[i*4:i*4+4], b)
	}
}

// inodeOffset returns the byte offset of inode index's record within the
// inode table.
func inodeOffset(sb *SuperBlock, index uint32) int64 {
	return blockOffset(sb.BlockSize, sb.InodeTableBlock) + int64(index)*InodeRecordSize
}

// readInodeFromDevice reads and decodes a single inode record directly
// from the device, bypassing the cache. Used on a cache miss and by
// Mount's warm-up read of the root inode.
func readInodeFromDevice(dev Device, sb *SuperBlock, index uint32) (*Inode, error) {
	buf := make([]byte, InodeRecordSize)
	if _, err := dev.ReadAt(buf, inodeOffset(sb, index)); err != nil {
		return nil, fmt.Errorf("blockimg: %w: read inode %d: %v", ErrIO, index, err)
	}
	var raw rawInode
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("blockimg: unmarshal inode %d: %w", index, err)
	}
	return inodeFromRaw(index, &raw), nil
}

// writeInodeToDevice encodes and persists a single inode record directly
// to the device. Per the cache's write-through contract (spec.md §4.4),
// every mutation calls this before calling cache.put, never after.
func writeInodeToDevice(dev Device, sb *SuperBlock, in *Inode) error {
	raw, err := in.toRaw()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, raw); err != nil {
		return fmt.Errorf("blockimg: marshal inode %d: %w", in.Index, err)
	}
	if _, err := dev.WriteAt(buf.Bytes(), inodeOffset(sb, in.Index)); err != nil {
		return fmt.Errorf("blockimg: %w: write inode %d: %v", ErrIO, in.Index, err)
	}
	return nil
}
