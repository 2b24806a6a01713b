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
	"fmt"

	bitmap "github.com/boljen/go-bitmap"
)

// allocator owns both packed bitmaps and the device regions they're
// persisted to. It never touches the superblock counters itself; callers
// (Session methods) update FreeBlocks/FreeInodes/FreeInodeHint after a
// successful allocator call, the way the teacher's format driver writes
// bitmap.New(...) out immediately after mutating it.
type allocator struct {
	dev Device

	blockBitmap bitmap.Bitmap
	inodeBitmap bitmap.Bitmap

	blockBitmapOffset int64
	inodeBitmapOffset int64

	totalBlocks uint32
	inodeCount  uint32
}

func newAllocator(dev Device, sb *SuperBlock) *allocator {
	return &allocator{
		dev:               dev,
		blockBitmap:       bitmap.New(int(sb.TotalBlocks)),
		inodeBitmap:       bitmap.New(int(sb.InodeCount)),
		blockBitmapOffset: blockOffset(sb.BlockSize, sb.BitmapRegionBlock),
		inodeBitmapOffset: blockOffset(sb.BlockSize, sb.InodeBitmapBlock),
		totalBlocks:       sb.TotalBlocks,
		inodeCount:        sb.InodeCount,
	}
}

// loadAllocator reads both bitmaps back from their persisted regions at
// mount time.
func loadAllocator(dev Device, sb *SuperBlock) (*allocator, error) {
	a := newAllocator(dev, sb)

	blockBytes := bitmapByteLen(sb.TotalBlocks)
	buf := make([]byte, blockBytes)
	if _, err := dev.ReadAt(buf, a.blockBitmapOffset); err != nil {
		return nil, fmt.Errorf("blockimg: %w: read block bitmap: %v", ErrIO, err)
	}
	a.blockBitmap = bitmap.Bitmap(buf)

	inodeBytes := bitmapByteLen(sb.InodeCount)
	buf2 := make([]byte, inodeBytes)
	if _, err := dev.ReadAt(buf2, a.inodeBitmapOffset); err != nil {
		return nil, fmt.Errorf("blockimg: %w: read inode bitmap: %v", ErrIO, err)
	}
	a.inodeBitmap = bitmap.Bitmap(buf2)

	return a, nil
}

// reserveFormatRegions pre-sets the bits that cover the superblock, bitmap
// region, and inode table, per spec: "Reserved bits for superblock, bitmap
// region, and inode table region are pre-set at format time."
func (a *allocator) reserveFormatRegions(firstDataBlock uint32) {
	for i := uint32(0); i < firstDataBlock; i++ {
		a.blockBitmap.Set(int(i), true)
	}
}

// reserveRootInode marks inode 0 permanently allocated.
func (a *allocator) reserveRootInode() {
	a.inodeBitmap.Set(RootInode, true)
}

func (a *allocator) persistBlockBitmapFull() error {
	if _, err := a.dev.WriteAt(a.blockBitmap.Data(false), a.blockBitmapOffset); err != nil {
		return fmt.Errorf("blockimg: %w: write block bitmap: %v", ErrIO, err)
	}
	return nil
}

func (a *allocator) persistInodeBitmapFull() error {
	if _, err := a.dev.WriteAt(a.inodeBitmap.Data(false), a.inodeBitmapOffset); err != nil {
		return fmt.Errorf("blockimg: %w: write inode bitmap: %v", ErrIO, err)
	}
	return nil
}

// persistBlockBitmapByte writes back only the byte containing bit index,
// matching spec's "persist the affected bitmap byte immediately".
func (a *allocator) persistBlockBitmapByte(index uint32) error {
	byteIdx := int64(index / 8)
	b := a.blockBitmap.Data(false)[byteIdx : byteIdx+1]
	if _, err := a.dev.WriteAt(b, a.blockBitmapOffset+byteIdx); err != nil {
		return fmt.Errorf("blockimg: %w: write block bitmap byte: %v", ErrIO, err)
	}
	return nil
}

func (a *allocator) persistInodeBitmapByte(index uint32) error {
	byteIdx := int64(index / 8)
	b := a.inodeBitmap.Data(false)[byteIdx : byteIdx+1]
	if _, err := a.dev.WriteAt(b, a.inodeBitmapOffset+byteIdx); err != nil {
		return fmt.Errorf("blockimg: %w: write inode bitmap byte: %v", ErrIO, err)
	}
	return nil
}

// allocBlock implements spec.md §4.2 alloc_block: linear scan from
// firstDataBlock, lowest index wins.
func (a *allocator) allocBlock(firstDataBlock uint32) (uint32, error) {
	for i := firstDataBlock; i < a.totalBlocks; i++ {
		if !a.blockBitmap.Get(int(i)) {
			a.blockBitmap.Set(int(i), true)
			if err := a.persistBlockBitmapByte(i); err != nil {
				a.blockBitmap.Set(int(i), false)
				return 0, err
			}
			return i, nil
		}
	}
	return 0, ErrNoSpace
}

// freeBlocks implements spec.md §4.2 free_blocks: clear each non-zero
// index, skipping sentinel zero slots, idempotent on already-clear bits.
// It returns the count of bits that actually transitioned from set to
// clear, which the caller adds back to FreeBlocks.
func (a *allocator) freeBlocks(indices []uint32) (int, error) {
	freed := 0
	for _, idx := range indices {
		if idx == 0 {
			continue
		}
		if a.blockBitmap.Get(int(idx)) {
			a.blockBitmap.Set(int(idx), false)
			if err := a.persistBlockBitmapByte(idx); err != nil {
				return freed, err
			}
			freed++
		}
	}
	return freed, nil
}

// allocInode implements spec.md §4.2 alloc_inode: scan from hint forward,
// then wrap from 1 up to hint, skipping inode 0. Returns the allocated
// index and the hint value the caller should persist next.
func (a *allocator) allocInode(hint uint32) (index uint32, nextHint uint32, err error) {
	if hint == 0 || hint >= a.inodeCount {
		hint = 1
	}

	try := func(i uint32) (uint32, bool) {
		if i == RootInode {
			return 0, false
		}
		if !a.inodeBitmap.Get(int(i)) {
			return i, true
		}
		return 0, false
	}

	for i := hint; i < a.inodeCount; i++ {
		if idx, ok := try(i); ok {
			return a.commitInodeAlloc(idx)
		}
	}
	for i := uint32(1); i < hint; i++ {
		if idx, ok := try(i); ok {
			return a.commitInodeAlloc(idx)
		}
	}
	return 0, hint, ErrNoInode
}

func (a *allocator) commitInodeAlloc(idx uint32) (uint32, uint32, error) {
	a.inodeBitmap.Set(int(idx), true)
	if err := a.persistInodeBitmapByte(idx); err != nil {
		a.inodeBitmap.Set(int(idx), false)
		return 0, idx, err
	}
	next := idx + 1
	if next >= a.inodeCount {
		next = 1
	}
	return idx, next, nil
}

// freeInode clears a single inode bit.
func (a *allocator) freeInode(idx uint32) error {
	if !a.inodeBitmap.Get(int(idx)) {
		return nil
	}
	a.inodeBitmap.Set(int(idx), false)
	return a.persistInodeBitmapByte(idx)
}

func (a *allocator) blockUsed(idx uint32) bool { return a.blockBitmap.Get(int(idx)) }
func (a *allocator) inodeUsed(idx uint32) bool { return a.inodeBitmap.Get(int(idx)) }

func (a *allocator) countSetBlockBits() uint32 {
	var n uint32
	for i := uint32(0); i < a.totalBlocks; i++ {
		if a.blockBitmap.Get(int(i)) {
			n++
		}
	}
	return n
}

func (a *allocator) countSetInodeBits() uint32 {
	var n uint32
	for i := uint32(0); i < a.inodeCount; i++ {
		if a.inodeBitmap.Get(int(i)) {
			n++
		}
	}
	return n
}
