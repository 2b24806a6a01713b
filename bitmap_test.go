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
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *allocator {
	t.Helper()
	sb := &SuperBlock{
		BlockSize:         4096,
		TotalBlocks:       32,
		InodeCount:        8,
		BitmapRegionBlock: 1,
		InodeBitmapBlock:  2,
	}
	dev := NewMemDevice(int64(sb.TotalBlocks) * 4096)
	a := newAllocator(dev, sb)
	a.reserveFormatRegions(4)
	a.reserveRootInode()
	require.NoError(t, a.persistBlockBitmapFull())
	require.NoError(t, a.persistInodeBitmapFull())
	return a
}

// TestAllocBlockLowestIndexWins covers spec.md §4.2's determinism
// requirement: "Tie-break: lowest index wins."
func TestAllocBlockLowestIndexWins(t *testing.T) {
	a := newTestAllocator(t)

	first, err := a.allocBlock(4)
	require.NoError(t, err)
	require.Equal(t, uint32(4), first)

	second, err := a.allocBlock(4)
	require.NoError(t, err)
	require.Equal(t, uint32(5), second)
}

// TestAllocBlockNoSpace covers spec.md §4.2: "Returns NoSpace when no
// clear bit exists."
func TestAllocBlockNoSpace(t *testing.T) {
	a := newTestAllocator(t)
	for i := uint32(4); i < a.totalBlocks; i++ {
		_, err := a.allocBlock(4)
		require.NoError(t, err)
	}
	_, err := a.allocBlock(4)
	require.ErrorIs(t, err, ErrNoSpace)
}

// TestFreeBlocksIdempotent covers spec.md §8's idempotent-free property:
// freeing zeros is a no-op, and freeing the same index twice only counts
// once.
func TestFreeBlocksIdempotent(t *testing.T) {
	a := newTestAllocator(t)

	freed, err := a.freeBlocks([]uint32{0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, 0, freed)

	idx, err := a.allocBlock(4)
	require.NoError(t, err)

	freed, err = a.freeBlocks([]uint32{idx})
	require.NoError(t, err)
	require.Equal(t, 1, freed)

	freed, err = a.freeBlocks([]uint32{idx})
	require.NoError(t, err)
	require.Equal(t, 0, freed)
}

// TestAllocInodeHintWrapAround covers spec.md §4.2 alloc_inode: "scan
// from the free-inode hint forward, then from 1 up to the hint
// (wrap-around). Skip inode 0."
func TestAllocInodeHintWrapAround(t *testing.T) {
	a := newTestAllocator(t)

	// Allocate everything from the hint (5) to the end, then wrap.
	idx, hint, err := a.allocInode(5)
	require.NoError(t, err)
	require.Equal(t, uint32(5), idx)
	require.Equal(t, uint32(6), hint)

	idx, hint, err = a.allocInode(hint)
	require.NoError(t, err)
	require.Equal(t, uint32(6), idx)
	require.Equal(t, uint32(7), hint)

	idx, hint, err = a.allocInode(hint)
	require.NoError(t, err)
	require.Equal(t, uint32(7), idx)
	// inodeCount is 8, so the next hint wraps past the end back to 1.
	require.Equal(t, uint32(1), hint)

	idx, _, err = a.allocInode(hint)
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx)
}

// TestAllocInodeNeverReturnsRoot covers spec.md §4.2: "Skip inode 0."
func TestAllocInodeNeverReturnsRoot(t *testing.T) {
	a := newTestAllocator(t)
	for i := 0; i < int(a.inodeCount)-1; i++ {
		idx, hint, err := a.allocInode(1)
		require.NoError(t, err)
		require.NotEqual(t, uint32(RootInode), idx)
		_ = hint
	}
	_, _, err := a.allocInode(1)
	require.ErrorIs(t, err, ErrNoInode)
}

// TestBitmapConservation covers spec.md §8's bitmap-conservation
// invariant directly against the allocator: the set-bit count tracks
// exactly the reserved region plus whatever remains allocated, through a
// sequence of allocations and frees.
func TestBitmapConservation(t *testing.T) {
	a := newTestAllocator(t)
	reserved := a.countSetBlockBits() // first_data_block=4 reserved bits

	var allocated []uint32
	for i := 0; i < 10; i++ {
		idx, err := a.allocBlock(4)
		require.NoError(t, err)
		allocated = append(allocated, idx)
	}
	require.Equal(t, reserved+10, a.countSetBlockBits())

	freed, err := a.freeBlocks(allocated[:5])
	require.NoError(t, err)
	require.Equal(t, 5, freed)
	require.Equal(t, reserved+5, a.countSetBlockBits())
}
