// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 blockimg contributors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockimg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambarisha/blockimg"
)

// TestFormatGeometry checks spec.md §8 scenario 1: format 1 MiB with
// block_size=4096 yields total_blocks=256, inode_count=16,
// first_data_block=5, free_blocks=251, free_inodes=15, root at inode 0.
func TestFormatGeometry(t *testing.T) {
	dev := blockimg.NewMemDevice(0)
	s, err := blockimg.FormatDevice(dev, blockimg.FormatOptions{
		SizeBytes: 1 << 20,
		BlockSize: 4096,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	info := s.FSInfo()
	require.Equal(t, uint32(4096), info.BlockSize)
	require.Equal(t, uint32(256), info.TotalBlocks)
	require.Equal(t, uint32(16), info.InodeCount)
	require.Equal(t, uint32(251), info.FreeBlocks)
	require.Equal(t, uint32(15), info.FreeInodes)

	files, err := s.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "/", files[0].Name)
	require.True(t, files[0].IsDir)
	require.Equal(t, uint32(0), files[0].Index)
}

// TestMountRoundTrip verifies that formatting, closing, and remounting a
// real on-disk image preserves geometry and file content, per spec.md
// §4.7 Mount: "Read superblock...verify magic...Construct cache...warm
// it by reading the root inode."
func TestMountRoundTrip(t *testing.T) {
	path := t.TempDir() + "/disk.img"

	s, err := blockimg.Format(path, blockimg.FormatOptions{
		SizeBytes: 1 << 20,
		BlockSize: 4096,
	})
	require.NoError(t, err)

	_, err = s.Create("a", []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := blockimg.Mount(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s2.Close()) })

	data, err := s2.Read("a")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	info := s2.FSInfo()
	require.Equal(t, uint32(14), info.FreeInodes)
}

// TestMountBadMagic verifies spec.md §7: Mount fails BadMagic when the
// superblock tag doesn't match.
func TestMountBadMagic(t *testing.T) {
	dev := blockimg.NewMemDevice(4096)
	_, err := blockimg.MountDevice(dev)
	require.ErrorIs(t, err, blockimg.ErrBadMagic)
}
