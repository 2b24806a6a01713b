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

func TestSuperBlockRoundTrip(t *testing.T) {
	dev := NewMemDevice(4096)
	sb := &SuperBlock{
		Magic:          MagicNumber,
		BlockSize:      4096,
		TotalBlocks:    256,
		InodeCount:     16,
		FreeBlocks:     251,
		FreeInodes:     15,
		FirstDataBlock: 5,
		FreeInodeHint:  1,
	}
	require.NoError(t, writeSuperBlock(dev, sb, 4096))

	got, err := readSuperBlock(dev)
	require.NoError(t, err)
	require.Equal(t, sb.TotalBlocks, got.TotalBlocks)
	require.Equal(t, sb.InodeCount, got.InodeCount)
	require.Equal(t, sb.FirstDataBlock, got.FirstDataBlock)
}

// TestSuperBlockChecksumMismatch covers the case where bytes on the
// backing image were corrupted out from under the superblock: the
// checksum must catch it even though the magic tag alone is still
// valid.
func TestSuperBlockChecksumMismatch(t *testing.T) {
	dev := NewMemDevice(4096)
	sb := &SuperBlock{
		Magic:          MagicNumber,
		BlockSize:      4096,
		TotalBlocks:    256,
		InodeCount:     16,
		FirstDataBlock: 5,
	}
	require.NoError(t, writeSuperBlock(dev, sb, 4096))

	// Flip a byte inside the header, past the checksum field, without
	// updating the checksum.
	var b [1]byte
	_, err := dev.ReadAt(b[:], 16)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = dev.WriteAt(b[:], 16)
	require.NoError(t, err)

	_, err = readSuperBlock(dev)
	require.Error(t, err)
}
