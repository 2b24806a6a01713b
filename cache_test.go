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

// TestCacheLRUEviction covers spec.md §8's LRU-ordering property: for
// capacity C and C+1 distinct unpinned puts with no intervening gets,
// the first-inserted entry is the one evicted.
func TestCacheLRUEviction(t *testing.T) {
	c := newCache(3)

	require.True(t, c.Put(1, &Inode{Index: 1}, false))
	require.True(t, c.Put(2, &Inode{Index: 2}, false))
	require.True(t, c.Put(3, &Inode{Index: 3}, false))
	require.True(t, c.Put(4, &Inode{Index: 4}, false))

	_, ok := c.Get(1)
	require.False(t, ok, "oldest entry should have been evicted")

	for _, idx := range []uint32{2, 3, 4} {
		_, ok := c.Get(idx)
		require.True(t, ok)
	}
	require.Equal(t, 3, c.len())
}

// TestCacheGetPromotes covers the ordering invariant: "after any get or
// put hit, the target is the unique most-recent entry."
func TestCacheGetPromotes(t *testing.T) {
	c := newCache(2)
	c.Put(1, &Inode{Index: 1}, false)
	c.Put(2, &Inode{Index: 2}, false)

	// Touch 1, making 2 the least-recent.
	_, ok := c.Get(1)
	require.True(t, ok)

	c.Put(3, &Inode{Index: 3}, false)

	_, ok = c.Get(2)
	require.False(t, ok, "2 should have been evicted as least-recent")
	_, ok = c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(3)
	require.True(t, ok)
}

// TestCachePinRespected covers spec.md §8's pin-respect property: with
// all entries pinned and a new put at capacity, the insertion fails
// silently and the cache does not grow.
func TestCachePinRespected(t *testing.T) {
	c := newCache(2)
	require.True(t, c.Put(1, &Inode{Index: 1}, true))
	require.True(t, c.Put(2, &Inode{Index: 2}, true))

	ok := c.Put(3, &Inode{Index: 3}, false)
	require.False(t, ok, "insertion must be refused when every resident entry is pinned")
	require.Equal(t, 2, c.len())

	_, found := c.Get(3)
	require.False(t, found)
	_, found = c.Get(1)
	require.True(t, found)
	_, found = c.Get(2)
	require.True(t, found)
}

// TestCacheOverwriteNeverEvictsDuringPromote covers spec.md §4.4 Put: "if
// present, overwrite in-place and promote; never evict while promoting."
func TestCacheOverwriteNeverEvictsDuringPromote(t *testing.T) {
	c := newCache(2)
	c.Put(1, &Inode{Index: 1, Size: 1}, false)
	c.Put(2, &Inode{Index: 2, Size: 1}, false)

	ok := c.Put(1, &Inode{Index: 1, Size: 99}, false)
	require.True(t, ok)
	require.Equal(t, 2, c.len())

	in, found := c.Get(1)
	require.True(t, found)
	require.Equal(t, uint32(99), in.Size)
}

// TestCacheCapacityZeroDisablesCaching covers spec.md §4.4: "Capacity
// zero disables the cache entirely (every access is a disk hit, no
// caching)."
func TestCacheCapacityZeroDisablesCaching(t *testing.T) {
	c := newCache(0)
	require.True(t, c.Put(1, &Inode{Index: 1}, false))
	_, ok := c.Get(1)
	require.False(t, ok)
	require.Equal(t, 0, c.len())
}

// TestCacheInvalidate covers the Delete path: a freed inode index must
// never be served stale out of the cache after invalidation.
func TestCacheInvalidate(t *testing.T) {
	c := newCache(4)
	c.Put(1, &Inode{Index: 1}, false)
	c.invalidate(1)
	_, ok := c.Get(1)
	require.False(t, ok)
}
