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
	"log"

	"github.com/google/btree"
)

// cacheEntry is one resident slot: the decoded inode, its pin state, and
// a recency sequence number. The sequence number, not a timestamp, orders
// entries; btree gives O(log n) access to the least-recent one instead of
// the intrusive doubly-linked list spec.md §9 offers as one option (the
// teacher's own unused google/btree dependency fills that ordering role
// here, keyed the same way a slab/index-based list would be).
type cacheEntry struct {
	index  uint32
	inode  *Inode
	pinned bool
	seq    uint64
}

// Less implements btree.Item: entries order by recency sequence, oldest
// first, so btree.Min() is always the first eviction candidate.
func (e *cacheEntry) Less(than btree.Item) bool {
	return e.seq < than.(*cacheEntry).seq
}

// cache is the pinned LRU inode cache from spec.md §4.4. It never touches
// the backing device itself: a miss is reported to the caller, which
// reads from disk and re-inserts via Put. This keeps the cache a pure
// in-memory structure, the way the teacher's erofs package keeps its
// readers free of any caching concern of their own.
type cache struct {
	capacity int
	byIndex  map[uint32]*cacheEntry
	order    *btree.BTree
	nextSeq  uint64
}

func newCache(capacity int) *cache {
	return &cache{
		capacity: capacity,
		byIndex:  make(map[uint32]*cacheEntry),
		order:    btree.New(32),
	}
}

func (c *cache) len() int { return len(c.byIndex) }

// Get returns the cached record for index and promotes it to most-recent
// on a hit.
func (c *cache) Get(index uint32) (*Inode, bool) {
	if c.capacity == 0 {
		return nil, false
	}
	e, ok := c.byIndex[index]
	if !ok {
		return nil, false
	}
	c.promote(e)
	return e.inode, true
}

// Put inserts or overwrites index's cached record. pinned is only applied
// on insert; an existing entry's pin state is left untouched by overwrite
// (Pin sets it on a resident entry).
//
// Returns false when the cache refused the insertion because it's at
// capacity and every resident entry is pinned; the caller proceeds
// without caching (disk remains the source of truth).
func (c *cache) Put(index uint32, in *Inode, pinned bool) bool {
	if c.capacity == 0 {
		return true
	}

	if e, ok := c.byIndex[index]; ok {
		e.inode = in
		c.promote(e)
		return true
	}

	if c.len() >= c.capacity {
		if !c.evictOne() {
			log.Printf("blockimg: cache overflow, all %d entries pinned", c.len())
			return false
		}
	}

	e := &cacheEntry{index: index, inode: in, pinned: pinned, seq: c.nextSeq}
	c.nextSeq++
	c.byIndex[index] = e
	c.order.ReplaceOrInsert(e)
	return true
}

// Pin sets the pin state of a resident entry. No-op if index isn't
// cached; this generation has no unpin operation (spec.md §4.4).
func (c *cache) Pin(index uint32) {
	if e, ok := c.byIndex[index]; ok {
		e.pinned = true
	}
}

// evictOne removes the least-recent unpinned entry. Returns false if
// every resident entry is pinned.
func (c *cache) evictOne() bool {
	var victim *cacheEntry
	c.order.Ascend(func(i btree.Item) bool {
		e := i.(*cacheEntry)
		if !e.pinned {
			victim = e
			return false
		}
		return true
	})
	if victim == nil {
		return false
	}
	delete(c.byIndex, victim.index)
	c.order.Delete(victim)
	return true
}

func (c *cache) promote(e *cacheEntry) {
	c.order.Delete(e)
	e.seq = c.nextSeq
	c.nextSeq++
	c.order.ReplaceOrInsert(e)
}

// invalidate drops a resident entry unconditionally, used by Delete so a
// freed inode index is never served stale out of the cache.
func (c *cache) invalidate(index uint32) {
	if e, ok := c.byIndex[index]; ok {
		delete(c.byIndex, index)
		c.order.Delete(e)
	}
}
