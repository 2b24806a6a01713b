// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 blockimg contributors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package blockimg implements a single-file, block-structured filesystem
// image: a superblock, block and inode bitmaps, a fixed-size inode
// table, small-file inlining, copy-on-create snapshots, and a pinned LRU
// inode cache, all addressed through one Device and one Session per
// mount.
//
// The namespace is flat (no directories beyond the root marker), there
// is no concurrent multi-process access, and crash consistency is
// best-effort: only state persisted through the superblock/bitmap save
// at the end of a mutating operation survives a mid-operation abort.
package blockimg
