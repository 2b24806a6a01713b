// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 blockimg contributors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package imagetest holds helpers shared by the blockimg test suite for
// building and hashing throwaway images, adapted from the teacher's
// internal/testutil.HashFS to the flat namespace a Session exposes
// rather than an fs.FS tree.
package imagetest

import (
	"io"
	"sort"

	"github.com/rogpeppe/go-internal/dirhash"

	"github.com/ambarisha/blockimg"
)

// NewFormattedMem formats a fresh in-memory image and returns the
// mounted Session, for tests that don't need a real temp file.
func NewFormattedMem(sizeBytes int64, blockSize uint32) (*blockimg.Session, error) {
	dev := blockimg.NewMemDevice(sizeBytes)
	return blockimg.FormatDevice(dev, blockimg.FormatOptions{
		SizeBytes: sizeBytes,
		BlockSize: blockSize,
	})
}

// HashFiles hashes the content of every named file in s the way
// dirhash.Hash1 hashes a module's file list: sorted names, content read
// through a ReadCloser opener. Two images with the same file set and
// content, regardless of on-disk layout or allocation history, hash
// identically.
func HashFiles(s *blockimg.Session, names []string) (string, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	return dirhash.Hash1(sorted, func(name string) (io.ReadCloser, error) {
		data, err := s.Read(name)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(&byteReader{data: data}), nil
	})
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
