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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ambarisha/blockimg/internal/imagetest"
)

// TestHashFilesStableAcrossAllocationHistory covers the same contract the
// teacher's internal/testutil.HashFS gives erofs: two images holding the
// same file set and content hash identically regardless of how that
// content got allocated (different creation order, intervening deletes).
func TestHashFilesStableAcrossAllocationHistory(t *testing.T) {
	s1, err := imagetest.NewFormattedMem(1<<20, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s1.Close()) })

	_, err = s1.Create("a", []byte("alpha"))
	require.NoError(t, err)
	_, err = s1.Create("b", bytes.Repeat([]byte{'b'}, 3000))
	require.NoError(t, err)

	h1, err := imagetest.HashFiles(s1, []string{"a", "b"})
	require.NoError(t, err)

	s2, err := imagetest.NewFormattedMem(1<<20, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s2.Close()) })

	// Different creation order, plus a throwaway file that's deleted
	// before either survivor is created, perturbing the allocation
	// history without perturbing the final file set.
	_, err = s2.Create("scratch", []byte("discarded"))
	require.NoError(t, err)
	_, err = s2.Create("b", bytes.Repeat([]byte{'b'}, 3000))
	require.NoError(t, err)
	require.NoError(t, s2.Delete("scratch"))
	_, err = s2.Create("a", []byte("alpha"))
	require.NoError(t, err)

	h2, err := imagetest.HashFiles(s2, []string{"a", "b"})
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}
