// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/tree"
)

func TestResolveLayoutGapsBeforeBetweenAfter(t *testing.T) {
	items := []LayoutItem{
		{Base: 0x2000, Size: 0x1000, Index: 1},
		{Base: 0x4000, Size: 0x1000, Index: 2},
	}
	placements, err := ResolveLayout(0x1000, 0x6000, items)
	require.NoError(t, err)
	require.Len(t, placements, 5)

	require.True(t, placements[0].IsGap)
	require.Equal(t, uint64(0x1000), placements[0].Base)
	require.Equal(t, uint64(0x1000), placements[0].Size)

	require.False(t, placements[1].IsGap)
	require.Equal(t, 1, placements[1].Index)

	require.True(t, placements[2].IsGap)
	require.Equal(t, uint64(0x3000), placements[2].Base)
	require.Equal(t, uint64(0x1000), placements[2].Size)

	require.False(t, placements[3].IsGap)
	require.Equal(t, 2, placements[3].Index)

	require.True(t, placements[4].IsGap)
	require.Equal(t, uint64(0x5000), placements[4].Base)
	require.Equal(t, uint64(0x1000), placements[4].Size)
}

func TestResolveLayoutNoGaps(t *testing.T) {
	items := []LayoutItem{{Base: 0, Size: 0x1000, Index: 0}}
	placements, err := ResolveLayout(0, 0x1000, items)
	require.NoError(t, err)
	require.Len(t, placements, 1)
	require.False(t, placements[0].IsGap)
}

func TestResolveLayoutOverlapIsFatal(t *testing.T) {
	items := []LayoutItem{
		{Base: 0, Size: 0x2000, Index: 0},
		{Base: 0x1000, Size: 0x1000, Index: 1},
	}
	_, err := ResolveLayout(0, 0x3000, items)
	require.Error(t, err)
}

func TestResolveLayoutOverrunIsFatal(t *testing.T) {
	items := []LayoutItem{{Base: 0, Size: 0x2000, Index: 0}}
	_, err := ResolveLayout(0, 0x1000, items)
	require.Error(t, err)
}

func TestResolveLayoutDropsZeroSizeItems(t *testing.T) {
	items := []LayoutItem{{Base: 0x500, Size: 0, Index: 0}}
	placements, err := ResolveLayout(0, 0x1000, items)
	require.NoError(t, err)
	require.Len(t, placements, 1)
	require.True(t, placements[0].IsGap)
}

func TestGapFillSubtype(t *testing.T) {
	require.Equal(t, tree.SubtypePaddingZero, GapFillSubtype([]byte{0, 0, 0}))
	require.Equal(t, tree.SubtypePaddingOne, GapFillSubtype([]byte{0xFF, 0xFF}))
	require.Equal(t, tree.SubtypePaddingData, GapFillSubtype([]byte{0, 1, 0}))
	require.Equal(t, tree.SubtypePaddingZero, GapFillSubtype(nil))
}
