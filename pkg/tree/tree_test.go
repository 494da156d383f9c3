// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddItemAppendAndBase(t *testing.T) {
	m, root := New([]byte{0xAA, 0xBB, 0xCC, 0xDD})

	child, err := m.AddItem(root, 1, KindVolume, SubtypeNone, "vol", "", nil,
		m.Buf()[1:2], m.Buf()[2:3], nil, false, Append, NoRef)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.Base(child))

	grandchild, err := m.AddItem(child, 0, KindFile, SubtypeNone, "file", "", nil,
		m.Buf()[2:3], nil, nil, false, Append, NoRef)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.Base(grandchild))
	require.Equal(t, []Ref{child}, m.Children(root))
	require.Equal(t, []Ref{grandchild}, m.Children(child))
}

func TestAddItemBeforeAfterRequireParent(t *testing.T) {
	m, root := New([]byte{0, 1, 2, 3})
	_, err := m.AddItem(root, 0, KindPadding, SubtypeNone, "", "", nil, nil, nil, nil, false, Before, root)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestAddItemBeforeAfterOrdering(t *testing.T) {
	m, root := New([]byte{0, 1, 2, 3})
	a, _ := m.AddItem(root, 0, KindFile, SubtypeNone, "a", "", nil, nil, nil, nil, false, Append, NoRef)
	c, _ := m.AddItem(root, 2, KindFile, SubtypeNone, "c", "", nil, nil, nil, nil, false, Append, NoRef)
	b, err := m.AddItem(root, 1, KindFile, SubtypeNone, "b", "", nil, nil, nil, nil, false, After, a)
	require.NoError(t, err)
	require.Equal(t, []Ref{a, b, c}, m.Children(root))
}

func TestSetFixedPropagatesAcrossAncestorsButStopsAtCompressedBoundary(t *testing.T) {
	m, root := New([]byte{0, 1, 2, 3})
	compressed, _ := m.AddItem(root, 0, KindSection, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)
	m.SetCompressed(compressed, true)
	inner, _ := m.AddItem(compressed, 0, KindVolume, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)
	leaf, _ := m.AddItem(inner, 0, KindFile, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)

	m.SetFixed(leaf)
	require.True(t, m.Get(leaf).Fixed)
	require.True(t, m.Get(inner).Fixed)
	require.True(t, m.Get(compressed).Fixed)
	require.False(t, m.Get(root).Fixed)
}

func TestFindParentOfType(t *testing.T) {
	m, root := New([]byte{0, 1, 2, 3})
	vol, _ := m.AddItem(root, 0, KindVolume, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)
	file, _ := m.AddItem(vol, 0, KindFile, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)
	section, _ := m.AddItem(file, 0, KindSection, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)

	require.Equal(t, file, m.FindParentOfType(section, KindFile))
	require.Equal(t, vol, m.FindParentOfType(section, KindVolume))
	require.Equal(t, NoRef, m.FindParentOfType(section, KindRegion))
}

func TestFindByBase(t *testing.T) {
	buf := make([]byte, 16)
	m, root := New(buf)
	vol, _ := m.AddItem(root, 0, KindVolume, SubtypeNone, "", "", nil, buf[0:4], buf[4:16], nil, false, Append, NoRef)
	file, _ := m.AddItem(vol, 4, KindFile, SubtypeNone, "", "", nil, buf[4:8], buf[8:12], nil, false, Append, NoRef)

	require.Equal(t, file, m.FindByBase(5))
	require.Equal(t, vol, m.FindByBase(1))
	require.Equal(t, NoRef, m.FindByBase(100))
}

func TestAddItemInheritsCompressedFromParent(t *testing.T) {
	m, root := New([]byte{0, 1})
	compressed, _ := m.AddItem(root, 0, KindSection, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)
	m.SetCompressed(compressed, true)
	child, _ := m.AddItem(compressed, 0, KindVolume, SubtypeNone, "", "", nil, nil, nil, nil, false, Append, NoRef)
	require.True(t, m.Get(child).Compressed)
}
