// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/tree"
)

func TestClassifyTEBase(t *testing.T) {
	kind, ok := classifyTEBase(0x1000, 0x1000, 0x2000)
	require.True(t, ok)
	require.Equal(t, TEBaseOriginal, kind)

	kind, ok = classifyTEBase(0x2000, 0x1000, 0x2000)
	require.True(t, ok)
	require.Equal(t, TEBaseAdjusted, kind)

	kind, ok = classifyTEBase(0x1008, 0x1000, 0x4000)
	require.True(t, ok)
	require.Equal(t, TEBaseOriginal, kind)

	kind, ok = classifyTEBase(0x7000, 0x1000, 0x2000)
	require.False(t, ok)
	require.Equal(t, TEBaseOther, kind)
}

func TestCheckTEImageBaseAnnotatesMatchingNode(t *testing.T) {
	m, root := tree.New(nil)
	header := make([]byte, 8)
	ref, err := m.AddItem(root, 0x1000, tree.KindSection, ffs.SectionSubtype(ffs.SectionTypeTE), "TE", "", nil,
		header, nil, nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)
	m.SetParsingData(ref, ffs.TEImageBaseInfo{OriginalImageBase: 0x1008, AdjustedImageBase: 0x2008})

	CheckTEImageBase(m, root, 0)

	require.Contains(t, m.Get(ref).Info, "TE image base: original")
}

func TestCheckTEImageBaseSkipsCompressedNode(t *testing.T) {
	m, root := tree.New(nil)
	header := make([]byte, 8)
	ref, err := m.AddItem(root, 0x1000, tree.KindSection, ffs.SectionSubtype(ffs.SectionTypeTE), "TE", "", nil,
		header, nil, nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)
	m.SetCompressed(ref, true)
	m.SetParsingData(ref, ffs.TEImageBaseInfo{OriginalImageBase: 0x1008, AdjustedImageBase: 0x2008})

	CheckTEImageBase(m, root, 0)

	require.Empty(t, m.Get(ref).Info)
}
