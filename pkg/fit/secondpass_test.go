// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/tree"
)

func TestRunEndToEndLocatesFITAndExtractsIBBRanges(t *testing.T) {
	const imageSize = 0x4000
	const bgpAddr = 0x1000

	blob := buildIBBSBlob(0, [][2]uint32{{0xFFFFC500, 0x400}})
	bgpEntry := buildEntry(uint64(basePhysAddr-imageSize+bgpAddr), uint32(len(blob)), EntryTypeBootGuardBootPolicy, false)

	image := buildImageWithFIT(imageSize, 0x100, [][]byte{bgpEntry})
	copy(image[bgpAddr:], blob)

	m, root := tree.New(image)

	tail := make([]byte, resetVectorDataSize)
	tail[16], tail[17], tail[18], tail[19] = 0, 0, 0x80, 0 // PeiCoreEntryPoint little-endian
	vtf, err := m.AddItem(root, imageSize-resetVectorDataSize-36, tree.KindFile, tree.SubtypeNone, "VTF", "", nil,
		nil, make([]byte, 36), tail, true, tree.Append, tree.NoRef)
	require.NoError(t, err)
	require.Equal(t, uint64(imageSize), m.Base(vtf)+m.FullSize(vtf))

	info := Run(m, root, vtf, image)

	require.Contains(t, m.Get(vtf).Info, "PEI core entry point: 0x00800000")

	foundSegmentCount := false
	foundDigest := false
	for _, line := range info {
		if line == "IBB Segments Element: 1 protected segment(s)" {
			foundSegmentCount = true
		}
		if strings.HasPrefix(line, "Computed IBB hash (SHA-256): ") {
			foundDigest = true
		}
	}
	require.True(t, foundSegmentCount, "info: %v", info)
	require.True(t, foundDigest, "info: %v", info)
}

func TestRunBailsOutOnCompressedVTF(t *testing.T) {
	image := make([]byte, 0x1000)
	m, root := tree.New(image)
	vtf, err := m.AddItem(root, 0, tree.KindFile, tree.SubtypeNone, "VTF", "", nil,
		nil, make([]byte, 0x40), nil, true, tree.Append, tree.NoRef)
	require.NoError(t, err)
	m.SetCompressed(vtf, true)

	info := Run(m, root, vtf, image)
	require.Len(t, info, 1)
	require.Contains(t, info[0], "compressed data")
}

func TestRunReportsMissingFIT(t *testing.T) {
	image := make([]byte, 0x1000)
	m, root := tree.New(image)
	vtf, err := m.AddItem(root, 0x1000-0x40, tree.KindFile, tree.SubtypeNone, "VTF", "", nil,
		nil, make([]byte, 0x40), nil, true, tree.Append, tree.NoRef)
	require.NoError(t, err)

	info := Run(m, root, vtf, image)
	found := false
	for _, line := range info {
		if strings.HasPrefix(line, "FIT not found:") {
			found = true
		}
	}
	require.True(t, found, "info: %v", info)
}
