// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/tree"
)

func TestMarkRecursiveFullyInsideIBBIsRed(t *testing.T) {
	m, root := tree.New(make([]byte, 0x100))
	node, err := m.AddItem(root, 0x10, tree.KindSection, tree.SubtypeNone, "n", "", nil,
		nil, make([]byte, 0x10), nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)

	MarkRecursive(m, root, ProtectedRange{Offset: 0, Size: 0x100, Type: ProtectedRangeIntelBootGuardIBB})
	require.Equal(t, tree.MarkingRed, m.Get(node).Marking)
}

func TestMarkRecursiveFullyInsideNonIBBIsCyan(t *testing.T) {
	m, root := tree.New(make([]byte, 0x100))
	node, err := m.AddItem(root, 0x10, tree.KindSection, tree.SubtypeNone, "n", "", nil,
		nil, make([]byte, 0x10), nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)

	MarkRecursive(m, root, ProtectedRange{Offset: 0, Size: 0x100, Type: ProtectedRangeVendorHashAMIV2})
	require.Equal(t, tree.MarkingCyan, m.Get(node).Marking)
}

func TestMarkRecursivePartialOverlapIsYellow(t *testing.T) {
	m, root := tree.New(make([]byte, 0x100))
	node, err := m.AddItem(root, 0x10, tree.KindSection, tree.SubtypeNone, "n", "", nil,
		nil, make([]byte, 0x20), nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)

	MarkRecursive(m, root, ProtectedRange{Offset: 0x18, Size: 0x10, Type: ProtectedRangeIntelBootGuardIBB})
	require.Equal(t, tree.MarkingYellow, m.Get(node).Marking)
}

func TestMarkRecursiveCompressedChildInheritsParentMarking(t *testing.T) {
	m, root := tree.New(make([]byte, 0x100))
	parent, err := m.AddItem(root, 0, tree.KindVolume, tree.SubtypeNone, "v", "", nil,
		nil, make([]byte, 0x100), nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)
	m.SetCompressed(parent, true)
	m.SetMarking(parent, tree.MarkingCyan)

	child, err := m.AddItem(parent, 0, tree.KindFile, tree.SubtypeNone, "f", "", nil,
		nil, make([]byte, 0x10), nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)

	MarkRecursive(m, parent, ProtectedRange{Offset: 0, Size: 0, Type: ProtectedRangeVendorHashAMIV2})
	require.Equal(t, tree.MarkingCyan, m.Get(child).Marking)
}

func TestCheckRangesRebasesIBBAndComputesDigests(t *testing.T) {
	image := make([]byte, 0x2000)
	for i := range image {
		image[i] = byte(i)
	}
	m, root := tree.New(image)

	addressDiff := uint64(0x10000)
	ranges := []ProtectedRange{
		{Offset: uint32(addressDiff) + 0x100, Size: 0x40, Type: ProtectedRangeIntelBootGuardIBB},
	}
	info := CheckRanges(m, root, image, addressDiff, ranges)

	found := false
	for _, line := range info {
		if line == "Computed IBB hash (SHA-256): "+hexString(sha256.Sum256(image[0x100:0x140])) {
			found = true
		}
	}
	require.True(t, found)
}

func TestCheckRangesFlagsSuspiciousIBBOffset(t *testing.T) {
	image := make([]byte, 0x1000)
	m, root := tree.New(image)
	ranges := []ProtectedRange{{Offset: 0x10, Size: 0x10, Type: ProtectedRangeIntelBootGuardIBB}}
	info := CheckRanges(m, root, image, 0x10000, ranges)
	require.Contains(t, info, "suspicious Boot Guard IBB protected range offset")
}

func TestCheckRangesFlagsVendorHashMismatch(t *testing.T) {
	image := make([]byte, 0x1000)
	m, root := tree.New(image)
	ranges := []ProtectedRange{{
		Offset:    0x100,
		Size:      0x10,
		Algorithm: checksum.AlgSHA256,
		Type:      ProtectedRangeVendorHashAMIV2,
		Hash:      make([]byte, sha256.Size), // all-zero, won't match real data hash
	}}
	info := CheckRanges(m, root, image, 0, ranges)
	found := false
	for _, line := range info {
		if line == "protected range [0x100:0x110] hash mismatch, image may refuse to boot" {
			found = true
		}
	}
	require.True(t, found)
}

func TestApplyBaseAdjustmentPerType(t *testing.T) {
	off, ok := ApplyBaseAdjustment(ProtectedRangeVendorHashPhoenix, 0x10, 0, 0x2000, 0)
	require.True(t, ok)
	require.Equal(t, uint32(0x2010), off)

	off, ok = ApplyBaseAdjustment(ProtectedRangeVendorHashAMIV1, 0x10, 0, 0, 0x5000)
	require.True(t, ok)
	require.Equal(t, uint32(0x5000), off)

	off, ok = ApplyBaseAdjustment(ProtectedRangeIntelBootGuardPostIBB, 0x10, 0, 0, 0x5000)
	require.True(t, ok)
	require.Equal(t, uint32(0x5000), off)

	off, ok = ApplyBaseAdjustment(ProtectedRangeVendorHashAMIV2, 0x10100, 0x10000, 0, 0)
	require.True(t, ok)
	require.Equal(t, uint32(0x100), off)

	_, ok = ApplyBaseAdjustment(ProtectedRangeVendorHashAMIV2, 0x10, 0x10000, 0, 0)
	require.False(t, ok)
}

func hexString(b [32]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 64)
	for _, v := range b {
		out = append(out, digits[v>>4], digits[v&0xF])
	}
	return string(out)
}
