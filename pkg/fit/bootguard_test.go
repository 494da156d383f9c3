// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/checksum"
)

// buildIBBSBlob lays out a minimal __IBBS__ Element: StructInfo, the fixed
// field block bootguard.go skips by size, a Post-IBB HashStructureFill, an
// IBBEntryPoint, a HashStructure digest list, a segment count, and the
// segments themselves.
func buildIBBSBlob(prefix int, segments [][2]uint32) []byte {
	var buf []byte
	buf = append(buf, make([]byte, prefix)...)
	buf = append(buf, ibbSegmentsTag[:]...)
	buf = append(buf, 0x10) // version

	fixed := 1 + 1 + 1 + 4 + 8 + 8 + 4 + 4 + 8 + 8
	buf = append(buf, make([]byte, fixed)...)

	// Post-IBB HashStructureFill: alg (SHA-256) + 32-byte buffer, no length prefix.
	postIBB := make([]byte, 2+checksum.AlgSHA256.Size())
	binary.LittleEndian.PutUint16(postIBB[0:2], uint16(checksum.AlgSHA256))
	buf = append(buf, postIBB...)

	buf = append(buf, make([]byte, 4)...) // IBBEntryPoint

	// Digest HashStructure: alg + uint16 length prefix + buffer.
	digest := make([]byte, 4+32)
	binary.LittleEndian.PutUint16(digest[0:2], uint16(checksum.AlgSHA256))
	binary.LittleEndian.PutUint16(digest[2:4], 32)
	buf = append(buf, digest...)

	buf = append(buf, byte(len(segments)))
	for _, seg := range segments {
		s := make([]byte, ibbSegmentSize)
		binary.LittleEndian.PutUint32(s[4:8], seg[0])
		binary.LittleEndian.PutUint32(s[8:12], seg[1])
		buf = append(buf, s...)
	}
	return buf
}

func TestExtractIBBRangesDecodesSegments(t *testing.T) {
	body := buildIBBSBlob(16, [][2]uint32{{0x1000000, 0x2000}, {0x1100000, 0x4000}})
	ranges, info := ExtractIBBRanges(body)
	require.Len(t, ranges, 2)
	require.Equal(t, uint32(0x1000000), ranges[0].Offset)
	require.Equal(t, uint32(0x2000), ranges[0].Size)
	require.Equal(t, ProtectedRangeIntelBootGuardIBB, ranges[0].Type)
	require.Equal(t, uint32(0x1100000), ranges[1].Offset)
	require.Equal(t, uint32(0x4000), ranges[1].Size)
	require.Contains(t, info, "IBB Segments Element: 2 protected segment(s)")
}

func TestExtractIBBRangesSkipsZeroSizeSegments(t *testing.T) {
	body := buildIBBSBlob(0, [][2]uint32{{0x1000000, 0}, {0x1100000, 0x4000}})
	ranges, _ := ExtractIBBRanges(body)
	require.Len(t, ranges, 1)
	require.Equal(t, uint32(0x1100000), ranges[0].Offset)
}

func TestExtractIBBRangesMissingTag(t *testing.T) {
	body := make([]byte, 64)
	ranges, info := ExtractIBBRanges(body)
	require.Nil(t, ranges)
	require.Contains(t, info, "no IBB Segments Element (__IBBS__) found in Boot Policy Manifest")
}

func TestExtractIBBRangesTruncatedFixedFields(t *testing.T) {
	body := append(append([]byte{}, ibbSegmentsTag[:]...), 0x10)
	ranges, info := ExtractIBBRanges(body)
	require.Nil(t, ranges)
	require.Contains(t, info, "IBB Segments Element truncated before its fixed fields")
}
