// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/tree"
)

// buildFptEntry constructs one 32-byte ME_FPT_ENTRY record.
func buildFptEntry(name, owner string, offset, length, flags uint32) []byte {
	e := make([]byte, fptEntrySize)
	copy(e[0:4], name)
	copy(e[4:8], owner)
	binary.LittleEndian.PutUint32(e[8:12], offset)
	binary.LittleEndian.PutUint32(e[12:16], length)
	binary.LittleEndian.PutUint32(e[28:32], flags)
	return e
}

// buildFptRegion constructs a non-legacy $FPT header (no ROM bypass vector)
// followed by the given entries, then appends room for each entry's
// partition bytes contiguously after the table.
func buildFptRegion(entries [][]byte, numEntries uint32) []byte {
	header := make([]byte, fptHeaderSize)
	copy(header[0:4], fptSignature[:])
	binary.LittleEndian.PutUint32(header[4:8], numEntries)
	header[8] = 0x20 // HeaderVersion
	header[9] = 0x10 // EntryVersion
	header[11] = 0x00 // HeaderChecksum

	buf := append([]byte{}, header...)
	for _, e := range entries {
		buf = append(buf, e...)
	}
	return buf
}

func TestParseFptRegionNonLegacyHeader(t *testing.T) {
	partition := make([]byte, 16)
	partitionOffset := uint32(fptHeaderSize + fptEntrySize)
	entry := buildFptEntry("FTPR", "ME  ", partitionOffset, uint32(len(partition)), 0)
	buf := buildFptRegion([][]byte{entry}, 1)
	buf = append(buf, partition...)

	m, root := tree.New(nil)
	require.NoError(t, ParseMeRegionBody(m, root, 0, buf))

	children := m.Children(root)
	require.Len(t, children, 1)
	table := m.Get(children[0])
	require.Equal(t, tree.KindFPT, table.Kind)
	require.Equal(t, SubtypeFPTTable, table.Subtype)

	entries := m.Children(children[0])
	require.Len(t, entries, 1)
	ftpr := m.Get(entries[0])
	require.Equal(t, "FTPR", ftpr.Name)
	require.Equal(t, SubtypeFPTEntry, ftpr.Subtype)
}

func TestParseFptRegionLegacyHeaderWithRomBypassVector(t *testing.T) {
	header := make([]byte, fptHeaderSizeLegacy)
	copy(header[fptROMBypassVectorSize:fptROMBypassVectorSize+4], fptSignature[:])
	binary.LittleEndian.PutUint32(header[fptROMBypassVectorSize+4:fptROMBypassVectorSize+8], 0) // no entries

	m, root := tree.New(nil)
	require.NoError(t, ParseMeRegionBody(m, root, 0, header))

	children := m.Children(root)
	require.Len(t, children, 1)
	require.Equal(t, tree.KindFPT, m.Get(children[0]).Kind)
}

func TestParseFptEntryOutOfBoundsIsDiagnosedNotFatal(t *testing.T) {
	entry := buildFptEntry("BAD ", "ME  ", 0xFFFFFF00, 0x100, 0)
	buf := buildFptRegion([][]byte{entry}, 1)

	m, root := tree.New(nil)
	require.NoError(t, ParseMeRegionBody(m, root, 0, buf))

	entries := m.Children(m.Children(root)[0])
	require.Len(t, entries, 1)
	require.Contains(t, m.Get(entries[0]).Info, "partition is located outside of the opened image, skipped")
}

func TestIsBPDTSignatureRecognizesGreenAndYellow(t *testing.T) {
	green := make([]byte, 4)
	binary.LittleEndian.PutUint32(green, bpdtGreenSignature)
	require.True(t, isBPDTSignature(green))

	yellow := make([]byte, 4)
	binary.LittleEndian.PutUint32(yellow, bpdtYellowSignature)
	require.True(t, isBPDTSignature(yellow))

	require.False(t, isBPDTSignature([]byte{0, 0, 0, 0}))
}
