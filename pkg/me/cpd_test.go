// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/tree"
)

type cpdEntrySpec struct {
	name    string
	data    []byte
	huffman bool
}

// buildCpdEntry constructs one 24-byte ME_BPDT_CPD_ENTRY record, offset is
// filled in by buildCpdRegion once every entry's placement is known.
func buildCpdEntry(name string, offset uint32, length uint32, huffman bool) []byte {
	e := make([]byte, cpdEntrySize)
	copy(e[0:12], name)
	word := offset & 0x01FFFFFF
	if huffman {
		word |= 0x02000000
	}
	binary.LittleEndian.PutUint32(e[12:16], word)
	binary.LittleEndian.PutUint32(e[16:20], length)
	return e
}

// buildCpdRegion constructs a rev1 $CPD header plus entry table, laying
// every entry's data out contiguously right after the table in declaration
// order. A nil/empty entries slice produces a valid, empty directory.
func buildCpdRegion(entries []cpdEntrySpec) []byte {
	numEntries := len(entries)
	header := make([]byte, cpdHeaderSizeRev1)
	copy(header[0:4], cpdSignature[:])
	binary.LittleEndian.PutUint32(header[4:8], uint32(numEntries))
	header[8] = 1 // HeaderVersion: rev1
	header[9] = 1 // EntryVersion

	tableSize := cpdHeaderSizeRev1 + numEntries*cpdEntrySize
	offsets := make([]uint32, numEntries)
	pos := tableSize
	for i, e := range entries {
		offsets[i] = uint32(pos)
		pos += len(e.data)
	}

	buf := append([]byte{}, header...)
	buf = append(buf, make([]byte, numEntries*cpdEntrySize)...)
	for i, e := range entries {
		entry := buildCpdEntry(e.name, offsets[i], uint32(len(e.data)), e.huffman)
		copy(buf[cpdHeaderSizeRev1+i*cpdEntrySize:], entry)
	}
	for _, e := range entries {
		buf = append(buf, e.data...)
	}
	return buf
}

func TestParseCpdRegionEmptyDirectory(t *testing.T) {
	buf := buildCpdRegion(nil)
	m, root := tree.New(nil)
	_, err := parseCpdRegion(m, root, 0, buf)
	require.NoError(t, err)

	table := m.Get(m.Children(root)[0])
	require.Equal(t, tree.KindCPD, table.Kind)
	require.Equal(t, SubtypeCPDTable, table.Subtype)
	require.Empty(t, m.Children(m.Children(root)[0]))
}

func TestParseCpdRegionClassifiesEntriesBySuffix(t *testing.T) {
	buf := buildCpdRegion([]cpdEntrySpec{
		{name: "FTPR.man", data: make([]byte, 128)},
		{name: "FTPR.met", data: make([]byte, 8)},
		{name: "FTPR", data: make([]byte, 16)},
	})

	m, root := tree.New(nil)
	_, err := parseCpdRegion(m, root, 0, buf)
	require.NoError(t, err)

	entries := m.Children(m.Children(root)[0])
	require.Len(t, entries, 3)

	byName := map[string]tree.Item{}
	for _, ref := range entries {
		item := m.Get(ref)
		byName[item.Name] = item
	}
	require.Equal(t, SubtypeCPDEntryManifest, byName["FTPR.man"].Subtype)
	require.Equal(t, SubtypeCPDEntryMetadata, byName["FTPR.met"].Subtype)
	require.Equal(t, SubtypeCPDEntryCode, byName["FTPR"].Subtype)
}

func TestParseCpdRegionCodeEntryGetsHashInfo(t *testing.T) {
	buf := buildCpdRegion([]cpdEntrySpec{
		{name: "CODE", data: []byte("some module bytes")},
	})
	m, root := tree.New(nil)
	_, err := parseCpdRegion(m, root, 0, buf)
	require.NoError(t, err)

	entries := m.Children(m.Children(root)[0])
	item := m.Get(entries[0])
	found := false
	for _, line := range item.Info {
		if len(line) > 6 && line[:6] == "Hash: " {
			found = true
		}
	}
	require.True(t, found)
}

// buildModuleAttributesExtension constructs a Module Attributes CPD
// extension (Type/Length header plus CompressedSize at +16).
func buildModuleAttributesExtension(compressedSize uint32) []byte {
	ext := make([]byte, 24)
	binary.LittleEndian.PutUint32(ext[0:4], cpdExtTypeModuleAttributes)
	binary.LittleEndian.PutUint32(ext[4:8], uint32(len(ext)))
	binary.LittleEndian.PutUint32(ext[16:20], compressedSize)
	return ext
}

func TestParseCpdRegionMetCorrectsHuffmanCodeLength(t *testing.T) {
	codeData := make([]byte, 64)
	for i := range codeData {
		codeData[i] = byte(i)
	}
	metBody := buildModuleAttributesExtension(7) // real compressed size is shorter than the 64-byte declared length
	buf := buildCpdRegion([]cpdEntrySpec{
		{name: "FTPR", data: codeData, huffman: true},
		{name: "FTPR.met", data: metBody},
	})

	m, root := tree.New(nil)
	_, err := parseCpdRegion(m, root, 0, buf)
	require.NoError(t, err)

	entries := m.Children(m.Children(root)[0])
	var codeItem tree.Item
	for _, ref := range entries {
		item := m.Get(ref)
		if item.Name == "FTPR" {
			codeItem = item
		}
	}
	correctedHash := sha256.Sum256(codeData[:7])
	require.Contains(t, codeItem.Info, fmt.Sprintf("Hash: %x", correctedHash))
}

func TestParseCpdRegionManifestWalksExtensionsArea(t *testing.T) {
	manifestHeader := make([]byte, 128)
	binary.LittleEndian.PutUint32(manifestHeader[4:8], 32) // HeaderLength in uint32 words -> 128 bytes
	ext := buildModuleAttributesExtension(100)
	manifest := append(manifestHeader, ext...)

	buf := buildCpdRegion([]cpdEntrySpec{
		{name: "FTPR.man", data: manifest},
	})

	m, root := tree.New(nil)
	_, err := parseCpdRegion(m, root, 0, buf)
	require.NoError(t, err)

	entries := m.Children(m.Children(root)[0])
	exts := m.Children(entries[0])
	require.Len(t, exts, 1)
	require.Equal(t, "Module Attributes", m.Get(exts[0]).Name)
}

func TestModuleAttributesCompressedSize(t *testing.T) {
	ext := buildModuleAttributesExtension(42)
	size, ok := moduleAttributesCompressedSize(ext)
	require.True(t, ok)
	require.Equal(t, uint32(42), size)

	_, ok = moduleAttributesCompressedSize(make([]byte, 4))
	require.False(t, ok)
}
