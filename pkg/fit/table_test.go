// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/tree"
)

// buildImageWithFIT lays out a FIT header entry plus extraEntries at
// fitOffset, writes the FIT pointer at imageSize-0x40, and returns the full
// image. fitOffset must be chosen so the table plus its FIT pointer both
// fit inside imageSize.
func buildImageWithFIT(imageSize int, fitOffset uint32, extraEntries [][]byte) []byte {
	image := make([]byte, imageSize)
	numEntries := uint32(1 + len(extraEntries))
	tableSize := numEntries * entryHeaderSize

	headerEntry := make([]byte, entryHeaderSize)
	copy(headerEntry[0:8], fitHeaderSignature[:])
	sizeUnits := tableSize >> 4
	headerEntry[8] = byte(sizeUnits)
	headerEntry[9] = byte(sizeUnits >> 8)
	headerEntry[10] = byte(sizeUnits >> 16)
	copy(image[fitOffset:], headerEntry)

	pos := fitOffset + entryHeaderSize
	for _, e := range extraEntries {
		copy(image[pos:], e)
		pos += entryHeaderSize
	}

	addressDiff := basePhysAddr - uint64(imageSize)
	physAddr := addressDiff + uint64(fitOffset)
	binary.LittleEndian.PutUint64(image[imageSize-fitPointerOffset:], physAddr)
	return image
}

func TestLocateTableFindsHeaderAndSize(t *testing.T) {
	image := buildImageWithFIT(0x2000, 0x100, [][]byte{buildEntry(0, 1, EntryTypeMicrocodeUpdate, false)})
	offset, size, err := LocateTable(image)
	require.NoError(t, err)
	require.Equal(t, uint32(0x100), offset)
	require.Equal(t, uint32(2*entryHeaderSize), size)
}

func TestLocateTableRejectsMissingSignature(t *testing.T) {
	image := make([]byte, 0x1000)
	binary.LittleEndian.PutUint64(image[len(image)-fitPointerOffset:], basePhysAddr-uint64(len(image))+0x40)
	_, _, err := LocateTable(image)
	require.Error(t, err)
}

func TestParseTableAttachesEntries(t *testing.T) {
	image := buildImageWithFIT(0x2000, 0x100, [][]byte{
		buildEntry(0, 4, EntryTypeMicrocodeUpdate, false),
		buildEntry(0, 1, EntryTypeBootGuardBootPolicy, false),
	})
	offset, size, err := LocateTable(image)
	require.NoError(t, err)

	m, root := tree.New(image)
	ref, entries, err := ParseTable(m, root, 0, image, offset, size)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, EntryTypeHeader, entries[0].Type())
	require.Equal(t, EntryTypeMicrocodeUpdate, entries[1].Type())
	require.Equal(t, EntryTypeBootGuardBootPolicy, entries[2].Type())

	children := m.Children(ref)
	require.Len(t, children, 3)
	require.Equal(t, tree.KindFITEntry, m.Get(children[1]).Kind)
}
