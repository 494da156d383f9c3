// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/tree"
)

func buildTEHeader(machine uint16, entryPoint, baseOfCode uint32, imageBase uint64) []byte {
	buf := make([]byte, teHeaderSize)
	buf[0], buf[1] = teSignature[0], teSignature[1]
	binary.LittleEndian.PutUint16(buf[2:4], machine)
	buf[4] = 1 // NumberOfSections
	buf[5] = 0x0A
	binary.LittleEndian.PutUint32(buf[8:12], entryPoint)
	binary.LittleEndian.PutUint32(buf[12:16], baseOfCode)
	binary.LittleEndian.PutUint64(buf[16:24], imageBase)
	return buf
}

func TestParseTESectionReportsFields(t *testing.T) {
	header := buildTEHeader(0x014C, 0x1000, 0x40, 0x800000)
	m, root := tree.New(nil)
	ref, err := m.AddItem(root, 0, tree.KindSection, SectionSubtype(SectionTypeTE), "TE", "", nil, nil, header, nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)
	require.NoError(t, parseTESection(m, ref))

	item := m.Get(ref)
	found := map[string]bool{}
	for _, line := range item.Info {
		found[line] = true
	}
	require.True(t, found["Machine: 0x014C"])
	require.True(t, found["Entry point: 0x1000"])
	require.True(t, found["Image base: 0x800000"])
}

func TestParseTESectionRejectsBadSignature(t *testing.T) {
	header := buildTEHeader(0x014C, 0, 0, 0)
	header[0] = 'X'
	m, root := tree.New(nil)
	ref, err := m.AddItem(root, 0, tree.KindSection, SectionSubtype(SectionTypeTE), "TE", "", nil, nil, header, nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)
	require.NoError(t, parseTESection(m, ref))
	item := m.Get(ref)
	require.Contains(t, item.Info[len(item.Info)-1], "does not start with a valid VZ signature")
}

func buildPE32(machine uint16, numberOfSections uint16) []byte {
	const ntOffset = 0x80
	buf := make([]byte, ntOffset+24+2)
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3C:0x40], ntOffset)
	copy(buf[ntOffset:ntOffset+4], peSignature[:])
	binary.LittleEndian.PutUint16(buf[ntOffset+4:ntOffset+6], machine)
	binary.LittleEndian.PutUint16(buf[ntOffset+6:ntOffset+8], numberOfSections)
	binary.LittleEndian.PutUint16(buf[ntOffset+20:ntOffset+22], 2) // SizeOfOptionalHeader, just enough for Magic
	binary.LittleEndian.PutUint16(buf[ntOffset+24:ntOffset+26], 0x10B)
	return buf
}

func TestParsePESectionReportsMachineAndMagic(t *testing.T) {
	body := buildPE32(0x014C, 3)
	m, root := tree.New(nil)
	ref, err := m.AddItem(root, 0, tree.KindSection, SectionSubtype(SectionTypePE32), "PE32", "", nil, nil, body, nil, false, tree.Append, tree.NoRef)
	require.NoError(t, err)
	require.NoError(t, parsePESection(m, ref))

	item := m.Get(ref)
	found := map[string]bool{}
	for _, line := range item.Info {
		found[line] = true
	}
	require.True(t, found["Machine: 0x014C"])
	require.True(t, found["Number of sections: 3"])
	require.True(t, found["Optional header: PE32"])
}
