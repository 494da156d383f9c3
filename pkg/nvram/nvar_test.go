// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvram

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// buildNvarEntry constructs a full NVAR entry: header + inline 16-byte GUID
// + NUL-terminated ASCII name + data.
func buildNvarEntry(entryGUID guid.GUID, name string, data []byte) []byte {
	bodyLen := 16 + len(name) + 1 + len(data)
	size := nvarHeaderSize + bodyLen
	buf := make([]byte, size)
	copy(buf[0:4], nvarSignature[:])
	binary.LittleEndian.PutUint16(buf[4:6], uint16(size))
	buf[6], buf[7], buf[8] = 0xFF, 0xFF, 0xFF // Next: none
	buf[9] = nvarAttribValid | nvarAttribGUID | nvarAttribASCIIName

	pos := nvarHeaderSize
	copy(buf[pos:pos+16], entryGUID[:])
	pos += 16
	copy(buf[pos:], name)
	pos += len(name)
	buf[pos] = 0
	pos++
	copy(buf[pos:], data)
	return buf
}

func TestParseNvarStoreSingleEntry(t *testing.T) {
	g := *guid.MustParse("11111111-1111-1111-1111-111111111111")
	entry := buildNvarEntry(g, "MyVar", []byte{1, 2, 3, 4})

	m, root := tree.New(nil)
	ref, err := Parse(m, root, 0, entry)
	require.NoError(t, err)
	require.Equal(t, root, ref)

	stores := m.Children(root)
	require.Len(t, stores, 1)
	store := m.Get(stores[0])
	require.Equal(t, tree.KindNVRAMStore, store.Kind)
	require.Equal(t, SubtypeStoreNVAR, store.Subtype)

	entries := m.Children(stores[0])
	require.Len(t, entries, 1)
	item := m.Get(entries[0])
	require.Equal(t, tree.KindNVRAMEntry, item.Kind)
	require.Equal(t, SubtypeEntryFull, item.Subtype)
	require.Equal(t, "MyVar", item.Name)
	require.Equal(t, []byte{1, 2, 3, 4}, item.Body)
}

func TestParseNvarStoreInvalidEntryMarked(t *testing.T) {
	g := *guid.MustParse("22222222-2222-2222-2222-222222222222")
	entry := buildNvarEntry(g, "X", nil)
	entry[9] = 0 // clear Valid (and every other attribute bit)

	m, root := tree.New(nil)
	_, err := Parse(m, root, 0, entry)
	require.NoError(t, err)

	store := m.Children(root)[0]
	item := m.Get(m.Children(store)[0])
	require.Equal(t, SubtypeEntryInvalid, item.Subtype)
}

func TestParseNvarStoreGUIDByIndex(t *testing.T) {
	g := *guid.MustParse("33333333-3333-3333-3333-333333333333")

	// Entry references GUID index 0 instead of carrying it inline.
	bodyLen := 1 + 2 + 1 // index byte + "A\0" + data
	size := nvarHeaderSize + bodyLen
	entry := make([]byte, size)
	copy(entry[0:4], nvarSignature[:])
	binary.LittleEndian.PutUint16(entry[4:6], uint16(size))
	entry[6], entry[7], entry[8] = 0xFF, 0xFF, 0xFF
	entry[9] = nvarAttribValid | nvarAttribASCIIName // no GUID bit: indexed
	pos := nvarHeaderSize
	entry[pos] = 0 // GUID index 0
	pos++
	entry[pos] = 'A'
	pos++
	entry[pos] = 0
	pos++
	entry[pos] = 0xAB

	// The GUID store grows backward from the end of the whole store buffer:
	// append one 16-byte GUID after the entry.
	store := append(append([]byte{}, entry...), g[:]...)

	m, root := tree.New(nil)
	_, err := Parse(m, root, 0, store)
	require.NoError(t, err)

	storeRef := m.Children(root)[0]
	item := m.Get(m.Children(storeRef)[0])
	require.Equal(t, "A", item.Name)

	found := false
	for _, line := range item.Info {
		if line == "GUID: "+g.String() {
			found = true
		}
	}
	require.True(t, found)
}
