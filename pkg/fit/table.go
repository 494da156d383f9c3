// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/tree"
)

// LocateTable implements fiano's GetHeadersTableRangeFrom / the address_diff
// arithmetic original_source/common/ffsparser.cpp's performSecondPass runs
// once it knows the last VTF's size: the 8-byte pointer sitting at
// imageSize-0x40 holds the FIT Header Entry's physical address; subtracting
// (basePhysAddr - imageSize) turns that into a byte offset into image. The
// FIT Header Entry found there must carry the literal "_FIT_   " signature
// in its Address field (fiano ent_fit_header_entry.go), and its own Size
// field (in 16-byte units) gives the whole table's length.
func LocateTable(image []byte) (offset uint32, size uint32, err error) {
	if len(image) < fitPointerOffset {
		return 0, 0, fmt.Errorf("image too small to hold a FIT pointer")
	}
	physAddr := binary.LittleEndian.Uint64(image[len(image)-fitPointerOffset:])
	addressDiff := basePhysAddr - uint64(len(image))
	if physAddr < addressDiff || physAddr-addressDiff > uint64(len(image)) {
		return 0, 0, fmt.Errorf("FIT pointer does not resolve inside the image")
	}
	start := uint32(physAddr - addressDiff)
	if uint64(start)+entryHeaderSize > uint64(len(image)) {
		return 0, 0, fmt.Errorf("FIT header entry would run past end of image")
	}
	header := parseEntryHeader(image[start : start+entryHeaderSize])
	var addrBytes [8]byte
	binary.LittleEndian.PutUint64(addrBytes[:], header.Address)
	if addrBytes != fitHeaderSignature {
		return 0, 0, fmt.Errorf("FIT header entry missing \"_FIT_   \" signature")
	}
	tableSize := header.sizeUnits() << 4
	if uint64(start)+uint64(tableSize) > uint64(len(image)) {
		return 0, 0, fmt.Errorf("FIT table declares a size past end of image")
	}
	return start, tableSize, nil
}

// ParseTable decodes the FIT at image[offset:offset+size] (as located by
// LocateTable) and attaches one KindFIT table node plus one KindFITEntry
// child per FIT_ENTRY record, including the FIT Header Entry itself.
// parentBase is parent's own absolute position in image (m.Base(parent)),
// used to turn offset into a position relative to parent. It returns the
// decoded entries (table-relative) so the caller's Boot Guard extraction
// pass can find the Key Manifest/Boot Policy ones without re-walking the
// tree.
func ParseTable(m *tree.Model, parent tree.Ref, parentBase uint64, image []byte, offset, size uint32) (tree.Ref, []entryHeader, error) {
	if size%entryHeaderSize != 0 {
		return tree.NoRef, nil, fmt.Errorf("FIT table size 0x%X is not a multiple of the entry size", size)
	}
	numEntries := int(size) / entryHeaderSize
	table := image[offset : offset+size]

	headerEntry := parseEntryHeader(table[0:entryHeaderSize])
	tableInfo := []string{
		fmt.Sprintf("Number of entries: %d", numEntries),
		fmt.Sprintf("FIT version: %d.%d", headerEntry.Version>>8, headerEntry.Version&0xFF),
	}
	ref, err := m.AddItem(parent, uint64(offset)-parentBase, tree.KindFIT, SubtypeFITTable, "Firmware Interface Table", "", tableInfo,
		table, nil, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, nil, err
	}

	entries := make([]entryHeader, numEntries)
	for i := 0; i < numEntries; i++ {
		raw := table[i*entryHeaderSize : (i+1)*entryHeaderSize]
		e := parseEntryHeader(raw)
		entries[i] = e

		info := e.describe()
		if e.ChecksumValid() && !verifyChecksum(raw) {
			info = append(info, "Checksum mismatch")
		}
		if _, err := m.AddItem(ref, uint64(i*entryHeaderSize), tree.KindFITEntry, tree.Subtype(e.Type()), e.Type().String(), "", info,
			raw, nil, nil, true, tree.Append, tree.NoRef); err != nil {
			return tree.NoRef, nil, err
		}
	}
	return ref, entries, nil
}
