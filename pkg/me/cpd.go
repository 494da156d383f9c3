// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/tree"
)

// parseCpdRegion decodes a $CPD (Code Partition Directory): a rev1/rev2
// header (original_source/common/meparser.h's ME_CPD_HEADER, rev2 adding one
// reserved UINT32 rev1 doesn't carry) followed by NumEntries fixed-size
// entries (ME_BPDT_CPD_ENTRY), each naming a byte range within the same
// directory buffer.
func parseCpdRegion(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, error) {
	if len(buf) < cpdHeaderSizeRev1 {
		return tree.NoRef, fmt.Errorf("invalid-me-partition-table: CPD too small to fit rev1 header")
	}
	numEntries := binary.LittleEndian.Uint32(buf[4:8])
	headerVersion := buf[8]
	entryVersion := buf[9]

	headerSize := cpdHeaderSizeRev1
	if headerVersion == 2 {
		headerSize = cpdHeaderSizeRev2
	}
	if len(buf) < headerSize {
		return tree.NoRef, fmt.Errorf("invalid-me-partition-table: CPD too small to fit rev%d header", headerVersion)
	}

	bodySize := int(numEntries) * cpdEntrySize
	tableSize := headerSize + bodySize
	if tableSize > len(buf) {
		return tree.NoRef, fmt.Errorf("invalid-me-partition-table: CPD too small to fit %d entries", numEntries)
	}

	info := []string{
		fmt.Sprintf("Number of entries: %d", numEntries),
		fmt.Sprintf("Header version: %d", headerVersion),
		fmt.Sprintf("Entry version: %d", entryVersion),
	}
	header := buf[:headerSize]
	tableBody := buf[headerSize:tableSize]
	ref, err := m.AddItem(parent, offset, tree.KindCPD, SubtypeCPDTable, "CPD partition table", "", info,
		header, tableBody, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, err
	}

	type entry struct {
		entryRef          tree.Ref
		name              string
		huffmanCompressed bool
	}
	entries := make([]entry, 0, numEntries)
	items := make([]ffs.LayoutItem, 0, numEntries)
	for i := 0; i < int(numEntries); i++ {
		raw := tableBody[i*cpdEntrySize : (i+1)*cpdEntrySize]
		name := trimCName(raw[0:12])
		offsetWord := binary.LittleEndian.Uint32(raw[12:16])
		partOffset := offsetWord & 0x01FFFFFF
		huffman := offsetWord&0x02000000 != 0
		length := binary.LittleEndian.Uint32(raw[16:20])

		entryInfo := []string{
			fmt.Sprintf("Offset: 0x%X", partOffset),
			fmt.Sprintf("Length: 0x%X", length),
			fmt.Sprintf("Huffman compressed: %v", huffman),
		}
		subtype := cpdEntrySubtype(name)
		entryRef, err := m.AddItem(ref, uint64(headerSize+i*cpdEntrySize), tree.KindCPDEntry, subtype, name, "", entryInfo,
			raw, nil, nil, true, tree.Append, tree.NoRef)
		if err != nil {
			return tree.NoRef, err
		}
		if partOffset == 0 || length == 0 {
			continue
		}
		entries = append(entries, entry{entryRef, name, huffman})
		items = append(items, ffs.LayoutItem{Base: uint64(partOffset), Size: uint64(length), Index: i})
	}

	// .met metadata partitions carry the real compressed size of their
	// Huffman-compressed code partition counterpart in a Module Attributes
	// extension; original_source's parseCpdRegion reads it ahead of the main
	// placement pass so the code partition's declared length can be
	// corrected before layout resolution.
	nameToItemIndex := make(map[string]int, len(items))
	for j := range items {
		nameToItemIndex[entries[j].name] = j
	}
	correctedLength := make(map[int]uint32, len(items))
	for j, it := range items {
		name := entries[j].name
		if !strings.HasSuffix(name, ".met") || int(it.Base)+int(it.Size) > len(buf) {
			continue
		}
		metBody := buf[it.Base : it.Base+it.Size]
		if size, ok := moduleAttributesCompressedSize(metBody); ok {
			if codeIdx, ok := nameToItemIndex[strings.TrimSuffix(name, ".met")]; ok {
				correctedLength[items[codeIdx].Index] = size
			}
		}
	}
	for j, it := range items {
		if size, ok := correctedLength[it.Index]; ok {
			items[j].Size = uint64(size)
		}
	}

	placements, err := ffs.ResolveLayout(uint64(tableSize), uint64(len(buf)), items)
	if err != nil {
		m.AddInfo(ref, fmt.Sprintf("CPD partition layout inconsistent: %v", err))
		return ref, nil
	}

	byIndex := make(map[int]entry, len(entries))
	for j, it := range items {
		byIndex[it.Index] = entries[j]
	}

	for _, p := range placements {
		if p.IsGap {
			subtype := ffs.GapFillSubtype(buf[p.Base : p.Base+p.Size])
			if _, err := m.AddItem(ref, p.Base, tree.KindPadding, subtype, "Padding", "", nil,
				nil, buf[p.Base:p.Base+p.Size], nil, false, tree.Append, tree.NoRef); err != nil {
				return tree.NoRef, err
			}
			continue
		}
		e := byIndex[p.Index]
		data := buf[p.Base : p.Base+p.Size]
		if err := parseCpdPartitionData(m, e.entryRef, e.name, e.huffmanCompressed, data); err != nil {
			return tree.NoRef, err
		}
	}
	return ref, nil
}

func cpdEntrySubtype(name string) tree.Subtype {
	switch {
	case strings.HasSuffix(name, ".man"):
		return SubtypeCPDEntryManifest
	case strings.HasSuffix(name, ".met"):
		return SubtypeCPDEntryMetadata
	default:
		return SubtypeCPDEntryCode
	}
}

// parseCpdPartitionData attaches a direct SHA-256 of the partition's content
// to code and metadata partitions and, for manifest/metadata partitions,
// walks the CPD extensions area that follows. Manifest partitions get no
// hash of their own.
func parseCpdPartitionData(m *tree.Model, ref tree.Ref, name string, huffman bool, data []byte) error {
	switch {
	case strings.HasSuffix(name, ".man"):
		if len(data) < 128 {
			m.AddInfo(ref, "manifest too small for a CPD manifest header")
			return nil
		}
		headerLength := binary.LittleEndian.Uint32(data[4:8]) * 4
		if uint64(headerLength) > uint64(len(data)) {
			headerLength = uint32(len(data))
		}
		return parseCpdExtensionsArea(m, ref, data[headerLength:])
	case strings.HasSuffix(name, ".met"):
		sum := sha256.Sum256(data)
		m.AddInfo(ref, fmt.Sprintf("Metadata hash: %x", sum))
		return parseCpdExtensionsArea(m, ref, data)
	default:
		sum := sha256.Sum256(data)
		m.AddInfo(ref, fmt.Sprintf("Hash: %x", sum))
		return nil
	}
}

// moduleAttributesCompressedSize scans a .met partition's extensions area
// for the Module Attributes extension and returns its CompressedSize field.
func moduleAttributesCompressedSize(body []byte) (uint32, bool) {
	offset := 0
	for offset+cpdExtensionHeaderSize <= len(body) {
		extType := binary.LittleEndian.Uint32(body[offset : offset+4])
		extLength := binary.LittleEndian.Uint32(body[offset+4 : offset+8])
		if extLength == 0 || int(extLength) > len(body)-offset {
			break
		}
		if extType == cpdExtTypeModuleAttributes && offset+16+4 <= len(body) {
			return binary.LittleEndian.Uint32(body[offset+16 : offset+20]), true
		}
		offset += int(extLength)
	}
	return 0, false
}

// parseCpdExtensionsArea walks a Type/Length extension list
// (original_source's parseCpdExtensionsArea), decoding the Module
// Attributes extension fully and leaving the rest as a named, Type/Length
// tagged leaf.
func parseCpdExtensionsArea(m *tree.Model, parent tree.Ref, body []byte) error {
	offset := 0
	for offset+cpdExtensionHeaderSize <= len(body) {
		extType := binary.LittleEndian.Uint32(body[offset : offset+4])
		extLength := binary.LittleEndian.Uint32(body[offset+4 : offset+8])
		if extLength == 0 || int(extLength) > len(body)-offset {
			break
		}
		ext := body[offset : offset+int(extLength)]

		name := fmt.Sprintf("Extension type %d", extType)
		info := []string{fmt.Sprintf("Full size: 0x%X", len(ext)), fmt.Sprintf("Type: %d", extType)}
		if extType == cpdExtTypeModuleAttributes && len(ext) >= 24 {
			name = "Module Attributes"
			compressionType := ext[8]
			uncompressedSize := binary.LittleEndian.Uint32(ext[12:16])
			compressedSize := binary.LittleEndian.Uint32(ext[16:20])
			globalModuleID := binary.LittleEndian.Uint32(ext[20:24])
			info = append(info,
				fmt.Sprintf("Compression type: %d", compressionType),
				fmt.Sprintf("Uncompressed size: 0x%X", uncompressedSize),
				fmt.Sprintf("Compressed size: 0x%X", compressedSize),
				fmt.Sprintf("Global module ID: 0x%X", globalModuleID))
		}

		if _, err := m.AddItem(parent, uint64(offset), tree.KindCPDExtension, tree.SubtypeNone, name, "", info,
			nil, ext, nil, true, tree.Append, tree.NoRef); err != nil {
			return err
		}
		offset += int(extLength)
	}
	return nil
}
