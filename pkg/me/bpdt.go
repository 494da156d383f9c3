// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/tree"
)

// bpdtEntryTypeSBPDT is the one BPDT entry type original_source's
// parseBpdtRegion treats specially: its partition is itself another BPDT
// (the "S-BPDT", offsets relative to the start of the BIOS region rather
// than this store).
const bpdtEntryTypeSBPDT = 5

// ParseBPDT satisfies pkg/scan.Hooks.ParseBPDT: buf is the whole recognized
// BPDT region (header, entry table, and every partition the entries point
// into), already located and size-validated by the raw-area scanner.
func ParseBPDT(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, error) {
	return parseBpdtRegion(m, parent, offset, buf, 0)
}

// parseBpdtRegion is ParseBPDT plus sbpdtFixup: when invoked recursively for
// an S-BPDT, its entry Offset fields are relative to the start of the BIOS
// region rather than to the S-BPDT partition itself, so sbpdtFixup is
// subtracted back out before a partition's bytes are sliced out of buf
// (original_source/common/ffsparser.cpp's parseBpdtRegion third parameter).
func parseBpdtRegion(m *tree.Model, parent tree.Ref, offset uint64, buf []byte, sbpdtFixup uint32) (tree.Ref, error) {
	if len(buf) < bpdtHeaderSize {
		return tree.NoRef, fmt.Errorf("invalid-me-partition-table: BPDT region too small to fit header")
	}
	numEntries := binary.LittleEndian.Uint16(buf[4:6])
	version := binary.LittleEndian.Uint16(buf[6:8])
	checksum := binary.LittleEndian.Uint32(buf[8:12])
	ifwiVersion := binary.LittleEndian.Uint32(buf[12:16])

	bodySize := int(numEntries) * bpdtEntrySize
	tableSize := bpdtHeaderSize + bodySize
	if tableSize > len(buf) {
		return tree.NoRef, fmt.Errorf("invalid-me-partition-table: BPDT region too small to fit partition table")
	}

	info := []string{
		fmt.Sprintf("Number of entries: %d", numEntries),
		fmt.Sprintf("Version: %d", version),
		fmt.Sprintf("Checksum: 0x%08X", checksum),
		fmt.Sprintf("IFWI version: 0x%08X", ifwiVersion),
	}
	header := buf[:bpdtHeaderSize]
	tableBody := buf[bpdtHeaderSize:tableSize]
	ref, err := m.AddItem(parent, offset, tree.KindBPDT, SubtypeBPDTTable, "BPDT partition table", "", info,
		header, tableBody, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, err
	}

	type partition struct {
		entryRef  tree.Ref
		entryType uint16
	}
	var partitions []partition
	items := make([]ffs.LayoutItem, 0, numEntries)
	for i := 0; i < int(numEntries); i++ {
		entry := tableBody[i*bpdtEntrySize : (i+1)*bpdtEntrySize]
		word0 := binary.LittleEndian.Uint32(entry[0:4])
		entryType := uint16(word0 & 0xFFFF)
		entryOffset := binary.LittleEndian.Uint32(entry[4:8])
		entryLength := binary.LittleEndian.Uint32(entry[8:12])

		entryInfo := []string{
			fmt.Sprintf("Type: %d", entryType),
			fmt.Sprintf("Offset: 0x%X", entryOffset),
			fmt.Sprintf("Length: 0x%X", entryLength),
		}
		entryRef, err := m.AddItem(ref, uint64(bpdtHeaderSize+i*bpdtEntrySize), tree.KindBPDTEntry, tree.SubtypeNone, bpdtEntryTypeName(entryType), "", entryInfo,
			entry, nil, nil, true, tree.Append, tree.NoRef)
		if err != nil {
			return tree.NoRef, err
		}
		if entryOffset == 0 || entryOffset == 0xFFFFFFFF || entryLength == 0 {
			continue
		}
		base := uint64(entryOffset)
		if sbpdtFixup != 0 {
			if entryOffset < sbpdtFixup {
				m.AddInfo(entryRef, "S-BPDT entry offset precedes its fixup base, skipped")
				continue
			}
			base = uint64(entryOffset - sbpdtFixup)
		}
		partitions = append(partitions, partition{entryRef, entryType})
		items = append(items, ffs.LayoutItem{Base: base, Size: uint64(entryLength), Index: i})
	}

	placements, err := ffs.ResolveLayout(uint64(tableSize), uint64(len(buf)), items)
	if err != nil {
		m.AddInfo(ref, fmt.Sprintf("BPDT partition layout inconsistent: %v", err))
		return ref, nil
	}

	byIndex := make(map[int]partition, len(partitions))
	for j, it := range items {
		byIndex[it.Index] = partitions[j]
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
		part := byIndex[p.Index]
		data := buf[p.Base : p.Base+p.Size]
		if err := parseBpdtPartition(m, part.entryRef, part.entryType, data, entryOffsetOf(tableBody, p.Index)); err != nil {
			return tree.NoRef, err
		}
	}
	return ref, nil
}

func entryOffsetOf(tableBody []byte, index int) uint32 {
	entry := tableBody[index*bpdtEntrySize : (index+1)*bpdtEntrySize]
	return binary.LittleEndian.Uint32(entry[4:8])
}

// parseBpdtPartition dispatches one BPDT partition's bytes: an S-BPDT
// recurses into parseBpdtRegion with entryOffset as the new fixup base, a
// $CPD-signatured partition opens parseCpdRegion, and everything else is
// left as an opaque leaf under the entry node, matching pkg/scan's own
// convention for a container it found but has no parser hooked up for.
func parseBpdtPartition(m *tree.Model, entryRef tree.Ref, entryType uint16, data []byte, entryOffset uint32) error {
	switch {
	case entryType == bpdtEntryTypeSBPDT:
		_, err := parseBpdtRegion(m, entryRef, 0, data, entryOffset)
		return err
	case len(data) >= 4 && matches4(data, cpdSignature):
		_, err := parseCpdRegion(m, entryRef, 0, data)
		return err
	default:
		m.AddInfo(entryRef, fmt.Sprintf("Partition full size: 0x%X, body not decoded by this pass", len(data)))
		return nil
	}
}

// bpdtEntryTypeName names the handful of BPDT entry types
// original_source/common/ffsparser.cpp calls out by name; every other type
// is reported numerically rather than guessed at.
func bpdtEntryTypeName(t uint16) string {
	switch t {
	case 5:
		return "S-BPDT"
	case 6:
		return "OBB"
	case 16:
		return "USB PHY"
	case 17:
		return "PCHC"
	case 18:
		return "SAMF"
	case 19:
		return "PPHY"
	default:
		return fmt.Sprintf("BPDT entry type %d", t)
	}
}
