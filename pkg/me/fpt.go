// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package me

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/tree"
)

// ParseMeRegionBody is the entry point a caller invokes once it has attached
// a ME region's own KindRegion node: it classifies body as a legacy/
// non-legacy $FPT table, an IFWI 1.6/1.7 layout header wrapping several
// sub-regions, or a bare BPDT store (IFWI 2.0), and attaches the decoded
// children under parent.
func ParseMeRegionBody(m *tree.Model, parent tree.Ref, offset uint64, body []byte) error {
	switch {
	case len(body) >= 4 && matches4(body, fptSignature):
		return parseFptRegion(m, parent, offset, body, 0, fptHeaderSize)
	case len(body) >= fptROMBypassVectorSize+4 && matches4(body[fptROMBypassVectorSize:], fptSignature):
		return parseFptRegion(m, parent, offset, body, fptROMBypassVectorSize, fptHeaderSizeLegacy)
	case len(body) >= 4 && isBPDTSignature(body):
		_, err := ParseBPDT(m, parent, offset, body)
		return err
	case len(body) >= fptROMBypassVectorSize+8:
		return parseIfwiRegion(m, parent, offset, body)
	default:
		return nil
	}
}

func matches4(b []byte, sig [4]byte) bool {
	return len(b) >= 4 && b[0] == sig[0] && b[1] == sig[1] && b[2] == sig[2] && b[3] == sig[3]
}

func isBPDTSignature(b []byte) bool {
	word := binary.LittleEndian.Uint32(b)
	return word == bpdtGreenSignature || word == bpdtYellowSignature
}

// parseFptRegion decodes a $FPT flash partition table: markerOffset is 0 for
// the non-legacy header or fptROMBypassVectorSize when a ROM bypass vector
// precedes the marker, and headerSize is the matching fptHeaderSize/
// fptHeaderSizeLegacy total. Both header shapes carry the same fixed fields
// (NumEntries, HeaderVersion, ..., Flags) starting right at the marker, the
// way the teacher's FlashPartitionTable structs modeled them.
func parseFptRegion(m *tree.Model, parent tree.Ref, offset uint64, buf []byte, markerOffset, headerSize int) error {
	if len(buf) < headerSize {
		return fmt.Errorf("invalid-me-partition-table: FPT region too small to fit header")
	}
	h := buf[markerOffset:]
	numEntries := binary.LittleEndian.Uint32(h[4:8])
	headerVersion := h[8]
	entryVersion := h[9]
	headerChecksum := h[11]

	bodySize := int(numEntries) * fptEntrySize
	tableSize := headerSize + bodySize
	if tableSize > len(buf) {
		return fmt.Errorf("invalid-me-partition-table: FPT declares %d entries past region end", numEntries)
	}

	info := []string{
		fmt.Sprintf("Number of entries: %d", numEntries),
		fmt.Sprintf("Header version: 0x%02X", headerVersion),
		fmt.Sprintf("Entry version: 0x%02X", entryVersion),
		fmt.Sprintf("Header checksum: 0x%02X", headerChecksum),
	}
	header := buf[:headerSize]
	tableBody := buf[headerSize:tableSize]
	ref, err := m.AddItem(parent, offset, tree.KindFPT, SubtypeFPTTable, "FPT partition table", "", info,
		header, tableBody, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return err
	}

	for i := 0; i < int(numEntries); i++ {
		entry := tableBody[i*fptEntrySize : (i+1)*fptEntrySize]
		if err := parseFptEntry(m, ref, buf, uint64(headerSize+i*fptEntrySize), entry); err != nil {
			return err
		}
	}
	return nil
}

func parseFptEntry(m *tree.Model, parent tree.Ref, region []byte, offset uint64, entry []byte) error {
	name := trimCName(entry[0:4])
	owner := trimCName(entry[4:8])
	partOffset := binary.LittleEndian.Uint32(entry[8:12])
	length := binary.LittleEndian.Uint32(entry[12:16])
	flags := binary.LittleEndian.Uint32(entry[28:32])

	info := []string{
		fmt.Sprintf("Owner: %s", owner),
		fmt.Sprintf("Offset: 0x%X", partOffset),
		fmt.Sprintf("Length: 0x%X", length),
		fmt.Sprintf("Flags: 0x%08X", flags),
	}
	ref, err := m.AddItem(parent, offset, tree.KindFPT, SubtypeFPTEntry, name, "", info,
		entry, nil, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return err
	}

	if partOffset == 0 || partOffset == 0xFFFFFFFF || length == 0 {
		return nil
	}
	if uint64(partOffset)+uint64(length) > uint64(len(region)) {
		m.AddInfo(ref, "partition is located outside of the opened image, skipped")
		return nil
	}
	partition := region[partOffset : partOffset+length]
	return ParseMeRegionBody(m, ref, uint64(partOffset), partition)
}

func trimCName(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// parseIfwiRegion decodes the IFWI layout header that precedes the ME boot
// partitions on platforms that don't open directly on a BPDT: a 16-byte ROM
// bypass vector followed by a DataPartition and up to three BootPartition
// Offset/Size pairs (original_source/common/meparser.h's
// ME_IFWI_LAYOUT_HEADER). Each referenced partition is re-dispatched through
// ParseMeRegionBody since it may itself open on $FPT or a BPDT.
func parseIfwiRegion(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) error {
	if len(buf) < 16+8 {
		return fmt.Errorf("invalid-me-partition-table: IFWI layout header too small")
	}

	type part struct {
		name           string
		offset, length uint32
	}
	var parts []part
	pos := 16
	if pos+8 <= len(buf) {
		parts = append(parts, part{"DataPartition", binary.LittleEndian.Uint32(buf[pos:]), binary.LittleEndian.Uint32(buf[pos+4:])})
		pos += 8
	}
	for i := 0; i < 3 && pos+8 <= len(buf); i++ {
		parts = append(parts, part{fmt.Sprintf("BootPartition%d", i+1), binary.LittleEndian.Uint32(buf[pos:]), binary.LittleEndian.Uint32(buf[pos+4:])})
		pos += 8
	}

	info := make([]string, 0, len(parts)+1)
	info = append(info, fmt.Sprintf("Full size: 0x%X", len(buf)))
	for _, p := range parts {
		info = append(info, fmt.Sprintf("%s: offset 0x%X, size 0x%X", p.name, p.offset, p.length))
	}
	ref, err := m.AddItem(parent, offset, tree.KindFPT, tree.SubtypeNone, "IFWI layout header", "", info,
		buf[:pos], nil, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return err
	}

	for _, p := range parts {
		if p.offset == 0 || p.length == 0 || uint64(p.offset)+uint64(p.length) > uint64(len(buf)) {
			continue
		}
		sub := buf[p.offset : p.offset+p.length]
		if err := ParseMeRegionBody(m, ref, uint64(p.offset), sub); err != nil {
			return err
		}
	}
	return nil
}
