// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/tree"
)

// teHeaderSize is sizeof(EFI_TE_IMAGE_HEADER): Signature(2) + Machine(2) +
// NumberOfSections(1) + Subsystem(1) + StrippedSize(2) +
// AddressOfEntryPoint(4) + BaseOfCode(4) + ImageBase(8) +
// DataDirectory[2](16).
const teHeaderSize = 40

var teSignature = [2]byte{'V', 'Z'}

// TEImageBaseInfo is the parsing data parseTESection attaches to a TE
// section node: the two candidate link-time base addresses the second pass
// (pkg/fit) later compares against the node's own physical address to
// classify its relocation state (original_source/common/ffsparser.cpp's
// TE_IMAGE_SECTION_PARSING_DATA).
type TEImageBaseInfo struct {
	OriginalImageBase uint32
	AdjustedImageBase uint32
}

// parseTESection decodes an EFI_TE_IMAGE_HEADER ("Terse Executable", the
// stripped-down PE variant PEI-phase modules use to save space) and records
// its salient fields as diagnostics; this module does not interpret
// relocations or resolve the entry point.
func parseTESection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	buf := item.Body
	if len(buf) < teHeaderSize || buf[0] != teSignature[0] || buf[1] != teSignature[1] {
		m.AddInfo(ref, "TE section body does not start with a valid VZ signature")
		return nil
	}
	machine := binary.LittleEndian.Uint16(buf[2:4])
	numberOfSections := buf[4]
	subsystem := buf[5]
	strippedSize := binary.LittleEndian.Uint16(buf[6:8])
	addressOfEntryPoint := binary.LittleEndian.Uint32(buf[8:12])
	baseOfCode := binary.LittleEndian.Uint32(buf[12:16])
	imageBase := binary.LittleEndian.Uint64(buf[16:24])

	m.AddInfo(ref, fmt.Sprintf("Machine: 0x%04X", machine))
	m.AddInfo(ref, fmt.Sprintf("Number of sections: %d", numberOfSections))
	m.AddInfo(ref, fmt.Sprintf("Subsystem: 0x%02X", subsystem))
	m.AddInfo(ref, fmt.Sprintf("Entry point: 0x%X", addressOfEntryPoint))
	m.AddInfo(ref, fmt.Sprintf("Base of code: 0x%X", baseOfCode))
	m.AddInfo(ref, fmt.Sprintf("Image base: 0x%X", imageBase))

	// original (as-linked) vs. adjusted (as-if-stripped-header-never-existed)
	// base, the two addresses a TE section's data may physically sit at once
	// its FFS file is placed in the image (original_source's
	// checkTeImageBase compares against both before calling it "Other").
	m.SetParsingData(ref, TEImageBaseInfo{
		OriginalImageBase: uint32(imageBase),
		AdjustedImageBase: uint32(imageBase) + uint32(strippedSize) - teHeaderSize,
	})
	return nil
}

// peSignature is "PE\0\0", IMAGE_NT_SIGNATURE.
var peSignature = [4]byte{'P', 'E', 0, 0}

// parsePESection locates and decodes a PE32/PE32+ IMAGE_NT_HEADERS (via the
// MZ stub's e_lfanew pointer at offset 0x3C) enough to report the machine
// type, subsystem and entry point; full relocation/import-table parsing is
// out of scope here, matching the level of detail original_source's
// parsePeImageSectionBody logs for this section type.
func parsePESection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	buf := item.Body
	if len(buf) < 0x40 || buf[0] != 'M' || buf[1] != 'Z' {
		m.AddInfo(ref, "PE section body does not start with a valid MZ signature")
		return nil
	}
	ntOffset := binary.LittleEndian.Uint32(buf[0x3C:0x40])
	if uint64(ntOffset)+24 > uint64(len(buf)) {
		m.AddInfo(ref, "PE section e_lfanew points past end of body")
		return nil
	}
	nt := buf[ntOffset:]
	if nt[0] != peSignature[0] || nt[1] != peSignature[1] || nt[2] != peSignature[2] || nt[3] != peSignature[3] {
		m.AddInfo(ref, "PE section NT header signature mismatch")
		return nil
	}
	fileHeader := nt[4:]
	machine := binary.LittleEndian.Uint16(fileHeader[0:2])
	numberOfSections := binary.LittleEndian.Uint16(fileHeader[2:4])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(fileHeader[16:18])

	m.AddInfo(ref, fmt.Sprintf("Machine: 0x%04X", machine))
	m.AddInfo(ref, fmt.Sprintf("Number of sections: %d", numberOfSections))

	optOffset := 4 + 20
	if sizeOfOptionalHeader >= 2 && uint64(ntOffset)+uint64(optOffset)+2 <= uint64(len(buf)) {
		magic := binary.LittleEndian.Uint16(nt[optOffset : optOffset+2])
		switch magic {
		case 0x10B:
			m.AddInfo(ref, "Optional header: PE32")
		case 0x20B:
			m.AddInfo(ref, "Optional header: PE32+")
		default:
			m.AddInfo(ref, fmt.Sprintf("Optional header: unknown magic 0x%04X", magic))
		}
	}
	return nil
}
