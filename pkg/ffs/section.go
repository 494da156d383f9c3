// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/compression"
	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// commonSectionHeaderSize is sizeof(EFI_COMMON_SECTION_HEADER): Size(3) +
// Type(1).
const commonSectionHeaderSize = 4

// extendedSectionHeaderSize is sizeof(EFI_COMMON_SECTION_HEADER2): the
// common header plus a 4-byte ExtendedSize, used when Size is the 24-bit
// escape value (FFSv3 large section).
const extendedSectionHeaderSize = commonSectionHeaderSize + 4

// parseSections walks buf (a file's body, or a GUID_DEFINED/compressed
// section's decoded payload) as a sequence of sections, attaching one
// KindSection node per entry, 4-byte aligned. baseOffset is buf's offset
// relative to the owning node.
func parseSections(m *tree.Model, parent tree.Ref, buf []byte, baseOffset uint64) error {
	pos := 0
	for {
		pos = (pos + 3) &^ 3
		if pos >= len(buf) {
			return nil
		}
		remaining := buf[pos:]
		if len(remaining) < commonSectionHeaderSize {
			if !isErased(remaining, 0xFF) && !isErased(remaining, 0x00) {
				return fmt.Errorf("invalid-section: %d trailing bytes too short for a section header", len(remaining))
			}
			return nil
		}

		size, headerSize, err := sectionSize(remaining)
		if err != nil {
			return fmt.Errorf("invalid-section: %w", err)
		}
		if size > len(remaining) || headerSize > size {
			return fmt.Errorf("invalid-section: declared size 0x%X exceeds remaining space", size)
		}
		sectionType := SectionType(remaining[3])
		ref, err := parseSectionHeader(m, parent, baseOffset+uint64(pos), sectionType, remaining[:size], headerSize)
		if err != nil {
			return err
		}
		if err := parseSectionBody(m, ref, sectionType); err != nil {
			return err
		}
		pos += size
	}
}

func sectionSize(buf []byte) (size, headerSize int, err error) {
	var sz [3]byte
	copy(sz[:], buf[0:3])
	if checksum.Is24BitEscape(sz) {
		if len(buf) < extendedSectionHeaderSize {
			return 0, 0, fmt.Errorf("extended section header truncated")
		}
		return int(binary.LittleEndian.Uint32(buf[4:8])), extendedSectionHeaderSize, nil
	}
	return int(checksum.Read24(sz)), commonSectionHeaderSize, nil
}

// sectionParsingData is attached via tree.Model.SetParsingData so
// parseSectionBody (which only receives the node's Ref) can recover fields
// decoded from the type-specific header without re-parsing it.
type sectionParsingData struct {
	compressionType    byte
	uncompressedLength uint32
	definitionGUID     guid.GUID
}

func parseSectionHeader(m *tree.Model, parent tree.Ref, offset uint64, t SectionType, raw []byte, headerSize int) (tree.Ref, error) {
	info := []string{fmt.Sprintf("Full size: 0x%X", len(raw))}
	var pdata sectionParsingData
	extra := headerSize

	switch t {
	case SectionTypeCompression:
		if len(raw) < headerSize+5 {
			return tree.NoRef, fmt.Errorf("compressed section header truncated")
		}
		pdata.uncompressedLength = binary.LittleEndian.Uint32(raw[headerSize:])
		pdata.compressionType = raw[headerSize+4]
		extra = headerSize + 5
		info = append(info, fmt.Sprintf("Uncompressed size: 0x%X", pdata.uncompressedLength), fmt.Sprintf("Compression type: %d", pdata.compressionType))
	case SectionTypeGUIDDefined:
		if len(raw) < headerSize+20 {
			return tree.NoRef, fmt.Errorf("GUID defined section header truncated")
		}
		copy(pdata.definitionGUID[:], raw[headerSize:headerSize+16])
		dataOffset := binary.LittleEndian.Uint16(raw[headerSize+16:])
		attrs := binary.LittleEndian.Uint16(raw[headerSize+18:])
		extra = int(dataOffset)
		info = append(info, fmt.Sprintf("GUID: %s", pdata.definitionGUID), fmt.Sprintf("Attributes: 0x%04X", attrs))
	case SectionTypeFreeformSubtypeGUID:
		if len(raw) < headerSize+16 {
			return tree.NoRef, fmt.Errorf("freeform subtype GUID section header truncated")
		}
		copy(pdata.definitionGUID[:], raw[headerSize:headerSize+16])
		extra = headerSize + 16
		info = append(info, fmt.Sprintf("Subtype GUID: %s", pdata.definitionGUID))
	}
	if extra > len(raw) {
		return tree.NoRef, fmt.Errorf("section header claims 0x%X bytes past a 0x%X-byte section", extra, len(raw))
	}

	ref, err := m.AddItem(parent, offset, tree.KindSection, SectionSubtype(t), t.String(), "", info,
		raw[:extra], raw[extra:], nil, false, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, err
	}
	m.SetParsingData(ref, pdata)
	return ref, nil
}

func parseSectionBody(m *tree.Model, ref tree.Ref, t SectionType) error {
	item := m.Get(ref)
	baseOffset := uint64(len(item.Header))
	switch t {
	case SectionTypeCompression:
		return parseCompressedSection(m, ref)
	case SectionTypeGUIDDefined:
		return parseGUIDDefinedSection(m, ref)
	case SectionTypeDisposable:
		return parseSections(m, ref, item.Body, baseOffset)
	case SectionTypeVersion:
		return parseVersionSection(m, ref)
	case SectionTypeUserInterface:
		return parseUISection(m, ref)
	case SectionTypeDXEDepex, SectionTypePEIDepex, SectionTypeMMDepex:
		return parseDepexSection(m, ref)
	case SectionTypeTE:
		return parseTESection(m, ref)
	case SectionTypePE32, SectionTypePIC:
		return parsePESection(m, ref)
	case SectionTypeFreeformSubtypeGUID, SectionTypeFirmwareVolumeImage:
		// Raw area: may hold a recognized container (FV/microcode), but
		// carries no section-sequence structure of its own.
		return nil
	case SectionTypeRaw, SectionTypeCompatibility16, SectionTypePostcode:
		return nil
	default:
		return nil
	}
}

// parseCompressedSection decompresses a legacy COMPRESSION section and
// recurses parseSections over the result. Per spec.md's "undecided
// compression" open question, legacy type 1 is ambiguous between Tiano and
// EFI 1.1; ByLegacyType resolves it with a Tiano-first dry-run decode.
func parseCompressedSection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	pdata, _ := item.ParsingData.(sectionParsingData)
	codec, err := compression.ByLegacyType(pdata.compressionType, item.Body)
	if err != nil {
		m.AddInfo(ref, fmt.Sprintf("Compression: %v", err))
		return nil
	}
	if codec == nil {
		return parseSections(m, ref, item.Body, uint64(len(item.Header)))
	}
	decoded, err := codec.Decode(item.Body)
	if err != nil {
		m.AddInfo(ref, fmt.Sprintf("Decompression (%s) failed: %v", codec.Name(), err))
		return nil
	}
	if uint32(len(decoded)) != pdata.uncompressedLength {
		m.AddInfo(ref, fmt.Sprintf("Decompressed size 0x%X differs from header's 0x%X", len(decoded), pdata.uncompressedLength))
	}
	m.SetUncompressedData(ref, decoded)
	m.SetCompressed(ref, true)
	m.AddInfo(ref, fmt.Sprintf("Decompressed with %s", codec.Name()))
	return parseSections(m, ref, decoded, 0)
}

// parseGUIDDefinedSection dispatches on SectionDefinitionGUID: a known
// compression codec, an RSA2048/SHA256 or FIRMWARE_CONTENTS_SIGNED
// certificate (left opaque — verifying them is out of scope, spec.md §1),
// or an unrecognized GUID (also left opaque, diagnostic only).
func parseGUIDDefinedSection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	pdata, _ := item.ParsingData.(sectionParsingData)
	switch pdata.definitionGUID {
	case guid.RSA2048SHA256SectionGUID:
		m.AddInfo(ref, "RSA2048/SHA256 signed section: certificate not verified")
		return nil
	case guid.FirmwareContentsSignedSectionGUID:
		m.AddInfo(ref, "Firmware contents signed section: certificate not verified")
		return nil
	case guid.CRC32SectionGUID:
		if len(item.Body) < 4 {
			m.AddInfo(ref, "CRC32 section body too short")
			return nil
		}
		data, want := item.Body[:len(item.Body)-4], binary.LittleEndian.Uint32(item.Body[len(item.Body)-4:])
		if got := checksum.CRC32(data); got != want {
			m.AddInfo(ref, fmt.Sprintf("CRC32 mismatch: stored 0x%08X, computed 0x%08X", want, got))
		}
		return nil
	}
	codec := compression.ByGUID(pdata.definitionGUID)
	if codec == nil {
		m.AddInfo(ref, fmt.Sprintf("Unknown GUID defined section encoding: %s", pdata.definitionGUID))
		return nil
	}
	decoded, err := codec.Decode(item.Body)
	if err != nil {
		m.AddInfo(ref, fmt.Sprintf("Decoding (%s) failed: %v", codec.Name(), err))
		return nil
	}
	m.SetUncompressedData(ref, decoded)
	m.SetCompressed(ref, true)
	m.AddInfo(ref, fmt.Sprintf("Decoded with %s", codec.Name()))
	return parseSections(m, ref, decoded, 0)
}

// ucs2Decoder reads little-endian UCS-2 (UEFI's "CHAR16") strings, the way
// fiano's pkg/unicode.UCS2ToUTF8 does, reimplemented over
// golang.org/x/text/encoding/unicode (already a teacher dependency) instead
// of a hand-rolled converter.
var ucs2Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func decodeUCS2(b []byte) string {
	// Trim a trailing NUL-terminator pair, if present, before transcoding.
	for len(b) >= 2 && b[len(b)-2] == 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-2]
	}
	out, err := ucs2Decoder.Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

func parseVersionSection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	if len(item.Body) < 2 {
		return nil
	}
	buildNumber := binary.LittleEndian.Uint16(item.Body[0:2])
	text := decodeUCS2(item.Body[2:])
	m.AddInfo(ref, fmt.Sprintf("Build number: %d", buildNumber))
	m.SetText(ref, text)
	return nil
}

func parseUISection(m *tree.Model, ref tree.Ref) error {
	item := m.Get(ref)
	text := decodeUCS2(item.Body)
	m.SetText(ref, text)
	m.AddInfo(ref, fmt.Sprintf("Text: %s", text))
	parent := m.Parent(ref)
	if parent != tree.NoRef && m.Get(parent).Kind == tree.KindFile {
		m.SetText(parent, text)
	}
	return nil
}
