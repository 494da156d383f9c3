// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scan implements the raw-area byte scanner: given a span of bytes
// with no structure of its own (a BIOS/PDR/DevExp1 flash region, the body of
// a padding item, ...), it walks every byte offset, reading a 4-byte word at
// each, looking for the next recognizable container — an Intel microcode update, a firmware volume
// header, or a BPDT partition table — and repeats until the span is
// exhausted, filling every stretch between recognized containers with a
// padding node.
package scan

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/microcode"
	"github.com/fwtree/parser/pkg/tree"
)

// fvSignatureOffset is the byte offset of the 4-byte "_FVH" signature within
// EFI_FIRMWARE_VOLUME_HEADER.
const fvSignatureOffset = 40

// fvMinHeaderSize is the smallest a volume header can legally be: the fixed
// portion plus a two-entry (terminator included) block map.
const fvMinHeaderSize = 56 + 2*8

var fvSignature = [4]byte{'_', 'F', 'V', 'H'}

// bpdtGreenSignature and bpdtYellowSignature are the two magics that mark a
// BPDT (Boot Partition Descriptor Table) store inside IFWI 2.0 images.
const (
	bpdtGreenSignature  = 0x000055AA
	bpdtYellowSignature = 0x00AA55AA
)

const bpdtHeaderSize = 16 // Signature, Version/NumEntries, fields, Checksum

// Hooks lets a caller that has already built the deeper per-container
// parsers (firmware volumes, BPDT partition tables) plug them in; a nil hook
// leaves the found container as an opaque leaf node that nothing decodes
// further. This mirrors the dispatch-table style used
// elsewhere in the tree (GUID-keyed compressor/region constructors): scan
// itself only needs to recognize containers, not fully parse them.
type Hooks struct {
	ParseVolume func(m *tree.Model, parent tree.Ref, offset uint64, header, body []byte) (tree.Ref, error)
	ParseBPDT   func(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, error)

	// ParseME dispatches a ME region's body (pkg/me.ParseMeRegionBody): it
	// isn't invoked by this package's own area scan (the ME region is typed
	// directly by pkg/descriptor's region table, never discovered here), but
	// lives on Hooks so it threads down from the same top-level call that
	// wires ParseVolume/ParseBPDT rather than pkg/descriptor importing pkg/me
	// directly.
	ParseME func(m *tree.Model, parent tree.Ref, offset uint64, body []byte) error
}

// found describes one recognized container inside a raw area.
type found struct {
	kind   string
	offset int
	size   int
}

// findNext walks buf starting at start looking for the next microcode
// update, firmware volume, or BPDT store. It returns ok=false once the
// remainder of buf is too short to hold another 4-byte magic.
func findNext(buf []byte, start int) (found, bool) {
	for offset := start; offset+4 <= len(buf); offset++ {
		word := binary.LittleEndian.Uint32(buf[offset:])
		switch {
		case word == 1:
			if size, ok := tryMicrocode(buf, offset); ok {
				return found{kind: "microcode", offset: offset, size: size}, true
			}
		case word == binary.LittleEndian.Uint32(fvSignature[:]):
			if offset < fvSignatureOffset {
				continue
			}
			headerStart := offset - fvSignatureOffset
			if size, ok := tryVolume(buf, headerStart); ok {
				return found{kind: "volume", offset: headerStart, size: size}, true
			}
		case word == bpdtGreenSignature || word == bpdtYellowSignature:
			if size, ok := tryBPDT(buf, offset); ok {
				return found{kind: "bpdt", offset: offset, size: size}, true
			}
		}
	}
	return found{}, false
}

func tryMicrocode(buf []byte, offset int) (int, bool) {
	if offset+microcode.HeaderSize > len(buf) {
		return 0, false
	}
	h, err := microcode.Decode(buf[offset:])
	if err != nil || !h.Valid() || h.TotalSize == 0 {
		return 0, false
	}
	if offset+int(h.TotalSize) > len(buf) {
		return 0, false
	}
	return int(h.TotalSize), true
}

// tryVolume validates enough of EFI_FIRMWARE_VOLUME_HEADER to be confident
// this is a real volume header rather than a coincidental "_FVH" in
// unrelated data: FvLength must be large enough to hold the fixed header and
// a terminated block map, and Revision must be 1 or 2 (the only values ever
// shipped).
func tryVolume(buf []byte, headerStart int) (int, bool) {
	if headerStart < 0 || headerStart+fvMinHeaderSize > len(buf) {
		return 0, false
	}
	fvLength := binary.LittleEndian.Uint64(buf[headerStart+32:])
	revision := buf[headerStart+55]
	if fvLength < fvMinHeaderSize || fvLength >= 0xFFFFFFFF {
		return 0, false
	}
	if revision != 1 && revision != 2 {
		return 0, false
	}
	if headerStart+int(fvLength) > len(buf) {
		return 0, false
	}
	return int(fvLength), true
}

// tryBPDT validates a BPDT header (Signature, HeaderVersion, NumEntries) and
// computes the store's size as the max Offset+Size across its entries, per
// spec: the header itself carries no total-size field.
func tryBPDT(buf []byte, offset int) (int, bool) {
	if offset+bpdtHeaderSize > len(buf) {
		return 0, false
	}
	numEntries := binary.LittleEndian.Uint16(buf[offset+4:])
	headerVersion := binary.LittleEndian.Uint16(buf[offset+6:])
	if headerVersion != 1 {
		return 0, false
	}
	entriesStart := offset + bpdtHeaderSize
	const entrySize = 12 // Type/Flags uint32, Offset uint32, Size uint32
	need := entriesStart + int(numEntries)*entrySize
	if need > len(buf) {
		return 0, false
	}
	var sizeCandidate uint32
	for i := 0; i < int(numEntries); i++ {
		e := buf[entriesStart+i*entrySize:]
		entryOffset := binary.LittleEndian.Uint32(e[4:])
		entrySz := binary.LittleEndian.Uint32(e[8:])
		if entryOffset == 0 || entryOffset == 0xFFFFFFFF || entrySz == 0 {
			continue
		}
		if end := entryOffset + entrySz; end > sizeCandidate {
			sizeCandidate = end
		}
	}
	if sizeCandidate == 0 {
		return 0, false
	}
	if offset+int(sizeCandidate) > len(buf) {
		return 0, false
	}
	return int(sizeCandidate), true
}

// Area walks buf (a region/padding body with no structure of its own),
// attaching one node per recognized container in order and filling every
// gap between them (and before the first / after the last) with a padding
// node. parent is the tree node buf is the Body of; offsets recorded on
// emitted children are relative to parent, matching AddItem's convention.
func Area(m *tree.Model, parent tree.Ref, buf []byte, hooks Hooks) error {
	return AreaAt(m, parent, buf, 0, hooks)
}

// AreaAt is Area for the case where buf is not parent's own Body but starts
// some bytes into it (e.g. a firmware volume's file area, which begins
// after the volume's own header) — every emitted child's offset is shifted
// by baseOffset so it still resolves correctly against parent's base.
func AreaAt(m *tree.Model, parent tree.Ref, buf []byte, baseOffset uint64, hooks Hooks) error {
	pos := 0
	for pos < len(buf) {
		f, ok := findNext(buf, pos)
		if !ok {
			emitPadding(m, parent, buf[pos:], baseOffset+uint64(pos))
			break
		}
		if f.offset > pos {
			emitPadding(m, parent, buf[pos:f.offset], baseOffset+uint64(pos))
		}
		itemBuf := buf[f.offset : f.offset+f.size]
		if err := emitContainer(m, parent, baseOffset+uint64(f.offset), f, itemBuf, hooks); err != nil {
			return err
		}
		pos = f.offset + f.size
	}
	return nil
}

func emitPadding(m *tree.Model, parent tree.Ref, buf []byte, offset uint64) {
	if len(buf) == 0 {
		return
	}
	// Same classification as ffs.GapFillSubtype, repeated because pkg/ffs imports this package.
	subtype := tree.SubtypePaddingData
	allZero, allOnes := true, true
	for _, b := range buf {
		allZero = allZero && b == 0x00
		allOnes = allOnes && b == 0xFF
	}
	switch {
	case allZero:
		subtype = tree.SubtypePaddingZero
	case allOnes:
		subtype = tree.SubtypePaddingOne
	}
	_, _ = m.AddItem(parent, offset, tree.KindPadding, subtype, "Padding", "", nil, nil, buf, nil, false, tree.Append, tree.NoRef)
}

func emitContainer(m *tree.Model, parent tree.Ref, offset uint64, f found, buf []byte, hooks Hooks) error {
	switch f.kind {
	case "microcode":
		h, err := microcode.Decode(buf)
		if err != nil {
			return err
		}
		info := []string{
			fmt.Sprintf("Processor signature: 0x%08X", h.ProcessorSignature),
			fmt.Sprintf("Processor flags: 0x%02X", h.ProcessorFlags),
			fmt.Sprintf("Date: %s", h.Date()),
			fmt.Sprintf("Revision: 0x%08X", h.UpdateRevision),
		}
		_, err = m.AddItem(parent, offset, tree.KindMicrocode, tree.SubtypeNone, "Intel microcode", "", info,
			buf[:microcode.HeaderSize], buf[microcode.HeaderSize:], nil, true, tree.Append, tree.NoRef)
		return err
	case "volume":
		if hooks.ParseVolume != nil {
			headerLength := binary.LittleEndian.Uint16(buf[48:])
			if int(headerLength) > len(buf) {
				headerLength = uint16(len(buf))
			}
			_, err := hooks.ParseVolume(m, parent, offset, buf[:headerLength], buf[headerLength:])
			return err
		}
		info := []string{fmt.Sprintf("Full size: 0x%X", len(buf)), "Volume body not decoded by this pass"}
		_, err := m.AddItem(parent, offset, tree.KindVolume, tree.SubtypeNone, "Firmware Volume", "", info,
			nil, buf, nil, true, tree.Append, tree.NoRef)
		return err
	case "bpdt":
		if hooks.ParseBPDT != nil {
			_, err := hooks.ParseBPDT(m, parent, offset, buf)
			return err
		}
		info := []string{fmt.Sprintf("Full size: 0x%X", len(buf)), "BPDT body not decoded by this pass"}
		_, err := m.AddItem(parent, offset, tree.KindBPDT, tree.SubtypeNone, "BPDT store", "", info,
			nil, buf, nil, true, tree.Append, tree.NoRef)
		return err
	}
	return fmt.Errorf("scan: unknown container kind %q", f.kind)
}
