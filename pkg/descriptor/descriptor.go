// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package descriptor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/scan"
	"github.com/fwtree/parser/pkg/tree"
)

// Signature is the 4-byte marker that identifies an Intel flash image.
var Signature = []byte{0x5a, 0xa5, 0xf0, 0x0f}

const (
	// SignatureLength is len(Signature).
	SignatureLength = 4
	// Length is the fixed size of the descriptor region (spec.md §4.4
	// consistency pass: "the 0x1000-byte descriptor").
	Length = 0x1000
	// MapSize is the size of the three FLMAP words the descriptor map is
	// decoded from.
	MapSize = 12
	// MaxBase is the largest base value any of ComponentBase/RegionBase/
	// MasterBase may hold (spec.md §4.4).
	MaxBase = 0xE0
	regionSectionSize = 4 * 15 // 15 Base/Limit uint16 pairs

	// NumRegions is the number of region-table slots this package decodes.
	// Descriptor version 1 only populates the first 6 (BIOS through BIOS2;
	// Microcode and later are absent); later slots simply read as invalid on
	// a v1 image.
	NumRegions = 15
)

// FindSignature locates the Intel flash signature and returns the offset
// where the descriptor map begins: offset 20 for PCH images (signature at
// byte 16, 16 reserved bytes before it) or offset 4 for the older ICH8/9/10
// layout (signature at byte 0).
func FindSignature(buf []byte) (int, error) {
	if len(buf) >= 20 && bytes.Equal(buf[16:16+SignatureLength], Signature) {
		return 20, nil
	}
	if len(buf) >= SignatureLength && bytes.Equal(buf[:SignatureLength], Signature) {
		return SignatureLength, nil
	}
	return -1, fmt.Errorf("flash signature not found")
}

// Map is the decoded Flash Descriptor Map (FLMAP0..2): the three base
// addresses (each a /16 block index) locating the component section, the
// region table, and the master access section, plus the region count.
type Map struct {
	ComponentBase   uint8
	RegionBase      uint8
	MasterBase      uint8
	NumberOfRegions uint8
}

// ParseMap decodes the three Flash Descriptor Map words at the start of
// buf. The bit layout matches the public Intel ICH/PCH descriptor format
// (as documented by flashrom/ifdtool and LongSoft/UEFITool):
//
//	FLMAP0: bits 0-7 ComponentBase/16, bits 16-23 RegionBase/16, bits 24-26 NR
//	FLMAP1: bits 0-7 MasterBase/16
func ParseMap(buf []byte) (Map, error) {
	if len(buf) < MapSize {
		return Map{}, fmt.Errorf("invalid-flash-descriptor: map buffer too small: %d bytes", len(buf))
	}
	flmap0 := binary.LittleEndian.Uint32(buf[0:4])
	flmap1 := binary.LittleEndian.Uint32(buf[4:8])
	return Map{
		ComponentBase:   uint8(flmap0),
		RegionBase:      uint8(flmap0 >> 16),
		NumberOfRegions: uint8((flmap0>>24)&0x7) + 1,
		MasterBase:      uint8(flmap1),
	}, nil
}

// Validate applies spec.md §4.4's base-address sanity checks, returning a
// list of human-readable diagnostics (never an error: a descriptor with an
// inconsistent map is still attached to the tree so a reader can inspect
// it).
func (m Map) Validate() []string {
	var diags []string
	if m.MasterBase > MaxBase {
		diags = append(diags, fmt.Sprintf("MasterBase too large: got 0x%X, max 0x%X", m.MasterBase, MaxBase))
	}
	if m.RegionBase > MaxBase {
		diags = append(diags, fmt.Sprintf("RegionBase too large: got 0x%X, max 0x%X", m.RegionBase, MaxBase))
	}
	if m.ComponentBase > MaxBase {
		diags = append(diags, fmt.Sprintf("ComponentBase too large: got 0x%X, max 0x%X", m.ComponentBase, MaxBase))
	}
	if m.MasterBase == m.RegionBase {
		diags = append(diags, fmt.Sprintf("MasterBase must differ from RegionBase: both at 0x%X", m.MasterBase))
	}
	if m.MasterBase == m.ComponentBase {
		diags = append(diags, fmt.Sprintf("MasterBase must differ from ComponentBase: both at 0x%X", m.MasterBase))
	}
	if m.RegionBase == m.ComponentBase {
		diags = append(diags, fmt.Sprintf("RegionBase must differ from ComponentBase: both at 0x%X", m.RegionBase))
	}
	return diags
}

// ParseRegionTable reads NumRegions Base/Limit pairs starting at buf.
func ParseRegionTable(buf []byte) ([NumRegions]Range, error) {
	var table [NumRegions]Range
	if len(buf) < regionSectionSize {
		return table, fmt.Errorf("invalid-region: region table buffer too small: %d bytes", len(buf))
	}
	for i := 0; i < NumRegions; i++ {
		table[i] = Range{
			Base:  binary.LittleEndian.Uint16(buf[4*i:]),
			Limit: binary.LittleEndian.Uint16(buf[4*i+2:]),
		}
	}
	return table, nil
}

// ParsingData is attached to the descriptor's tree node via
// tree.Model.SetParsingData so downstream passes (FIT/Boot Guard base
// classification, the report package) can recover the decoded map and
// region table without re-parsing the header bytes.
type ParsingData struct {
	Map    Map
	Ranges [NumRegions]Range
}

// Parse attaches a KindRegion-bearing descriptor node plus one KindRegion
// (or KindPadding, for gaps) node per entry of the region table, all as
// children of parent — the Intel image node the caller has already created.
// buf is the whole Intel image, offset 0 at the descriptor's own start;
// hooks is threaded through to the raw-area scanner run over BIOS/PDR/
// DevExp1 regions so volumes/BPDT stores found there get fully parsed once
// the caller has those parsers available (see pkg/scan.Hooks).
func Parse(m *tree.Model, parent tree.Ref, offset uint64, buf []byte, hooks scan.Hooks) (tree.Ref, error) {
	if len(buf) < Length {
		return tree.NoRef, fmt.Errorf("invalid-flash-descriptor: image shorter than 0x%X-byte descriptor", Length)
	}
	header := buf[:Length]
	mapStart, err := FindSignature(header)
	if err != nil {
		return tree.NoRef, fmt.Errorf("invalid-flash-descriptor: %w", err)
	}
	fdMap, err := ParseMap(header[mapStart:])
	if err != nil {
		return tree.NoRef, err
	}
	regionTableOffset := int(fdMap.RegionBase) * 16
	if regionTableOffset+regionSectionSize > len(header) {
		return tree.NoRef, fmt.Errorf("invalid-flash-descriptor: region table at 0x%X runs past descriptor", regionTableOffset)
	}
	table, err := ParseRegionTable(header[regionTableOffset:])
	if err != nil {
		return tree.NoRef, err
	}

	info := []string{
		fmt.Sprintf("ComponentBase: 0x%X, RegionBase: 0x%X, MasterBase: 0x%X", fdMap.ComponentBase, fdMap.RegionBase, fdMap.MasterBase),
		fmt.Sprintf("NumberOfRegions: %d", fdMap.NumberOfRegions),
		fmt.Sprintf("Descriptor checksum (sum8): 0x%02X", checksum.Sum8(header)),
	}
	ref, err := m.AddItem(parent, offset, tree.KindRegion, SubtypeDescriptor, "Flash Descriptor", "", info,
		header, nil, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, err
	}
	for _, diag := range fdMap.Validate() {
		m.AddInfo(ref, diag)
	}
	m.SetParsingData(ref, ParsingData{Map: fdMap, Ranges: table})

	if err := ResolveRegions(m, parent, ref, buf, table, hooks); err != nil {
		return ref, err
	}
	return ref, nil
}
