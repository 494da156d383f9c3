// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/scan"
	"github.com/fwtree/parser/pkg/tree"
)

// rawAreaTypes go through the raw-area scanner: plain flash that may hold a
// firmware volume, microcode, or a BPDT store, but carries no structure of
// its own at the region level.
var rawAreaTypes = map[Type]bool{
	TypeBIOS:    true,
	TypePDR:     true,
	TypeDevExp1: true,
}

// manSignature and mn2Signature are the two manifest magics the ME version
// scan looks for, per spec.md's "$MAN/$MN2 signature scan".
var manSignature = [4]byte{'$', 'M', 'A', 'N'}
var mn2Signature = [4]byte{'$', 'M', 'N', '2'}

// ResolveRegions runs the region consistency pass (spec.md §4.4) over a
// decoded region table and attaches one KindRegion node per populated region
// (plus padding for every gap) as children of parent, which is expected to
// be the same node the Intel image itself is rooted at — i.e. a sibling of
// the descriptor node, not a child of it. Every region's relative address is
// recorded as an info line on descriptorRef.
func ResolveRegions(m *tree.Model, parent, descriptorRef tree.Ref, buf []byte, table [NumRegions]Range, hooks scan.Hooks) error {
	entries := make(map[Type]Range, NumRegions)
	for i := 0; i < NumRegions; i++ {
		if table[i].Valid() {
			entries[Type(i)] = table[i]
		}
	}

	if bios, ok := entries[TypeBIOS]; ok && uint64(bios.EndOffset()-bios.BaseOffset()) == uint64(len(buf)) {
		me, hasME := entries[TypeME]
		if !hasME {
			return fmt.Errorf("invalid-region: Gigabyte descriptor BIOS region with no ME region present")
		}
		newBase := me.EndOffset()
		entries[TypeBIOS] = Range{Base: uint16(newBase / RegionBlockSize), Limit: uint16(len(buf)/RegionBlockSize) - 1}
		m.AddInfo(descriptorRef, fmt.Sprintf("Gigabyte descriptor detected: BIOS region rewritten to 0x%X-0x%X", newBase, len(buf)))
	}

	items := make([]ffs.LayoutItem, 0, len(entries))
	for t, r := range entries {
		items = append(items, ffs.LayoutItem{Base: uint64(r.BaseOffset()), Size: uint64(r.EndOffset() - r.BaseOffset()), Index: int(t)})
	}

	placements, err := ffs.ResolveLayout(Length, uint64(len(buf)), items)
	if err != nil {
		return fmt.Errorf("invalid-region: %w", err)
	}

	for _, p := range placements {
		body := buf[p.Base : p.Base+p.Size]
		if p.IsGap {
			subtype := ffs.GapFillSubtype(body)
			if _, err := m.AddItem(parent, p.Base, tree.KindPadding, subtype, "Padding", "", nil, nil, body, nil, false, tree.Append, tree.NoRef); err != nil {
				return err
			}
			continue
		}
		t := Type(p.Index)
		m.AddInfo(descriptorRef, fmt.Sprintf("%s region: 0x%X - 0x%X", t, p.Base, p.Base+p.Size))
		if err := parseRegion(m, parent, t, p.Base, body, hooks); err != nil {
			return err
		}
	}
	return nil
}

func parseRegion(m *tree.Model, parent tree.Ref, t Type, offset uint64, body []byte, hooks scan.Hooks) error {
	info := []string{fmt.Sprintf("Full size: 0x%X", len(body))}

	switch {
	case rawAreaTypes[t]:
		ref, err := m.AddItem(parent, offset, tree.KindRegion, t.Subtype(), t.String()+" region", "", info,
			nil, body, nil, false, tree.Append, tree.NoRef)
		if err != nil {
			return err
		}
		return scan.Area(m, ref, body, hooks)

	case t == TypeGbE:
		return parseGbE(m, parent, offset, body)

	case t == TypeME:
		return parseMEVersion(m, parent, offset, body, hooks)

	default:
		_, err := m.AddItem(parent, offset, tree.KindRegion, t.Subtype(), t.String()+" region", "", info,
			nil, body, nil, false, tree.Append, tree.NoRef)
		return err
	}
}

// gbeMACOffset and gbeVersionOffset locate the MAC address and firmware
// version inside the GbE region's first descriptor word block, per the
// Intel 8257x/82579 GbE firmware layout.
const (
	gbeMACOffset     = 0x00
	gbeVersionOffset = 0x28
)

func parseGbE(m *tree.Model, parent tree.Ref, offset uint64, body []byte) error {
	info := []string{fmt.Sprintf("Full size: 0x%X", len(body))}
	if len(body) >= gbeMACOffset+6 {
		mac := body[gbeMACOffset : gbeMACOffset+6]
		info = append(info, fmt.Sprintf("MAC: %02X:%02X:%02X:%02X:%02X:%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]))
	}
	if len(body) >= gbeVersionOffset+2 {
		version := binary.LittleEndian.Uint16(body[gbeVersionOffset:])
		info = append(info, fmt.Sprintf("Version: %d.%d", version>>8, version&0xFF))
	}
	_, err := m.AddItem(parent, offset, tree.KindRegion, TypeGbE.Subtype(), "GbE region", "", info,
		nil, body, nil, false, tree.Append, tree.NoRef)
	return err
}

// parseMEVersion scans the ME region for a $MAN (legacy) or $MN2 (FPT-based)
// manifest signature and, if found, reads the 8-byte version field at offset
// 0x24 from it as four 16-bit major/minor/hotfix/build words, then — if the caller
// wired hooks.ParseME — hands the whole region body to the ME engine package
// to decode the FPT/IFWI/BPDT/$CPD partitions themselves.
func parseMEVersion(m *tree.Model, parent tree.Ref, offset uint64, body []byte, hooks scan.Hooks) error {
	info := []string{fmt.Sprintf("Full size: 0x%X", len(body))}
	if v, ok := findMEVersion(body); ok {
		info = append(info, fmt.Sprintf("Version: %d.%d.%d.%d", v>>48, (v>>32)&0xFFFF, (v>>16)&0xFFFF, v&0xFFFF))
	}
	ref, err := m.AddItem(parent, offset, tree.KindRegion, TypeME.Subtype(), "ME region", "", info,
		nil, body, nil, false, tree.Append, tree.NoRef)
	if err != nil {
		return err
	}
	if hooks.ParseME != nil {
		return hooks.ParseME(m, ref, 0, body)
	}
	return nil
}

// findMEVersion looks for $MAN or $MN2 4-byte-aligned and, if found, reads
// the four uint16 version words that conventionally follow the manifest
// header's fixed fields at +0x24.
func findMEVersion(body []byte) (uint64, bool) {
	const versionOffset = 0x24
	for offset := 0; offset+4 <= len(body); offset += 4 {
		if matchesSignature(body[offset:], manSignature) || matchesSignature(body[offset:], mn2Signature) {
			if offset+versionOffset+8 > len(body) {
				return 0, false
			}
			v := body[offset+versionOffset:]
			major := binary.LittleEndian.Uint16(v[0:])
			minor := binary.LittleEndian.Uint16(v[2:])
			hotfix := binary.LittleEndian.Uint16(v[4:])
			build := binary.LittleEndian.Uint16(v[6:])
			return uint64(major)<<48 | uint64(minor)<<32 | uint64(hotfix)<<16 | uint64(build), true
		}
	}
	return 0, false
}

func matchesSignature(buf []byte, sig [4]byte) bool {
	return len(buf) >= 4 && buf[0] == sig[0] && buf[1] == sig[1] && buf[2] == sig[2] && buf[3] == sig[3]
}
