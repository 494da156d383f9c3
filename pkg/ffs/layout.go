// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ffs holds the pieces of firmware-volume/partition parsing that are
// shared by more than one higher-level package rather than owned by any
// single one of them. ResolveLayout in particular backs both the Intel
// descriptor's region consistency pass and the ME engine's FPT/BPDT
// partition consistency pass, since both reduce to the same problem: given a
// set of named, possibly-absent, non-overlapping ranges inside a known
// [start, end) span, sort them, fail on overlap, and turn every gap into an
// explicit padding entry.
package ffs

import (
	"fmt"
	"sort"

	"github.com/fwtree/parser/pkg/tree"
)

// LayoutItem is one candidate range to place within a layout: Base/Size in
// absolute bytes relative to the same origin as start/end passed to
// ResolveLayout, and Index identifying which caller-side entry (region type,
// partition table row, ...) it came from.
type LayoutItem struct {
	Base  uint64
	Size  uint64
	Index int
}

// Placement is one entry of a resolved layout, in ascending Base order: a
// LayoutItem carried through unchanged (IsGap false, Index is the original
// LayoutItem's Index) or a gap discovered between two items, before the
// first, or after the last (IsGap true, Index -1).
type Placement struct {
	Base  uint64
	Size  uint64
	Index int
	IsGap bool
}

// ResolveLayout sorts items ascending by Base and walks them across
// [start, end), reporting every stretch not covered by an item as a gap
// Placement. Zero-size items are dropped. An item starting before the
// previous item's end is reported as a fatal overlap — the caller cannot
// place both unambiguously and should surface this as an error rather than
// attach anything. Placements after a returned error should be discarded;
// ResolveLayout does not attempt to recover a partial layout.
func ResolveLayout(start, end uint64, items []LayoutItem) ([]Placement, error) {
	sorted := make([]LayoutItem, 0, len(items))
	for _, it := range items {
		if it.Size > 0 {
			sorted = append(sorted, it)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	var out []Placement
	cursor := start
	for _, it := range sorted {
		if it.Base < cursor {
			return nil, fmt.Errorf("overlapping entries: entry at 0x%X overlaps previous end 0x%X", it.Base, cursor)
		}
		if it.Base > cursor {
			out = append(out, Placement{Base: cursor, Size: it.Base - cursor, Index: -1, IsGap: true})
		}
		out = append(out, Placement{Base: it.Base, Size: it.Size, Index: it.Index})
		cursor = it.Base + it.Size
	}
	if cursor > end {
		return nil, fmt.Errorf("layout overruns area: last entry ends at 0x%X, area ends at 0x%X", cursor, end)
	}
	if cursor < end {
		out = append(out, Placement{Base: cursor, Size: end - cursor, Index: -1, IsGap: true})
	}
	return out, nil
}

// GapFillSubtype classifies a gap's raw content per the padding-node rule
// used throughout the tree: all-0x00 is Zero, all-0xFF is One, anything else
// (including an empty gap, treated as Zero) is Data.
func GapFillSubtype(buf []byte) tree.Subtype {
	allZero, allOnes := true, true
	for _, b := range buf {
		switch b {
		case 0x00:
			allOnes = false
		case 0xFF:
			allZero = false
		default:
			allZero, allOnes = false, false
		}
		if !allZero && !allOnes {
			break
		}
	}
	switch {
	case allZero:
		return tree.SubtypePaddingZero
	case allOnes:
		return tree.SubtypePaddingOne
	default:
		return tree.SubtypePaddingData
	}
}
