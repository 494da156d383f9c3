// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"fmt"

	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/tree"
)

// TE base classifications (original_source's EFI_IMAGE_TE_BASE_* enum).
type TEBaseKind int

const (
	TEBaseOther TEBaseKind = iota
	TEBaseOriginal
	TEBaseAdjusted
)

// CheckTEImageBase walks index and its descendants classifying every
// uncompressed TE section node's physical placement against the two
// candidate bases pkg/ffs's parseTESection recorded, exactly as
// original_source/common/ffsparser.cpp's checkTeImageBase does: an exact
// match to OriginalImageBase or AdjustedImageBase is definitive, and a
// one-bit difference (binary.xor is a power of two) is still accepted as
// that same base, tolerating the kind of single-bit link-time rounding
// quirk the original's own comment calls out rather than misreporting it
// as "Other". addressDiff is the same BG-physical-to-offset rebase
// CheckRanges uses.
func CheckTEImageBase(m *tree.Model, index tree.Ref, addressDiff uint64) {
	item := m.Get(index)
	if !item.Compressed && item.Kind == tree.KindSection && item.Subtype == ffs.SectionSubtype(ffs.SectionTypeTE) {
		if info, ok := item.ParsingData.(ffs.TEImageBaseInfo); ok && (info.OriginalImageBase != 0 || info.AdjustedImageBase != 0) {
			address := addressDiff + m.Base(index)
			base := uint32(address) + uint32(len(item.Header))
			kind, ok := classifyTEBase(base, info.OriginalImageBase, info.AdjustedImageBase)
			if !ok {
				m.AddInfo(index, "TE image base is neither original, adjusted, nor top-swapped")
			} else {
				m.AddInfo(index, fmt.Sprintf("TE image base: %s", kind))
			}
		}
	}
	for _, c := range m.Children(index) {
		CheckTEImageBase(m, c, addressDiff)
	}
}

func classifyTEBase(base, original, adjusted uint32) (TEBaseKind, bool) {
	switch {
	case base == original:
		return TEBaseOriginal, true
	case base == adjusted:
		return TEBaseAdjusted, true
	}
	if oneBitDiff(base, original) {
		return TEBaseOriginal, true
	}
	if oneBitDiff(base, adjusted) {
		return TEBaseAdjusted, true
	}
	return TEBaseOther, false
}

// oneBitDiff reports whether a and b differ in exactly one bit.
func oneBitDiff(a, b uint32) bool {
	x := a ^ b
	return x != 0 && x&(x-1) == 0
}

func (k TEBaseKind) String() string {
	switch k {
	case TEBaseOriginal:
		return "original"
	case TEBaseAdjusted:
		return "adjusted"
	default:
		return "other"
	}
}
