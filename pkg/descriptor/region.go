// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package descriptor parses the Intel flash descriptor (the structure that
// immediately follows the flash signature) and the region table it points
// to, attaching a KindRegion node per populated region and filling any gap
// between regions with a padding node so the region list always tiles the
// whole image.
package descriptor

import (
	"fmt"

	"github.com/fwtree/parser/pkg/tree"
)

// RegionBlockSize is the granularity Base/Limit fields in the region table
// are expressed in.
const RegionBlockSize = 0x1000

// Type identifies one of the fifteen IFD region slots. The numeric values
// match each region's index in the region table (LongSoft/UEFITool,
// common/descriptor.h).
type Type int

// IFD region types.
const (
	TypeBIOS Type = iota
	TypeME
	TypeGbE
	TypePDR
	TypeDevExp1
	TypeBIOS2
	TypeMicrocode
	TypeEC
	TypeDevExp2
	TypeIE
	TypeTGBE1
	TypeTGBE2
	TypeReserved1
	TypeReserved2
	TypePTT

	TypeUnknown Type = -1
)

var typeNames = map[Type]string{
	TypeBIOS:      "BIOS",
	TypeME:        "ME",
	TypeGbE:       "GbE",
	TypePDR:       "PDR",
	TypeDevExp1:   "DevExp1",
	TypeBIOS2:     "BIOS2",
	TypeMicrocode: "Microcode",
	TypeEC:        "EC",
	TypeDevExp2:   "DevExp2",
	TypeIE:        "IE",
	TypeTGBE1:     "10GbE1",
	TypeTGBE2:     "10GbE2",
	TypeReserved1: "Reserved1",
	TypeReserved2: "Reserved2",
	TypePTT:       "PTT",
}

// String returns the region's display name, or "Unknown Region (n)" for an
// out-of-range or TypeUnknown value.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Region (%d)", t)
}

// SubtypeDescriptor tags the descriptor header node itself (the first
// 0x1000 bytes of the image), distinct from every KindRegion region-table
// entry's own Subtype.
const SubtypeDescriptor tree.Subtype = 1

// Subtype returns the tree.Subtype a KindRegion node of type t is tagged
// with; TypeUnknown (a region with no region-table slot) gets its own
// reserved value past the fifteen real region types. Gaps between regions
// are padding nodes, not TypeUnknown regions.
func (t Type) Subtype() tree.Subtype {
	if t == TypeUnknown {
		return tree.Subtype(100)
	}
	return tree.Subtype(2 + int(t))
}

// Range is a single entry of the region table: Base/Limit are indices of
// the first/last RegionBlockSize-sized block the region occupies.
type Range struct {
	Base  uint16
	Limit uint16
}

// Valid reports whether r names a non-empty region. Some BIOS images report
// Base == Limit == 0xFFFF instead of a zero Limit for an absent region.
func (r Range) Valid() bool {
	return r.Limit > 0 && r.Limit >= r.Base && r.Limit != 0xFFFF && r.Base != 0xFFFF
}

// BaseOffset is the byte offset where the region begins.
func (r Range) BaseOffset() uint32 { return uint32(r.Base) * RegionBlockSize }

// EndOffset is the byte offset one past the region's last byte.
func (r Range) EndOffset() uint32 { return (uint32(r.Limit) + 1) * RegionBlockSize }
