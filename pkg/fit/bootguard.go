// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/checksum"
)

// ibbSegmentsTag is the StructInfo ID of a Boot Guard Boot Policy Manifest's
// "IBB Segments Element" (fiano pkg/intel/metadata/bg/bgbootpolicy.SE's
// `id:"__IBBS__"` tag). Rather than walking the full BPMH/SE/PM/PMSE
// manifest object graph (each element StructInfo-tagged, several carrying
// variable-length RSA/ECC key and signature sub-structures this package
// does not otherwise need), a Boot Policy entry's IBB protected ranges are
// located by scanning its body for this tag directly: the elements are
// laid out back-to-back in a fixed, signature-covered order, so the tag is
// unambiguous and its payload layout fixed once found.
var ibbSegmentsTag = [8]byte{'_', '_', 'I', 'B', 'B', 'S', '_', '_'}

// ibbSegment is bgbootpolicy.IBBSegment: Reserved(2)+Flags(2)+Base(4)+Size(4).
const ibbSegmentSize = 12

// ExtractIBBRanges scans a Boot Guard Boot Policy Manifest FIT entry's body
// for its IBB Segments Element and returns one ProtectedRange per segment,
// with Offset/Size taken directly from IBBSegment.Base/.Size (still in Boot
// Guard physical-address terms; CheckRanges applies the address_diff
// rebase). A manifest with no IBBS element, or one that fails to parse
// cleanly, yields no ranges and a diagnostic rather than an error, since a
// second pass must not abort structural reporting over the image.
func ExtractIBBRanges(body []byte) ([]ProtectedRange, []string) {
	tagIdx := indexOfTag(body, ibbSegmentsTag)
	if tagIdx < 0 {
		return nil, []string{"no IBB Segments Element (__IBBS__) found in Boot Policy Manifest"}
	}
	// StructInfo: 8-byte tag + 1-byte Version.
	pos := tagIdx + 9
	fixed := 1 + 1 + 1 + 4 + 8 + 8 + 4 + 4 + 8 + 8 // Reserved0/1, PBETValue, Flags, IBBMCHBAR, VTdBAR, PMRLBase/Limit, Reserved2/3
	if pos+fixed > len(body) {
		return nil, []string{"IBB Segments Element truncated before its fixed fields"}
	}
	pos += fixed

	postIBBHashSize, info, ok := skipHashStructureFill(body, pos)
	if !ok {
		return nil, []string{"IBB Segments Element: malformed Post-IBB hash structure"}
	}
	pos += postIBBHashSize

	pos += 4 // IBBEntryPoint
	if pos > len(body) {
		return nil, append(info, "IBB Segments Element truncated before entry point")
	}

	digestSize, ok := hashStructureSize(body, pos)
	if !ok {
		return nil, append(info, "IBB Segments Element: malformed digest list")
	}
	pos += digestSize

	if pos+1 > len(body) {
		return nil, append(info, "IBB Segments Element truncated before segment count")
	}
	count := int(body[pos])
	pos++
	if pos+count*ibbSegmentSize > len(body) {
		return nil, append(info, "IBB Segments Element declares more segments than fit in its body")
	}

	var ranges []ProtectedRange
	for i := 0; i < count; i++ {
		seg := body[pos+i*ibbSegmentSize : pos+(i+1)*ibbSegmentSize]
		base := binary.LittleEndian.Uint32(seg[4:8])
		size := binary.LittleEndian.Uint32(seg[8:12])
		if size == 0 {
			continue
		}
		ranges = append(ranges, ProtectedRange{
			Offset: base,
			Size:   size,
			Type:   ProtectedRangeIntelBootGuardIBB,
		})
	}
	info = append(info, fmt.Sprintf("IBB Segments Element: %d protected segment(s)", len(ranges)))
	return ranges, info
}

// indexOfTag returns the first offset in body where tag appears, or -1.
func indexOfTag(body []byte, tag [8]byte) int {
	for i := 0; i+8 <= len(body); i++ {
		if body[i] == tag[0] && body[i+1] == tag[1] && body[i+2] == tag[2] && body[i+3] == tag[3] &&
			body[i+4] == tag[4] && body[i+5] == tag[5] && body[i+6] == tag[6] && body[i+7] == tag[7] {
			return i
		}
	}
	return -1
}

// hashStructureSize returns the byte length of a bg.HashStructure at
// body[pos:] (HashAlg uint16 + HashBuffer uint16-length-prefixed).
func hashStructureSize(body []byte, pos int) (int, bool) {
	if pos+4 > len(body) {
		return 0, false
	}
	bufSize := int(binary.LittleEndian.Uint16(body[pos+2 : pos+4]))
	total := 4 + bufSize
	if pos+total > len(body) {
		return 0, false
	}
	return total, true
}

// skipHashStructureFill returns the byte length of a bg.HashStructureFill at
// body[pos:] (HashAlg uint16 + a HashBuffer whose length is implied by the
// algorithm, not prefixed) plus any diagnostic about an unrecognized
// algorithm.
func skipHashStructureFill(body []byte, pos int) (int, []string, bool) {
	if pos+2 > len(body) {
		return 0, nil, false
	}
	alg := checksum.Algorithm(binary.LittleEndian.Uint16(body[pos : pos+2]))
	size := alg.Size()
	var info []string
	if size == 0 {
		info = append(info, fmt.Sprintf("Post-IBB hash uses unrecognized algorithm 0x%04X", uint16(alg)))
	}
	total := 2 + size
	if pos+total > len(body) {
		return 0, info, false
	}
	return total, info, true
}
