// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"fmt"

	"github.com/fwtree/parser/pkg/tree"
)

// Run performs the whole second pass original_source/common/ffsparser.cpp's
// performSecondPass does once the structural first pass has located a last
// Volume Top File (VTF): compute address_diff from the VTF's own position
// and size, decode its trailing x86 reset vector data, locate and parse the
// FIT, extract Boot Guard IBB protected ranges from any Boot Policy entries
// found there, verify/mark them, and classify every TE section's image
// base. vtf's own node must not live beneath a compressed ancestor (a
// compressed VTF means the image's own addressing can't be trusted, and the
// teacher's second pass bails out the same way).
func Run(m *tree.Model, root, vtf tree.Ref, image []byte) []string {
	if m.Get(vtf).Compressed {
		return []string{"the last VTF appears inside compressed data, the image may be damaged; second pass skipped"}
	}

	// The VTF is by construction the last thing in the image, so
	// vtfBase+vtfSize == len(image) and this addressDiff agrees with the one
	// LocateTable derives independently from len(image) alone.
	vtfBase := m.Base(vtf)
	vtfSize := m.FullSize(vtf)
	addressDiff := uint64(0xFFFFFFFF) - vtfBase - vtfSize + 1

	var info []string
	ParseResetVector(m, vtf)

	offset, size, err := LocateTable(image)
	if err != nil {
		info = append(info, fmt.Sprintf("FIT not found: %v", err))
		CheckTEImageBase(m, root, addressDiff)
		return info
	}

	_, entries, err := ParseTable(m, root, 0, image, offset, size)
	if err != nil {
		info = append(info, fmt.Sprintf("FIT table malformed: %v", err))
		CheckTEImageBase(m, root, addressDiff)
		return info
	}

	var ranges []ProtectedRange
	for _, e := range entries {
		if e.Type() != EntryTypeBootGuardBootPolicy {
			continue
		}
		dataSize := uint64(e.dataSize())
		if e.Address < addressDiff {
			info = append(info, "Boot Guard Boot Policy entry address does not resolve inside the image")
			continue
		}
		start := e.Address - addressDiff
		if start+dataSize > uint64(len(image)) {
			info = append(info, "Boot Guard Boot Policy entry data runs past end of image")
			continue
		}
		bpRanges, bpInfo := ExtractIBBRanges(image[start : start+dataSize])
		ranges = append(ranges, bpRanges...)
		info = append(info, bpInfo...)
	}

	info = append(info, CheckRanges(m, root, image, addressDiff, ranges)...)
	CheckTEImageBase(m, root, addressDiff)
	return info
}
