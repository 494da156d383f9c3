// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"fmt"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/tree"
)

// ProtectedRange is a byte span Boot Guard, CBnT, or a vendor hash file
// claims a hash over, in absolute image offsets by the time CheckRanges
// runs (original_source/common/ffsparser.h's PROTECTED_RANGE).
type ProtectedRange struct {
	Offset    uint32
	Size      uint32
	Algorithm checksum.Algorithm
	Type      ProtectedRangeType
	Hash      []byte
}

// MarkRecursive walks index and its descendants, setting every node's
// Marking to red (IBB), cyan (any other protected range type), or yellow
// (only a partial overlap), exactly mirroring
// original_source/common/ffsparser.cpp's markProtectedRangeRecursive:
// compressed children inherit their compressed parent's own marking rather
// than being compared against the range a second time, since their
// addressing lives in the decompressed space, not the range's physical one.
func MarkRecursive(m *tree.Model, index tree.Ref, rng ProtectedRange) {
	if index == tree.NoRef {
		return
	}
	parent := m.Parent(index)
	item := m.Get(index)
	if parent != tree.NoRef && item.Compressed && m.Get(parent).Compressed {
		m.SetMarking(index, m.Get(parent).Marking)
	} else {
		currentOffset := uint32(m.Base(index))
		currentSize := uint32(m.FullSize(index))
		rangeEnd := rng.Offset + rng.Size
		currentEnd := currentOffset + currentSize
		overlapStart := currentOffset
		if rng.Offset > overlapStart {
			overlapStart = rng.Offset
		}
		overlapEnd := currentEnd
		if rangeEnd < overlapEnd {
			overlapEnd = rangeEnd
		}
		if overlapEnd > overlapStart {
			if rng.Offset <= currentOffset && currentEnd <= rangeEnd {
				if rng.Type == ProtectedRangeIntelBootGuardIBB {
					m.SetMarking(index, tree.MarkingRed)
				} else {
					m.SetMarking(index, tree.MarkingCyan)
				}
			} else {
				m.SetMarking(index, tree.MarkingYellow)
			}
		}
	}
	for _, c := range m.Children(index) {
		MarkRecursive(m, c, rng)
	}
}

// CheckRanges implements original_source/common/ffsparser.cpp's
// checkProtectedRanges: IBB ranges are rebased from their Boot-Guard
// physical address back to an image offset via addressDiff (spec.md §4.9's
// "BG-physical via address_diff" rule) before being marked and hashed;
// every other range type is assumed already expressed in image offsets by
// its caller (the distinct per-vendor base rules live in the code that
// builds each ProtectedRange, not here) and is checked against its own
// recorded Hash. Returns one diagnostic line per finding, in the order the
// teacher's own securityInfo text builds them.
func CheckRanges(m *tree.Model, root tree.Ref, image []byte, addressDiff uint64, ranges []ProtectedRange) []string {
	var info []string
	var ibbParts []byte
	foundIBB := false

	for i := range ranges {
		r := &ranges[i]
		if r.Type != ProtectedRangeIntelBootGuardIBB || r.Size == 0 {
			continue
		}
		foundIBB = true
		if uint64(r.Offset) >= addressDiff {
			r.Offset -= uint32(addressDiff)
		} else {
			info = append(info, "suspicious Boot Guard IBB protected range offset")
			continue
		}
		if uint64(r.Offset)+uint64(r.Size) > uint64(len(image)) {
			info = append(info, "Boot Guard IBB protected range runs past end of image")
			continue
		}
		ibbParts = append(ibbParts, image[r.Offset:r.Offset+r.Size]...)
		MarkRecursive(m, root, *r)
	}

	if foundIBB {
		for _, alg := range []checksum.Algorithm{checksum.AlgSHA1, checksum.AlgSHA256, checksum.AlgSHA384, checksum.AlgSHA512, checksum.AlgSM3} {
			digest, err := checksum.Hash(alg, ibbParts)
			if err != nil {
				continue
			}
			info = append(info, fmt.Sprintf("Computed IBB hash (%s): %x", alg, digest))
		}
	}

	for _, r := range ranges {
		if r.Type == ProtectedRangeIntelBootGuardIBB {
			continue
		}
		if r.Size == 0 || r.Size == 0xFFFFFFFF || r.Offset == 0xFFFFFFFF {
			continue
		}
		if uint64(r.Offset)+uint64(r.Size) > uint64(len(image)) {
			info = append(info, fmt.Sprintf("protected range [0x%X:0x%X] runs past end of image", r.Offset, r.Offset+r.Size))
			continue
		}
		digest, err := checksum.Hash(r.Algorithm, image[r.Offset:r.Offset+r.Size])
		if err != nil || r.Hash == nil {
			MarkRecursive(m, root, r)
			continue
		}
		if !bytesEqual(digest, r.Hash) {
			info = append(info, fmt.Sprintf("protected range [0x%X:0x%X] hash mismatch, image may refuse to boot", r.Offset, r.Offset+r.Size))
		}
		MarkRecursive(m, root, r)
	}
	return info
}

// ApplyBaseAdjustment rewrites a vendor hash range's raw Offset (as read
// from its vendor hash file record) into an image offset, per
// original_source/common/ffsparser.cpp's checkProtectedRanges: Phoenix
// ranges are relative to protectedRegionsBase (the base of the file
// carrying the hash table itself), old-AMI v1 and Boot-Guard post-IBB
// ranges start at the DXE root volume's own base, with rawOffset unused for
// them (old-AMI because
// that format predates address_diff; post-IBB because the range it covers
// starts exactly where the DXE volume the IBB hands off to begins), and
// new-AMI v2/Microsoft PMDA ranges use the same address_diff rebase as the
// IBB range. Call sites that haven't located the referenced anchor (no DXE
// root volume found, no protected-regions file base known) should skip the
// range rather than call this with a zero placeholder.
func ApplyBaseAdjustment(rangeType ProtectedRangeType, rawOffset uint32, addressDiff, protectedRegionsBase, dxeRootVolumeBase uint64) (uint32, bool) {
	switch rangeType {
	case ProtectedRangeVendorHashPhoenix:
		return uint32(uint64(rawOffset) + protectedRegionsBase), true
	case ProtectedRangeVendorHashAMIV1, ProtectedRangeIntelBootGuardPostIBB:
		return uint32(dxeRootVolumeBase), true
	case ProtectedRangeVendorHashAMIV2, ProtectedRangeVendorHashMicrosoftPMDA, ProtectedRangeIntelBootGuardIBB:
		if uint64(rawOffset) < addressDiff {
			return 0, false
		}
		return rawOffset - uint32(addressDiff), true
	default:
		return rawOffset, true
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
