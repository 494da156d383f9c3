// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/scan"
	"github.com/fwtree/parser/pkg/tree"
)

// fvFixedHeaderSize is sizeof(EFI_FIRMWARE_VOLUME_HEADER) up to (but not
// including) the block map.
const fvFixedHeaderSize = 56

// fvAlignmentMask and fvWeakAlignment are the two EFI_FVB_ATTRIBUTES_2 bits
// the volume header check reads: alignment is a 5-bit power-of-two field at
// bits 16-20, weak alignment a single bit (spec.md §4.6, grounded on
// original_source/common/ffsparser.cpp's use of EFI_FVB2_ALIGNMENT /
// EFI_FVB2_WEAK_ALIGNMENT).
const (
	fvAlignmentMask = 0x001F0000
	fvWeakAlignment = 0x80000000
)

// Hooks lets a caller that has already built a deeper NVRAM store parser
// plug it in, mirroring pkg/scan.Hooks' dispatch-table pattern. Apple
// microcode volume bodies are not dispatched through Hooks; ParseVolume
// scans them with pkg/scan directly.
type Hooks struct {
	ParseNVRAMStore func(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, error)
}

// subtypeForFileSystemGUID classifies a firmware volume's FileSystemGUID,
// extending fiano's FVGUIDs table (FFS1/2/3, EVSA, NVAR, EVSA2, AppleBoot,
// PFH1/2) with the VSS-NVRAM and Apple-microcode aliases original_source's
// ffsparser.cpp also recognizes.
func subtypeForFileSystemGUID(g guid.GUID) tree.Subtype {
	switch g {
	case guid.FFS1:
		return SubtypeVolumeFFS1
	case guid.FFS2:
		return SubtypeVolumeFFS2
	case guid.FFS3:
		return SubtypeVolumeFFS3
	case guid.VSSNVRAMVolume, guid.EVSA2, guid.NVAR:
		return SubtypeVolumeNVRAM
	case guid.AppleMicrocodeVolume, guid.AppleBootVolume:
		return SubtypeVolumeAppleMicrocode
	default:
		return SubtypeVolumeUnknown
	}
}

// ParseVolume decodes an EFI_FIRMWARE_VOLUME_HEADER and the FFS file area
// that follows it, attaching a KindVolume node under parent. It matches
// pkg/scan.Hooks.ParseVolume's signature so pkg/descriptor and pkg/me's raw
// area scans can register it directly once this package and scan's Hooks
// are wired together by pkg/parser.
func ParseVolume(m *tree.Model, parent tree.Ref, offset uint64, header, body []byte) (tree.Ref, error) {
	return ParseVolumeWithHooks(m, parent, offset, header, body, Hooks{})
}

// ParseVolumeWithHooks is ParseVolume with NVRAM-store dispatch available;
// pkg/parser wires this (rather than the hook-less ParseVolume) into
// pkg/scan.Hooks once pkg/nvram exists, closing the loop spec.md §4.6/§4.7
// describe as "VSS-NVRAM volumes recurse into the NVRAM store parser."
func ParseVolumeWithHooks(m *tree.Model, parent tree.Ref, offset uint64, header, body []byte, hooks Hooks) (tree.Ref, error) {
	if len(header) < fvFixedHeaderSize {
		return tree.NoRef, fmt.Errorf("invalid-volume: header shorter than 0x%X bytes", fvFixedHeaderSize)
	}
	var fsGUID guid.GUID
	copy(fsGUID[:], header[16:32])
	fvLength := binary.LittleEndian.Uint64(header[32:40])
	attributes := binary.LittleEndian.Uint32(header[44:48])
	headerLength := binary.LittleEndian.Uint16(header[48:50])
	hdrChecksum := binary.LittleEndian.Uint16(header[50:52])
	extHeaderOffset := binary.LittleEndian.Uint16(header[52:54])
	revision := header[55]

	if int(headerLength) != len(header) {
		return tree.NoRef, fmt.Errorf("invalid-volume: HeaderLength 0x%X does not match decoded header span 0x%X", headerLength, len(header))
	}
	if headerLength%8 != 0 {
		return tree.NoRef, fmt.Errorf("invalid-volume: HeaderLength 0x%X is not 8-byte aligned", headerLength)
	}

	subtype := subtypeForFileSystemGUID(fsGUID)
	alignment := uint32(1) << ((attributes & fvAlignmentMask) >> 16)
	weakAligned := revision > 1 && attributes&fvWeakAlignment != 0

	info := []string{
		fmt.Sprintf("File system GUID: %s", fsGUID),
		fmt.Sprintf("Full size: 0x%X", fvLength),
		fmt.Sprintf("Attributes: 0x%08X", attributes),
		fmt.Sprintf("Alignment: 0x%X", alignment),
		fmt.Sprintf("Revision: %d", revision),
	}
	if weakAligned {
		info = append(info, "Weak alignment: volume is not required to be aligned (Revision 2 quirk)")
	}

	ref, err := m.AddItem(parent, offset, tree.KindVolume, subtype, "Firmware Volume", "", info,
		header, body, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, err
	}

	if sum := checksum.Sum16(header[:headerLength]); sum != 0 {
		m.AddInfo(ref, fmt.Sprintf("Volume header checksum invalid: sum16 = 0x%04X (stored checksum 0x%04X)", sum, hdrChecksum))
	}

	if extHeaderOffset != 0 && revision >= 2 && int(extHeaderOffset)+16 <= len(header) {
		var extGUID guid.GUID
		copy(extGUID[:], header[extHeaderOffset:extHeaderOffset+16])
		m.AddInfo(ref, fmt.Sprintf("Extended header GUID: %s", extGUID))
	}

	switch subtype {
	case SubtypeVolumeNVRAM:
		if hooks.ParseNVRAMStore != nil {
			if _, err := hooks.ParseNVRAMStore(m, ref, uint64(len(header)), body); err != nil {
				return ref, err
			}
			return ref, nil
		}
		m.AddInfo(ref, "NVRAM volume body not decoded by this pass")
		return ref, nil
	case SubtypeVolumeAppleMicrocode:
		return ref, scan.AreaAt(m, ref, body, uint64(len(header)), scan.Hooks{})
	default:
		return ref, parseFiles(m, ref, body, uint64(len(header)), revision)
	}
}
