// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fit implements the second, address-aware pass over an already
// structurally-parsed Intel image: locating the Firmware Interface Table
// from the reset-vector-relative pointer at imageBase+size-0x40, decoding
// its entries, extracting Boot Guard/CBnT protected ranges from Key
// Manifest and Boot Policy Manifest FIT entries, and recursively marking
// every tree node that falls inside one (spec.md §4.9). It runs once, after
// the structural first pass has located the last Volume Top File (VTF) that
// anchors the x86 reset vector.
package fit

import "github.com/fwtree/parser/pkg/tree"

// fitHeaderSignature is the literal ASCII magic the FIT Header Entry's
// Address field carries in place of a real physical address (fiano
// pkg/intel/metadata/fit/consts.FITHeadersMagic).
var fitHeaderSignature = [8]byte{'_', 'F', 'I', 'T', '_', ' ', ' ', ' '}

// entryHeaderSize is sizeof(FIT_ENTRY): Address(8) + Size(3) + Reserved(1) +
// Version(2) + TypeAndIsChecksumValid(1) + Checksum(1).
const entryHeaderSize = 16

// fitPointerOffset locates the 8-byte FIT pointer relative to the end of the
// image (fiano consts.FITPointerOffset); basePhysAddr is the conventional
// top-of-4GiB physical address firmware images are linked against (fiano
// consts.BasePhysAddr), used to turn a physical address embedded in the
// image into a byte offset within it.
const (
	fitPointerOffset = 0x40
	basePhysAddr     = uint64(1) << 32
)

// EntryType is the low 7 bits of FIT_ENTRY's TypeAndIsChecksumValid byte
// (original_source/common/fitparser.h via intel_fit.h, fiano
// pkg/intel/metadata/fit/entry_type.go). fiano spells the two largest values
// in hex (0x2D/0x2F); they are the same 45/47 decimal spec.md tables them as.
type EntryType uint8

// Known FIT entry types (spec.md §4.9).
const (
	EntryTypeHeader               EntryType = 0x00
	EntryTypeMicrocodeUpdate      EntryType = 0x01
	EntryTypeStartupACModule      EntryType = 0x02
	EntryTypeDiagnosticACModule   EntryType = 0x03
	EntryTypeBIOSStartupModule    EntryType = 0x07
	EntryTypeTPMPolicy            EntryType = 0x08
	EntryTypeBIOSPolicy           EntryType = 0x09
	EntryTypeTXTPolicy            EntryType = 0x0A
	EntryTypeBootGuardKeyManifest EntryType = 0x0B
	EntryTypeBootGuardBootPolicy  EntryType = 0x0C
	EntryTypeCSESecureBoot        EntryType = 0x10
	EntryTypeACMFeaturePolicy     EntryType = 0x2D
	EntryTypeJMPDebugPolicy       EntryType = 0x2F
	EntryTypeEmpty                EntryType = 0x7F
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeHeader:
		return "FIT Header Entry"
	case EntryTypeMicrocodeUpdate:
		return "Microcode Update Entry"
	case EntryTypeStartupACModule:
		return "Startup AC Module Entry"
	case EntryTypeDiagnosticACModule:
		return "Diagnostic AC Module Entry"
	case EntryTypeBIOSStartupModule:
		return "BIOS Startup Module Entry"
	case EntryTypeTPMPolicy:
		return "TPM Policy Record"
	case EntryTypeBIOSPolicy:
		return "BIOS Policy Record"
	case EntryTypeTXTPolicy:
		return "TXT Policy Record"
	case EntryTypeBootGuardKeyManifest:
		return "Boot Guard Key Manifest Record"
	case EntryTypeBootGuardBootPolicy:
		return "Boot Guard Boot Policy Record"
	case EntryTypeCSESecureBoot:
		return "CSE Secure Boot Entry"
	case EntryTypeACMFeaturePolicy:
		return "ACM Feature Policy Record"
	case EntryTypeJMPDebugPolicy:
		return "JMP Debug Policy"
	case EntryTypeEmpty:
		return "Empty"
	default:
		return "Unknown FIT entry type"
	}
}

// Subtype values for KindFIT/KindFITEntry nodes.
const (
	SubtypeFITTable tree.Subtype = iota + 1
)

// ProtectedRangeType classifies a ProtectedRange by who published the hash
// it carries and what base-adjustment rule applies to its Offset
// (original_source/common/ffsparser.h's PROTECTED_RANGE_* defines).
type ProtectedRangeType uint8

const (
	ProtectedRangeIntelBootGuardIBB       ProtectedRangeType = 0x01
	ProtectedRangeIntelBootGuardPostIBB  ProtectedRangeType = 0x02
	ProtectedRangeIntelBootGuardOBB      ProtectedRangeType = 0x03
	ProtectedRangeVendorHashPhoenix      ProtectedRangeType = 0x04
	ProtectedRangeVendorHashAMIV1        ProtectedRangeType = 0x05
	ProtectedRangeVendorHashAMIV2        ProtectedRangeType = 0x06
	ProtectedRangeVendorHashAMIV3        ProtectedRangeType = 0x07
	ProtectedRangeVendorHashMicrosoftPMDA ProtectedRangeType = 0x08
)
