// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package me decodes the Intel Management Engine region: the legacy/IFWI
// $FPT flash partition table, the IFWI 2.0 BPDT (Boot Partition Descriptor
// Table) store it can nest inside, and the $CPD (Code Partition Directory)
// each BPDT code partition can itself open on. It is invoked two ways: once
// directly over an Intel image's ME region body, and once per BPDT store
// found anywhere else in the image (pkg/scan.Hooks.ParseBPDT), since BPDT
// stores also appear inside the BIOS region on some platforms.
package me

import "github.com/fwtree/parser/pkg/tree"

var fptSignature = [4]byte{'$', 'F', 'P', 'T'}
var cpdSignature = [4]byte{'$', 'C', 'P', 'D'}

// bpdtGreenSignature and bpdtYellowSignature mirror pkg/scan's own copies:
// the two magics IFWI 2.0 uses to mark a BPDT store, reread here because a
// ME region can open directly on a BPDT without going through the raw-area
// scanner that normally finds them.
const (
	bpdtGreenSignature  = 0x000055AA
	bpdtYellowSignature = 0x00AA55AA
)

// FPT header/entry sizes (original_source/common/meparser.h's ME_FPT_HEADER/
// ME_FPT_ENTRY, laid out the way the now-retired pkg/intel/me.go's
// LegacyFlashPartitionTableHeader/FlashPartitionTableHeader/
// FlashPartitionTableEntry structs did). The legacy header is preceded by a
// 16-byte ROM bypass vector the non-legacy one doesn't carry; both are
// followed by one fptEntrySize record per partition.
const (
	fptROMBypassVectorSize = 16
	fptHeaderSizeLegacy    = fptROMBypassVectorSize + 24
	fptHeaderSize          = 32
	fptEntrySize           = 32
)

// bpdtHeaderSize/bpdtEntrySize match pkg/scan's own discovery-pass constants
// (Signature, NumEntries, Version, Checksum, IfwiVersion = 16 bytes; the
// trailing FitcMajor/Minor/Hotfix/Build words the real ME_BPDT_HEADER also
// carries are left unmodeled, the same simplification pkg/scan already made
// when it located the store).
const (
	bpdtHeaderSize = 16
	bpdtEntrySize  = 12
)

// cpdHeaderSizeRev1/Rev2 and cpdEntrySize match ME_CPD_HEADER/
// ME_BPDT_CPD_ENTRY; rev2 adds one reserved UINT32 after ShortName that
// rev1 doesn't carry.
const (
	cpdHeaderSizeRev1 = 16
	cpdHeaderSizeRev2 = 20
	cpdEntrySize      = 24
)

const cpdExtensionHeaderSize = 8

// cpdExtTypeModuleAttributes is the one CPD extension type this package
// decodes beyond Type/Length: the Huffman-compressed-size override every
// .met metadata partition carries for its matching code partition.
const cpdExtTypeModuleAttributes = 0xC

// Subtype values for KindFPT, KindBPDT, KindCPD and KindCPDEntry nodes.
// KindFPT covers both the FPT table-header node and (since the tree has no
// separate "entry" Kind for FPT) its entries, so the header and entry roles
// are told apart by Subtype; BPDT and CPD entries have kinds of their own.
const (
	SubtypeFPTTable tree.Subtype = iota + 1
	SubtypeFPTEntry
)

const (
	SubtypeBPDTTable tree.Subtype = iota + 1
)

const (
	SubtypeCPDTable tree.Subtype = iota + 1
)

const (
	SubtypeCPDEntryCode tree.Subtype = iota + 1
	SubtypeCPDEntryManifest
	SubtypeCPDEntryMetadata
)
