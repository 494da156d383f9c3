// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nvram decodes the NVRAM variable stores fiano's teacher codebase
// never implemented: an NVAR-format store's backward-growing entry/GUID-pool
// layout (original_source/common/nvram.h, ported in spirit from the
// now-retired pkg/uefi.NVarStore), and the signature-delimited store family
// (VSS/VSS2/FTW/FSYS/EVSA/FlashMap/CMDB) that shares an NVRAM-type firmware
// volume body (original_source/common/nvramparser.h's method list; its .cpp
// was not part of the retrieved corpus, so header layouts for everything but
// NVAR follow the well-known EDK2 VARIABLE_STORE_HEADER / UEFITool signature
// table rather than a verbatim ported decoder).
package nvram

import "github.com/fwtree/parser/pkg/tree"

// Kind-specific subtypes for KindNVRAMStore nodes.
const (
	SubtypeStoreNVAR tree.Subtype = iota + 1
	SubtypeStoreVSS
	SubtypeStoreVSS2
	SubtypeStoreFTW
	SubtypeStoreFsys
	SubtypeStoreEvsa
	SubtypeStoreFlashMap
	SubtypeStoreCMDB
	SubtypeStoreUnknown
)

// Kind-specific subtypes for KindNVRAMEntry nodes.
const (
	SubtypeEntryInvalid tree.Subtype = iota + 1
	SubtypeEntryFull
	SubtypeEntryLink
	SubtypeEntryDataOnly
	SubtypeEntryVSSVariable
)

// Store signatures recognized while scanning an NVRAM volume body
// (original_source's NvramParser::findNextStore dispatches on exactly these
// four-or-eight-byte prefixes).
var (
	vssStoreSignature      = [4]byte{'$', 'V', 'S', 'S'}
	vss2StoreSignature     = [4]byte{'$', 'V', 'S', '2'}
	ftwStoreSignature      = [4]byte{'_', 'F', 'T', 'W'}
	fsysStoreSignature     = [4]byte{'F', 's', 'y', 's'}
	evsaStoreSignature     = [4]byte{'E', 'V', 'S', 'A'}
	flashMapStoreSignature = [8]byte{'_', 'F', 'L', 'A', 'S', 'H', 'M', 'P'}
	cmdbStoreSignature     = [4]byte{'C', 'M', 'D', 'B'}
)
