// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/tree"
)

// resetVectorDataSize is sizeof(X86_RESET_VECTOR_DATA): ApEntryVector[8] +
// ResetVector[8] + PeiCoreEntryPoint(4) + ApStartupSegment(4) +
// BootFvBaseAddress(4) (original_source/common/ffsparser.cpp's
// parseResetVectorData, via intel_fit.h).
const resetVectorDataSize = 28

// ParseResetVector decodes the x86 reset vector data living in the last
// 28 bytes of the last Volume Top File (header+body+tail concatenated) and
// records it as a diagnostic on that node, matching
// original_source/common/ffsparser.cpp's parseResetVectorData. vtf shorter
// than resetVectorDataSize is left alone rather than treated as an error,
// since not every image carries one (spec.md §4.9 runs the second pass only
// when a VTF was found at all).
func ParseResetVector(m *tree.Model, vtf tree.Ref) {
	item := m.Get(vtf)
	full := append(append(append([]byte{}, item.Header...), item.Body...), item.Tail...)
	if len(full) < resetVectorDataSize {
		return
	}
	d := full[len(full)-resetVectorDataSize:]
	apEntryVector := d[0:8]
	resetVector := d[8:16]
	peiCoreEntryPoint := binary.LittleEndian.Uint32(d[16:20])
	apStartupSegment := binary.LittleEndian.Uint32(d[20:24])
	bootFvBaseAddress := binary.LittleEndian.Uint32(d[24:28])

	m.AddInfo(vtf, fmt.Sprintf("AP entry vector: % 02X", apEntryVector))
	m.AddInfo(vtf, fmt.Sprintf("Reset vector: % 02X", resetVector))
	m.AddInfo(vtf, fmt.Sprintf("PEI core entry point: 0x%08X", peiCoreEntryPoint))
	m.AddInfo(vtf, fmt.Sprintf("AP startup segment: 0x%08X", apStartupSegment))
	m.AddInfo(vtf, fmt.Sprintf("BootFV base address: 0x%08X", bootFvBaseAddress))
}
