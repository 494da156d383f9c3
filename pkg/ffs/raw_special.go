// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"fmt"

	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// parseRawSpecial recognizes the handful of RAW-type FFS files whose body
// has a fixed interpretation keyed off the file's own GUID, rather than a
// section sequence: the PEI/DXE apriori files (an ordered list of module
// GUIDs controlling dispatch order, grounded on
// original_source/common/ffsparser.cpp's parseAprioriRawSection) and the AMI
// vendor-hash protected-range files, which get one info line and whose
// records are not decoded.
// It reports handled=false for any other GUID so the caller falls back to
// treating the body as an ordinary section sequence.
func parseRawSpecial(m *tree.Model, file tree.Ref, fileGUID guid.GUID, body []byte) (bool, error) {
	switch fileGUID {
	case guid.PEIAprioriFile, guid.DXEAprioriFile:
		return true, parseAprioriFile(m, file, body)
	case guid.ProtectedRangeVendorHashAMI, guid.ProtectedRangeVendorHashAMIV3:
		m.AddInfo(file, fmt.Sprintf("Vendor hash file: 0x%X bytes, not a section sequence", len(body)))
		return true, nil
	}
	return false, nil
}

// parseAprioriFile renders an apriori file's body as a list of module GUIDs.
// The body carries no header or count field: it is simply
// len(body)/16 back-to-back GUIDs, one per module that must run before any
// other module in the same volume.
func parseAprioriFile(m *tree.Model, file tree.Ref, body []byte) error {
	if len(body)%16 != 0 {
		m.AddInfo(file, fmt.Sprintf("Apriori file body length 0x%X is not a multiple of 16", len(body)))
	}
	count := len(body) / 16
	info := fmt.Sprintf("Apriori list: %d module GUID(s)", count)
	for i := 0; i < count; i++ {
		var g guid.GUID
		copy(g[:], body[i*16:i*16+16])
		info += fmt.Sprintf("\n%s", g)
	}
	m.AddInfo(file, info)
	return nil
}
