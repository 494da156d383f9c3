// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvram

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// vssStoreHeaderSize is sizeof(VARIABLE_STORE_HEADER) as UEFITool's NVRAM
// scanner reads it: a 4-byte ASCII Signature + Size(4) + Format(1) +
// State(1) + Reserved(2) + Reserved1(4).
const vssStoreHeaderSize = 16

// vssVariableHeaderSize is sizeof(AUTHENTICATED_VARIABLE_HEADER) without its
// optional time-stamp/monotonic-count fields: StartId(2) + State(1) +
// Reserved(1) + Attributes(4) + NameSize(4) + DataSize(4) + VendorGuid(16).
const vssVariableHeaderSize = 32

const vssVariableStartID = 0x55AA

// Parse is pkg/ffs.Hooks.ParseNVRAMStore's implementation: it scans buf (an
// NVRAM-type firmware volume's body) for recognized store signatures and
// attaches one KindNVRAMStore node per store found, with a shallow entry
// scan for the signature families this package understands in depth (NVAR,
// VSS/VSS2).
func Parse(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, error) {
	if len(buf) >= 4 && string(buf[:4]) == string(nvarSignature[:]) {
		if err := parseNvarStore(m, parent, buf, offset); err != nil {
			return tree.NoRef, err
		}
		return parent, nil
	}

	pos := 0
	found := 0
	for pos < len(buf) {
		remaining := buf[pos:]
		sig, size, subtype, ok := identifyStore(remaining)
		if !ok {
			pos++
			continue
		}
		if size == 0 || size > len(remaining) {
			size = len(remaining)
		}
		if err := parseGenericStore(m, parent, remaining[:size], offset+uint64(pos), subtype, sig); err != nil {
			return tree.NoRef, err
		}
		found++
		pos += size
	}
	if found == 0 {
		m.AddInfo(parent, "No recognized NVRAM store signature found in volume body")
	}
	return parent, nil
}

// identifyStore checks buf's prefix against the known store signatures and,
// for the ones whose header this package decodes (VSS/VSS2), returns the
// declared store size read from that header; for the others it returns 0,
// meaning "consume the rest of the buffer" (their body layout isn't modeled
// here beyond the signature itself).
func identifyStore(buf []byte) (signature string, size int, subtype tree.Subtype, ok bool) {
	if len(buf) >= vssStoreHeaderSize {
		if matches4(buf[:4], vssStoreSignature) {
			return "$VSS", int(binary.LittleEndian.Uint32(buf[4:8])), SubtypeStoreVSS, true
		}
		if matches4(buf[:4], vss2StoreSignature) {
			return "$VSS2", int(binary.LittleEndian.Uint32(buf[4:8])), SubtypeStoreVSS2, true
		}
	}
	if len(buf) >= 4 {
		switch {
		case matches4(buf[:4], ftwStoreSignature):
			return "_FTW", 0, SubtypeStoreFTW, true
		case matches4(buf[:4], fsysStoreSignature):
			return "Fsys", 0, SubtypeStoreFsys, true
		case matches4(buf[:4], evsaStoreSignature):
			return "EVSA", 0, SubtypeStoreEvsa, true
		case matches4(buf[:4], cmdbStoreSignature):
			return "CMDB", 0, SubtypeStoreCMDB, true
		}
	}
	if len(buf) >= 8 && string(buf[:8]) == string(flashMapStoreSignature[:]) {
		return "_FLASH_MAP", 0, SubtypeStoreFlashMap, true
	}
	return "", 0, tree.SubtypeNone, false
}

func matches4(b []byte, sig [4]byte) bool {
	return len(b) >= 4 && b[0] == sig[0] && b[1] == sig[1] && b[2] == sig[2] && b[3] == sig[3]
}

func parseGenericStore(m *tree.Model, parent tree.Ref, buf []byte, offset uint64, subtype tree.Subtype, signature string) error {
	info := []string{fmt.Sprintf("Signature: %s", signature), fmt.Sprintf("Full size: 0x%X", len(buf))}

	var header, body []byte
	switch subtype {
	case SubtypeStoreVSS, SubtypeStoreVSS2:
		if len(buf) < vssStoreHeaderSize {
			info = append(info, "Store header truncated")
			header, body = buf, nil
		} else {
			format, state := buf[8], buf[9]
			info = append(info, fmt.Sprintf("Format: 0x%02X", format), fmt.Sprintf("State: 0x%02X", state))
			header, body = buf[:vssStoreHeaderSize], buf[vssStoreHeaderSize:]
		}
	default:
		// The remaining families are left as opaque, recognized regions:
		// their internal layout isn't modeled here beyond the signature that
		// identified them.
		header, body = buf[:len(buf)], nil
	}

	ref, err := m.AddItem(parent, offset, tree.KindNVRAMStore, subtype, signature+" store", "", info, header, body, nil, false, tree.Append, tree.NoRef)
	if err != nil {
		return err
	}
	if subtype == SubtypeStoreVSS || subtype == SubtypeStoreVSS2 {
		return parseVSSVariables(m, ref, body, uint64(len(header)))
	}
	return nil
}

// parseVSSVariables walks a VSS/VSS2 store body as a sequence of
// AUTHENTICATED_VARIABLE_HEADER-prefixed entries, each starting with the
// 0x55AA StartId sentinel.
func parseVSSVariables(m *tree.Model, parent tree.Ref, buf []byte, baseOffset uint64) error {
	pos := 0
	for {
		pos = align4(pos)
		if pos+vssVariableHeaderSize > len(buf) {
			return nil
		}
		remaining := buf[pos:]
		startID := binary.LittleEndian.Uint16(remaining[0:2])
		if startID != vssVariableStartID {
			if isErasedNvar(remaining) {
				return nil
			}
			return nil
		}
		state := remaining[2]
		attributes := binary.LittleEndian.Uint32(remaining[4:8])
		nameSize := binary.LittleEndian.Uint32(remaining[8:12])
		dataSize := binary.LittleEndian.Uint32(remaining[12:16])
		var vendorGUID guid.GUID
		copy(vendorGUID[:], remaining[16:32])

		total := vssVariableHeaderSize + int(nameSize) + int(dataSize)
		if total > len(remaining) {
			m.AddInfo(parent, fmt.Sprintf("VSS variable at offset 0x%X: declared size 0x%X exceeds remaining space", pos, total))
			return nil
		}

		nameBuf := remaining[vssVariableHeaderSize : vssVariableHeaderSize+int(nameSize)]
		name := decodeUCS2(trimNameNUL(nameBuf))

		info := []string{
			fmt.Sprintf("Vendor GUID: %s", vendorGUID),
			fmt.Sprintf("Attributes: 0x%08X", attributes),
			fmt.Sprintf("State: 0x%02X", state),
		}
		header := remaining[:vssVariableHeaderSize+int(nameSize)]
		body := remaining[vssVariableHeaderSize+int(nameSize) : total]
		_, err := m.AddItem(parent, baseOffset+uint64(pos), tree.KindNVRAMEntry, SubtypeEntryVSSVariable, name, name, info,
			header, body, nil, false, tree.Append, tree.NoRef)
		if err != nil {
			return err
		}
		pos += total
	}
}

func trimNameNUL(b []byte) []byte {
	for len(b) >= 2 && b[len(b)-2] == 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-2]
	}
	return b
}

func align4(n int) int {
	return (n + 3) &^ 3
}
