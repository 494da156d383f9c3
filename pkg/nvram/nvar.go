// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvram

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// nvarHeaderSize is sizeof(NVAR_VARIABLE_HEADER): Signature(4) + Size(2) +
// Next(3, 24-bit) + Attributes(1).
const nvarHeaderSize = 10

var nvarSignature = [4]byte{'N', 'V', 'A', 'R'}

// NVAR entry attribute bits (original_source/common/nvram.h).
const (
	nvarAttribRuntime       = 0x01
	nvarAttribASCIIName     = 0x02
	nvarAttribGUID          = 0x04
	nvarAttribDataOnly      = 0x08
	nvarAttribExtHeader     = 0x10
	nvarAttribHWErrorRecord = 0x20
	nvarAttribAuthWrite     = 0x40
	nvarAttribValid         = 0x80
)

// NVAR extended-header attribute bits.
const (
	nvarExtAttribChecksum  = 0x01
	nvarExtAttribAuthWrite = 0x10
	nvarExtAttribTimeBased = 0x20
)

var ucs2Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func decodeUCS2(b []byte) string {
	out, err := ucs2Decoder.Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// parseNvarStore walks buf (an NVAR-type FFS file's body, or an NVRAM volume
// body that opens directly on an NVAR signature) as a sequence of NVAR
// variable entries terminated by a GUID store that grows backward from the
// end of the buffer, the way original_source's NvramParser::parseNvarStore /
// fiano's pkg/uefi.NewNVarStore do.
func parseNvarStore(m *tree.Model, parent tree.Ref, buf []byte, baseOffset uint64) error {
	storeRef, err := m.AddItem(parent, baseOffset, tree.KindNVRAMStore, SubtypeStoreNVAR, "NVAR store", "",
		[]string{fmt.Sprintf("Full size: 0x%X", len(buf))}, nil, buf, nil, false, tree.Append, tree.NoRef)
	if err != nil {
		return err
	}

	// guidStoreOffset shrinks by 16 bytes every time an entry references a
	// GUID by index rather than inline: each such index addresses one more
	// 16-byte GUID in a pool that grows backward from the end of the store,
	// highest index furthest from the end (fiano's NVarStore.getGUIDFromStore).
	highestGUIDIndex := -1
	guidStoreOffset := len(buf)
	pos := 0
	for pos < guidStoreOffset {
		remaining := buf[pos:guidStoreOffset]
		if isErasedNvar(remaining) {
			break
		}
		size, attrs, ok := nvarEntrySize(remaining)
		if !ok {
			m.AddInfo(storeRef, fmt.Sprintf("NVAR entry at offset 0x%X: signature not found, stopping scan", pos))
			break
		}
		if size > len(remaining) {
			m.AddInfo(storeRef, fmt.Sprintf("NVAR entry at offset 0x%X: declared size 0x%X exceeds remaining space", pos, size))
			break
		}
		entryBuf := remaining[:size]
		usedIndex, err := parseNvarEntry(m, storeRef, entryBuf, uint64(pos), attrs, buf)
		if err != nil {
			return err
		}
		if usedIndex > highestGUIDIndex {
			highestGUIDIndex = usedIndex
		}
		pos += size
		guidStoreOffset = len(buf) - 16*(highestGUIDIndex+1)
	}
	if pos < len(buf) {
		m.AddItem(storeRef, uint64(pos), tree.KindFreeSpace, tree.SubtypeNone, "Free space / GUID store", "", nil,
			nil, buf[pos:], nil, false, tree.Append, tree.NoRef)
	}
	return nil
}

func isErasedNvar(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}

func nvarEntrySize(buf []byte) (size int, attrs byte, ok bool) {
	if len(buf) < nvarHeaderSize || buf[0] != nvarSignature[0] || buf[1] != nvarSignature[1] || buf[2] != nvarSignature[2] || buf[3] != nvarSignature[3] {
		return 0, 0, false
	}
	return int(binary.LittleEndian.Uint16(buf[4:6])), buf[9], true
}

// parseNvarEntry decodes a single NVAR entry: header, optional Next link,
// optional extended header (checksum/timestamp/hash), then either GUID+Name
// (full/link entries) or a link lookup (data-only entries). storeBuf is the
// entire enclosing store (not just this entry) so a GUID-by-index reference
// can be resolved against the real backward-growing GUID pool at its tail;
// it returns the highest GUID-store index this entry consumed, or -1 if it
// consumed none, so the caller can keep guidStoreOffset in sync.
func parseNvarEntry(m *tree.Model, parent tree.Ref, buf []byte, offset uint64, attrs byte, storeBuf []byte) (int, error) {
	next24 := uint32(buf[6]) | uint32(buf[7])<<8 | uint32(buf[8])<<16
	valid := attrs&nvarAttribValid != 0

	info := []string{fmt.Sprintf("Full size: 0x%X", len(buf)), fmt.Sprintf("Attributes: 0x%02X", attrs)}
	name := "Invalid"
	text := ""
	usedIndex := -1

	if !valid {
		_, err := m.AddItem(parent, offset, tree.KindNVRAMEntry, SubtypeEntryInvalid, name, text, info, buf[:nvarHeaderSize], buf[nvarHeaderSize:], nil, false, tree.Append, tree.NoRef)
		return usedIndex, err
	}

	if next24 != 0xFFFFFF {
		info = append(info, fmt.Sprintf("Links to entry at offset 0x%X", offset+uint64(next24)))
	}

	dataOffset := nvarHeaderSize
	subtype := SubtypeEntryFull

	if attrs&nvarAttribExtHeader != 0 {
		extInfo, err := parseNvarExtendedHeader(buf)
		info = append(info, extInfo...)
		if err != nil {
			_, addErr := m.AddItem(parent, offset, tree.KindNVRAMEntry, SubtypeEntryInvalid, "Invalid ExtHeader", "",
				append(info, err.Error()), buf[:nvarHeaderSize], buf[nvarHeaderSize:], nil, false, tree.Append, tree.NoRef)
			return usedIndex, addErr
		}
	}

	var guidBytes [16]byte
	if attrs&nvarAttribDataOnly != 0 {
		// Data-only entries carry no name/GUID of their own. They are not
		// resolved against the link entry they belong to, here or in the
		// report layer; the node is just marked data-only.
		subtype = SubtypeEntryDataOnly
		name = "(data only)"
	} else {
		if attrs&nvarAttribGUID != 0 {
			if dataOffset+16 > len(buf) {
				return usedIndex, fmt.Errorf("NVAR entry at offset 0x%X: truncated inline GUID", offset)
			}
			copy(guidBytes[:], buf[dataOffset:dataOffset+16])
			dataOffset += 16
		} else {
			if dataOffset+1 > len(buf) {
				return usedIndex, fmt.Errorf("NVAR entry at offset 0x%X: truncated GUID index", offset)
			}
			idx := buf[dataOffset]
			dataOffset++
			guidBytes = guidFromStoreTail(storeBuf, idx)
			usedIndex = int(idx)
			info = append(info, fmt.Sprintf("GUID index: %d", idx))
		}
		var g guid.GUID
		copy(g[:], guidBytes[:])
		if attrs&nvarAttribASCIIName != 0 {
			end := bytes.IndexByte(buf[dataOffset:], 0)
			if end == -1 {
				return usedIndex, fmt.Errorf("NVAR entry at offset 0x%X: unterminated ASCII name", offset)
			}
			name = string(buf[dataOffset : dataOffset+end])
			dataOffset += end + 1
		} else {
			end := bytes.Index(buf[dataOffset:], []byte{0, 0})
			if end == -1 {
				return usedIndex, fmt.Errorf("NVAR entry at offset 0x%X: unterminated UCS2 name", offset)
			}
			name = decodeUCS2(buf[dataOffset : dataOffset+end])
			dataOffset += end + 2
		}
		info = append([]string{fmt.Sprintf("GUID: %s", g)}, info...)
		text = name
	}

	header := buf[:dataOffset]
	body := buf[dataOffset:]
	ref, err := m.AddItem(parent, offset, tree.KindNVRAMEntry, subtype, name, text, info, header, body, nil, false, tree.Append, tree.NoRef)
	if err != nil {
		return usedIndex, err
	}

	if len(body) >= 4 && bytes.Equal(body[:4], nvarSignature[:]) {
		if err := parseNvarStore(m, ref, body, 0); err != nil {
			m.AddInfo(ref, fmt.Sprintf("Nested NVAR store: %v", err))
		}
	}
	return usedIndex, nil
}

// guidFromStoreTail reads the (idx+1)-th 16-byte GUID counting backward from
// the end of the store buffer: index 0 is the last 16 bytes, index 1 the 16
// bytes before that, and so on (fiano's NVarStore.getGUIDFromStore).
func guidFromStoreTail(storeBuf []byte, idx byte) [16]byte {
	var g [16]byte
	start := len(storeBuf) - 16*(int(idx)+1)
	if start < 0 || start+16 > len(storeBuf) {
		return g
	}
	copy(g[:], storeBuf[start:start+16])
	return g
}

// parseNvarExtendedHeader decodes the checksum/auth-write/time-based
// trailer original_source's parseExtendedHeader/fiano's parseExtendedHeader
// append after an entry's content, reporting a checksum mismatch (if any) as
// a diagnostic rather than an error.
func parseNvarExtendedHeader(buf []byte) (info []string, err error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("entry too short for an extended header")
	}
	extSize := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	bodySize := len(buf) - nvarHeaderSize
	if int(extSize) > bodySize {
		return nil, fmt.Errorf("extended header size 0x%X exceeds body size 0x%X", extSize, bodySize)
	}
	extOffset := len(buf) - int(extSize)
	if extOffset >= len(buf) {
		return nil, fmt.Errorf("extended header offset out of range")
	}
	extAttrs := buf[extOffset]
	info = append(info, fmt.Sprintf("Extended attributes: 0x%02X", extAttrs))

	if extAttrs&nvarExtAttribChecksum != 0 {
		storedChecksumOffset := len(buf) - 2 - 1
		if storedChecksumOffset < 0 {
			return info, fmt.Errorf("extended header too short for checksum byte")
		}
		stored := buf[storedChecksumOffset]
		var sum uint8
		for i := 4; i < len(buf); i++ {
			if i == 6 {
				i += 2 // skip Next
			}
			sum += buf[i]
		}
		if sum != 0 {
			info = append(info, fmt.Sprintf("Checksum invalid: stored 0x%02X, sum 0x%02X", stored, sum))
		}
	}
	return info, nil
}
