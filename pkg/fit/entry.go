// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/checksum"
)

// entryHeader is FIT_ENTRY (fiano pkg/intel/metadata/fit/entry_headers.go's
// EntryHeaders, original_source's intel_fit.h): a fixed 16-byte record,
// every FIT entry including the table's own FIT Header Entry.
type entryHeader struct {
	Address                uint64
	Size                   [3]byte
	Reserved               byte
	Version                uint16
	TypeAndIsChecksumValid byte
	Checksum               byte
}

func parseEntryHeader(b []byte) entryHeader {
	return entryHeader{
		Address:                binary.LittleEndian.Uint64(b[0:8]),
		Size:                   [3]byte{b[8], b[9], b[10]},
		Reserved:               b[11],
		Version:                binary.LittleEndian.Uint16(b[12:14]),
		TypeAndIsChecksumValid: b[14],
		Checksum:               b[15],
	}
}

// Type is the low 7 bits of TypeAndIsChecksumValid.
func (e entryHeader) Type() EntryType {
	return EntryType(e.TypeAndIsChecksumValid & 0x7F)
}

// ChecksumValid reports whether the high bit of TypeAndIsChecksumValid (the
// "C_V" flag) claims this entry's Checksum byte is meaningful.
func (e entryHeader) ChecksumValid() bool {
	return e.TypeAndIsChecksumValid&0x80 != 0
}

// sizeUnits returns the raw 24-bit Size field as an integer.
func (e entryHeader) sizeUnits() uint32 {
	return checksum.Read24(e.Size)
}

// dataSize returns this entry's payload size in bytes. Most entry types
// record Size in 16-byte units (fiano's DataSize left-shifts by 4); Boot
// Guard Key Manifest/Boot Policy and BIOS Policy entries record a literal
// byte count instead (fiano entry_headers.go's per-type DataSize overrides).
func (e entryHeader) dataSize() uint32 {
	switch e.Type() {
	case EntryTypeBIOSPolicy, EntryTypeBootGuardBootPolicy, EntryTypeBootGuardKeyManifest:
		return e.sizeUnits()
	default:
		return e.sizeUnits() << 4
	}
}

// verifyChecksum reports whether header's 8-bit additive checksum (summed
// over the whole 16-byte entry, Checksum byte included) is zero, the
// well-formed condition pkg/checksum.Sum8 documents.
func verifyChecksum(header []byte) bool {
	return checksum.Sum8(header) == 0
}

func (e entryHeader) describe() []string {
	info := []string{
		fmt.Sprintf("Entry type: %s (0x%02X)", e.Type(), uint8(e.Type())),
		fmt.Sprintf("Address: 0x%016X", e.Address),
		fmt.Sprintf("Size: 0x%X", e.dataSize()),
		fmt.Sprintf("Version: %d.%d", e.Version>>8, e.Version&0xFF),
		fmt.Sprintf("Checksum valid flag: %v", e.ChecksumValid()),
	}
	return info
}
