// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package microcode decodes Intel CPU microcode update headers (Intel SDM
// Volume 3A §9.11.1) and the sanity checks the raw-area scanner runs before
// accepting a 0x00000001 dword as the start of a microcode update rather
// than coincidental data.
package microcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of Header on disk.
const HeaderSize = 48

// headerVersion1 is the only HeaderVersion/LoaderRevision value the scanner
// accepts.
const headerVersion1 = 1

// maxSaneSize is the upper bound spec'd for both DataSize and TotalSize;
// Intel microcode updates are always far smaller than 16 MiB.
const maxSaneSize = 0x1000000

// Header is the on-disk Intel microcode update header, little-endian
// throughout.
type Header struct {
	HeaderVersion      uint32
	UpdateRevision     uint32
	DateYear           uint16 // BCD
	DateDay            uint8  // BCD
	DateMonth          uint8  // BCD
	ProcessorSignature uint32
	Checksum           uint32
	LoaderRevision     uint32
	ProcessorFlags     uint8
	ProcessorFlagsRsvd [3]uint8
	DataSize           uint32
	TotalSize          uint32
	Reserved           [12]uint8
}

// Decode reads a Header from the front of buf without validating it.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("invalid-microcode: buffer shorter than microcode header")
	}
	var h Header
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("invalid-microcode: %w", err)
	}
	return h, nil
}

// Valid applies the raw-area scanner's sanity checks to h: reserved bytes
// must be zero, DataSize must be 4-byte-aligned, DataSize/TotalSize must be
// bounded below maxSaneSize and ordered (TotalSize >= DataSize), the BCD date fields must
// fall within plausible decades, and HeaderVersion/LoaderRevision must both
// be 1. A header that fails any of these is almost certainly not a
// microcode update, just a coincidental 0x00000001 dword in unrelated data.
func (h Header) Valid() bool {
	if h.HeaderVersion != headerVersion1 || h.LoaderRevision != headerVersion1 {
		return false
	}
	for _, b := range h.ProcessorFlagsRsvd {
		if b != 0 {
			return false
		}
	}
	for _, b := range h.Reserved {
		if b != 0 {
			return false
		}
	}
	if h.DataSize%4 != 0 || h.DataSize >= maxSaneSize {
		return false
	}
	if h.TotalSize < h.DataSize || h.TotalSize >= maxSaneSize {
		return false
	}
	if !bcdDayValid(h.DateDay) || !bcdMonthValid(h.DateMonth) || !bcdYearValid(h.DateYear) {
		return false
	}
	return true
}

func bcdDayValid(d uint8) bool {
	return (d >= 0x01 && d <= 0x09) || (d >= 0x10 && d <= 0x19) || (d >= 0x20 && d <= 0x29) || (d >= 0x30 && d <= 0x31)
}

func bcdMonthValid(mo uint8) bool {
	return (mo >= 0x01 && mo <= 0x09) || (mo >= 0x10 && mo <= 0x12)
}

func bcdYearValid(y uint16) bool {
	switch {
	case y >= 0x1990 && y <= 0x1999:
		return true
	case y >= 0x2000 && y <= 0x2009, y >= 0x2010 && y <= 0x2019, y >= 0x2020 && y <= 0x2029, y >= 0x2030 && y <= 0x2039:
		return true
	case y >= 0x2040 && y <= 0x2049:
		return true
	default:
		return false
	}
}

// Date renders the BCD date fields as YYYY-MM-DD, treating each byte/word as
// two decimal digits packed into one BCD nibble pair rather than converting
// through binary.
func (h Header) Date() string {
	return fmt.Sprintf("%04X-%02X-%02X", h.DateYear, h.DateMonth, h.DateDay)
}
