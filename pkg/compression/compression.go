// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements the codecs a GUID_DEFINED section's GUID or
// a legacy COMPRESSION section's subtype can select: LZMA, LZMA with an x86
// BCJ prefilter, the two "Tiano family" LZ77+Huffman schemes (EFI 1.1 and
// Tiano/Framework), and GZip. Decode and Encode must round-trip:
// Decode(Encode(x)) == x.
package compression

import (
	"fmt"

	"github.com/fwtree/parser/pkg/guid"
)

// Codec is a single compression scheme.
type Codec interface {
	// Name identifies the scheme for diagnostics and report output.
	Name() string
	Decode(encoded []byte) ([]byte, error)
	Encode(decoded []byte) ([]byte, error)
}

// ByGUID returns the Codec a GUID_DEFINED section's SectionDefinitionGUID
// selects, or nil if the GUID names an encoding this package does not
// implement (the caller should leave the section's body opaque and raise a
// diagnostic rather than fail the parse).
func ByGUID(g guid.GUID) Codec {
	switch g {
	case guid.LZMASectionGUID:
		return &LZMA{}
	case guid.LZMAF86SectionGUID:
		return &LZMAF86{&LZMA{}}
	case guid.LZMAHPSectionGUID:
		// LZMA HP uses the same stream format as plain LZMA; the "HP"
		// distinction is a historical encoder preset (-7e), invisible
		// to a decoder.
		return &LZMA{}
	case guid.GZIPSectionGUID:
		return &GZip{}
	case guid.TianoDecompressSectionGUID:
		return &Tiano{variant: tianoVariantV}
	}
	return nil
}

// ByLegacyType returns the Codec a legacy COMPRESSION section's
// CompressionType byte selects. Type 1 ("standard") is ambiguous between the
// EFI 1.1 and Tiano/Framework dictionary-width variants; spec.md's Open
// Question resolves the tie by trying Tiano first and falling back to EFI
// 1.1 only if a Tiano dry-run parse fails.
func ByLegacyType(compressionType byte, body []byte) (Codec, error) {
	switch compressionType {
	case 0:
		return nil, nil // "not compressed", body is the plain payload
	case 1:
		if _, err := (&Tiano{variant: tianoVariantV}).Decode(body); err == nil {
			return &Tiano{variant: tianoVariantV}, nil
		}
		return &Tiano{variant: efi11Variant}, nil
	default:
		return nil, fmt.Errorf("unknown legacy compression type %d", compressionType)
	}
}
