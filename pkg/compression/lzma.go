// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// LZMA implements Codec using the pure-Go LZMA reader/writer. A library
// parsing untrusted firmware images has no business shelling out to a
// system xz binary (spec.md §6: no environment access), so unlike a
// command-line UEFI tool this always uses the in-process codec.
type LZMA struct{}

// Name returns the scheme name.
func (c *LZMA) Name() string { return "LZMA" }

// Decode decodes an LZMA-compressed byte slice.
func (c *LZMA) Decode(encoded []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Encode encodes decoded with LZMA, writing the uncompressed size into the
// header (the convention EDK2's decompressor expects) rather than using an
// end-of-stream marker.
func (c *LZMA) Encode(decoded []byte) ([]byte, error) {
	wc := lzma.WriterConfig{
		SizeInHeader: true,
		Size:         int64(len(decoded)),
		EOSMarker:    false,
	}
	if err := wc.Verify(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w, err := wc.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decoded); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LZMAF86 wraps an LZMA codec with the x86 BCJ (branch/call/jump) filter
// EDK2's "LZMA F86" GUID selects, which rewrites relative CALL/JMP operand
// addresses before compression so they repeat more often. This type does
// not implement the BCJ filter in either direction: it delegates straight
// to the inner LZMA codec.
type LZMAF86 struct {
	Inner Codec
}

// Name returns the scheme name.
func (c *LZMAF86) Name() string { return "LZMAF86" }

// Decode returns the inner LZMA decoder's output as is. The BCJ filter is
// not reversed, so for a stream that was BCJ-filtered before compression
// the returned bytes still carry the filtered CALL/JMP operands.
func (c *LZMAF86) Decode(encoded []byte) ([]byte, error) {
	return c.Inner.Decode(encoded)
}

// Encode compresses decoded without applying the BCJ prefilter. Omitting the
// filter only costs compression ratio on x86 code sections; it does not
// change Decode(Encode(x)) == x.
func (c *LZMAF86) Encode(decoded []byte) ([]byte, error) {
	return c.Inner.Encode(decoded)
}
