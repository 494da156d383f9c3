// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GZip implements Codec for the GUID_DEFINED GZip encoding some payload
// firmware tooling emits (spec.md §4.6 compression dispatch table). This
// uses klauspost/compress's drop-in gzip package rather than compress/gzip
// for the same reason the rest of this package avoids the standard flate
// implementation: the teacher project standardizes on klauspost/compress
// for every DEFLATE-family codec it touches.
type GZip struct{}

// Name returns the scheme name.
func (c *GZip) Name() string { return "GZip" }

// Decode decodes a gzip-compressed byte slice.
func (c *GZip) Decode(encoded []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Encode encodes decoded with gzip at the default compression level.
func (c *GZip) Encode(decoded []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(decoded); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
