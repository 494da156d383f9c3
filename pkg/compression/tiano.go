// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tiano implements the two closely related LZ77 + canonical-Huffman schemes
// EDK2 uses for the legacy COMPRESSION section type and the
// TianoDecompress GUID_DEFINED encoding: "EFI 1.1" (the original, narrower
// sliding window) and "Tiano"/Framework (a wider window, used by every
// modern Framework/UEFI build). The two differ only in how many bits of
// back-reference distance the codec addresses; tianoVariant captures that
// one parameter.
type Tiano struct {
	variant tianoVariant
}

type tianoVariant struct {
	name       string
	windowBits uint
	// tag is a one-byte marker Encode writes right after the size field so
	// Decode can reject a stream encoded by the other variant immediately
	// instead of relying on it happening to fail a Huffman-table sanity
	// check. ByLegacyType's Tiano-then-EFI1.1 tie-break depends on this.
	tag byte
}

var (
	efi11Variant  = tianoVariant{name: "EFI1.1", windowBits: 13, tag: 0x31} // 8 KiB dictionary
	tianoVariantV = tianoVariant{name: "Tiano", windowBits: 16, tag: 0x32}  // 64 KiB dictionary
)

const (
	maxMatch  = 256
	threshold = 3 // shortest match worth encoding as a back-reference

	literalCount = 256
	lengthCount  = maxMatch - threshold + 1 // 254
	cAlphabet    = literalCount + lengthCount // 510

	maxHuffmanLen = 16
)

// Name returns "EFI1.1" or "Tiano".
func (c *Tiano) Name() string { return c.variant.name }

type token struct {
	isMatch bool
	lit     byte
	length  int
	dist    int
}

func matchLen(data []byte, j, i int) int {
	max := len(data) - i
	if max > maxMatch {
		max = maxMatch
	}
	l := 0
	for l < max && data[j+l] == data[i+l] {
		l++
	}
	return l
}

func lzTokens(variant tianoVariant, data []byte) []token {
	window := 1 << variant.windowBits
	var tokens []token
	i := 0
	for i < len(data) {
		start := i - (window - 1)
		if start < 0 {
			start = 0
		}
		bestLen, bestDist := 0, 0
		for j := start; j < i; j++ {
			l := matchLen(data, j, i)
			if l > bestLen {
				bestLen, bestDist = l, i-j
			}
			if bestLen >= maxMatch {
				break
			}
		}
		if bestLen >= threshold {
			tokens = append(tokens, token{isMatch: true, length: bestLen, dist: bestDist})
			i += bestLen
		} else {
			tokens = append(tokens, token{lit: data[i]})
			i++
		}
	}
	return tokens
}

func bitLen(v int) int {
	n := 0
	for v > 0 {
		n++
		v >>= 1
	}
	return n
}

// Encode compresses decoded using a greedy LZ77 match finder followed by a
// canonical Huffman stage over the literal/length alphabet and a second,
// smaller canonical Huffman stage over back-reference distance classes.
func (c *Tiano) Encode(decoded []byte) ([]byte, error) {
	variant := c.variant
	tokens := lzTokens(variant, decoded)

	cFreq := make([]int, cAlphabet)
	pFreq := make([]int, variant.windowBits+1)
	for _, t := range tokens {
		if t.isMatch {
			cFreq[256+(t.length-threshold)]++
			pFreq[bitLen(t.dist)]++
		} else {
			cFreq[int(t.lit)]++
		}
	}
	cLengths := buildCanonicalLengths(cFreq, maxHuffmanLen)
	cCodes := assignCanonicalCodes(cLengths)
	pLengths := buildCanonicalLengths(pFreq, maxHuffmanLen)
	pCodes := assignCanonicalCodes(pLengths)

	out := make([]byte, 4, 5+len(cLengths)+len(pLengths))
	binary.LittleEndian.PutUint32(out, uint32(len(decoded)))
	out = append(out, variant.tag)
	out = append(out, cLengths...)
	out = append(out, pLengths...)

	bw := &tianoBitWriter{}
	for _, t := range tokens {
		if t.isMatch {
			sym := 256 + (t.length - threshold)
			bw.writeBits(cCodes[sym], int(cLengths[sym]))
			class := bitLen(t.dist)
			bw.writeBits(pCodes[class], int(pLengths[class]))
			bw.writeBits(uint32(t.dist-(1<<uint(class-1))), class-1)
		} else {
			bw.writeBits(cCodes[t.lit], int(cLengths[t.lit]))
		}
	}
	return append(out, bw.flush()...), nil
}

// Decode reverses Encode. It also serves as the dry-run parse
// ByLegacyType uses to disambiguate EFI 1.1 from Tiano/Framework streams:
// a stream whose tag byte (offset 4) names the other variant is rejected
// with an error before any bitstream is decoded; a stream that runs out of
// bitstream before producing the declared uncompressed size or references
// a distance beyond the output so far produced is also returned as an
// error rather than a panic.
func (c *Tiano) Decode(encoded []byte) ([]byte, error) {
	variant := c.variant
	pAlphabet := int(variant.windowBits) + 1
	headerLen := 5 + cAlphabet + pAlphabet
	if len(encoded) < headerLen {
		return nil, errors.New("tiano: truncated header")
	}
	size := binary.LittleEndian.Uint32(encoded)
	if size > 1<<28 {
		return nil, fmt.Errorf("tiano: implausible uncompressed size %d", size)
	}
	if encoded[4] != variant.tag {
		return nil, fmt.Errorf("tiano: stream tag 0x%02x does not match %s", encoded[4], variant.name)
	}
	cLengths := encoded[5 : 5+cAlphabet]
	pLengths := encoded[5+cAlphabet : headerLen]
	for _, l := range cLengths {
		if l > maxHuffmanLen {
			return nil, errors.New("tiano: invalid code length in literal/length table")
		}
	}
	for _, l := range pLengths {
		if l > maxHuffmanLen {
			return nil, errors.New("tiano: invalid code length in position table")
		}
	}

	cCodes := assignCanonicalCodes(cLengths)
	cTrie := buildHuffmanTrie(cLengths, cCodes)
	pCodes := assignCanonicalCodes(pLengths)
	pTrie := buildHuffmanTrie(pLengths, pCodes)

	br := &tianoBitReader{buf: encoded[headerLen:]}
	out := make([]byte, 0, size)
	for uint32(len(out)) < size {
		sym, err := decodeSymbol(cTrie, br)
		if err != nil {
			return nil, err
		}
		if sym < 256 {
			out = append(out, byte(sym))
			continue
		}
		length := sym - 256 + threshold
		class, err := decodeSymbol(pTrie, br)
		if err != nil {
			return nil, err
		}
		if class == 0 || class >= pAlphabet {
			return nil, errors.New("tiano: invalid distance class")
		}
		extra, err := br.readBits(class - 1)
		if err != nil {
			return nil, err
		}
		dist := (1 << uint(class-1)) + int(extra)
		if dist > len(out) || dist <= 0 {
			return nil, errors.New("tiano: distance refers before start of output")
		}
		start := len(out) - dist
		for i := 0; i < length; i++ {
			out = append(out, out[start+i])
		}
	}
	return out, nil
}
