// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capsule parses the three capsule header families a firmware image
// may be wrapped in before the Intel image or firmware volume content
// proper: the standard EFI/FMP/Intel/Lenovo/Lenovo2 capsule header, the
// Toshiba capsule header, and AMI's Aptio capsule header (signed or
// unsigned). None of these headers nest into each other; a buffer is at
// most one capsule deep, after which the remaining bytes are handed back to
// the top-level dispatcher for Intel-image or generic-image parsing.
package capsule

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// Sizes of the on-disk headers, little-endian throughout.
const (
	efiHeaderSize     = 16 + 4 + 4 + 4   // GUID + HeaderSize + Flags + CapsuleImageSize
	toshibaHeaderSize = 16 + 4 + 4 + 4   // GUID + HeaderSize + FullSize + Flags
	aptioHeaderSize   = efiHeaderSize + 4 // embedded EFI header + RomImageOffset
)

// Subtype values stored in a tree.Item's Subtype field for KindCapsule
// nodes.
const (
	SubtypeUEFI tree.Subtype = iota + 1
	SubtypeToshiba
	SubtypeAptioSigned
	SubtypeAptioUnsigned
)

func guidAt(buf []byte) guid.GUID {
	var g guid.GUID
	copy(g[:], buf[:16])
	return g
}

func le32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// Parse attempts to recognize buf as one of the three capsule header
// families and, on success, attaches a KindCapsule node under parent and
// returns its Ref along with the remaining bytes past the header (the
// "rom image" / capsule body, which the caller dispatches again as an
// Intel image or generic image). ok is false when buf does not start with
// any recognized capsule GUID, in which case the caller should try the
// next parse stage without treating this as an error.
func Parse(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (ref tree.Ref, body []byte, ok bool, err error) {
	if len(buf) < 16 {
		return tree.NoRef, nil, false, nil
	}
	g := guidAt(buf)

	switch g {
	case guid.EFICapsuleGUID, guid.FMPCapsuleGUID, guid.IntelCapsuleGUID, guid.LenovoCapsuleGUID, guid.Lenovo2CapsuleGUID:
		return parseEFI(m, parent, offset, buf)
	case guid.ToshibaCapsuleGUID:
		return parseToshiba(m, parent, offset, buf)
	case guid.AptioSignedCapsuleGUID, guid.AptioUnsignedCapsuleGUID:
		return parseAptio(m, parent, offset, buf, g == guid.AptioSignedCapsuleGUID)
	}
	return tree.NoRef, nil, false, nil
}

func parseEFI(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, []byte, bool, error) {
	if len(buf) < efiHeaderSize {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: buffer shorter than EFI_CAPSULE_HEADER")
	}
	headerSize := le32(buf, 16)
	imageSize := le32(buf, 24)
	if headerSize == 0 || uint64(headerSize) > uint64(len(buf)) || headerSize > imageSize {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: header size 0x%X is invalid", headerSize)
	}
	if uint64(imageSize) > uint64(len(buf)) {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: capsule image size 0x%X is invalid", imageSize)
	}
	flags := le32(buf, 20)
	header := buf[:headerSize]
	body := buf[headerSize:imageSize]
	info := []string{
		fmt.Sprintf("Capsule GUID: %s", guidAt(buf)),
		fmt.Sprintf("Flags: 0x%08X", flags),
	}
	ref, err := m.AddItem(parent, offset, tree.KindCapsule, SubtypeUEFI, "UEFI capsule", "", info,
		header, body, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, nil, false, err
	}
	return ref, body, true, nil
}

func parseToshiba(m *tree.Model, parent tree.Ref, offset uint64, buf []byte) (tree.Ref, []byte, bool, error) {
	if len(buf) < toshibaHeaderSize {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: buffer shorter than TOSHIBA_CAPSULE_HEADER")
	}
	headerSize := le32(buf, 16)
	fullSize := le32(buf, 20)
	if headerSize == 0 || uint64(headerSize) > uint64(len(buf)) || headerSize > fullSize {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: Toshiba header size 0x%X is invalid", headerSize)
	}
	if uint64(fullSize) > uint64(len(buf)) {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: Toshiba full size 0x%X is invalid", fullSize)
	}
	flags := le32(buf, 24)
	header := buf[:headerSize]
	body := buf[headerSize:fullSize]
	info := []string{
		fmt.Sprintf("Capsule GUID: %s", guidAt(buf)),
		fmt.Sprintf("Flags: 0x%08X", flags),
	}
	ref, err := m.AddItem(parent, offset, tree.KindCapsule, SubtypeToshiba, "Toshiba capsule", "", info,
		header, body, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, nil, false, err
	}
	return ref, body, true, nil
}

func parseAptio(m *tree.Model, parent tree.Ref, offset uint64, buf []byte, signed bool) (tree.Ref, []byte, bool, error) {
	if len(buf) <= aptioHeaderSize {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: AMI capsule image is smaller than minimum size of 0x20 bytes")
	}
	romImageOffset := le32(buf, efiHeaderSize)
	imageSize := le32(buf, 24)
	if romImageOffset == 0 || uint64(romImageOffset) > uint64(len(buf)) || romImageOffset > imageSize {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: AMI capsule ROM image offset 0x%X is invalid", romImageOffset)
	}
	if uint64(imageSize) > uint64(len(buf)) {
		return tree.NoRef, nil, false, fmt.Errorf("invalid-capsule: AMI capsule image size 0x%X is invalid", imageSize)
	}
	name := "AMI Aptio unsigned capsule"
	subtype := SubtypeAptioUnsigned
	if signed {
		name = "AMI Aptio signed capsule"
		subtype = SubtypeAptioSigned
	}
	header := buf[:romImageOffset]
	body := buf[romImageOffset:imageSize]
	info := []string{fmt.Sprintf("Capsule GUID: %s", guidAt(buf))}
	if signed {
		info = append(info, "Signature may become invalid after image modifications")
	}
	ref, err := m.AddItem(parent, offset, tree.KindCapsule, subtype, name, "", info,
		header, body, nil, true, tree.Append, tree.NoRef)
	if err != nil {
		return tree.NoRef, nil, false, err
	}
	return ref, body, true, nil
}
