// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parser

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/ffs"
	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// buildDescriptorOnlyImage builds an Intel image consisting of nothing but
// a valid, region-free flash descriptor, padded to descriptorLength bytes.
func buildDescriptorOnlyImage(descriptorLength int) []byte {
	buf := make([]byte, descriptorLength)
	copy(buf[0:4], []byte{0x5A, 0xA5, 0xF0, 0x0F})
	// FLMAP0: ComponentBase=0, RegionBase=1 (region table at 0x10), NR-1=0
	binary.LittleEndian.PutUint32(buf[4:], 1<<16)
	// FLMAP1: MasterBase=2
	binary.LittleEndian.PutUint32(buf[8:], 2)
	return buf
}

// Scenario 1: an image holding only a flash descriptor, with no regions at
// all, produces Image(Intel) -> Region(Descriptor) and nothing else.
func TestScenarioEmptyIntelDescriptor(t *testing.T) {
	buf := buildDescriptorOnlyImage(0x1000)

	p := New()
	require.NoError(t, p.Parse(buf))

	images := p.Model.Children(p.Root)
	require.Len(t, images, 1)
	image := p.Model.Get(images[0])
	require.Equal(t, tree.KindImage, image.Kind)
	require.Equal(t, SubtypeIntelImage, image.Subtype)

	regions := p.Model.Children(images[0])
	require.Len(t, regions, 1)
	region := p.Model.Get(regions[0])
	require.Equal(t, tree.KindRegion, region.Kind)
}

// buildVolumeHeader constructs a minimal, checksum-valid
// EFI_FIRMWARE_VOLUME_HEADER (fixed portion plus a single terminating block
// map entry) sized for the given body.
func buildVolumeHeader(fsGUID guid.GUID, revision byte, body []byte) []byte {
	const fvFixedHeaderSize = 56
	h := make([]byte, fvFixedHeaderSize+8) // +8: one terminating block map entry
	copy(h[16:32], fsGUID[:])
	binary.LittleEndian.PutUint64(h[32:40], uint64(len(h)+len(body)))
	copy(h[40:44], []byte("_FVH"))
	binary.LittleEndian.PutUint32(h[44:48], 0)
	binary.LittleEndian.PutUint16(h[48:50], uint16(len(h)))
	binary.LittleEndian.PutUint16(h[52:54], 0) // no extended header
	h[55] = revision

	sum := checksum.Sum16(h)
	binary.LittleEndian.PutUint16(h[50:52], ^sum+1)
	return h
}

// Scenario 2: a bare buffer holding nothing but a minimal FFSv2 volume (no
// descriptor, no capsule) whose body is 16 bytes of erased flash parses as
// Image(UEFI) -> Volume(FFS2) with a single FreeSpace child.
func TestScenarioMinimalFFSv2VolumeAsGenericImage(t *testing.T) {
	free := make([]byte, 16)
	for i := range free {
		free[i] = 0xFF
	}
	buf := append(buildVolumeHeader(guid.FFS2, 2, free), free...)

	p := New()
	require.NoError(t, p.Parse(buf))

	images := p.Model.Children(p.Root)
	require.Len(t, images, 1)
	image := p.Model.Get(images[0])
	require.Equal(t, SubtypeUEFIImage, image.Subtype)

	volumes := p.Model.Children(images[0])
	require.Len(t, volumes, 1)
	volume := p.Model.Get(volumes[0])
	require.Equal(t, tree.KindVolume, volume.Kind)
	require.Equal(t, ffs.SubtypeVolumeFFS2, volume.Subtype)

	files := p.Model.Children(volumes[0])
	require.Len(t, files, 1)
	require.Equal(t, tree.KindFreeSpace, p.Model.Get(files[0]).Kind)
}

// buildFFSFile constructs a 24-byte EFI_FFS_FILE_HEADER plus body with a
// correct header checksum and FFS_ATTRIB_CHECKSUM-selected data checksum.
func buildFFSFile(fileGUID guid.GUID, fileType ffs.FileType, body []byte) []byte {
	const ffsFileHeaderSize = 24
	size := ffsFileHeaderSize + len(body)
	buf := make([]byte, size)
	copy(buf[0:16], fileGUID[:])
	buf[18] = byte(fileType)
	buf[19] = ffs.FileAttribChecksum
	sz := checksum.Write24(uint32(size))
	copy(buf[20:23], sz[:])
	buf[23] = ffs.FileStateHeaderValid | ffs.FileStateDataValid
	copy(buf[24:], body)

	buf[17] = uint8(0) - checksum.Sum8(body) // data checksum

	buf[16] = 0
	headerSumExcl1723 := checksum.Sum8(buf[:24]) - buf[17] - buf[23]
	buf[16] = 0 - headerSumExcl1723
	return buf
}

// buildCommonSection wraps body in a common-section-header: Size(3) +
// Type(1) + body.
func buildCommonSection(t ffs.SectionType, body []byte) []byte {
	const commonSectionHeaderSize = 4
	total := commonSectionHeaderSize + len(body)
	buf := make([]byte, total)
	sz := checksum.Write24(uint32(total))
	copy(buf[0:3], sz[:])
	buf[3] = byte(t)
	copy(buf[4:], body)
	return buf
}

// buildMinimalPE32 constructs just enough of an MZ/PE image for
// ffs.parsePESection to decode a machine type and optional-header magic:
// an MZ stub with e_lfanew pointing at "PE\0\0" followed by a COFF file
// header and the first two bytes of an optional header.
func buildMinimalPE32(machine uint16) []byte {
	const ntOffset = 0x40
	buf := make([]byte, ntOffset+24+2)
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3C:0x40], ntOffset)
	copy(buf[ntOffset:ntOffset+4], []byte("PE\x00\x00"))
	fileHeader := buf[ntOffset+4:]
	binary.LittleEndian.PutUint16(fileHeader[0:2], machine) // Machine
	binary.LittleEndian.PutUint16(fileHeader[2:4], 0)       // NumberOfSections
	binary.LittleEndian.PutUint16(fileHeader[16:18], 2)     // SizeOfOptionalHeader
	binary.LittleEndian.PutUint16(buf[ntOffset+24:], 0x20B) // PE32+ magic
	return buf
}

// Scenario 3: a minimal FFSv2 volume holding a single DRIVER file with a
// PE32 section decodes File(DRIVER) -> Section(PE32) and annotates the
// section with its machine type and optional-header kind.
func TestScenarioFFSv2VolumeWithPE32Driver(t *testing.T) {
	section := buildCommonSection(ffs.SectionTypePE32, buildMinimalPE32(0x8664)) // IMAGE_FILE_MACHINE_AMD64
	fg := *guid.MustParse("55555555-5555-5555-5555-555555555555")
	file := buildFFSFile(fg, ffs.FileTypeDriver, section)
	buf := append(buildVolumeHeader(guid.FFS2, 2, file), file...)

	p := New()
	require.NoError(t, p.Parse(buf))

	volumes := p.Model.Children(p.Model.Children(p.Root)[0])
	require.Len(t, volumes, 1)
	files := p.Model.Children(volumes[0])
	require.Len(t, files, 1)

	fileItem := p.Model.Get(files[0])
	require.Equal(t, tree.KindFile, fileItem.Kind)
	require.Equal(t, ffs.FileSubtype(ffs.FileTypeDriver), fileItem.Subtype)

	sections := p.Model.Children(files[0])
	require.Len(t, sections, 1)
	sectionItem := p.Model.Get(sections[0])
	require.Equal(t, tree.KindSection, sectionItem.Kind)
	require.Equal(t, ffs.SectionSubtype(ffs.SectionTypePE32), sectionItem.Subtype)
	require.Contains(t, sectionItem.Info, "Machine: 0x8664")
	require.Contains(t, sectionItem.Info, "Optional header: PE32+")
}
