// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import "github.com/fwtree/parser/pkg/tree"

// FileType is the EFI_FV_FILETYPE byte of an FFS file header, per the UEFI
// Platform Initialization (PI) specification volume 3, section 2.1.4.1.
type FileType uint8

// File types.
const (
	FileTypeAll                 FileType = 0x00
	FileTypeRaw                 FileType = 0x01
	FileTypeFreeform            FileType = 0x02
	FileTypeSecurityCore        FileType = 0x03
	FileTypePEICore             FileType = 0x04
	FileTypeDXECore             FileType = 0x05
	FileTypePEIM                FileType = 0x06
	FileTypeDriver              FileType = 0x07
	FileTypeCombinedPEIMDriver  FileType = 0x08
	FileTypeApplication         FileType = 0x09
	FileTypeMM                  FileType = 0x0A
	FileTypeFirmwareVolumeImage FileType = 0x0B
	FileTypeCombinedMMDXE       FileType = 0x0C
	FileTypeMMCore              FileType = 0x0D
	FileTypeMMStandalone        FileType = 0x0E
	FileTypeMMCoreStandalone    FileType = 0x0F
	FileTypePad                 FileType = 0xF0
)

func (t FileType) String() string {
	names := map[FileType]string{
		FileTypeAll: "ALL", FileTypeRaw: "RAW", FileTypeFreeform: "FREEFORM",
		FileTypeSecurityCore: "SECURITY_CORE", FileTypePEICore: "PEI_CORE",
		FileTypeDXECore: "DXE_CORE", FileTypePEIM: "PEIM", FileTypeDriver: "DRIVER",
		FileTypeCombinedPEIMDriver: "COMBINED_PEIM_DRIVER", FileTypeApplication: "APPLICATION",
		FileTypeMM: "MM", FileTypeFirmwareVolumeImage: "FIRMWARE_VOLUME_IMAGE",
		FileTypeCombinedMMDXE: "COMBINED_MM_DXE", FileTypeMMCore: "MM_CORE",
		FileTypeMMStandalone: "MM_STANDALONE", FileTypeMMCoreStandalone: "MM_CORE_STANDALONE",
		FileTypePad: "PAD",
	}
	if s, ok := names[t]; ok {
		return s
	}
	switch {
	case t >= 0xC0 && t <= 0xDF:
		return "OEM"
	case t >= 0xE0 && t <= 0xEF:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// FFS file header attribute bits (PI spec §2.1.4.1 EFI_FFS_FILE_HEADER.Attributes).
const (
	FileAttribLargeFile     = 0x01 // FFSv3 only; aliases FileAttribTailPresent on v1/v2
	FileAttribTailPresent   = 0x01
	FileAttribDataAlignment2 = 0x02
	FileAttribFixed          = 0x04
	FileAttribDataAlignment  = 0x38
	FileAttribChecksum       = 0x40
)

// FFS file header State bits (PI spec §2.1.4.1). A well-formed, fully
// written file has HEADER_VALID|DATA_VALID set and nothing else; states are
// stored erase-polarity-inverted on disk; this package reports the State
// byte as stored, without normalizing it.
const (
	FileStateHeaderConstruction = 0x01
	FileStateHeaderValid        = 0x02
	FileStateDataValid          = 0x04
	FileStateMarkedForUpdate    = 0x08
	FileStateDeleted            = 0x10
	FileStateHeaderInvalid      = 0x20
)

// ffsAlignmentTable maps FFS_ATTRIB_DATA_ALIGNMENT's 3-bit field (bits 3-5,
// already shifted down) to an alignment power of two, per the PI spec's
// "Type 1" alignment table used when FFS_ATTRIB_DATA_ALIGNMENT2 is clear (or
// the volume revision is 1).
var ffsAlignmentTable = [8]uint8{0, 4, 7, 9, 10, 12, 15, 16}

// ffsAlignment2Table is the "Type 2" extended alignment table, selected on a
// revision-2+ volume when FFS_ATTRIB_DATA_ALIGNMENT2 is set, reaching up to
// 16 MiB alignment for large modules.
var ffsAlignment2Table = [8]uint8{17, 18, 19, 20, 21, 22, 23, 24}

// Alignment returns the byte alignment a file header's Attributes request
// within a volume of the given revision, per ffsAlignmentTable/
// ffsAlignment2Table above.
func Alignment(attributes uint8, volumeRevision uint8) uint32 {
	idx := (attributes & FileAttribDataAlignment) >> 3
	power := ffsAlignmentTable[idx]
	if volumeRevision > 1 && attributes&FileAttribDataAlignment2 != 0 {
		power = ffsAlignment2Table[idx]
	}
	return uint32(1) << power
}

// SectionType is the EFI_SECTION_* byte of a common section header (PI spec
// §2.1.5.1).
type SectionType uint8

// Section types.
const (
	SectionTypeCompression         SectionType = 0x01
	SectionTypeGUIDDefined         SectionType = 0x02
	SectionTypeDisposable          SectionType = 0x03
	SectionTypePE32                SectionType = 0x10
	SectionTypePIC                 SectionType = 0x11
	SectionTypeTE                  SectionType = 0x12
	SectionTypeDXEDepex            SectionType = 0x13
	SectionTypeVersion             SectionType = 0x14
	SectionTypeUserInterface       SectionType = 0x15
	SectionTypeCompatibility16     SectionType = 0x16
	SectionTypeFirmwareVolumeImage SectionType = 0x17
	SectionTypeFreeformSubtypeGUID SectionType = 0x18
	SectionTypeRaw                 SectionType = 0x19
	SectionTypePEIDepex             SectionType = 0x1B
	SectionTypeMMDepex               SectionType = 0x1C
	// SectionTypePostcode is a vendor extension (Phoenix/Insyde BIOS POST
	// code section), not part of the PI spec's numbering; value matches the
	// Phoenix convention.
	SectionTypePostcode SectionType = 0xF0
)

func (t SectionType) String() string {
	names := map[SectionType]string{
		SectionTypeCompression: "COMPRESSION", SectionTypeGUIDDefined: "GUID_DEFINED",
		SectionTypeDisposable: "DISPOSABLE", SectionTypePE32: "PE32", SectionTypePIC: "PIC",
		SectionTypeTE: "TE", SectionTypeDXEDepex: "DXE_DEPEX", SectionTypeVersion: "VERSION",
		SectionTypeUserInterface: "USER_INTERFACE", SectionTypeCompatibility16: "COMPATIBILITY16",
		SectionTypeFirmwareVolumeImage: "FIRMWARE_VOLUME_IMAGE",
		SectionTypeFreeformSubtypeGUID: "FREEFORM_SUBTYPE_GUID", SectionTypeRaw: "RAW",
		SectionTypePEIDepex: "PEI_DEPEX", SectionTypeMMDepex: "MM_DEPEX",
		SectionTypePostcode: "POSTCODE",
	}
	if s, ok := names[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Tree subtypes. Volume/File/Section/Microcode-volume nodes each interpret
// Subtype per their own Kind, matching pkg/tree's convention that
// kind-specific subtype values live in the owning package.
const (
	SubtypeVolumeFFS1 tree.Subtype = iota + 1
	SubtypeVolumeFFS2
	SubtypeVolumeFFS3
	SubtypeVolumeNVRAM
	SubtypeVolumeAppleMicrocode
	SubtypeVolumeUnknown

	SubtypeFreeSpace
	SubtypeVTF
)

// FileSubtype returns the tree.Subtype an FFS file node of type t is tagged
// with: the file type byte itself, offset past the volume subtypes above so
// a report walker can tell a File's Subtype from a Volume's without
// consulting Kind.
func FileSubtype(t FileType) tree.Subtype {
	return tree.Subtype(0x100 + int(t))
}

// SectionSubtype returns the tree.Subtype a Section node of type t is
// tagged with.
func SectionSubtype(t SectionType) tree.Subtype {
	return tree.Subtype(0x200 + int(t))
}
