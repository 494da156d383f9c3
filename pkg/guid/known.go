// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guid

// Well-known GUIDs referenced throughout the parser: firmware volume file
// systems, special FFS files, GUID-defined section codecs, and RAW-file
// content identifiers. Centralized here so every package dispatches off the
// same table instead of repeating string literals.
var (
	FFS1  = *MustParse("7A9354D9-0468-444A-81CE-0BF617D890DF")
	FFS2  = *MustParse("8C8CE578-8A3D-4F1C-9935-896185C32DD3")
	FFS3  = *MustParse("5473C07A-3DCB-4DCA-BD6F-1E9689E7349A")
	EVSA  = *MustParse("FFF12B8D-7696-4C8B-A985-2747075B4F50")
	NVAR  = *MustParse("CEF5B9A3-476D-497F-9FDC-E98143E0422C")
	EVSA2 = *MustParse("00504624-8A59-4EEB-BD0F-6B36E96128E0")

	// AppleBootVolume marks an Apple-specific microcode/boot volume.
	AppleBootVolume = *MustParse("04ADEEAD-61FF-4D31-B6BA-64F8BF901F5A")

	// VolumeTopFile is the GUID of the file whose last byte maps to physical
	// address 0xFFFFFFFF (spec.md §3, "Volume Top File").
	VolumeTopFile = *MustParse("1BA0062E-C779-4582-8566-336AE8F78F09")

	// DXECore and DXECoreAMI are the GUIDs recognized as first-occurrence
	// DXE core modules; the AMI variant is an alternate GUID some AMI
	// Aptio firmwares use for the same role.
	DXECore    = *MustParse("D6A2CB7F-6A18-4E2F-B43B-9920A733700A")
	DXECoreAMI = *MustParse("5AE3F37E-4B16-4866-8401-28677B45CC0A")

	PEIAprioriFile = *MustParse("1B45CC0A-156A-428A-AF62-49864DA0E6E6")
	DXEAprioriFile = *MustParse("FC510EE7-FFDC-11D4-BD41-0080C73C8881")

	NVRAMNVARExternalDefaults = *MustParse("CEF5B9A3-476D-497F-9FDC-E98143E0422D")

	ProtectedRangeVendorHashAMI   = *MustParse("7EA0C1C2-78CD-4CE3-96D6-189C681A4168")
	ProtectedRangeVendorHashAMIV3 = *MustParse("9CD26FC4-D32B-4CE0-968F-29C378C2A47E")

	// GUID-defined section encapsulation codecs.
	CRC32SectionGUID                  = *MustParse("FC1BCDB0-7D31-49AA-936A-A4600D9DD083")
	LZMASectionGUID                   = *MustParse("EE4E5898-3914-4259-9D6E-DC7BD79403CF")
	LZMAHPSectionGUID                 = *MustParse("9D6DD996-9CD8-4EFD-B01D-EC0E43F3FBC2")
	LZMAF86SectionGUID                = *MustParse("D42AE6BD-1352-4BFB-909A-CA72A6EAE889")
	TianoDecompressSectionGUID        = *MustParse("A31280AD-481E-41B6-95E8-127F4C984779")
	GZIPSectionGUID                   = *MustParse("1D301FE9-BE79-4353-91C2-D23BC959AE0C")
	RSA2048SHA256SectionGUID          = *MustParse("467D4A2C-0320-4BE2-9901-B9DF67A0788B")
	FirmwareContentsSignedSectionGUID = *MustParse("0F9D89E8-9259-4F76-A5AF-0C89E34023DF")

	// FirmwareVolume file-system GUIDs the FV parser can recurse into.
	VSSNVRAMVolume       = *MustParse("FFF12B8D-7696-4C8B-A985-2747075B4F50")
	AppleMicrocodeVolume = *MustParse("B5E2E711-8CF1-4B6A-826D-E5A935F68CB8")

	// Capsule header GUIDs (spec.md §4.3). EFICapsule and FMPCapsule are the
	// standard UEFI PI spec values; the OEM-specific ones (Intel/Lenovo
	// variants, Toshiba, AMI Aptio signed/unsigned) are not present anywhere
	// in the retrieved corpus (original_source/ only names the capsule
	// subtypes, not their GUID values) and are reproduced best-effort.
	EFICapsuleGUID           = *MustParse("3B6686BD-0D76-4030-B70E-B5519E2FC5A0")
	FMPCapsuleGUID           = *MustParse("6DCBD5ED-E82D-4C44-BDA1-7194199AD92A")
	IntelCapsuleGUID         = *MustParse("512D2C5F-BD40-4394-A021-7227A6514124")
	LenovoCapsuleGUID        = *MustParse("E5A7CEFA-C29F-43C2-B127-E3BAD7C24E4D")
	Lenovo2CapsuleGUID       = *MustParse("2DF9C7C6-4AF1-4878-9265-D3AC1F7FDC96")
	ToshibaCapsuleGUID       = *MustParse("3BA1ACC9-E4A9-4131-9F49-668999308CB4")
	AptioSignedCapsuleGUID   = *MustParse("F077CAD5-6743-4ACA-BD7D-DC6C3B898EE9")
	AptioUnsignedCapsuleGUID = *MustParse("26BA1D74-DA6A-4D9D-B7B8-6C4EE7B8D6A3")
)
