// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ffs

import (
	"encoding/binary"
	"fmt"

	"github.com/fwtree/parser/pkg/checksum"
	"github.com/fwtree/parser/pkg/guid"
	"github.com/fwtree/parser/pkg/tree"
)

// ffsFileHeaderSize is sizeof(EFI_FFS_FILE_HEADER): Name(16) + Checksum(2) +
// Type(1) + Attributes(1) + Size(3) + State(1).
const ffsFileHeaderSize = 24

// ffsFileHeader2Size is sizeof(EFI_FFS_FILE_HEADER2): the above plus an
// 8-byte ExtendedSize field, used when FFS_ATTRIB_LARGE_FILE is set on an
// FFSv3 volume.
const ffsFileHeader2Size = ffsFileHeaderSize + 8

// fixedFileChecksum is the sentinel IntegrityCheck.File value a file not
// opting into FFS_ATTRIB_CHECKSUM must carry (PI spec §2.1.4.1).
const fixedFileChecksum = 0xAA

func align8(n int) int {
	return (n + 7) &^ 7
}

func isErased(b []byte, fill byte) bool {
	for _, v := range b {
		if v != fill {
			return false
		}
	}
	return true
}

// parseFiles walks body (a volume's file area) attaching one KindFile node
// per FFS file found, with free-space/padding runs filling the gaps between
// them. baseOffset is body's offset relative to the owning volume node (the
// volume header's length), so emitted children address correctly per
// pkg/tree's "offset relative to parent" convention.
func parseFiles(m *tree.Model, volume tree.Ref, body []byte, baseOffset uint64, volumeRevision uint8) error {
	seen := make(map[guid.GUID]bool)
	pos := 0
	for {
		pos = align8(pos)
		if pos >= len(body) {
			break
		}
		remaining := body[pos:]
		if len(remaining) < ffsFileHeaderSize || isErased(remaining[:minInt(len(remaining), ffsFileHeaderSize)], 0xFF) {
			// Free space (erased flash) runs to the end of the volume; FFS
			// never places a file after a free-space run.
			subtype := SubtypeFreeSpace
			if !isErased(remaining, 0xFF) {
				subtype = ffsGapSubtype(remaining)
			}
			if _, err := m.AddItem(volume, baseOffset+uint64(pos), tree.KindFreeSpace, subtype, "Free space", "", nil,
				nil, remaining, nil, false, tree.Append, tree.NoRef); err != nil {
				return err
			}
			break
		}

		size, headerSize, err := fileSize(remaining)
		if err != nil {
			return fmt.Errorf("invalid-file: %w", err)
		}
		if headerSize > len(remaining) || size > len(remaining) || size < headerSize {
			return fmt.Errorf("invalid-file: declared size 0x%X exceeds remaining volume space", size)
		}

		var fileGUID guid.GUID
		copy(fileGUID[:], remaining[0:16])
		fileType := FileType(remaining[18])
		attributes := remaining[19]
		state := remaining[23]

		header := remaining[:headerSize]
		fileBody := remaining[headerSize:size]
		var tail []byte
		if volumeRevision == 1 && attributes&FileAttribTailPresent != 0 && len(fileBody) >= 2 {
			tail = fileBody[len(fileBody)-2:]
			fileBody = fileBody[:len(fileBody)-2]
		}

		info := []string{
			fmt.Sprintf("Type: %s (0x%02X)", fileType, uint8(fileType)),
			fmt.Sprintf("Attributes: 0x%02X", attributes),
			fmt.Sprintf("State: 0x%02X", state),
			fmt.Sprintf("Full size: 0x%X", size),
		}

		if hSum := checksum.Sum8(header) - header[17] - header[23]; hSum != 0 && fileType != FileTypePad {
			info = append(info, fmt.Sprintf("Header checksum invalid: residual 0x%02X", hSum))
		}
		if attributes&FileAttribChecksum != 0 {
			if want := uint8(0) - checksum.Sum8(fileBody); header[17] != want {
				info = append(info, fmt.Sprintf("Data checksum invalid: stored 0x%02X, expected 0x%02X", header[17], want))
			}
		} else if header[17] != fixedFileChecksum {
			info = append(info, fmt.Sprintf("Data checksum field is not the fixed 0x%02X sentinel (FFS_ATTRIB_CHECKSUM clear): got 0x%02X", fixedFileChecksum, header[17]))
		}
		if tail != nil {
			icheck16 := binary.LittleEndian.Uint16(header[16:18])
			if got := binary.LittleEndian.Uint16(tail); got != ^icheck16 {
				info = append(info, "FFSv1 tail checksum mismatch")
			}
		}

		subtype := FileSubtype(fileType)
		if fileGUID == guid.VolumeTopFile {
			subtype = SubtypeVTF
			info = append(info, "Volume Top File")
		}
		if fileType == FileTypeDXECore || fileGUID == guid.DXECore || fileGUID == guid.DXECoreAMI {
			info = append(info, "DXE core module")
		}
		if seen[fileGUID] && fileType != FileTypePad {
			info = append(info, fmt.Sprintf("Duplicate file GUID: %s", fileGUID))
		}
		seen[fileGUID] = true

		fixed := attributes&FileAttribFixed != 0
		ref, err := m.AddItem(volume, baseOffset+uint64(pos), tree.KindFile, subtype, fileGUID.String(), "", info,
			header, fileBody, tail, fixed, tree.Append, tree.NoRef)
		if err != nil {
			return err
		}
		if err := parseFileBody(m, ref, fileType, fileGUID, fileBody, uint64(headerSize)); err != nil {
			return err
		}
		pos += size
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ffsGapSubtype is GapFillSubtype renamed at the call site for readability;
// free space at the tail of a volume that isn't a clean erase polarity
// still gets classified Zero/One/Data like any other padding run.
func ffsGapSubtype(buf []byte) tree.Subtype {
	return GapFillSubtype(buf)
}

// fileSize decodes a file's total size (header+body+tail) and header size,
// handling the FFSv3 24-bit-escape/64-bit ExtendedSize form.
func fileSize(buf []byte) (size, headerSize int, err error) {
	if len(buf) < ffsFileHeaderSize {
		return 0, 0, fmt.Errorf("file header truncated")
	}
	var sz [3]byte
	copy(sz[:], buf[20:23])
	attributes := buf[19]
	if attributes&FileAttribLargeFile != 0 && checksum.Is24BitEscape(sz) {
		if len(buf) < ffsFileHeader2Size {
			return 0, 0, fmt.Errorf("large file header truncated")
		}
		ext := binary.LittleEndian.Uint64(buf[24:32])
		return int(ext), ffsFileHeader2Size, nil
	}
	return int(checksum.Read24(sz)), ffsFileHeaderSize, nil
}

// parseFileBody dispatches a file's content by type: PAD files (scan for
// accidental non-fill bytes, a quirk diagnostic only), RAW files with a
// recognized special GUID (apriori list, vendor hash), and everything else
// as a section sequence.
func parseFileBody(m *tree.Model, file tree.Ref, fileType FileType, fileGUID guid.GUID, body []byte, baseOffset uint64) error {
	switch {
	case fileType == FileTypePad:
		if len(body) > 0 && !isErased(body, 0xFF) && !isErased(body, 0x00) {
			m.AddInfo(file, "PAD file body is not a clean erase/zero fill")
		}
		return nil
	case fileType == FileTypeRaw:
		if handled, err := parseRawSpecial(m, file, fileGUID, body); handled || err != nil {
			return err
		}
		return nil
	default:
		return parseSections(m, file, body, baseOffset)
	}
}
