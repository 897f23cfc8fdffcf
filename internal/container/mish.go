package container

import (
	"encoding/binary"
	"errors"

	"github.com/deploymenttheory/go-modi/internal/codec"
	"github.com/deploymenttheory/go-modi/internal/segment"
)

// mish block-table layout, grounded on the teacher's internal/handlers/dmg/
// file.go (File.Parse): a 0xCC-byte header followed by 40-byte block
// records. dmg_analyzer.go's blkxChunk struct carries a spurious extra
// Reserved field that would make each record 44 bytes; file.go's own
// GetBe64 offsets (SectorNumber at p+0x08, SectorCount at p+0x10,
// CompressedOffset at p+0x18, CompressedLength at p+0x20) only add up if
// the record is 40 bytes, which matches spec's stated entry size. This
// file follows file.go's offsets, not dmg_analyzer.go's struct. See
// DESIGN.md.
const (
	mishHeaderSize = 0xCC
	mishRecordSize = 40

	mishSignature = uint32(0x6D697368) // "mish"
)

// Block-table entry types, same values as the teacher's dmg constants.go.
const (
	mishTypeZero    = uint32(0)
	mishTypeCopy    = uint32(1)
	mishTypeZero2   = uint32(2)
	mishTypeADC     = uint32(0x80000004)
	mishTypeZLIB    = uint32(0x80000005)
	mishTypeBZIP2   = uint32(0x80000006)
	mishTypeLZFSE   = uint32(0x80000007)
	mishTypeLZMA    = uint32(0x80000008)
	mishTypeComment = uint32(0x7FFFFFFE)
	mishTypeEnd     = uint32(0xFFFFFFFF)
)

// sectorSize is the fixed 512-byte sector unit every mish offset and count
// is expressed in, per spec §4.4.4.
const sectorSize = 512

// parseMishTable parses one blkx entry's binary blob (the base64-decoded
// Data from a resource-fork blkx dict entry) and appends the resulting
// segments to list, tracking the image-wide compression method in method.
func parseMishTable(data []byte, list *segment.List, method *compressionMethod) error {
	if len(data) < mishHeaderSize {
		return errf(ErrMalformedTable, "mish.header", errShortRead)
	}
	if binary.BigEndian.Uint32(data[0:4]) != mishSignature {
		return errf(ErrMalformedHeader, "mish.signature", errors.New("bad signature"))
	}
	if binary.BigEndian.Uint32(data[4:8]) != 1 {
		return errf(ErrUnsupportedFormat, "mish.version", errors.New("unsupported mish format version"))
	}
	headerSectorCount := binary.BigEndian.Uint64(data[0x10:0x18])

	numEntries := binary.BigEndian.Uint32(data[0xC8:0xCC])
	wantLen := mishHeaderSize + int(numEntries)*mishRecordSize
	if wantLen != len(data) {
		return errf(ErrMalformedTable, "mish.entry_count", errors.New("entry count does not match blob length"))
	}

	var cumulative uint64
	sawEnd := false
	p := mishHeaderSize
	for i := uint32(0); i < numEntries; i++ {
		entryType := binary.BigEndian.Uint32(data[p : p+4])

		if entryType == mishTypeComment {
			// Comment entries (e.g. "+beg"/"+end" markers) carry no sector
			// range of their own and do not advance the running total,
			// per spec §9 Note 2.
			p += mishRecordSize
			continue
		}
		if entryType == mishTypeEnd {
			sawEnd = true
			break
		}

		startSector := binary.BigEndian.Uint64(data[p+0x08 : p+0x10])
		sectorCount := binary.BigEndian.Uint64(data[p+0x10 : p+0x18])
		compressedOffset := binary.BigEndian.Uint64(data[p+0x18 : p+0x20])
		compressedLength := binary.BigEndian.Uint64(data[p+0x20 : p+0x28])

		if startSector != cumulative {
			return errf(ErrMalformedTable, "mish.contiguity", errors.New("block start_sector is not contiguous"))
		}
		if sectorCount == 0 {
			return errf(ErrMalformedTable, "mish.sector_count", errors.New("block has zero sectors"))
		}

		mappedSize := sectorCount * sectorSize
		switch entryType {
		case mishTypeZero, mishTypeZero2:
			list.Append(0, 0, 0, segment.Sparse, mappedSize)
		case mishTypeCopy:
			list.Append(0, compressedOffset, mappedSize, segment.None, mappedSize)
		case mishTypeADC, mishTypeZLIB, mishTypeBZIP2, mishTypeLZFSE, mishTypeLZMA:
			m := mishMethod(entryType)
			if err := method.observe(m); err != nil {
				return err
			}
			list.Append(0, compressedOffset, compressedLength, segment.Compressed, mappedSize)
		default:
			return errf(ErrUnsupportedFormat, "mish.block_type", errors.New("unrecognized block type"))
		}

		cumulative += sectorCount
		p += mishRecordSize
	}

	if !sawEnd {
		return errf(ErrMalformedTable, "mish.terminator", errors.New("missing end-of-table marker"))
	}
	if cumulative != headerSectorCount {
		return errf(ErrMalformedTable, "mish.sector_total", errors.New("cumulative sectors do not match header sector count"))
	}
	return nil
}

func mishMethod(entryType uint32) codec.Method {
	switch entryType {
	case mishTypeADC:
		return codec.MethodADC
	case mishTypeZLIB:
		return codec.MethodZLIB
	case mishTypeBZIP2:
		return codec.MethodBZIP2
	case mishTypeLZFSE:
		return codec.MethodLZFSE
	case mishTypeLZMA:
		return codec.MethodLZMA
	}
	return 0
}
